package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jackzampolin/ocrfuse/internal/fusion"
)

const (
	MistralName    = "mistral"
	MistralBaseURL = "https://api.mistral.ai/v1"
	MistralModel   = "mistral-ocr-latest"
)

// MistralConfig configures the Mistral OCR escalator.
type MistralConfig struct {
	APIKey    string        `mapstructure:"api_key"`
	BaseURL   string        `mapstructure:"base_url"`
	Model     string        `mapstructure:"model"`
	Timeout   time.Duration `mapstructure:"-"`
	RateLimit float64       `mapstructure:"rate_limit"` // requests per second
}

// MistralEscalator re-reads a page with the Mistral OCR API.
type MistralEscalator struct {
	apiKey  string
	baseURL string
	model   string
	limiter *RateLimiter
	client  *http.Client
}

// NewMistralEscalator creates a Mistral OCR escalator.
func NewMistralEscalator(cfg MistralConfig) *MistralEscalator {
	if cfg.BaseURL == "" {
		cfg.BaseURL = MistralBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = MistralModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = 6.0
	}

	return &MistralEscalator{
		apiKey:  cfg.APIKey,
		baseURL: cfg.BaseURL,
		model:   cfg.Model,
		limiter: NewRateLimiter(cfg.RateLimit),
		client:  &http.Client{Timeout: cfg.Timeout},
	}
}

// Name returns the provider identifier.
func (c *MistralEscalator) Name() string {
	return MistralName
}

// Escalate sends the page image to Mistral OCR and returns its lines.
func (c *MistralEscalator) Escalate(ctx context.Context, req fusion.EscalationRequest) (*fusion.EscalationResult, error) {
	url, err := imageURL(req.ImageRef)
	if err != nil {
		return &fusion.EscalationResult{Success: false, Message: err.Error()}, nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	resp, err := c.doRequest(ctx, "/ocr", mistralOCRRequest{
		Model: c.model,
		Document: mistralDocument{
			Type:     "image_url",
			ImageURL: url,
		},
	})
	if err != nil {
		if rle, ok := IsRateLimitError(err); ok {
			c.limiter.Record429(rle.RetryAfter)
		}
		return nil, err
	}
	if len(resp.Pages) == 0 {
		return &fusion.EscalationResult{Success: false, Message: "no pages in OCR response"}, nil
	}

	lines := markdownLines(resp.Pages[0].Markdown)
	if len(lines) == 0 {
		return &fusion.EscalationResult{Success: false, Message: "OCR response has no text"}, nil
	}
	return &fusion.EscalationResult{
		Success: true,
		Lines:   lines,
		Message: fmt.Sprintf("%s read %d lines", resp.Model, len(lines)),
	}, nil
}

func (c *MistralEscalator) doRequest(ctx context.Context, path string, body any) (*mistralOCRResponse, error) {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		msg := string(respBody)
		var errResp mistralErrorResponse
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error.Message != "" {
			msg = errResp.Error.Message
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			return nil, &RateLimitError{
				Message:    "Mistral OCR rate limited: " + msg,
				RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
				StatusCode: resp.StatusCode,
			}
		}
		return nil, fmt.Errorf("Mistral OCR error (status %d): %s", resp.StatusCode, msg)
	}

	var ocrResp mistralOCRResponse
	if err := json.Unmarshal(respBody, &ocrResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &ocrResp, nil
}

type mistralOCRRequest struct {
	Model    string          `json:"model"`
	Document mistralDocument `json:"document"`
}

type mistralDocument struct {
	Type     string `json:"type"` // "image_url" or "document_url"
	ImageURL string `json:"image_url,omitempty"`
}

type mistralOCRResponse struct {
	Model string           `json:"model"`
	Pages []mistralOCRPage `json:"pages"`
}

type mistralOCRPage struct {
	Index    int    `json:"index"`
	Markdown string `json:"markdown"`
}

type mistralErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

var _ fusion.Escalator = (*MistralEscalator)(nil)
