package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/jackzampolin/ocrfuse/internal/fusion"
)

const (
	OpenAIName         = "openai"
	openAIDefaultModel = "gpt-4o"

	openAITranscribePrompt = "Transcribe every line of printed text on this page exactly as it appears, " +
		"top to bottom, one entry per line. Do not correct spelling, translate, or summarize. " +
		"Return an empty list if the page has no text."
)

// pageLinesSchema is both sent to the model as the response format and
// checked locally against the reply.
var pageLinesSchema = []byte(`{
  "type": "object",
  "properties": {
    "lines": {
      "type": "array",
      "items": {"type": "string"}
    }
  },
  "required": ["lines"],
  "additionalProperties": false
}`)

// OpenAIConfig configures the OpenAI vision escalator.
type OpenAIConfig struct {
	APIKey     string        `mapstructure:"api_key"`
	Model      string        `mapstructure:"model"`
	BaseURL    string        `mapstructure:"base_url"` // optional, for compatible endpoints and tests
	RateLimit  float64       `mapstructure:"rate_limit"`
	MaxRetries int           `mapstructure:"max_retries"` // SDK transport retries
	Timeout    time.Duration `mapstructure:"-"`
	HTTPClient *http.Client  `mapstructure:"-"`
}

// OpenAIEscalator re-reads a page with a vision chat model, asking for a
// structured list of lines.
type OpenAIEscalator struct {
	model   string
	limiter *RateLimiter
	client  openai.Client
	schema  *jsonschema.Schema
}

// NewOpenAIEscalator creates an OpenAI escalator.
func NewOpenAIEscalator(cfg OpenAIConfig) (*OpenAIEscalator, error) {
	if cfg.Model == "" {
		cfg.Model = openAIDefaultModel
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 8.0
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("page_lines.json", bytes.NewReader(pageLinesSchema)); err != nil {
		return nil, fmt.Errorf("failed to load page lines schema: %w", err)
	}
	schema, err := compiler.Compile("page_lines.json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile page lines schema: %w", err)
	}

	return &OpenAIEscalator{
		model:   cfg.Model,
		limiter: NewRateLimiter(cfg.RateLimit),
		client:  openai.NewClient(opts...),
		schema:  schema,
	}, nil
}

// Name returns the provider identifier.
func (c *OpenAIEscalator) Name() string {
	return OpenAIName
}

// Escalate sends the page image to the model and returns its transcription.
func (c *OpenAIEscalator) Escalate(ctx context.Context, req fusion.EscalationRequest) (*fusion.EscalationResult, error) {
	url, err := imageURL(req.ImageRef)
	if err != nil {
		return &fusion.EscalationResult{Success: false, Message: err.Error()}, nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var schema map[string]any
	if err := json.Unmarshal(pageLinesSchema, &schema); err != nil {
		return nil, fmt.Errorf("decode page lines schema: %w", err)
	}

	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(openAITranscribePrompt),
			openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
				openai.TextContentPart("Page " + req.PageID),
				openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: url}),
			}),
		},
		Temperature: openai.Float(0),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   "page_lines",
					Schema: schema,
					Strict: openai.Bool(true),
				},
			},
		},
	})
	if err != nil {
		err = mapOpenAIError(err)
		if rle, ok := IsRateLimitError(err); ok {
			c.limiter.Record429(rle.RetryAfter)
		}
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return &fusion.EscalationResult{Success: false, Message: "no choices in response"}, nil
	}

	lines, err := c.parseLines(resp.Choices[0].Message.Content)
	if err != nil {
		return &fusion.EscalationResult{Success: false, Message: err.Error()}, nil
	}
	return &fusion.EscalationResult{
		Success: true,
		Lines:   lines,
		Message: fmt.Sprintf("%s read %d lines", resp.Model, len(lines)),
	}, nil
}

func (c *OpenAIEscalator) parseLines(content string) ([]fusion.LineRecord, error) {
	content = strings.TrimSpace(content)
	var doc any
	if err := json.Unmarshal([]byte(content), &doc); err != nil {
		return nil, fmt.Errorf("response is not JSON: %w", err)
	}
	if err := c.schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("response does not match schema: %w", err)
	}

	var parsed struct {
		Lines []string `json:"lines"`
	}
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return nil, fmt.Errorf("decode lines: %w", err)
	}

	lines := make([]fusion.LineRecord, 0, len(parsed.Lines))
	for _, l := range parsed.Lines {
		lines = append(lines, fusion.LineRecord{Text: l})
	}
	return lines, nil
}

func mapOpenAIError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == http.StatusTooManyRequests {
			var retryAfter time.Duration
			if apiErr.Response != nil {
				retryAfter = parseRetryAfter(apiErr.Response.Header.Get("Retry-After"))
			}
			return &RateLimitError{
				Message:    fmt.Sprintf("OpenAI rate limited: %s", apiErr.Message),
				RetryAfter: retryAfter,
				StatusCode: apiErr.StatusCode,
			}
		}
		if apiErr.Message != "" {
			return fmt.Errorf("OpenAI error (status %d): %s", apiErr.StatusCode, apiErr.Message)
		}
		return fmt.Errorf("OpenAI error (status %d)", apiErr.StatusCode)
	}
	return err
}

var _ fusion.Escalator = (*OpenAIEscalator)(nil)
