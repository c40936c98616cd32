package providers

import (
	"context"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/jackzampolin/ocrfuse/internal/fusion"
)

func TestRegistry_Build(t *testing.T) {
	r := NewRegistry()

	if got := r.Names(); !reflect.DeepEqual(got, []string{"mistral", "none", "openai"}) {
		t.Errorf("Names() = %v", got)
	}

	t.Run("none disables escalation", func(t *testing.T) {
		for _, name := range []string{"", NoneName} {
			esc, err := r.Build(Config{Provider: name})
			if err != nil || esc != nil {
				t.Errorf("Build(%q) = %v, %v", name, esc, err)
			}
		}
	})

	t.Run("api keys required", func(t *testing.T) {
		for _, name := range []string{MistralName, OpenAIName} {
			if _, err := r.Build(Config{Provider: name}); err == nil || !strings.Contains(err.Error(), "api_key") {
				t.Errorf("Build(%s) err = %v", name, err)
			}
		}
	})

	t.Run("configured providers", func(t *testing.T) {
		esc, err := r.Build(Config{Provider: MistralName, Mistral: MistralConfig{APIKey: "k"}})
		if _, ok := esc.(*MistralEscalator); !ok || err != nil {
			t.Errorf("mistral: %T, %v", esc, err)
		}
		esc, err = r.Build(Config{Provider: OpenAIName, OpenAI: OpenAIConfig{APIKey: "k"}})
		if _, ok := esc.(*OpenAIEscalator); !ok || err != nil {
			t.Errorf("openai: %T, %v", esc, err)
		}
	})

	t.Run("unknown provider", func(t *testing.T) {
		if _, err := r.Build(Config{Provider: "tesseract"}); err == nil {
			t.Error("expected error")
		}
	})

	t.Run("custom provider", func(t *testing.T) {
		r.Register("canned", func(Config) (fusion.Escalator, error) {
			return fusion.EscalatorFunc(func(context.Context, fusion.EscalationRequest) (*fusion.EscalationResult, error) {
				return &fusion.EscalationResult{Success: true}, nil
			}), nil
		})
		esc, err := r.Build(Config{Provider: "canned"})
		if err != nil {
			t.Fatal(err)
		}
		if res, _ := esc.Escalate(context.Background(), fusion.EscalationRequest{}); !res.Success {
			t.Error("canned provider not used")
		}
	})
}

func TestRateLimiter(t *testing.T) {
	t.Run("burst then block", func(t *testing.T) {
		rl := NewRateLimiter(2)
		if !rl.TryConsume() || !rl.TryConsume() {
			t.Fatal("burst of 2 not available")
		}
		if rl.TryConsume() {
			t.Error("third token available immediately")
		}
		if s := rl.Status(); s.TotalConsumed != 2 || s.TimeUntilToken <= 0 {
			t.Errorf("status = %+v", s)
		}
	})

	t.Run("wait refills", func(t *testing.T) {
		rl := NewRateLimiter(50)
		for rl.TryConsume() {
		}
		start := time.Now()
		if err := rl.Wait(context.Background()); err != nil {
			t.Fatal(err)
		}
		if time.Since(start) > time.Second {
			t.Errorf("wait took %s", time.Since(start))
		}
	})

	t.Run("wait honours context", func(t *testing.T) {
		rl := NewRateLimiter(0.01)
		rl.TryConsume()
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		if err := rl.Wait(ctx); err == nil {
			t.Error("expected context error")
		}
	})

	t.Run("429 drains", func(t *testing.T) {
		rl := NewRateLimiter(10)
		rl.Record429(time.Second)
		if rl.TryConsume() {
			t.Error("token available after 429")
		}
		if s := rl.Status(); s.Last429Time.IsZero() || s.TimeUntilToken < 900*time.Millisecond {
			t.Errorf("status = %+v", s)
		}
	})
}

func TestParseRetryAfter(t *testing.T) {
	if d := parseRetryAfter("5"); d != 5*time.Second {
		t.Errorf("seconds: %s", d)
	}
	if d := parseRetryAfter(""); d != 0 {
		t.Errorf("empty: %s", d)
	}
	if d := parseRetryAfter("soon"); d != 0 {
		t.Errorf("garbage: %s", d)
	}
}
