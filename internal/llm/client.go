// Package llm abstracts the language-model providers the engine consults
// for consolidation decisions and sector classification. Providers are
// injected, never global.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/engramdev/engram/internal/config"
)

// Client is the interface for LLM providers.
type Client interface {
	Complete(ctx context.Context, prompt string) (*Response, error)
}

// Response holds the result of an LLM completion.
type Response struct {
	Content    string
	Provider   string
	TokensUsed int
}

// ErrParse marks a malformed model response. It is a distinct error kind:
// callers must never see a zero-value decision in place of a parse failure.
var ErrParse = errors.New("llm: malformed response")

// NewClient creates an LLM client based on the config provider setting.
func NewClient(cfg config.LLMConfig) (Client, error) {
	switch cfg.Provider {
	case "anthropic":
		if cfg.AnthropicKey == "" {
			return nil, fmt.Errorf("anthropic provider requires ANTHROPIC_API_KEY or config")
		}
		model := cfg.Model
		if model == "" {
			model = "claude-haiku-4-5-20251001"
		}
		return NewAnthropic(cfg.AnthropicKey, model), nil
	case "ollama":
		url := cfg.OllamaURL
		if url == "" {
			url = "http://localhost:11434"
		}
		model := cfg.OllamaModel
		if model == "" {
			model = "llama3.2"
		}
		return NewOllama(url, model), nil
	default:
		return nil, fmt.Errorf("unknown LLM provider: %q", cfg.Provider)
	}
}

// CompleteJSON runs a completion and decodes the response strictly into
// out. Code fences and surrounding prose are tolerated; unknown fields and
// anything that is not a single JSON object are not. Decode failures wrap
// ErrParse.
func CompleteJSON(ctx context.Context, c Client, prompt string, out any) error {
	resp, err := c.Complete(ctx, prompt)
	if err != nil {
		return err
	}

	raw, ok := extractJSONObject(resp.Content)
	if !ok {
		return fmt.Errorf("%w: no JSON object in %q", ErrParse, truncate(resp.Content, 120))
	}

	dec := json.NewDecoder(strings.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("%w: %v", ErrParse, err)
	}
	return nil
}

// extractJSONObject pulls the outermost {...} from model output, stripping
// markdown code fences if present.
func extractJSONObject(content string) (string, bool) {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") {
		lines := strings.Split(content, "\n")
		if len(lines) > 2 {
			content = strings.Join(lines[1:len(lines)-1], "\n")
		}
	}
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return content[start : end+1], true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
