package llm

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/engramdev/engram/internal/config"
)

func TestNewClientAnthropic(t *testing.T) {
	cfg := config.LLMConfig{Provider: "anthropic", AnthropicKey: "test-key", Model: "claude-haiku-4-5-20251001"}
	client, err := NewClient(cfg)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if _, ok := client.(*Anthropic); !ok {
		t.Errorf("expected *Anthropic, got %T", client)
	}
}

func TestNewClientAnthropicMissingKey(t *testing.T) {
	cfg := config.LLMConfig{Provider: "anthropic"}
	_, err := NewClient(cfg)
	if err == nil {
		t.Error("expected error for missing API key")
	}
}

func TestNewClientOllama(t *testing.T) {
	cfg := config.LLMConfig{Provider: "ollama", OllamaModel: "llama3.2"}
	client, err := NewClient(cfg)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if _, ok := client.(*Ollama); !ok {
		t.Errorf("expected *Ollama, got %T", client)
	}
}

func TestNewClientUnknown(t *testing.T) {
	cfg := config.LLMConfig{Provider: "gpt"}
	_, err := NewClient(cfg)
	if err == nil {
		t.Error("expected error for unknown provider")
	}
}

func TestCompleteJSON(t *testing.T) {
	type decision struct {
		Decision   string  `json:"decision"`
		Reason     string  `json:"reason"`
		Confidence float64 `json:"confidence"`
	}

	tests := []struct {
		name     string
		content  string
		wantErr  bool
		parseErr bool
	}{
		{"plain object", `{"decision":"duplicate","reason":"same fact","confidence":0.9}`, false, false},
		{"fenced object", "```json\n{\"decision\":\"separate\",\"reason\":\"different\",\"confidence\":0.5}\n```", false, false},
		{"prose wrapped", `Here you go: {"decision":"update","reason":"superseded","confidence":0.8} hope that helps`, false, false},
		{"no json", "I cannot decide.", true, true},
		{"unknown field", `{"decision":"duplicate","reason":"x","confidence":0.9,"verdict":"yes"}`, true, true},
		{"truncated", `{"decision":"dup`, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &MockClient{Response: &Response{Content: tt.content, Provider: "mock"}}
			var out decision
			err := CompleteJSON(context.Background(), mock, "prompt", &out)
			if tt.wantErr && err == nil {
				t.Fatal("expected error")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("CompleteJSON: %v", err)
			}
			if tt.parseErr && !errors.Is(err, ErrParse) {
				t.Errorf("error %v should wrap ErrParse", err)
			}
			if !tt.wantErr && out.Decision == "" {
				t.Error("decision not decoded")
			}
		})
	}
}

func TestCompleteJSONProviderError(t *testing.T) {
	mock := &MockClient{Err: errors.New("provider down")}
	var out struct{}
	err := CompleteJSON(context.Background(), mock, "prompt", &out)
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, ErrParse) {
		t.Error("provider failure must not masquerade as a parse error")
	}
}

func TestMockClientSequence(t *testing.T) {
	mock := &MockClient{Responses: []*Response{
		{Content: "first"},
		{Content: "second"},
	}}

	r1, _ := mock.Complete(context.Background(), "a")
	r2, _ := mock.Complete(context.Background(), "b")
	if r1.Content != "first" || r2.Content != "second" {
		t.Errorf("sequence = %q, %q", r1.Content, r2.Content)
	}
	if len(mock.Calls) != 2 {
		t.Errorf("calls = %d, want 2", len(mock.Calls))
	}
}

func TestPromptsMentionContract(t *testing.T) {
	p := ConsolidationPrompt("new", "old", 0.8)
	for _, want := range []string{"duplicate", "update", "enrich", "strengthen", "separate", "merged_content"} {
		if !strings.Contains(p, want) {
			t.Errorf("consolidation prompt missing %q", want)
		}
	}

	c := ClassifyPrompt("some text")
	for _, want := range []string{"semantic", "procedural", "episodic", "reflective", "emotional"} {
		if !strings.Contains(c, want) {
			t.Errorf("classify prompt missing %q", want)
		}
	}
}
