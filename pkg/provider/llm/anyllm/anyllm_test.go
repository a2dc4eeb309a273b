package anyllm

import (
	"testing"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/centralino-ai/centralino/pkg/provider/llm"
)

func TestNew_Validation(t *testing.T) {
	if _, err := New("", "some-model"); err == nil {
		t.Error("expected error for empty provider name")
	}
	if _, err := New("anthropic", ""); err == nil {
		t.Error("expected error for empty model")
	}
	if _, err := New("carrier-pigeon", "some-model"); err == nil {
		t.Error("expected error for unsupported provider")
	}
}

func TestBuildParams(t *testing.T) {
	p := &Provider{model: "claude-3-5-haiku-latest"}
	req := llm.Request{
		SystemPrompt: "Sei un assistente telefonico.",
		Messages: []llm.Message{
			{Role: llm.RoleAssistant, Content: "Pronto."},
			{Role: llm.RoleUser, Content: "Buongiorno, chi parla?"},
		},
		MaxTokens:   150,
		Temperature: 0.7,
	}

	params := p.buildParams(req)
	if params.Model != "claude-3-5-haiku-latest" {
		t.Errorf("model: got %q", params.Model)
	}
	if len(params.Messages) != 3 {
		t.Fatalf("expected 3 messages (system + 2), got %d", len(params.Messages))
	}
	if params.Messages[0].Role != anyllmlib.RoleSystem {
		t.Errorf("first message role: got %q, want system", params.Messages[0].Role)
	}
	if params.Messages[2].Content != "Buongiorno, chi parla?" {
		t.Errorf("last message content: got %q", params.Messages[2].Content)
	}
	if params.MaxTokens == nil || *params.MaxTokens != 150 {
		t.Error("max tokens not set")
	}
	if params.Temperature == nil || *params.Temperature != 0.7 {
		t.Error("temperature not set")
	}
}

func TestBuildParams_NoSystemPrompt(t *testing.T) {
	p := &Provider{model: "m"}
	params := p.buildParams(llm.Request{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "Ciao"}},
	})
	if len(params.Messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(params.Messages))
	}
	if params.MaxTokens != nil || params.Temperature != nil {
		t.Error("zero-value limits must stay unset")
	}
}
