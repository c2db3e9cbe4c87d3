package claude

import (
	"encoding/json"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/linnemanlabs/conflictwatch/internal/extract"
)

func TestToSDKParams(t *testing.T) {
	t.Parallel()

	req := &extract.Request{MaxTokens: 1024, System: "be terse", Prompt: "Title: x"}

	p := toSDKParams("claude-sonnet-4-5", req)

	if p.Model != anthropic.Model("claude-sonnet-4-5") {
		t.Errorf("model = %q", p.Model)
	}
	if p.MaxTokens != 1024 {
		t.Errorf("max tokens = %d, want 1024", p.MaxTokens)
	}
	if len(p.System) != 1 || p.System[0].Text != "be terse" {
		t.Errorf("system = %+v", p.System)
	}
	if len(p.Messages) != 1 {
		t.Fatalf("messages len = %d, want 1", len(p.Messages))
	}
	msg := p.Messages[0]
	if msg.Role != anthropic.MessageParamRoleUser {
		t.Errorf("role = %q, want user", msg.Role)
	}
	if len(msg.Content) != 1 || msg.Content[0].OfText == nil {
		t.Fatal("expected a single text block")
	}
	if msg.Content[0].OfText.Text != "Title: x" {
		t.Errorf("text = %q", msg.Content[0].OfText.Text)
	}
}

func TestToSDKParams_NoSystem(t *testing.T) {
	t.Parallel()

	p := toSDKParams("m", &extract.Request{MaxTokens: 10, Prompt: "hi"})
	if len(p.System) != 0 {
		t.Errorf("system = %+v, want empty", p.System)
	}
}

func TestFromSDKResponse_TextContent(t *testing.T) {
	t.Parallel()

	msg := &anthropic.Message{
		Model: anthropic.Model("claude-sonnet-4-5"),
		Content: []anthropic.ContentBlockUnion{
			{Type: "text", Text: `{"state":`},
			{Type: "tool_use", ID: "tu-1", Name: "ignored", Input: json.RawMessage(`{}`)},
			{Type: "text", Text: `"Kano"}`},
		},
		StopReason: anthropic.StopReasonEndTurn,
		Usage:      anthropic.Usage{InputTokens: 1234, OutputTokens: 567},
	}

	result := fromSDKResponse(msg)

	if result.Text != `{"state":"Kano"}` {
		t.Errorf("text = %q", result.Text)
	}
	if result.StopReason != "end_turn" {
		t.Errorf("stop reason = %q, want end_turn", result.StopReason)
	}
	if result.Model != "claude-sonnet-4-5" {
		t.Errorf("model = %q", result.Model)
	}
	if result.Usage.InputTokens != 1234 || result.Usage.OutputTokens != 567 {
		t.Errorf("usage = %+v", result.Usage)
	}
}

func TestFromSDKResponse_Empty(t *testing.T) {
	t.Parallel()

	result := fromSDKResponse(&anthropic.Message{StopReason: anthropic.StopReason("max_tokens")})
	if result.Text != "" {
		t.Errorf("text = %q, want empty", result.Text)
	}
	if result.StopReason != "max_tokens" {
		t.Errorf("stop reason = %q", result.StopReason)
	}
}

func TestClientImplementsProvider(t *testing.T) {
	t.Parallel()

	var _ extract.Provider = New("test-key", "claude-sonnet-4-5")
}
