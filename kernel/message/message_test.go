package message

import (
	"encoding/json"
	"testing"
)

func TestSanitizeText_RemovesUnicodeTags(t *testing.T) {
	malicious := "Hello\U000E0041\U000E0042\U000E0043world"
	got := SanitizeText(malicious)
	if got != "Helloworld" {
		t.Fatalf("expected tag code points removed, got %q", got)
	}
}

func TestSanitizeText_IdentityOnCleanText(t *testing.T) {
	cases := []string{
		"",
		"plain ascii",
		"emoji \U0001F600 stays",
		"українська мова",
		"日本語テキスト",
		"math ∑∫√ symbols",
	}
	for _, in := range cases {
		if got := SanitizeText(in); got != in {
			t.Fatalf("clean text %q altered to %q", in, got)
		}
	}
}

func TestSanitizeText_Idempotent(t *testing.T) {
	in := "a\U000E0020b\U000E007Fc"
	once := SanitizeText(in)
	twice := SanitizeText(once)
	if once != twice {
		t.Fatalf("sanitize not idempotent: %q vs %q", once, twice)
	}
	if once != "abc" {
		t.Fatalf("unexpected sanitized value %q", once)
	}
}

func TestMessage_ConcatText(t *testing.T) {
	m := NewAssistant().
		AppendText("first").
		Append(ToolRequest{ID: "t1", Call: &ToolCall{Name: "fetch__get"}}).
		AppendText("second")
	if got := m.ConcatText(); got != "first\nsecond" {
		t.Fatalf("unexpected concat text %q", got)
	}
}

func TestMessage_ContentQueries(t *testing.T) {
	m := NewAssistant().
		Append(ToolRequest{ID: "a", Call: &ToolCall{Name: "x"}}).
		Append(ToolResponse{ID: "b"})
	if !m.HasToolRequest() {
		t.Fatal("expected tool request")
	}
	if !m.HasToolResponse() {
		t.Fatal("expected tool response")
	}
	if m.TextOnly() {
		t.Fatal("message is not text only")
	}
	ids := m.ToolIDs()
	if _, ok := ids["a"]; !ok {
		t.Fatal("missing request id")
	}
	if _, ok := ids["b"]; !ok {
		t.Fatal("missing response id")
	}
}

func TestConversation_UnresolvedToolRequests(t *testing.T) {
	convo := NewConversation()
	convo.Append(NewAssistant().
		Append(ToolRequest{ID: "r1", Call: &ToolCall{Name: "fetch__get"}}).
		Append(ToolRequest{ID: "r2", Call: &ToolCall{Name: "fs__read"}}))
	convo.Append(NewUser().Append(ToolResponse{ID: "r1"}))

	pending := convo.UnresolvedToolRequests()
	if len(pending) != 1 {
		t.Fatalf("expected one unresolved request, got %d", len(pending))
	}
	req, ok := pending["r2"]
	if !ok {
		t.Fatal("expected r2 unresolved")
	}
	if req.Call == nil || req.Call.Name != "fs__read" {
		t.Fatalf("unexpected unresolved call %+v", req.Call)
	}
}

func TestMessage_JSONRoundTrip(t *testing.T) {
	orig := NewAssistant().WithID("m1").
		AppendText("hello").
		Append(ToolRequest{ID: "c1", Call: &ToolCall{Name: "fetch__get", Args: map[string]any{"url": "https://example.com"}}}).
		Append(ToolResponse{ID: "c1", Result: []Content{TextContent{Text: "ok"}}}).
		Append(ThinkingContent{Thinking: "hm", Signature: "sig"})

	data, err := json.Marshal(orig)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded Message
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.ID != "m1" || decoded.Role != RoleAssistant {
		t.Fatalf("unexpected envelope %q %q", decoded.ID, decoded.Role)
	}
	if len(decoded.Content) != 4 {
		t.Fatalf("expected 4 content items, got %d", len(decoded.Content))
	}
	resp, ok := decoded.Content[2].(ToolResponse)
	if !ok {
		t.Fatalf("expected tool response, got %T", decoded.Content[2])
	}
	if len(resp.Result) != 1 {
		t.Fatalf("expected nested result item, got %d", len(resp.Result))
	}
	if text, ok := resp.Result[0].(TextContent); !ok || text.Text != "ok" {
		t.Fatalf("unexpected nested result %+v", resp.Result[0])
	}
}

func TestMessage_UnmarshalSanitizesText(t *testing.T) {
	raw := `{"role":"user","created":"2026-01-02T03:04:05Z","content":[{"type":"text","text":"Hi󠁁there"}]}`
	var m Message
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	text, ok := m.Content[0].(TextContent)
	if !ok {
		t.Fatalf("expected text content, got %T", m.Content[0])
	}
	if text.Text != "Hithere" {
		t.Fatalf("expected sanitized text, got %q", text.Text)
	}
}

func TestMessage_UnmarshalRejectsUnknownKind(t *testing.T) {
	raw := `{"role":"user","created":"2026-01-02T03:04:05Z","content":[{"type":"bogus"}]}`
	var m Message
	if err := json.Unmarshal([]byte(raw), &m); err == nil {
		t.Fatal("expected error for unknown content type")
	}
}
