package agent

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/vrite/vrite/internal/blocks"
	"github.com/vrite/vrite/internal/changes"
	"github.com/vrite/vrite/internal/stream"
)

func TestProposeChangesSchema(t *testing.T) {
	schema, err := ProposeChangesSchema()
	if err != nil {
		t.Fatalf("schema: %v", err)
	}
	props, ok := schema["properties"].(map[string]any)
	if !ok {
		t.Fatalf("schema has no properties: %v", schema)
	}
	for _, key := range []string{"changes", "summary", "reasoning"} {
		if _, ok := props[key]; !ok {
			t.Fatalf("schema missing property %q", key)
		}
	}
	// Batch definitions must be hoisted so #/definitions refs resolve.
	if _, ok := schema["definitions"]; !ok {
		t.Fatal("schema missing hoisted definitions")
	}
	ch, ok := props["changes"].(map[string]any)
	if !ok || ch["type"] != "array" {
		t.Fatalf("changes property = %v", props["changes"])
	}
	if _, ok := ch["definitions"]; ok {
		t.Fatal("definitions left nested under changes")
	}
	if _, err := json.Marshal(schema); err != nil {
		t.Fatalf("schema not serializable: %v", err)
	}
}

func TestParseProposalWithChanges(t *testing.T) {
	raw := json.RawMessage(`{
		"changes": [{"type": "delete_block", "blockId": "block-1"}],
		"summary": "Removed the second paragraph.",
		"reasoning": "it repeated the intro"
	}`)
	resp, err := parseProposal(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if resp.Type != ResponseChanges || len(resp.Changes) != 1 {
		t.Fatalf("response = %+v", resp)
	}
	if resp.Changes[0].Type != changes.OpDeleteBlock {
		t.Fatalf("op = %+v", resp.Changes[0])
	}
	if resp.Summary != "Removed the second paragraph." || resp.Reasoning != "it repeated the intro" {
		t.Fatalf("response = %+v", resp)
	}
}

func TestParseProposalNoChanges(t *testing.T) {
	for _, raw := range []string{
		`{"summary": "Nothing to change."}`,
		`{"changes": null, "summary": "Nothing to change."}`,
		`{"changes": [], "summary": "Nothing to change."}`,
	} {
		resp, err := parseProposal(json.RawMessage(raw))
		if err != nil {
			t.Fatalf("parse %s: %v", raw, err)
		}
		if resp.Type != ResponseNoChanges || resp.Changes != nil {
			t.Fatalf("response for %s = %+v", raw, resp)
		}
	}
}

func TestParseProposalRejectsInvalidBatch(t *testing.T) {
	raw := json.RawMessage(`{"changes": [{"type": "explode"}], "summary": "boom"}`)
	if _, err := parseProposal(raw); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestWrapProviderError(t *testing.T) {
	err := wrapProviderError(errors.New("request failed: status 429 too many requests"))
	var pe *ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ProviderError, got %T", err)
	}
	if !pe.IsRateLimit || pe.HTTPStatus != http.StatusTooManyRequests {
		t.Fatalf("classification = %+v", pe)
	}

	auth := wrapProviderError(errors.New("401 unauthorized"))
	if !errors.As(auth, &pe) || !pe.IsAuth {
		t.Fatalf("auth classification = %v", auth)
	}

	// Already wrapped errors pass through unchanged.
	if again := wrapProviderError(err); again != err {
		t.Fatal("double wrap")
	}
}

func TestFactoryDefaults(t *testing.T) {
	c, model, err := New(Options{Provider: "anthropic", APIKey: "k"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, ok := c.(*AnthropicCompleter); !ok {
		t.Fatalf("completer = %T", c)
	}
	if model == "" {
		t.Fatal("no default model")
	}

	c, model, err = New(Options{Provider: "ollama"})
	if err != nil {
		t.Fatalf("new ollama: %v", err)
	}
	if _, ok := c.(*OpenAICompleter); !ok {
		t.Fatalf("completer = %T", c)
	}
	if model != "llama3.1" {
		t.Fatalf("model = %q", model)
	}
}

func TestFactoryErrors(t *testing.T) {
	if _, _, err := New(Options{Provider: "openai"}); err == nil {
		t.Fatal("expected missing key error")
	}
	if _, _, err := New(Options{Provider: "carrier-pigeon"}); err == nil {
		t.Fatal("expected unknown provider error")
	}
}

func testRequest() *Request {
	return &Request{
		Document: []blocks.Block{
			{ID: "block-0", Type: blocks.BlockParagraph, Segments: []blocks.Segment{{Text: "hi"}}},
		},
		Instruction: "say hello properly",
	}
}

func TestHTTPCompleterComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Stream {
			t.Error("complete call must not request streaming")
		}
		if req.Instruction != "say hello properly" {
			t.Errorf("instruction = %q", req.Instruction)
		}
		json.NewEncoder(w).Encode(Response{Type: ResponseNoChanges, Summary: "All good."})
	}))
	defer srv.Close()

	resp, err := NewHTTP(srv.URL).Complete(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if resp.Type != ResponseNoChanges || resp.Summary != "All good." {
		t.Fatalf("response = %+v", resp)
	}
}

func TestHTTPCompleterStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if !req.Stream {
			t.Error("stream call must request streaming")
		}
		enc := stream.NewEncoder(w)
		enc.Encode(stream.Frame{Type: stream.FrameToken, Token: "Fixed the "})
		enc.Encode(stream.Frame{Type: stream.FrameToken, Token: "greeting."})
		enc.Encode(stream.Frame{Type: stream.FrameChanges, Changes: []byte(`[{"type":"delete_block","blockId":"block-0"}]`)})
		enc.Encode(stream.Frame{Type: stream.FrameComplete})
	}))
	defer srv.Close()

	frames, errs := NewHTTP(srv.URL).Stream(context.Background(), testRequest())

	a := stream.NewAssembler()
	for f := range frames {
		a.ProcessFrame(f)
	}
	if err := <-errs; err != nil {
		t.Fatalf("stream: %v", err)
	}

	turn, err := a.Result()
	if err != nil {
		t.Fatalf("result: %v", err)
	}
	if turn.Narration != "Fixed the greeting." || !turn.HasChanges {
		t.Fatalf("turn = %+v", turn)
	}
}

func TestHTTPCompleterErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewHTTP(srv.URL).Complete(context.Background(), testRequest())
	var pe *ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ProviderError, got %v", err)
	}
	if !pe.IsRateLimit || !strings.Contains(pe.Error(), "slow down") {
		t.Fatalf("provider error = %+v", pe)
	}
}
