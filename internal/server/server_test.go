package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vrite/vrite/internal/agent"
	"github.com/vrite/vrite/internal/session"
	"github.com/vrite/vrite/internal/stream"
)

type fakeCompleter struct {
	frames   []stream.Frame
	response *agent.Response
}

func (f *fakeCompleter) Complete(ctx context.Context, req *agent.Request) (*agent.Response, error) {
	if f.response != nil {
		return f.response, nil
	}
	return &agent.Response{Type: agent.ResponseNoChanges, Summary: "nothing to do"}, nil
}

func (f *fakeCompleter) Stream(ctx context.Context, req *agent.Request) (<-chan stream.Frame, <-chan error) {
	frameCh := make(chan stream.Frame, len(f.frames))
	errCh := make(chan error, 1)
	for _, fr := range f.frames {
		frameCh <- fr
	}
	close(frameCh)
	errCh <- nil
	close(errCh)
	return frameCh, errCh
}

func modifyFrames(t *testing.T) []stream.Frame {
	t.Helper()
	batch := `[{"type":"modify_segments","blockId":"block-0","newSegments":[{"text":"hello"}]}]`
	return []stream.Frame{
		{Type: stream.FrameToken, Token: "Updating the first block."},
		{Type: stream.FrameChanges, Changes: json.RawMessage(batch)},
		{Type: stream.FrameSummary, Summary: "Updated the first block."},
		{Type: stream.FrameComplete},
	}
}

func newTestServer(t *testing.T, completer agent.Completer) (*Server, *gin.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store, err := session.NewStore(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	srv := New(store, completer, nil)
	t.Cleanup(srv.Close)
	return srv, srv.Router()
}

func postJSON(t *testing.T, router *gin.Engine, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	_, router := newTestServer(t, &fakeCompleter{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, w.Body.String())
}

func TestCommandAppliesBatch(t *testing.T) {
	_, router := newTestServer(t, &fakeCompleter{frames: modifyFrames(t)})

	w := postJSON(t, router, "/api/command", gin.H{"docId": "doc-1", "command": "say hello"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp turnResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	assert.Equal(t, "Updating the first block.", resp.Narration)
	require.NotNil(t, resp.Apply)
	assert.Equal(t, 1, resp.Apply.Applied)
	assert.Len(t, resp.Pending, 1)
	assert.Equal(t, "addition", resp.Pending[0].DiffType)
	assert.Equal(t, "hello", resp.Pending[0].Text)
}

func TestCommandStreamRelaysFrames(t *testing.T) {
	_, router := newTestServer(t, &fakeCompleter{frames: modifyFrames(t)})

	w := postJSON(t, router, "/api/command", gin.H{"docId": "doc-1", "command": "say hello", "stream": true})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/event-stream")

	turn, err := stream.Consume(w.Body)
	require.NoError(t, err)
	assert.Equal(t, "Updating the first block.", turn.Narration)
	assert.True(t, turn.HasChanges)
}

func TestResolveAcceptAll(t *testing.T) {
	_, router := newTestServer(t, &fakeCompleter{frames: modifyFrames(t)})

	w := postJSON(t, router, "/api/command", gin.H{"docId": "doc-1", "command": "say hello"})
	require.Equal(t, http.StatusOK, w.Code)

	w = postJSON(t, router, "/api/resolve", gin.H{"docId": "doc-1", "action": "accept_all"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp turnResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Empty(t, resp.Pending)
	require.Len(t, resp.Blocks, 1)
	assert.Equal(t, "hello", resp.Blocks[0].Segments[0].Text)
}

func TestResolveUnknownAction(t *testing.T) {
	_, router := newTestServer(t, &fakeCompleter{})

	w := postJSON(t, router, "/api/resolve", gin.H{"docId": "doc-1", "action": "merge"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestFormatReturnsContent(t *testing.T) {
	completer := &fakeCompleter{response: &agent.Response{
		Type:    agent.ResponseNoChanges,
		Summary: "Formatted text.",
	}}
	_, router := newTestServer(t, completer)

	w := postJSON(t, router, "/api/format", gin.H{"content": "raw text"})
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "Formatted text.", resp["formatted_content"])
	assert.Equal(t, "APA", resp["format_type"])
}

func TestEnhanceReturnsContent(t *testing.T) {
	completer := &fakeCompleter{response: &agent.Response{
		Type:    agent.ResponseNoChanges,
		Summary: "Enhanced text.",
	}}
	_, router := newTestServer(t, completer)

	w := postJSON(t, router, "/api/enhance", gin.H{"prompt": "expand this"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Enhanced text.")
}

func TestCommandMissingFields(t *testing.T) {
	_, router := newTestServer(t, &fakeCompleter{})

	w := postJSON(t, router, "/api/command", gin.H{"docId": "doc-1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCORSPreflight(t *testing.T) {
	_, router := newTestServer(t, &fakeCompleter{})

	req := httptest.NewRequest(http.MethodOptions, "/api/command", strings.NewReader(""))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestDocumentLifecycle(t *testing.T) {
	srv, router := newTestServer(t, &fakeCompleter{frames: modifyFrames(t)})

	w := postJSON(t, router, "/api/command", gin.H{"docId": "doc-1", "command": "say hello"})
	require.Equal(t, http.StatusOK, w.Code)
	w = postJSON(t, router, "/api/resolve", gin.H{"docId": "doc-1", "action": "accept_all"})
	require.Equal(t, http.StatusOK, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/documents/doc-1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp turnResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Blocks, 1)
	assert.Equal(t, "hello", resp.Blocks[0].Segments[0].Text)

	req = httptest.NewRequest(http.MethodDelete, "/api/documents/doc-1", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	srv.Close()
}
