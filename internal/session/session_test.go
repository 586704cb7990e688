package session

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/vrite/vrite/internal/agent"
	"github.com/vrite/vrite/internal/blocks"
	"github.com/vrite/vrite/internal/changes"
	"github.com/vrite/vrite/internal/stream"
	"github.com/vrite/vrite/internal/watch"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(context.Background(), filepath.Join(t.TempDir(), "vrite.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStoreDocumentRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	doc := &Document{
		ID:    "doc-1",
		Title: "Essay",
		Blocks: []blocks.Block{
			{ID: "block-0", Type: blocks.BlockParagraph, Segments: []blocks.Segment{{Text: "hello"}}},
		},
	}
	if err := store.SaveDocument(ctx, doc); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := store.LoadDocument(ctx, "doc-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Title != "Essay" || len(loaded.Blocks) != 1 {
		t.Fatalf("loaded = %+v", loaded)
	}
	if blocks.PlainText(loaded.Blocks[0].Segments) != "hello" {
		t.Fatalf("content = %+v", loaded.Blocks[0])
	}

	// Upsert keeps the row count at one.
	doc.Title = "Renamed"
	if err := store.SaveDocument(ctx, doc); err != nil {
		t.Fatalf("resave: %v", err)
	}
	list, err := store.ListDocuments(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].Title != "Renamed" {
		t.Fatalf("list = %+v", list)
	}

	if err := store.DeleteDocument(ctx, "doc-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.LoadDocument(ctx, "doc-1"); err == nil {
		t.Fatal("expected not-found after delete")
	}
}

func TestStoreHistory(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.SaveDocument(ctx, &Document{ID: "doc-1", Title: "t", Blocks: []blocks.Block{}}); err != nil {
		t.Fatalf("save: %v", err)
	}
	for _, turn := range []Turn{
		{Role: agent.RoleUser, Content: "shorten it"},
		{Role: agent.RoleAssistant, Content: "Shortened the intro."},
	} {
		if err := store.AppendTurn(ctx, "doc-1", turn.Role, turn.Content); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	got, err := store.History(ctx, "doc-1")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(got) != 2 || got[0].Role != agent.RoleUser || got[1].Content != "Shortened the intro." {
		t.Fatalf("history = %+v", got)
	}
}

// fakeCompleter drives RunTurn without a network. Frames are replayed on
// Stream; Complete serves the fallback.
type fakeCompleter struct {
	frames    []stream.Frame
	streamErr error
	response  *agent.Response
	completes int
	lastReq   *agent.Request
}

func (f *fakeCompleter) Complete(_ context.Context, req *agent.Request) (*agent.Response, error) {
	f.completes++
	f.lastReq = req
	if f.response == nil {
		return nil, errors.New("no fallback response")
	}
	return f.response, nil
}

func (f *fakeCompleter) Stream(_ context.Context, req *agent.Request) (<-chan stream.Frame, <-chan error) {
	f.lastReq = req
	frameCh := make(chan stream.Frame, len(f.frames))
	errCh := make(chan error, 1)
	for _, fr := range f.frames {
		frameCh <- fr
	}
	if f.streamErr != nil {
		errCh <- f.streamErr
	}
	close(frameCh)
	close(errCh)
	return frameCh, errCh
}

func TestRunTurnAppliesStreamedBatch(t *testing.T) {
	store := newTestStore(t)
	fake := &fakeCompleter{frames: []stream.Frame{
		{Type: stream.FrameToken, Token: "Emphasized the greeting."},
		{Type: stream.FrameChanges, Changes: []byte(`[{"type": "modify_segments", "blockId": "block-0", "newSegments": [{"text": "hello", "format": 1}]}]`)},
		{Type: stream.FrameComplete},
	}}

	s, err := Open(context.Background(), store, fake, nil, "doc-1")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	res, err := s.RunTurn(context.Background(), "bold the greeting")
	if err != nil {
		t.Fatalf("run turn: %v", err)
	}
	if res.Narration != "Emphasized the greeting." {
		t.Fatalf("narration = %q", res.Narration)
	}
	if res.Apply == nil || res.Apply.Applied != 1 {
		t.Fatalf("apply = %+v", res.Apply)
	}
	if res.Pending != 1 {
		t.Fatalf("pending = %d", res.Pending)
	}
	if fake.completes != 0 {
		t.Fatal("fallback ran despite healthy stream")
	}

	// The instruction went out with the serialized document.
	if fake.lastReq == nil || len(fake.lastReq.Document) == 0 {
		t.Fatal("request carried no document")
	}

	history, err := store.History(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("history = %+v", history)
	}
}

func TestRunTurnFallsBackOnce(t *testing.T) {
	store := newTestStore(t)
	fake := &fakeCompleter{
		streamErr: errors.New("connection reset"),
		response: &agent.Response{
			Type:    agent.ResponseChanges,
			Summary: "Removed the greeting.",
			Changes: mustDecode(t, `[{"type": "delete_block", "blockId": "block-0"}]`),
		},
	}

	s, err := Open(context.Background(), store, fake, nil, "doc-1")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	res, err := s.RunTurn(context.Background(), "delete it")
	if err != nil {
		t.Fatalf("run turn: %v", err)
	}
	if fake.completes != 1 {
		t.Fatalf("fallback ran %d times, want 1", fake.completes)
	}
	if res.Narration != "Removed the greeting." || res.Apply == nil || res.Apply.Applied != 1 {
		t.Fatalf("result = %+v", res)
	}
}

func TestRunTurnBusy(t *testing.T) {
	store := newTestStore(t)
	fake := &fakeCompleter{frames: []stream.Frame{{Type: stream.FrameComplete}}}

	s, err := Open(context.Background(), store, fake, nil, "doc-1")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	s.mu.Lock()
	s.inFlight = true
	s.mu.Unlock()

	if _, err := s.RunTurn(context.Background(), "anything"); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
}

func TestSaveSkipsWhilePending(t *testing.T) {
	store := newTestStore(t)
	fake := &fakeCompleter{frames: []stream.Frame{
		{Type: stream.FrameChanges, Changes: []byte(`[{"type": "insert_block", "afterBlockId": null, "newBlock": {"type": "paragraph", "segments": [{"text": "draft"}]}}]`)},
		{Type: stream.FrameSummary, Summary: "Added a draft line."},
		{Type: stream.FrameComplete},
	}}

	ctx := context.Background()
	s, err := Open(ctx, store, fake, nil, "doc-1")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	if _, err := s.RunTurn(ctx, "add a draft line"); err != nil {
		t.Fatalf("run turn: %v", err)
	}

	if err := s.Save(ctx); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := store.LoadDocument(ctx, "doc-1"); err == nil {
		t.Fatal("annotated document must not be persisted")
	}

	if err := s.AcceptAll(); err != nil {
		t.Fatalf("accept all: %v", err)
	}
	if err := s.Save(ctx); err != nil {
		t.Fatalf("save after resolve: %v", err)
	}
	doc, err := store.LoadDocument(ctx, "doc-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if doc.Title != "draft" {
		t.Fatalf("title = %q", doc.Title)
	}
}

func TestOpenRestoresDocument(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.SaveDocument(ctx, &Document{
		ID:    "doc-1",
		Title: "saved",
		Blocks: []blocks.Block{
			{ID: "block-0", Type: blocks.BlockHeading, Tag: "h1", Segments: []blocks.Segment{{Text: "Saved title"}}},
		},
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	s, err := Open(ctx, store, &fakeCompleter{}, nil, "doc-1")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	bs := s.Blocks()
	if len(bs) != 1 || bs[0].Type != blocks.BlockHeading {
		t.Fatalf("blocks = %+v", bs)
	}
	if blocks.PlainText(bs[0].Segments) != "Saved title" {
		t.Fatalf("content = %+v", bs[0])
	}
}

func mustDecode(t *testing.T, raw string) []changes.Operation {
	t.Helper()
	batch, err := changes.Decode([]byte(raw))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return batch
}

func TestStoreWriteHookFires(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	var writes atomic.Int32
	store.SetBeforeWrite(func() { writes.Add(1) })

	doc := &Document{ID: "doc-1", Title: "draft", Blocks: []blocks.Block{}}
	if err := store.SaveDocument(ctx, doc); err != nil {
		t.Fatalf("SaveDocument: %v", err)
	}
	if err := store.AppendTurn(ctx, "doc-1", agent.RoleUser, "hello"); err != nil {
		t.Fatalf("AppendTurn: %v", err)
	}
	if err := store.DeleteDocument(ctx, "doc-1"); err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}

	if got := writes.Load(); got != 3 {
		t.Errorf("hook fired %d times, want 3", got)
	}
}

func TestOwnSaveNotReportedAsConflict(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "vrite.db")
	store, err := NewStore(context.Background(), dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	watcher, err := watch.NewStoreWatcher(dbPath)
	if err != nil {
		t.Fatalf("NewStoreWatcher: %v", err)
	}
	store.SetBeforeWrite(watcher.MarkLocalWrite)

	var conflicts atomic.Int32
	watcher.OnConflict(func() { conflicts.Add(1) })
	if err := watcher.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer watcher.Stop()

	doc := &Document{ID: "doc-1", Title: "draft", Blocks: []blocks.Block{
		{ID: "block-0", Type: blocks.BlockParagraph, Segments: []blocks.Segment{{Text: "draft"}}},
	}}
	if err := store.SaveDocument(context.Background(), doc); err != nil {
		t.Fatalf("SaveDocument: %v", err)
	}

	time.Sleep(800 * time.Millisecond)
	if got := conflicts.Load(); got != 0 {
		t.Errorf("own save reported as conflict %d times", got)
	}
}

func TestDeriveTitleRuneSafe(t *testing.T) {
	long := strings.Repeat("é", maxTitleLength+10)
	bs := []blocks.Block{
		{ID: "block-0", Type: blocks.BlockParagraph, Segments: []blocks.Segment{{Text: long}}},
	}

	title := deriveTitle(bs)
	if !utf8.ValidString(title) {
		t.Fatalf("title is not valid UTF-8: %q", title)
	}
	if got := utf8.RuneCountInString(title); got != maxTitleLength {
		t.Errorf("title rune count = %d, want %d", got, maxTitleLength)
	}

	short := []blocks.Block{
		{ID: "block-0", Type: blocks.BlockParagraph, Segments: []blocks.Segment{{Text: "Résumé"}}},
	}
	if got := deriveTitle(short); got != "Résumé" {
		t.Errorf("short title = %q", got)
	}
}
