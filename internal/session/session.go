package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/vrite/vrite/internal/agent"
	"github.com/vrite/vrite/internal/blocks"
	"github.com/vrite/vrite/internal/diff"
	"github.com/vrite/vrite/internal/doctree"
	"github.com/vrite/vrite/internal/stream"
)

// ErrBusy is returned when a turn is requested while another is in flight.
// At most one agent batch is outstanding per session; callers disable
// re-submission instead of queuing.
var ErrBusy = errors.New("an agent turn is already in flight")

const (
	saveDelay      = 2 * time.Second
	historyLimit   = 20
	snippetLimit   = 3
	untitledTitle  = "Untitled document"
	maxTitleLength = 64
)

// SnippetSearcher retrieves related passages from earlier document content
// for grounding an instruction.
type SnippetSearcher interface {
	Search(docID, query string, limit int) ([]string, error)
}

// TurnResult is what one editing turn produced.
type TurnResult struct {
	Narration string            `json:"narration"`
	Reasoning string            `json:"reasoning,omitempty"`
	Summary   string            `json:"summary,omitempty"`
	Apply     *diff.BatchResult `json:"apply,omitempty"`
	Pending   int               `json:"pending"`
}

// DocumentSession binds one live document tree to its persistence and its
// completion agent.
type DocumentSession struct {
	ID    string
	docID string

	tree     *doctree.Tree
	engine   *diff.Engine
	resolver *diff.Resolver

	completer agent.Completer
	store     *Store
	snippets  SnippetSearcher

	mu        sync.Mutex
	inFlight  bool
	history   []agent.Message
	createdAt time.Time

	saveMu    sync.Mutex
	saveTimer *time.Timer
}

// Open loads a document into a new session, creating it if docID is new.
// snippets may be nil.
func Open(ctx context.Context, store *Store, completer agent.Completer, snippets SnippetSearcher, docID string) (*DocumentSession, error) {
	s := &DocumentSession{
		ID:        uuid.NewString(),
		docID:     docID,
		completer: completer,
		store:     store,
		snippets:  snippets,
	}

	doc, err := store.LoadDocument(ctx, docID)
	if err == nil {
		tree, err := blocks.BuildTree(doc.Blocks)
		if err != nil {
			return nil, fmt.Errorf("rebuild document %s: %w", docID, err)
		}
		s.tree = tree
		s.createdAt = doc.CreatedAt

		turns, err := store.History(ctx, docID)
		if err != nil {
			return nil, err
		}
		for _, t := range turns {
			s.history = append(s.history, agent.Message{Role: t.Role, Content: t.Content})
		}
	} else {
		s.tree = doctree.NewTree()
		s.createdAt = time.Now()
	}

	s.engine = diff.NewEngine(s.tree)
	s.resolver = diff.NewResolver(s.tree)
	return s, nil
}

// DocID returns the persistent document id this session edits.
func (s *DocumentSession) DocID() string { return s.docID }

// Tree exposes the live tree for direct (user-driven) edits.
func (s *DocumentSession) Tree() *doctree.Tree { return s.tree }

// Blocks returns the current block model snapshot.
func (s *DocumentSession) Blocks() []blocks.Block {
	bs, _ := blocks.Serialize(s.tree)
	return bs
}

// Pending lists unresolved annotations.
func (s *DocumentSession) Pending() []diff.PendingDiff {
	return s.resolver.Pending()
}

// RunTurn executes one editing turn: serialize, ask the agent (streaming,
// with the single non-streaming fallback), apply any proposed batch as
// pending annotations, and record the conversation.
func (s *DocumentSession) RunTurn(ctx context.Context, instruction string) (*TurnResult, error) {
	return s.runTurn(ctx, instruction, nil)
}

// RunTurnStream behaves like RunTurn but forwards every frame to sink as it
// arrives, so a transport can relay the stream to its own client. When the
// turn falls back to a non-streaming request, equivalent frames are
// synthesized from the response.
func (s *DocumentSession) RunTurnStream(ctx context.Context, instruction string, sink func(stream.Frame)) (*TurnResult, error) {
	return s.runTurn(ctx, instruction, sink)
}

func (s *DocumentSession) runTurn(ctx context.Context, instruction string, sink func(stream.Frame)) (*TurnResult, error) {
	s.mu.Lock()
	if s.inFlight {
		s.mu.Unlock()
		return nil, ErrBusy
	}
	s.inFlight = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.inFlight = false
		s.mu.Unlock()
	}()

	doc, _ := blocks.Serialize(s.tree)
	req := &agent.Request{
		Document:            doc,
		Instruction:         instruction,
		ConversationHistory: s.recentHistory(),
		Stream:              true,
	}
	if s.snippets != nil {
		snips, err := s.snippets.Search(s.docID, instruction, snippetLimit)
		if err != nil {
			log.Printf("snippet search failed: %v", err)
		} else {
			req.ContextSnippets = snips
		}
	}

	turn, err := s.streamWithFallback(ctx, req, sink)
	if err != nil {
		return nil, err
	}

	result := &TurnResult{
		Narration: turn.Narration,
		Reasoning: turn.Reasoning,
		Summary:   turn.Summary,
	}
	if turn.HasChanges {
		applied, err := s.engine.Apply(turn.Batch)
		if err != nil {
			return nil, fmt.Errorf("apply change batch: %w", err)
		}
		result.Apply = applied
	}
	result.Pending = len(s.resolver.Pending())

	s.recordTurn(ctx, instruction, turn.Narration)
	s.scheduleSave()
	return result, nil
}

// streamWithFallback runs the streaming turn; any transport or protocol
// failure triggers exactly one non-streaming round trip with the identical
// payload.
func (s *DocumentSession) streamWithFallback(ctx context.Context, req *agent.Request, sink func(stream.Frame)) (*stream.Turn, error) {
	frames, errs := s.completer.Stream(ctx, req)
	a := stream.NewAssembler()
	for f := range frames {
		a.ProcessFrame(f)
		if sink != nil {
			sink(f)
		}
	}
	if err := <-errs; err != nil {
		log.Printf("stream failed, falling back to non-streaming request: %v", err)
		return s.fallback(ctx, req, sink)
	}
	turn, err := a.Result()
	if err != nil {
		log.Printf("stream incomplete, falling back to non-streaming request: %v", err)
		return s.fallback(ctx, req, sink)
	}
	return turn, nil
}

func (s *DocumentSession) fallback(ctx context.Context, req *agent.Request, sink func(stream.Frame)) (*stream.Turn, error) {
	r := *req
	r.Stream = false
	resp, err := s.completer.Complete(ctx, &r)
	if err != nil {
		return nil, err
	}
	turn := &stream.Turn{
		Narration: resp.Summary,
		Reasoning: resp.Reasoning,
		Summary:   resp.Summary,
	}
	if len(resp.Changes) > 0 {
		turn.Batch = resp.Changes
		turn.HasChanges = true
	}
	if sink != nil {
		if turn.Reasoning != "" {
			sink(stream.Frame{Type: stream.FrameReasoning, Reasoning: turn.Reasoning})
		}
		if turn.Summary != "" {
			sink(stream.Frame{Type: stream.FrameSummary, Summary: turn.Summary})
		}
		if turn.HasChanges {
			raw, err := json.Marshal(resp.Changes)
			if err == nil {
				sink(stream.Frame{Type: stream.FrameChanges, Changes: raw})
			}
		}
		sink(stream.Frame{Type: stream.FrameComplete})
	}
	return turn, nil
}

func (s *DocumentSession) recentHistory() []agent.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.history
	if len(h) > historyLimit {
		h = h[len(h)-historyLimit:]
	}
	return append([]agent.Message(nil), h...)
}

func (s *DocumentSession) recordTurn(ctx context.Context, instruction, narration string) {
	s.mu.Lock()
	s.history = append(s.history,
		agent.Message{Role: agent.RoleUser, Content: instruction},
		agent.Message{Role: agent.RoleAssistant, Content: narration},
	)
	s.mu.Unlock()

	if err := s.store.AppendTurn(ctx, s.docID, agent.RoleUser, instruction); err != nil {
		log.Printf("record user turn: %v", err)
	}
	if err := s.store.AppendTurn(ctx, s.docID, agent.RoleAssistant, narration); err != nil {
		log.Printf("record assistant turn: %v", err)
	}
}

// Accept resolves one annotation in favor of the proposal.
func (s *DocumentSession) Accept(key doctree.NodeKey) error {
	if err := s.resolver.Accept(key); err != nil {
		return err
	}
	s.scheduleSave()
	return nil
}

// Reject discards one annotation, restoring the original content.
func (s *DocumentSession) Reject(key doctree.NodeKey) error {
	if err := s.resolver.Reject(key); err != nil {
		return err
	}
	s.scheduleSave()
	return nil
}

// AcceptAll resolves every pending annotation in favor of the batch.
func (s *DocumentSession) AcceptAll() error {
	if err := s.resolver.AcceptAll(); err != nil {
		return err
	}
	s.scheduleSave()
	return nil
}

// RejectAll discards every pending annotation.
func (s *DocumentSession) RejectAll() error {
	if err := s.resolver.RejectAll(); err != nil {
		return err
	}
	s.scheduleSave()
	return nil
}

// scheduleSave debounces persistence after a burst of edits.
func (s *DocumentSession) scheduleSave() {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	if s.saveTimer != nil {
		s.saveTimer.Stop()
	}
	s.saveTimer = time.AfterFunc(saveDelay, func() {
		if err := s.Save(context.Background()); err != nil {
			log.Printf("debounced save: %v", err)
		}
	})
}

// Save persists the document snapshot. A document with pending annotations
// is not saved: only plain, fully resolved content is persisted.
func (s *DocumentSession) Save(ctx context.Context) error {
	if len(s.resolver.Pending()) > 0 {
		return nil
	}
	bs, _ := blocks.Serialize(s.tree)
	doc := &Document{
		ID:        s.docID,
		Title:     deriveTitle(bs),
		Blocks:    bs,
		CreatedAt: s.createdAt,
	}
	return s.store.SaveDocument(ctx, doc)
}

// Close flushes any pending save.
func (s *DocumentSession) Close() error {
	s.saveMu.Lock()
	if s.saveTimer != nil {
		s.saveTimer.Stop()
		s.saveTimer = nil
	}
	s.saveMu.Unlock()
	return s.Save(context.Background())
}

func deriveTitle(bs []blocks.Block) string {
	for _, b := range bs {
		text := strings.TrimSpace(blocks.PlainText(b.Segments))
		if text == "" {
			continue
		}
		return truncateRunes(text, maxTitleLength)
	}
	return untitledTitle
}

// truncateRunes cuts s to at most n runes, on a rune boundary.
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
