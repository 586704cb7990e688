package stream

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/vrite/vrite/internal/changes"
)

const (
	editingMarker = "\n\nEditing document…"
	editedMarker  = "\n\nEdited document."
)

// ErrIncomplete reports a stream that ended before a complete frame.
var ErrIncomplete = errors.New("stream ended before completion")

// StreamError is a protocol-level error frame relayed by the agent. Callers
// treat it like a transport failure: one non-streaming fallback, no retries.
type StreamError struct {
	Message string
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("stream error: %s", e.Message)
}

// Turn is one fully assembled agent response.
type Turn struct {
	// Narration is the finalized turn text: the streamed tokens, or the
	// summary when nothing was streamed token-wise.
	Narration string
	Reasoning string
	Summary   string

	// Batch is the decoded change batch, nil when the turn proposed none.
	Batch      []changes.Operation
	HasChanges bool
}

// Assembler incrementally consumes a byte stream of `data: {...}` frames.
// It is single-consumer: a growing buffer is split on newlines with the
// trailing partial line retained for the next read. A changes payload is
// buffered, never surfaced, until the complete frame arrives.
type Assembler struct {
	buf       []byte
	tokens    strings.Builder
	reasoning strings.Builder
	summary   string
	pending   json.RawMessage
	complete  bool
	failure   error
}

// NewAssembler creates an empty assembler.
func NewAssembler() *Assembler {
	return &Assembler{}
}

// Feed appends raw stream bytes and processes every complete line.
func (a *Assembler) Feed(p []byte) {
	a.buf = append(a.buf, p...)
	for {
		i := bytes.IndexByte(a.buf, '\n')
		if i < 0 {
			return
		}
		line := a.buf[:i]
		a.buf = a.buf[i+1:]
		a.processLine(line)
	}
}

func (a *Assembler) processLine(line []byte) {
	f, ok, err := DecodeLine(line)
	if err != nil {
		// One bad line never kills the stream.
		log.Printf("dropping %v", err)
		return
	}
	if !ok {
		return
	}
	a.ProcessFrame(f)
}

// ProcessFrame applies one decoded frame. Providers that produce frames
// in-process call this directly, bypassing the line codec.
func (a *Assembler) ProcessFrame(f Frame) {
	switch f.Type {
	case FrameToken:
		a.tokens.WriteString(f.Token)
	case FrameChanges:
		a.pending = f.Changes
	case FrameReasoning:
		a.reasoning.WriteString(f.Reasoning)
	case FrameSummary:
		a.summary = f.Summary
	case FrameComplete:
		a.complete = true
	case FrameError:
		a.failure = &StreamError{Message: f.Message}
	default:
		log.Printf("dropping unknown stream frame type %q", f.Type)
	}
}

// Narration returns the live narration text as it should render right now,
// including the in-progress marker while a batch is buffered.
func (a *Assembler) Narration() string {
	text := a.tokens.String()
	if a.pending == nil {
		return text
	}
	if a.complete {
		return text + editedMarker
	}
	return text + editingMarker
}

// Result finalizes the stream into a turn. It fails when the stream carried
// an error frame or ended without a complete frame; the caller then performs
// the single non-streaming fallback.
func (a *Assembler) Result() (*Turn, error) {
	if a.failure != nil {
		return nil, a.failure
	}
	if !a.complete {
		return nil, ErrIncomplete
	}

	t := &Turn{
		Reasoning: a.reasoning.String(),
		Summary:   a.summary,
	}

	// The finalized narration matches the non-streaming path: the streamed
	// tokens, or the summary when nothing was streamed token-wise. Progress
	// markers exist only in the live Narration view.
	narration := a.tokens.String()
	if narration == "" {
		narration = a.summary
	}
	t.Narration = narration

	if a.pending != nil {
		batch, err := changes.Decode(a.pending)
		if err != nil {
			return nil, fmt.Errorf("buffered change batch: %w", err)
		}
		t.Batch = batch
		t.HasChanges = true
	}
	return t, nil
}

// Consume reads r to EOF through the assembler and finalizes the turn. A
// read failure is a transport error; the caller falls back to the
// non-streaming path.
func Consume(r io.Reader) (*Turn, error) {
	a := NewAssembler()
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			a.Feed(buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read stream: %w", err)
		}
	}
	// A frame without a trailing newline still counts at EOF.
	if len(a.buf) > 0 {
		a.processLine(a.buf)
		a.buf = nil
	}
	return a.Result()
}
