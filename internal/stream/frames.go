// Package stream implements the line-delimited event protocol between the
// completion agent and the editing surface, and the assembler that turns a
// frame sequence into one complete agent turn.
package stream

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// FrameType enumerates the streamed event kinds.
type FrameType string

const (
	FrameToken     FrameType = "token"
	FrameChanges   FrameType = "changes"
	FrameReasoning FrameType = "reasoning"
	FrameSummary   FrameType = "summary"
	FrameComplete  FrameType = "complete"
	FrameError     FrameType = "error"
)

// Frame is one streamed event. A changes payload always carries the whole
// batch; batches are never split across frames.
type Frame struct {
	Type      FrameType       `json:"type"`
	Token     string          `json:"token,omitempty"`
	Changes   json.RawMessage `json:"changes,omitempty"`
	Reasoning string          `json:"reasoning,omitempty"`
	Summary   string          `json:"summary,omitempty"`
	Message   string          `json:"message,omitempty"`
}

// DecodeLine parses one stream line. ok is false for blank lines and lines
// without the data prefix; a data line with malformed JSON is an error.
func DecodeLine(line []byte) (f Frame, ok bool, err error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return Frame{}, false, nil
	}
	payload, found := bytes.CutPrefix(line, []byte("data: "))
	if !found {
		return Frame{}, false, nil
	}
	if err := json.Unmarshal(payload, &f); err != nil {
		return Frame{}, false, fmt.Errorf("malformed stream line: %w", err)
	}
	return f, true, nil
}

// Encoder writes frames as `data: {...}` lines, one frame per line with a
// blank separator line.
type Encoder struct {
	w io.Writer
}

// NewEncoder creates an encoder over w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode writes a single frame.
func (e *Encoder) Encode(f Frame) error {
	payload, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	if _, err := fmt.Fprintf(e.w, "data: %s\n\n", payload); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	if f, ok := e.w.(interface{ Flush() }); ok {
		f.Flush()
	}
	return nil
}
