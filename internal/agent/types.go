// Package agent defines the completion-provider abstraction for the document
// co-author: one request per editing turn, answered either as a single
// response or as a frame stream consumed by the stream assembler.
package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/vrite/vrite/internal/blocks"
	"github.com/vrite/vrite/internal/changes"
	"github.com/vrite/vrite/internal/stream"
)

// Role values for conversation history messages.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one prior conversation turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Image is an inline attachment included with an editing request.
type Image struct {
	MediaType string `json:"mediaType"`
	// Data is the base64-encoded image payload.
	Data string `json:"data"`
}

// Request is one editing turn sent to a provider.
type Request struct {
	Document            []blocks.Block `json:"document"`
	Instruction         string         `json:"instruction"`
	ConversationHistory []Message      `json:"conversation_history,omitempty"`
	ContextSnippets     []string       `json:"context_snippets,omitempty"`
	ContextImages       []Image        `json:"context_images,omitempty"`
	Stream              bool           `json:"stream"`
}

// Response kinds.
const (
	ResponseChanges   = "lexical_changes"
	ResponseNoChanges = "no_changes"
)

// Response is a complete non-streaming answer.
type Response struct {
	Type      string              `json:"type"`
	Changes   []changes.Operation `json:"changes,omitempty"`
	Reasoning string              `json:"reasoning,omitempty"`
	Summary   string              `json:"summary,omitempty"`
}

// Completer is a completion provider. Stream emits protocol frames ending
// with a complete frame; the error channel carries at most one transport
// error and closes when the stream is done.
type Completer interface {
	Complete(ctx context.Context, req *Request) (*Response, error)
	Stream(ctx context.Context, req *Request) (<-chan stream.Frame, <-chan error)
}

// ProviderError wraps a provider failure with classification the caller can
// act on without parsing message text.
type ProviderError struct {
	Err         error
	HTTPStatus  int
	IsRateLimit bool
	IsAuth      bool
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("provider error (status %d)", e.HTTPStatus)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// wrapProviderError classifies an SDK error by the status code embedded in
// its message. Provider SDKs expose errors as opaque strings.
func wrapProviderError(err error) error {
	if err == nil {
		return nil
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return err
	}
	status := extractHTTPStatus(err)
	return &ProviderError{
		Err:         err,
		HTTPStatus:  status,
		IsRateLimit: status == 429,
		IsAuth:      status == 401 || status == 403,
	}
}
