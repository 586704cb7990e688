package agent

import (
	"context"
	"encoding/json"
	"fmt"

	anthropic "github.com/liushuangls/go-anthropic/v2"

	"github.com/vrite/vrite/internal/prompts"
	"github.com/vrite/vrite/internal/stream"
)

// AnthropicCompleter implements Completer against the Anthropic Messages API.
type AnthropicCompleter struct {
	client *anthropic.Client
	model  string
}

// NewAnthropic creates an Anthropic-backed completer.
func NewAnthropic(apiKey, model string) *AnthropicCompleter {
	return &AnthropicCompleter{
		client: anthropic.NewClient(apiKey),
		model:  model,
	}
}

func (c *AnthropicCompleter) buildRequest(req *Request) (anthropic.MessagesRequest, error) {
	var msgs []anthropic.Message
	for _, m := range req.ConversationHistory {
		role := anthropic.RoleUser
		if m.Role == RoleAssistant {
			role = anthropic.RoleAssistant
		}
		msgs = append(msgs, anthropic.Message{
			Role:    role,
			Content: []anthropic.MessageContent{anthropic.NewTextMessageContent(m.Content)},
		})
	}

	turn, err := prompts.RenderDocumentTurn(req.Document, req.Instruction, req.ContextSnippets)
	if err != nil {
		return anthropic.MessagesRequest{}, err
	}
	content := []anthropic.MessageContent{anthropic.NewTextMessageContent(turn)}
	for _, img := range req.ContextImages {
		content = append(content, anthropic.NewImageMessageContent(anthropic.NewMessageContentSource(
			anthropic.MessagesContentSourceTypeBase64,
			img.MediaType,
			img.Data,
		)))
	}
	msgs = append(msgs, anthropic.Message{Role: anthropic.RoleUser, Content: content})

	schema, err := ProposeChangesSchema()
	if err != nil {
		return anthropic.MessagesRequest{}, err
	}

	temperature := float32(0.3)
	out := anthropic.MessagesRequest{
		Model:       anthropic.Model(c.model),
		Messages:    msgs,
		MaxTokens:   2000,
		Temperature: &temperature,
		MultiSystem: []anthropic.MessageSystemPart{{
			Type: "text",
			Text: prompts.EditingSystem(),
		}},
		Tools: []anthropic.ToolDefinition{{
			Name:        ProposeChangesTool,
			Description: proposeChangesDescription,
			InputSchema: schema,
		}},
	}
	return out, nil
}

// Complete runs one non-streaming turn.
func (c *AnthropicCompleter) Complete(ctx context.Context, req *Request) (*Response, error) {
	mreq, err := c.buildRequest(req)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.CreateMessages(ctx, mreq)
	if err != nil {
		return nil, wrapProviderError(err)
	}

	var text string
	for _, block := range resp.Content {
		switch block.Type {
		case anthropic.MessagesContentTypeText:
			if block.Text != nil {
				text += *block.Text
			}
		case anthropic.MessagesContentTypeToolUse:
			if block.MessageContentToolUse == nil || block.Name != ProposeChangesTool {
				continue
			}
			proposal, err := parseProposal(block.MessageContentToolUse.Input)
			if err != nil {
				return nil, err
			}
			if proposal.Summary == "" {
				proposal.Summary = text
			}
			return proposal, nil
		}
	}
	return &Response{Type: ResponseNoChanges, Summary: text}, nil
}

// Stream runs one streaming turn, translating SDK callbacks into protocol
// frames on a channel the assembler consumes.
func (c *AnthropicCompleter) Stream(ctx context.Context, req *Request) (<-chan stream.Frame, <-chan error) {
	frameCh := make(chan stream.Frame, 10)
	errCh := make(chan error, 1)

	go func() {
		defer close(frameCh)
		defer close(errCh)

		mreq, err := c.buildRequest(req)
		if err != nil {
			errCh <- err
			return
		}

		emit := func(f stream.Frame) bool {
			select {
			case frameCh <- f:
				return true
			case <-ctx.Done():
				return false
			}
		}

		sreq := anthropic.MessagesStreamRequest{MessagesRequest: mreq}
		sreq.OnContentBlockDelta = func(delta anthropic.MessagesEventContentBlockDeltaData) {
			if delta.Delta.Type == "text_delta" && delta.Delta.Text != nil {
				emit(stream.Frame{Type: stream.FrameToken, Token: *delta.Delta.Text})
			}
		}
		sreq.OnContentBlockStop = func(_ anthropic.MessagesEventContentBlockStopData, content anthropic.MessageContent) {
			if content.Type != anthropic.MessagesContentTypeToolUse || content.MessageContentToolUse == nil {
				return
			}
			tc := content.MessageContentToolUse
			if tc.Name != ProposeChangesTool {
				return
			}
			var args proposeArgs
			if err := json.Unmarshal(tc.Input, &args); err != nil {
				emit(stream.Frame{Type: stream.FrameError, Message: fmt.Sprintf("bad tool payload: %v", err)})
				return
			}
			if len(args.Changes) > 0 && string(args.Changes) != "null" {
				emit(stream.Frame{Type: stream.FrameChanges, Changes: args.Changes})
			}
			if args.Reasoning != "" {
				emit(stream.Frame{Type: stream.FrameReasoning, Reasoning: args.Reasoning})
			}
			if args.Summary != "" {
				emit(stream.Frame{Type: stream.FrameSummary, Summary: args.Summary})
			}
		}

		if _, err := c.client.CreateMessagesStream(ctx, sreq); err != nil {
			errCh <- wrapProviderError(err)
			return
		}
		emit(stream.Frame{Type: stream.FrameComplete})
	}()

	return frameCh, errCh
}
