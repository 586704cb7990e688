package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	openai "github.com/meguminnnnnnnnn/go-openai"

	"github.com/vrite/vrite/internal/prompts"
	"github.com/vrite/vrite/internal/stream"
)

// OpenAICompleter implements Completer against the OpenAI chat completions
// API, including OpenAI-compatible servers selected via base URL.
type OpenAICompleter struct {
	client *openai.Client
	model  string
}

// NewOpenAI creates an OpenAI-backed completer. An empty baseURL uses the
// public API.
func NewOpenAI(apiKey, model, baseURL string) *OpenAICompleter {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &OpenAICompleter{
		client: openai.NewClientWithConfig(config),
		model:  model,
	}
}

func (c *OpenAICompleter) buildRequest(req *Request, streaming bool) (openai.ChatCompletionRequest, error) {
	msgs := []openai.ChatCompletionMessage{{
		Role:    openai.ChatMessageRoleSystem,
		Content: prompts.EditingSystem(),
	}}
	for _, m := range req.ConversationHistory {
		role := openai.ChatMessageRoleUser
		if m.Role == RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}

	turn, err := prompts.RenderDocumentTurn(req.Document, req.Instruction, req.ContextSnippets)
	if err != nil {
		return openai.ChatCompletionRequest{}, err
	}
	if len(req.ContextImages) == 0 {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: turn})
	} else {
		parts := []openai.ChatMessagePart{{Type: openai.ChatMessagePartTypeText, Text: turn}}
		for _, img := range req.ContextImages {
			parts = append(parts, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{
					URL: fmt.Sprintf("data:%s;base64,%s", img.MediaType, img.Data),
				},
			})
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, MultiContent: parts})
	}

	schema, err := ProposeChangesSchema()
	if err != nil {
		return openai.ChatCompletionRequest{}, err
	}

	temperature := float32(0.3)
	out := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    msgs,
		MaxTokens:   2000,
		Temperature: &temperature,
		Tools: []openai.Tool{{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        ProposeChangesTool,
				Description: proposeChangesDescription,
				Parameters:  schema,
			},
		}},
		ToolChoice: "auto",
	}
	if streaming {
		out.Stream = true
	}
	return out, nil
}

// Complete runs one non-streaming turn.
func (c *OpenAICompleter) Complete(ctx context.Context, req *Request) (*Response, error) {
	creq, err := c.buildRequest(req, false)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.CreateChatCompletion(ctx, creq)
	if err != nil {
		return nil, wrapProviderError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("empty completion response")
	}

	choice := resp.Choices[0]
	for _, tc := range choice.Message.ToolCalls {
		if tc.Function.Name != ProposeChangesTool {
			continue
		}
		proposal, err := parseProposal(json.RawMessage(tc.Function.Arguments))
		if err != nil {
			return nil, err
		}
		if proposal.Summary == "" {
			proposal.Summary = choice.Message.Content
		}
		return proposal, nil
	}
	return &Response{Type: ResponseNoChanges, Summary: choice.Message.Content}, nil
}

// Stream runs one streaming turn. Tool-call argument deltas are accumulated
// until the stream ends; only then are the changes emitted, as one frame.
func (c *OpenAICompleter) Stream(ctx context.Context, req *Request) (<-chan stream.Frame, <-chan error) {
	frameCh := make(chan stream.Frame, 10)
	errCh := make(chan error, 1)

	go func() {
		defer close(frameCh)
		defer close(errCh)

		creq, err := c.buildRequest(req, true)
		if err != nil {
			errCh <- err
			return
		}

		s, err := c.client.CreateChatCompletionStream(ctx, creq)
		if err != nil {
			errCh <- wrapProviderError(err)
			return
		}
		defer s.Close()

		emit := func(f stream.Frame) bool {
			select {
			case frameCh <- f:
				return true
			case <-ctx.Done():
				return false
			}
		}

		var argsJSON strings.Builder
		var sawProposal bool
		for {
			chunk, err := s.Recv()
			if err != nil {
				if !errors.Is(err, io.EOF) {
					errCh <- wrapProviderError(err)
					return
				}
				break
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			delta := chunk.Choices[0].Delta
			if delta.Content != "" {
				if !emit(stream.Frame{Type: stream.FrameToken, Token: delta.Content}) {
					return
				}
			}
			for _, tc := range delta.ToolCalls {
				if tc.Function.Name == ProposeChangesTool {
					sawProposal = true
				}
				if sawProposal && tc.Function.Arguments != "" {
					argsJSON.WriteString(tc.Function.Arguments)
				}
			}
		}

		if sawProposal {
			var args proposeArgs
			if err := json.Unmarshal([]byte(argsJSON.String()), &args); err != nil {
				// Truncated tool JSON usually means the token limit cut the
				// stream short.
				emit(stream.Frame{Type: stream.FrameError, Message: fmt.Sprintf("incomplete tool payload: %v", err)})
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
		emit(stream.Frame{Type: stream.FrameComplete})
	}()

	return frameCh, errCh
}
