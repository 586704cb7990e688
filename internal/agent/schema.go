package agent

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/vrite/vrite/internal/changes"
)

// ProposeChangesTool is the name of the single tool providers are given:
// the model proposes its whole change batch in one call.
const ProposeChangesTool = "propose_changes"

const proposeChangesDescription = "Propose a batch of structural edits to the document. " +
	"Call at most once per turn, with every operation the edit needs."

// proposeArgs is the tool-call payload.
type proposeArgs struct {
	Changes   json.RawMessage `json:"changes"`
	Summary   string          `json:"summary"`
	Reasoning string          `json:"reasoning,omitempty"`
}

// ProposeChangesSchema builds the tool's input schema. The changes property
// is the batch schema itself, so the model and the validator agree on the
// wire shape; its definitions are hoisted to the root to keep refs valid.
func ProposeChangesSchema() (map[string]any, error) {
	var batch map[string]any
	if err := json.Unmarshal([]byte(changes.BatchSchema), &batch); err != nil {
		return nil, fmt.Errorf("parse batch schema: %w", err)
	}
	defs := batch["definitions"]
	delete(batch, "definitions")

	schema := map[string]any{
		"type":     "object",
		"required": []any{"changes", "summary"},
		"properties": map[string]any{
			"changes": batch,
			"summary": map[string]any{
				"type":        "string",
				"description": "One or two sentences describing the edit, addressed to the document's author.",
			},
			"reasoning": map[string]any{
				"type":        "string",
				"description": "Brief internal reasoning behind the edit.",
			},
		},
	}
	if defs != nil {
		schema["definitions"] = defs
	}
	return schema, nil
}

// parseProposal decodes and validates a propose_changes tool payload into a
// complete response.
func parseProposal(raw json.RawMessage) (*Response, error) {
	var args proposeArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("decode %s arguments: %w", ProposeChangesTool, err)
	}

	resp := &Response{
		Type:      ResponseNoChanges,
		Summary:   args.Summary,
		Reasoning: args.Reasoning,
	}
	if len(args.Changes) == 0 || string(args.Changes) == "null" {
		return resp, nil
	}
	if err := changes.ValidateBatch(args.Changes); err != nil {
		return nil, err
	}
	batch, err := changes.Decode(args.Changes)
	if err != nil {
		return nil, err
	}
	if len(batch) > 0 {
		resp.Type = ResponseChanges
		resp.Changes = batch
	}
	return resp, nil
}

func extractHTTPStatus(err error) int {
	if err == nil {
		return 0
	}
	msg := err.Error()
	for _, c := range []struct {
		needle string
		status int
	}{
		{"429", http.StatusTooManyRequests},
		{"500", http.StatusInternalServerError},
		{"502", http.StatusBadGateway},
		{"503", http.StatusServiceUnavailable},
		{"504", http.StatusGatewayTimeout},
		{"401", http.StatusUnauthorized},
		{"403", http.StatusForbidden},
		{"400", http.StatusBadRequest},
	} {
		if strings.Contains(msg, c.needle) {
			return c.status
		}
	}
	return 0
}
