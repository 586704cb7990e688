// Package changes defines the typed contract for agent-proposed edits: the
// four operation kinds, their JSON decoding, and structural validation.
package changes

import (
	"encoding/json"
	"fmt"

	"github.com/vrite/vrite/internal/blocks"
)

// OpType enumerates all supported change operations.
type OpType string

const (
	OpReplaceBlock   OpType = "replace_block"
	OpInsertBlock    OpType = "insert_block"
	OpDeleteBlock    OpType = "delete_block"
	OpModifySegments OpType = "modify_segments"
)

// Operation is one typed edit instruction produced by the agent. A batch is
// consumed exactly once per apply pass.
type Operation struct {
	Type OpType `json:"type"`

	// BlockID targets an existing block (replace/delete/modify).
	BlockID string `json:"blockId,omitempty"`

	// AfterBlockID anchors an insert_block. nil means "before the current
	// first block".
	AfterBlockID *string `json:"afterBlockId"`

	NewBlock    *blocks.Block    `json:"newBlock,omitempty"`
	NewSegments []blocks.Segment `json:"newSegments,omitempty"`
}

// Validate checks the operation's shape. Validation is structural only:
// whether referenced block ids exist is decided at apply time, where a miss
// degrades to a skip rather than an error.
func (op Operation) Validate() error {
	switch op.Type {
	case OpReplaceBlock:
		if op.BlockID == "" {
			return fmt.Errorf("replace_block requires blockId")
		}
		if op.NewBlock == nil {
			return fmt.Errorf("replace_block requires newBlock")
		}
	case OpInsertBlock:
		if op.NewBlock == nil {
			return fmt.Errorf("insert_block requires newBlock")
		}
	case OpDeleteBlock:
		if op.BlockID == "" {
			return fmt.Errorf("delete_block requires blockId")
		}
	case OpModifySegments:
		if op.BlockID == "" {
			return fmt.Errorf("modify_segments requires blockId")
		}
		if op.NewSegments == nil {
			return fmt.Errorf("modify_segments requires newSegments")
		}
	default:
		return fmt.Errorf("unknown operation type: %q", op.Type)
	}
	return nil
}

// Decode converts raw JSON into a validated operation batch.
func Decode(data []byte) ([]Operation, error) {
	var ops []Operation
	if err := json.Unmarshal(data, &ops); err != nil {
		return nil, fmt.Errorf("decode change batch: %w", err)
	}
	for i, op := range ops {
		if err := op.Validate(); err != nil {
			return nil, fmt.Errorf("operation %d: %w", i, err)
		}
	}
	return ops, nil
}
