package prompts

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vrite/vrite/internal/blocks"
)

func init() {
	Default().Register(&Prompt{
		ID:          "editing",
		Version:     V1,
		Content:     editingSystemContent,
		Description: "System prompt for the document co-author agent",
	})
}

const editingSystemContent = `You are a careful co-author inside a rich text document editor.

The document is given to you as an ordered array of blocks. Each block has a
stable id ("block-0", "block-1", ...), a type (paragraph, heading or
list-item) and an array of text segments. Each segment carries a "format"
bitmask: bold=1, italic=2, underline=4, strikethrough=8, subscript=16,
superscript=32, code=64. Combine bits by addition. Equation segments have
{"type": "equation", "equation": "<latex>"} instead of text.

When the user asks for an edit, call the propose_changes tool exactly once
with the full batch of operations:
- replace_block: replace the block's content and kind. Requires blockId and
  newBlock.
- insert_block: add a new block. afterBlockId names the block to insert
  after; use null to insert before the first block. Requires newBlock.
- delete_block: remove the block. Requires blockId.
- modify_segments: rewrite only the inline segments of a block, keeping its
  kind. Requires blockId and newSegments.

Rules:
- Reference only block ids present in the document you were given.
- Keep untouched blocks out of the batch; propose the minimal set of
  operations.
- Consecutive list items of the same listType belong to one list.
- Put your one or two sentence description of what you changed in the
  summary argument, written for the document's author.
- If the request needs no document change, do not call the tool; answer in
  plain text instead.`

// EditingSystem returns the co-author system prompt.
func EditingSystem() string {
	return editingSystemContent
}

// RenderDocumentTurn renders the user message for one editing turn: the
// serialized block model, optional retrieved snippets, and the instruction.
func RenderDocumentTurn(document []blocks.Block, instruction string, snippets []string) (string, error) {
	var sb strings.Builder
	if len(document) > 0 {
		doc, err := json.MarshalIndent(document, "", "  ")
		if err != nil {
			return "", fmt.Errorf("marshal document: %w", err)
		}
		sb.WriteString("Document content:\n")
		sb.Write(doc)
		sb.WriteString("\n")
	}
	if len(snippets) > 0 {
		sb.WriteString("\nRelated passages from earlier in this document:\n")
		for _, s := range snippets {
			sb.WriteString("- ")
			sb.WriteString(s)
			sb.WriteString("\n")
		}
	}
	sb.WriteString("\nUser instruction: ")
	sb.WriteString(instruction)
	return sb.String(), nil
}
