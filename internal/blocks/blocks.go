// Package blocks serializes the live document tree into the stable block
// model the agent reasons about, and resolves block ids back to live nodes.
package blocks

import (
	"strings"

	"github.com/vrite/vrite/internal/doctree"
)

// BlockType enumerates the addressable structural units.
type BlockType string

const (
	BlockParagraph BlockType = "paragraph"
	BlockHeading   BlockType = "heading"
	BlockListItem  BlockType = "list-item"
)

// SegmentType discriminates segment kinds. Empty means a text run.
type SegmentType string

const (
	SegmentText     SegmentType = ""
	SegmentEquation SegmentType = "equation"
)

// Segment is a run of text with uniform formatting, or an inline non-text
// placeholder carrying its own payload.
type Segment struct {
	Type     SegmentType        `json:"type,omitempty"`
	Text     string             `json:"text"`
	Format   doctree.TextFormat `json:"format,omitempty"`
	Equation string             `json:"equation,omitempty"`
}

// IsText reports whether the segment is a plain text run.
func (s Segment) IsText() bool { return s.Type == SegmentText }

// PlainText returns the comparison/display text of the segment. Non-text
// segments render as a bracketed placeholder.
func (s Segment) PlainText() string {
	if s.Type == SegmentEquation {
		return "[equation: " + s.Equation + "]"
	}
	return s.Text
}

// Block is one addressable structural unit of the document. Ids are
// sequential "block-N" in pre-order and stable only within one
// serialization snapshot.
type Block struct {
	ID        string    `json:"id"`
	Type      BlockType `json:"type"`
	Tag       string    `json:"tag,omitempty"`      // h1..h3 for headings
	ListType  string    `json:"listType,omitempty"` // bullet or number
	Indent    int       `json:"indent,omitempty"`
	Alignment string    `json:"alignment,omitempty"`
	Segments  []Segment `json:"segments"`
}

// PlainText concatenates the block's segment text.
func PlainText(segments []Segment) string {
	var sb strings.Builder
	for _, s := range segments {
		sb.WriteString(s.PlainText())
	}
	return sb.String()
}

// MergeSegments collapses adjacent text segments with identical formatting.
// The merge is idempotent: merging an already merged slice is a no-op.
func MergeSegments(segments []Segment) []Segment {
	var out []Segment
	for _, s := range segments {
		if s.IsText() && s.Text == "" {
			continue
		}
		if len(out) > 0 {
			last := &out[len(out)-1]
			if last.IsText() && s.IsText() && last.Format == s.Format {
				last.Text += s.Text
				continue
			}
		}
		out = append(out, s)
	}
	return out
}

// SegmentsEqual compares two merged segment slices for identical text and
// formatting.
func SegmentsEqual(a, b []Segment) bool {
	a, b = MergeSegments(a), MergeSegments(b)
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
