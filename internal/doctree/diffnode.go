package doctree

// DiffType distinguishes the two kinds of pending edits.
type DiffType string

const (
	DiffAddition DiffType = "addition"
	DiffDeletion DiffType = "deletion"
)

// Annotation is the pure view-model of one pending edit. The UI toolkit
// renders it and forwards accept/reject intents; nothing here depends on a
// rendering layer.
type Annotation struct {
	DiffType        DiffType `json:"diffType"`
	Text            string   `json:"text"`
	OriginalText    string   `json:"originalText,omitempty"`
	HasOriginal     bool     `json:"hasOriginal"`
	IsBold          bool     `json:"isBold,omitempty"`
	IsItalic        bool     `json:"isItalic,omitempty"`
	AlignmentChange string   `json:"alignmentChange,omitempty"`
	EquationData    string   `json:"equationData,omitempty"`
}

// DiffNode holds one pending, reviewable edit inside the tree. It is never
// persisted: a fully resolved document contains zero DiffNodes.
//
// Original is the detached node the edit replaced (nil for pure insertions);
// rejecting restores it verbatim. NewContent holds the detached inline nodes
// that materialize on accept.
type DiffNode struct {
	baseNode
	Annotation Annotation
	Original   Node
	NewContent []Node
}

// NewDiff creates a detached diff node.
func NewDiff(ann Annotation, original Node, newContent []Node) *DiffNode {
	return &DiffNode{Annotation: ann, Original: original, NewContent: newContent}
}

func (n *DiffNode) Type() NodeType { return NodeDiff }

// TextContent returns what the pending edit displays: the proposed text for
// additions, the struck-through original for deletions. Nothing is silently
// dropped if a tree with pending edits gets serialized.
func (n *DiffNode) TextContent() string {
	if n.Annotation.DiffType == DiffDeletion {
		return n.Annotation.OriginalText
	}
	return n.Annotation.Text
}
