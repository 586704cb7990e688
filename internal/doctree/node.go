// Package doctree implements the live document tree that the editing
// surface exposes to the diff engine: typed block and inline nodes, key-based
// lookup, and a single-writer update transaction.
package doctree

import "strings"

// NodeKey identifies a node for as long as it stays attached to a tree.
type NodeKey string

// NodeType discriminates the concrete node kinds.
type NodeType string

const (
	NodeRoot      NodeType = "root"
	NodeParagraph NodeType = "paragraph"
	NodeHeading   NodeType = "heading"
	NodeList      NodeType = "list"
	NodeListItem  NodeType = "list-item"
	NodeText      NodeType = "text"
	NodeEquation  NodeType = "equation"
	NodeDiff      NodeType = "diff"
)

// TextFormat is a bitmask of inline text styles.
type TextFormat int

const (
	FormatBold          TextFormat = 1 << iota // 1
	FormatItalic                               // 2
	FormatUnderline                            // 4
	FormatStrikethrough                        // 8
	FormatSubscript                            // 16
	FormatSuperscript                          // 32
	FormatCode                                 // 64
)

// Node is implemented by every tree node.
type Node interface {
	Key() NodeKey
	Type() NodeType
	Parent() Element
	// TextContent returns the plain text of the node and its descendants.
	TextContent() string

	setKey(NodeKey)
	setParent(Element)
}

// Element is a node that can contain children.
type Element interface {
	Node
	Children() []Node

	insertChild(i int, n Node)
	removeChild(n Node) bool
	childIndex(n Node) int
}

type baseNode struct {
	key    NodeKey
	parent Element
}

func (b *baseNode) Key() NodeKey        { return b.key }
func (b *baseNode) Parent() Element     { return b.parent }
func (b *baseNode) setKey(k NodeKey)    { b.key = k }
func (b *baseNode) setParent(p Element) { b.parent = p }

type elementNode struct {
	baseNode
	children []Node
}

func (e *elementNode) Children() []Node { return e.children }

func (e *elementNode) insertChild(i int, n Node) {
	if i < 0 || i > len(e.children) {
		i = len(e.children)
	}
	e.children = append(e.children, nil)
	copy(e.children[i+1:], e.children[i:])
	e.children[i] = n
}

func (e *elementNode) removeChild(n Node) bool {
	for i, c := range e.children {
		if c == n {
			e.children = append(e.children[:i], e.children[i+1:]...)
			return true
		}
	}
	return false
}

func (e *elementNode) childIndex(n Node) int {
	for i, c := range e.children {
		if c == n {
			return i
		}
	}
	return -1
}

func (e *elementNode) textContent() string {
	var sb strings.Builder
	for _, c := range e.children {
		sb.WriteString(c.TextContent())
	}
	return sb.String()
}

// RootNode is the document root. Its children are the top-level blocks.
type RootNode struct {
	elementNode
}

func (n *RootNode) Type() NodeType      { return NodeRoot }
func (n *RootNode) TextContent() string { return n.textContent() }

// ParagraphNode is a plain text block.
type ParagraphNode struct {
	elementNode
	Alignment string // "", "left", "center", "right", "justify"
}

// NewParagraph creates a detached paragraph node.
func NewParagraph() *ParagraphNode { return &ParagraphNode{} }

func (n *ParagraphNode) Type() NodeType      { return NodeParagraph }
func (n *ParagraphNode) TextContent() string { return n.textContent() }

// HeadingNode is a heading block with a tag of h1..h3.
type HeadingNode struct {
	elementNode
	Tag       string
	Alignment string
}

// NewHeading creates a detached heading node.
func NewHeading(tag string) *HeadingNode { return &HeadingNode{Tag: tag} }

func (n *HeadingNode) Type() NodeType      { return NodeHeading }
func (n *HeadingNode) TextContent() string { return n.textContent() }

// ListNode is a container whose children are ListItemNodes.
type ListNode struct {
	elementNode
	ListType string // "bullet" or "number"
}

// NewList creates a detached list container.
func NewList(listType string) *ListNode { return &ListNode{ListType: listType} }

func (n *ListNode) Type() NodeType      { return NodeList }
func (n *ListNode) TextContent() string { return n.textContent() }

// ListItemNode is one item inside a ListNode.
type ListItemNode struct {
	elementNode
	Indent int
}

// NewListItem creates a detached list item.
func NewListItem() *ListItemNode { return &ListItemNode{} }

func (n *ListItemNode) Type() NodeType      { return NodeListItem }
func (n *ListItemNode) TextContent() string { return n.textContent() }

// TextNode is a run of text with uniform formatting.
type TextNode struct {
	baseNode
	Text   string
	Format TextFormat
}

// NewText creates a detached text node.
func NewText(text string, format TextFormat) *TextNode {
	return &TextNode{Text: text, Format: format}
}

func (n *TextNode) Type() NodeType      { return NodeText }
func (n *TextNode) TextContent() string { return n.Text }

// EquationNode is an inline non-text node carrying a LaTeX payload.
type EquationNode struct {
	baseNode
	Equation string
	Inline   bool
}

// NewEquation creates a detached equation node.
func NewEquation(equation string, inline bool) *EquationNode {
	return &EquationNode{Equation: equation, Inline: inline}
}

func (n *EquationNode) Type() NodeType { return NodeEquation }

// TextContent renders the bracketed placeholder used for comparison and
// display; the raw payload stays in Equation.
func (n *EquationNode) TextContent() string { return "[equation: " + n.Equation + "]" }

// BlockAlignment returns the alignment of a block-level node, or "" when the
// node kind has none.
func BlockAlignment(n Node) string {
	switch b := n.(type) {
	case *ParagraphNode:
		return b.Alignment
	case *HeadingNode:
		return b.Alignment
	}
	return ""
}

// SetBlockAlignment sets the alignment on a block-level node when the kind
// supports it.
func SetBlockAlignment(n Node, alignment string) {
	switch b := n.(type) {
	case *ParagraphNode:
		b.Alignment = alignment
	case *HeadingNode:
		b.Alignment = alignment
	}
}

// Attach appends a child to a detached element while building a subtree.
// Keys are assigned when the subtree is inserted into a tree; attaching to a
// node that is already part of a tree must go through a Tx instead.
func Attach(parent Element, child Node) {
	if parent.Key() != "" {
		panic("doctree: Attach on an attached element")
	}
	parent.insertChild(len(parent.Children()), child)
	child.setParent(parent)
}
