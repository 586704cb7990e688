package blocks

import (
	"fmt"
	"log"

	"github.com/vrite/vrite/internal/doctree"
)

// BlockKeyMap is the ephemeral blockId → live-node lookup built alongside a
// serialization snapshot. It is invalidated by any tree mutation and must be
// rebuilt before each apply pass; a stale lookup is a recoverable miss,
// never a crash.
type BlockKeyMap struct {
	keys    map[string]doctree.NodeKey
	version uint64
}

// Resolve returns the live node for a block id. It misses when the id was
// never issued or the node has since been detached.
func (m *BlockKeyMap) Resolve(tx *doctree.Tx, blockID string) (doctree.Node, bool) {
	if m == nil {
		return nil, false
	}
	key, ok := m.keys[blockID]
	if !ok {
		return nil, false
	}
	n, ok := tx.NodeByKey(key)
	if !ok {
		log.Printf("stale block reference %s (node %s detached)", blockID, key)
		return nil, false
	}
	return n, true
}

// Version is the tree version the map was built against.
func (m *BlockKeyMap) Version() uint64 { return m.version }

// Serialize walks the tree and returns the ordered block model plus its
// companion key map. Re-serializing an unmutated tree yields an identical
// result.
func Serialize(t *doctree.Tree) ([]Block, *BlockKeyMap) {
	var out []Block
	var km *BlockKeyMap
	t.Read(func(tx *doctree.Tx) {
		out, km = SerializeTx(tx)
	})
	km.version = t.Version()
	return out, km
}

// SerializeTx serializes within an open transaction. The application engine
// uses it to build a fresh key map immediately before applying a batch.
func SerializeTx(tx *doctree.Tx) ([]Block, *BlockKeyMap) {
	km := &BlockKeyMap{keys: make(map[string]doctree.NodeKey)}
	var out []Block

	emit := func(n doctree.Node, b Block) {
		b.ID = fmt.Sprintf("block-%d", len(out))
		km.keys[b.ID] = n.Key()
		out = append(out, b)
	}

	for _, child := range tx.Root().Children() {
		switch n := child.(type) {
		case *doctree.ParagraphNode:
			emit(n, Block{Type: BlockParagraph, Alignment: n.Alignment, Segments: elementSegments(n)})
		case *doctree.HeadingNode:
			emit(n, Block{Type: BlockHeading, Tag: n.Tag, Alignment: n.Alignment, Segments: elementSegments(n)})
		case *doctree.ListNode:
			// List containers are unwrapped into their items, each tagged
			// with the container's list type.
			for _, item := range n.Children() {
				li, ok := item.(*doctree.ListItemNode)
				if !ok {
					emit(item, Block{Type: BlockParagraph, Segments: fallbackSegments(item)})
					continue
				}
				emit(li, Block{Type: BlockListItem, ListType: n.ListType, Indent: li.Indent, Segments: elementSegments(li)})
			}
		default:
			// Unrecognized block content falls back to raw text extraction
			// so nothing is silently dropped.
			emit(child, Block{Type: BlockParagraph, Segments: fallbackSegments(child)})
		}
	}

	// An empty document still produces one block so the agent has a valid
	// insertion anchor.
	if len(out) == 0 {
		out = append(out, Block{ID: "block-0", Type: BlockParagraph, Segments: []Segment{}})
	}
	return out, km
}

// SegmentsOf extracts the merged inline segments of a block-level element.
func SegmentsOf(el doctree.Element) []Segment {
	return elementSegments(el)
}

func elementSegments(el doctree.Element) []Segment {
	var segs []Segment
	for _, c := range el.Children() {
		switch n := c.(type) {
		case *doctree.TextNode:
			segs = append(segs, Segment{Text: n.Text, Format: n.Format})
		case *doctree.EquationNode:
			segs = append(segs, Segment{Type: SegmentEquation, Equation: n.Equation})
		default:
			if txt := c.TextContent(); txt != "" {
				segs = append(segs, Segment{Text: txt})
			}
		}
	}
	segs = MergeSegments(segs)
	if segs == nil {
		segs = []Segment{}
	}
	return segs
}

func fallbackSegments(n doctree.Node) []Segment {
	if txt := n.TextContent(); txt != "" {
		return []Segment{{Text: txt}}
	}
	return []Segment{}
}

// Materialize converts segments into detached inline nodes.
func Materialize(segments []Segment) []doctree.Node {
	var nodes []doctree.Node
	for _, s := range MergeSegments(segments) {
		switch s.Type {
		case SegmentEquation:
			nodes = append(nodes, doctree.NewEquation(s.Equation, true))
		default:
			nodes = append(nodes, doctree.NewText(s.Text, s.Format))
		}
	}
	return nodes
}

// BuildTree reconstructs a live tree from a persisted block sequence, the
// serializer's inverse. Consecutive list items of the same list type are
// grouped under one list container.
func BuildTree(bs []Block) (*doctree.Tree, error) {
	t := doctree.NewTree()
	err := t.Update(func(tx *doctree.Tx) error {
		for _, c := range tx.Root().Children() {
			if err := tx.Remove(c); err != nil {
				return err
			}
		}
		var curList *doctree.ListNode
		var curType string
		for _, b := range bs {
			if b.Type == BlockListItem {
				lt := b.ListType
				if lt == "" {
					lt = "bullet"
				}
				if curList == nil || curType != lt {
					curList = doctree.NewList(lt)
					curType = lt
					tx.Append(tx.Root(), curList)
				}
				li := doctree.NewListItem()
				li.Indent = b.Indent
				for _, n := range Materialize(b.Segments) {
					doctree.Attach(li, n)
				}
				tx.Append(curList, li)
				continue
			}
			curList, curType = nil, ""
			blk := BuildBlock(b)
			el := blk.(doctree.Element)
			for _, n := range Materialize(b.Segments) {
				doctree.Attach(el, n)
			}
			tx.Append(tx.Root(), blk)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// BuildBlock constructs a detached block-level node from a block spec,
// without content. The caller attaches children.
func BuildBlock(b Block) doctree.Node {
	switch b.Type {
	case BlockHeading:
		h := doctree.NewHeading(b.Tag)
		h.Alignment = b.Alignment
		return h
	case BlockListItem:
		li := doctree.NewListItem()
		li.Indent = b.Indent
		return li
	default:
		p := doctree.NewParagraph()
		p.Alignment = b.Alignment
		return p
	}
}
