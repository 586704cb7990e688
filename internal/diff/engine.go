// Package diff turns a change batch into reversible in-place annotations and
// resolves them back into plain content.
package diff

import (
	"fmt"
	"log"

	"github.com/vrite/vrite/internal/blocks"
	"github.com/vrite/vrite/internal/changes"
	"github.com/vrite/vrite/internal/doctree"
)

// SkippedOp records one operation that could not be applied.
type SkippedOp struct {
	Index   int            `json:"index"`
	Type    changes.OpType `json:"type"`
	BlockID string         `json:"blockId,omitempty"`
	Reason  string         `json:"reason"`
}

// BatchResult aggregates per-operation outcomes so callers can assert on
// partial-failure behavior. A batch degrades gracefully: skipped operations
// never abort the rest.
type BatchResult struct {
	Applied int         `json:"applied"`
	Skipped []SkippedOp `json:"skipped,omitempty"`
}

// Engine applies change batches to a live tree as pending diff annotations.
type Engine struct {
	tree *doctree.Tree
}

// NewEngine creates an application engine bound to a tree.
func NewEngine(t *doctree.Tree) *Engine {
	return &Engine{tree: t}
}

type indexedOp struct {
	index int
	op    changes.Operation
}

// opGroup is either a single operation or a run of consecutive insert_block
// operations targeting list items of the same list type, which merge into
// one list-container insertion.
type opGroup struct {
	ops      []indexedOp
	listType string
}

func groupOps(ops []changes.Operation) []opGroup {
	var groups []opGroup
	for i, op := range ops {
		if op.Type == changes.OpInsertBlock && op.NewBlock != nil && op.NewBlock.Type == blocks.BlockListItem {
			lt := op.NewBlock.ListType
			if lt == "" {
				lt = "bullet"
			}
			if len(groups) > 0 {
				last := &groups[len(groups)-1]
				if last.listType == lt {
					last.ops = append(last.ops, indexedOp{i, op})
					continue
				}
			}
			groups = append(groups, opGroup{ops: []indexedOp{{i, op}}, listType: lt})
			continue
		}
		groups = append(groups, opGroup{ops: []indexedOp{{i, op}}})
	}
	return groups
}

// Apply converts one batch into pending annotations inside a single tree
// transaction. The block key map is rebuilt from the tree immediately before
// the pass and never reused afterwards.
func (e *Engine) Apply(ops []changes.Operation) (*BatchResult, error) {
	res := &BatchResult{}
	groups := groupOps(ops)

	err := e.tree.Update(func(tx *doctree.Tx) error {
		_, km := blocks.SerializeTx(tx)
		for _, g := range groups {
			e.applyGroup(tx, km, g, res)
		}
		return nil
	})
	if err != nil {
		return res, err
	}
	return res, nil
}

func (e *Engine) applyGroup(tx *doctree.Tx, km *blocks.BlockKeyMap, g opGroup, res *BatchResult) {
	if g.listType != "" {
		e.applyListInserts(tx, km, g, res)
		return
	}
	iop := g.ops[0]
	if reason := e.applyOne(tx, km, iop.op); reason != "" {
		log.Printf("skipping %s (op %d, block %q): %s", iop.op.Type, iop.index, iop.op.BlockID, reason)
		res.Skipped = append(res.Skipped, SkippedOp{Index: iop.index, Type: iop.op.Type, BlockID: iop.op.BlockID, Reason: reason})
		return
	}
	res.Applied++
}

// applyOne applies a single non-grouped operation. It returns a non-empty
// skip reason on failure; an unexpected panic while applying is caught here
// so one bad operation never aborts the remaining batch.
func (e *Engine) applyOne(tx *doctree.Tx, km *blocks.BlockKeyMap, op changes.Operation) (reason string) {
	defer func() {
		if r := recover(); r != nil {
			reason = fmt.Sprintf("apply error: %v", r)
		}
	}()

	if err := op.Validate(); err != nil {
		return err.Error()
	}

	switch op.Type {
	case changes.OpReplaceBlock:
		return e.applyReplace(tx, km, op)
	case changes.OpInsertBlock:
		e.applyInsert(tx, km, op)
		return ""
	case changes.OpDeleteBlock:
		return e.applyDelete(tx, km, op)
	case changes.OpModifySegments:
		return e.applyModify(tx, km, op)
	}
	return fmt.Sprintf("unknown operation type %q", op.Type)
}

func (e *Engine) applyReplace(tx *doctree.Tx, km *blocks.BlockKeyMap, op changes.Operation) string {
	node, ok := km.Resolve(tx, op.BlockID)
	if !ok {
		return "unknown blockId"
	}

	newSegs := blocks.MergeSegments(op.NewBlock.Segments)
	newText := blocks.PlainText(newSegs)
	origText := node.TextContent()
	origAlign := doctree.BlockAlignment(node)

	ann := doctree.Annotation{
		DiffType:     doctree.DiffAddition,
		Text:         newText,
		OriginalText: origText,
		HasOriginal:  true,
	}
	ann.IsBold, ann.IsItalic, ann.EquationData = segmentStyle(newSegs)
	// Alignment-only changes still produce an annotation: alignment must be
	// reviewable like any other change.
	if op.NewBlock.Alignment != "" && op.NewBlock.Alignment != origAlign {
		ann.AlignmentChange = op.NewBlock.Alignment
	}

	d := doctree.NewDiff(ann, nil, blocks.Materialize(newSegs))
	wrapper, target := buildReplacement(*op.NewBlock, node, d)
	if err := tx.Replace(target, wrapper); err != nil {
		return err.Error()
	}
	d.Original = target
	return ""
}

// buildReplacement constructs the block that takes node's place, with d as
// its pending content. When a list item replaces a non-list block, the item
// is wrapped in a fresh single-item list container.
func buildReplacement(spec blocks.Block, node doctree.Node, d *doctree.DiffNode) (wrapper, target doctree.Node) {
	target = node
	if spec.Type == blocks.BlockListItem {
		if _, inList := node.(*doctree.ListItemNode); inList {
			li := doctree.NewListItem()
			li.Indent = spec.Indent
			appendDetached(li, d)
			return li, target
		}
		lt := spec.ListType
		if lt == "" {
			lt = "bullet"
		}
		list := doctree.NewList(lt)
		li := doctree.NewListItem()
		li.Indent = spec.Indent
		appendDetached(li, d)
		appendDetached(list, li)
		return list, target
	}
	blk := blocks.BuildBlock(spec)
	appendDetached(blk.(doctree.Element), d)
	return blk, target
}

func (e *Engine) applyDelete(tx *doctree.Tx, km *blocks.BlockKeyMap, op changes.Operation) string {
	node, ok := km.Resolve(tx, op.BlockID)
	if !ok {
		return "unknown blockId"
	}

	origText := node.TextContent()
	ann := doctree.Annotation{
		DiffType:     doctree.DiffDeletion,
		Text:         origText,
		OriginalText: origText,
		HasOriginal:  true,
	}
	d := doctree.NewDiff(ann, nil, nil)

	// The block's position is preserved by an empty shell of the same kind,
	// so a bulk reject restores it verbatim.
	wrapper := emptyShell(node)
	appendDetached(wrapper, d)
	if err := tx.Replace(node, wrapper); err != nil {
		return err.Error()
	}
	d.Original = node
	return ""
}

func (e *Engine) applyModify(tx *doctree.Tx, km *blocks.BlockKeyMap, op changes.Operation) string {
	node, ok := km.Resolve(tx, op.BlockID)
	if !ok {
		return "unknown blockId"
	}
	el, ok := node.(doctree.Element)
	if !ok {
		return "block has no editable segments"
	}

	newSegs := blocks.MergeSegments(op.NewSegments)
	oldSegs := blocks.SegmentsOf(el)
	if blocks.SegmentsEqual(oldSegs, newSegs) {
		return "segments unchanged"
	}

	// Text-identical but formatting-different segments still go through the
	// same review path as content changes.
	ann := doctree.Annotation{
		DiffType:     doctree.DiffAddition,
		Text:         blocks.PlainText(newSegs),
		OriginalText: blocks.PlainText(oldSegs),
		HasOriginal:  true,
	}
	ann.IsBold, ann.IsItalic, ann.EquationData = segmentStyle(newSegs)

	d := doctree.NewDiff(ann, nil, blocks.Materialize(newSegs))
	wrapper := emptyShell(node)
	appendDetached(wrapper, d)
	if err := tx.Replace(node, wrapper); err != nil {
		return err.Error()
	}
	d.Original = node
	return ""
}

func (e *Engine) applyInsert(tx *doctree.Tx, km *blocks.BlockKeyMap, op changes.Operation) {
	spec := *op.NewBlock
	segs := blocks.MergeSegments(spec.Segments)
	ann := doctree.Annotation{
		DiffType: doctree.DiffAddition,
		Text:     blocks.PlainText(segs),
	}
	ann.IsBold, ann.IsItalic, ann.EquationData = segmentStyle(segs)
	d := doctree.NewDiff(ann, nil, blocks.Materialize(segs))

	var wrapper doctree.Node
	if spec.Type == blocks.BlockListItem {
		lt := spec.ListType
		if lt == "" {
			lt = "bullet"
		}
		list := doctree.NewList(lt)
		li := doctree.NewListItem()
		li.Indent = spec.Indent
		appendDetached(li, d)
		appendDetached(list, li)
		wrapper = list
	} else {
		blk := blocks.BuildBlock(spec)
		appendDetached(blk.(doctree.Element), d)
		wrapper = blk
	}
	e.placeNew(tx, km, op.AfterBlockID, wrapper)
}

// applyListInserts merges a run of consecutive same-type list-item inserts
// into one list-container insertion, so N sequential inserts don't fragment
// into N one-item lists.
func (e *Engine) applyListInserts(tx *doctree.Tx, km *blocks.BlockKeyMap, g opGroup, res *BatchResult) {
	list := doctree.NewList(g.listType)
	for _, iop := range g.ops {
		spec := *iop.op.NewBlock
		segs := blocks.MergeSegments(spec.Segments)
		ann := doctree.Annotation{
			DiffType: doctree.DiffAddition,
			Text:     blocks.PlainText(segs),
		}
		ann.IsBold, ann.IsItalic, ann.EquationData = segmentStyle(segs)
		d := doctree.NewDiff(ann, nil, blocks.Materialize(segs))

		li := doctree.NewListItem()
		li.Indent = spec.Indent
		appendDetached(li, d)
		appendDetached(list, li)
		res.Applied++
	}
	e.placeNew(tx, km, g.ops[0].op.AfterBlockID, list)
}

// placeNew inserts a new top-level block. A nil anchor inserts before the
// current first block; an unresolvable anchor appends at the end with a
// logged warning — insertion never throws.
func (e *Engine) placeNew(tx *doctree.Tx, km *blocks.BlockKeyMap, after *string, n doctree.Node) {
	root := tx.Root()
	if after == nil {
		if first := firstChild(root); first != nil {
			_ = tx.InsertBefore(first, n)
		} else {
			tx.Append(root, n)
		}
		return
	}

	anchor, ok := km.Resolve(tx, *after)
	if !ok {
		log.Printf("insert anchor %q not found, appending at end", *after)
		tx.Append(root, n)
		return
	}
	// Anchors can resolve to list items; block placement happens at the top
	// level, after the anchor's top-level ancestor.
	top := topLevel(root, anchor)
	if top == nil {
		log.Printf("insert anchor %q is detached, appending at end", *after)
		tx.Append(root, n)
		return
	}
	_ = tx.InsertAfter(top, n)
}

func firstChild(el doctree.Element) doctree.Node {
	if children := el.Children(); len(children) > 0 {
		return children[0]
	}
	return nil
}

func topLevel(root *doctree.RootNode, n doctree.Node) doctree.Node {
	cur := n
	for {
		p := cur.Parent()
		if p == nil {
			return nil
		}
		if p == doctree.Element(root) {
			return cur
		}
		cur = p
	}
}

func appendDetached(parent doctree.Element, child doctree.Node) {
	doctree.Attach(parent, child)
}

// segmentStyle derives the annotation's display style: bold/italic when
// every text segment carries the bit, plus the first equation payload.
func segmentStyle(segs []blocks.Segment) (bold, italic bool, equation string) {
	textSeen := false
	bold, italic = true, true
	for _, s := range segs {
		if s.Type == blocks.SegmentEquation {
			if equation == "" {
				equation = s.Equation
			}
			continue
		}
		textSeen = true
		if s.Format&doctree.FormatBold == 0 {
			bold = false
		}
		if s.Format&doctree.FormatItalic == 0 {
			italic = false
		}
	}
	if !textSeen {
		bold, italic = false, false
	}
	return bold, italic, equation
}

func emptyShell(node doctree.Node) doctree.Element {
	switch n := node.(type) {
	case *doctree.HeadingNode:
		h := doctree.NewHeading(n.Tag)
		h.Alignment = n.Alignment
		return h
	case *doctree.ListItemNode:
		li := doctree.NewListItem()
		li.Indent = n.Indent
		return li
	case *doctree.ParagraphNode:
		p := doctree.NewParagraph()
		p.Alignment = n.Alignment
		return p
	default:
		return doctree.NewParagraph()
	}
}
