package diff

import (
	"fmt"

	"github.com/vrite/vrite/internal/doctree"
)

// PendingDiff is one unresolved annotation, addressed by its node key.
type PendingDiff struct {
	Key        doctree.NodeKey    `json:"key"`
	Annotation doctree.Annotation `json:"annotation"`
}

// Resolver accepts or rejects pending annotations. Every resolution removes
// its annotation node, so a fully resolved document contains none.
type Resolver struct {
	tree *doctree.Tree
}

// NewResolver creates a resolver bound to a tree.
func NewResolver(t *doctree.Tree) *Resolver {
	return &Resolver{tree: t}
}

// Pending lists unresolved annotations in document order.
func (r *Resolver) Pending() []PendingDiff {
	var out []PendingDiff
	r.tree.Read(func(tx *doctree.Tx) {
		tx.Walk(tx.Root(), func(n doctree.Node) bool {
			if d, ok := n.(*doctree.DiffNode); ok {
				out = append(out, PendingDiff{Key: d.Key(), Annotation: d.Annotation})
			}
			return true
		})
	})
	return out
}

// Accept keeps the proposed content for one annotation.
func (r *Resolver) Accept(key doctree.NodeKey) error {
	return r.resolveOne(key, acceptDiff)
}

// Reject discards the proposal for one annotation and restores the original
// content exactly.
func (r *Resolver) Reject(key doctree.NodeKey) error {
	return r.resolveOne(key, rejectDiff)
}

func (r *Resolver) resolveOne(key doctree.NodeKey, resolve func(*doctree.Tx, *doctree.DiffNode) error) error {
	return r.tree.Update(func(tx *doctree.Tx) error {
		n, ok := tx.NodeByKey(key)
		if !ok {
			return fmt.Errorf("no node with key %q", key)
		}
		d, ok := n.(*doctree.DiffNode)
		if !ok {
			return fmt.Errorf("node %q is not a pending change", key)
		}
		return resolve(tx, d)
	})
}

// AcceptAll resolves every pending annotation in favor of the proposal, in
// one transaction.
func (r *Resolver) AcceptAll() error {
	return r.resolveAll(acceptDiff)
}

// RejectAll discards every pending annotation, restoring the pre-batch
// document, in one transaction.
func (r *Resolver) RejectAll() error {
	return r.resolveAll(rejectDiff)
}

func (r *Resolver) resolveAll(resolve func(*doctree.Tx, *doctree.DiffNode) error) error {
	return r.tree.Update(func(tx *doctree.Tx) error {
		var diffs []*doctree.DiffNode
		tx.Walk(tx.Root(), func(n doctree.Node) bool {
			if d, ok := n.(*doctree.DiffNode); ok {
				diffs = append(diffs, d)
			}
			return true
		})
		for _, d := range diffs {
			if err := resolve(tx, d); err != nil {
				return err
			}
		}
		return nil
	})
}

func acceptDiff(tx *doctree.Tx, d *doctree.DiffNode) error {
	if d.Annotation.DiffType == doctree.DiffDeletion {
		return removeWrapper(tx, d)
	}
	for _, c := range d.NewContent {
		if err := tx.InsertBefore(d, c); err != nil {
			return err
		}
	}
	d.NewContent = nil
	return tx.Remove(d)
}

func rejectDiff(tx *doctree.Tx, d *doctree.DiffNode) error {
	if d.Original == nil {
		return removeWrapper(tx, d)
	}
	target := doctree.Node(d.Parent())
	if target == nil {
		return fmt.Errorf("pending change %q is detached", d.Key())
	}
	// A list item minted to replace a non-list block carries its own
	// single-item list container; restoring swaps out the whole container.
	if li, ok := target.(*doctree.ListItemNode); ok {
		if _, wasItem := d.Original.(*doctree.ListItemNode); !wasItem {
			if list, ok := li.Parent().(*doctree.ListNode); ok {
				target = list
			}
		}
	}
	orig := d.Original
	d.Original = nil
	return tx.Replace(target, orig)
}

// removeWrapper removes the block holding d, dropping a list container that
// becomes empty as a result.
func removeWrapper(tx *doctree.Tx, d *doctree.DiffNode) error {
	blk := doctree.Node(d.Parent())
	if blk == nil {
		return fmt.Errorf("pending change %q is detached", d.Key())
	}
	var list *doctree.ListNode
	if li, ok := blk.(*doctree.ListItemNode); ok {
		list, _ = li.Parent().(*doctree.ListNode)
	}
	if err := tx.Remove(blk); err != nil {
		return err
	}
	if list != nil && len(list.Children()) == 0 {
		return tx.Remove(list)
	}
	return nil
}
