package doctree

import (
	"fmt"
	"strconv"
	"sync"
)

// Tree owns the live document. All mutations go through Update, which is the
// single-writer transaction the editing surface guarantees: two mutations
// never interleave.
type Tree struct {
	mu       sync.Mutex
	root     *RootNode
	attached map[NodeKey]Node
	nextKey  uint64
	version  uint64
	inTx     bool
}

// NewTree creates a document containing a single empty paragraph, so a fresh
// document always serializes to at least one block.
func NewTree() *Tree {
	t := &Tree{
		root:     &RootNode{},
		attached: make(map[NodeKey]Node),
	}
	t.register(t.root)
	must(t.Update(func(tx *Tx) error {
		tx.Append(t.root, NewParagraph())
		return nil
	}))
	return t
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}

// Version increments on every committed Update. Callers holding derived
// lookups (like a block key map) use it to detect staleness.
func (t *Tree) Version() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.version
}

// Update runs fn inside the single-writer transaction. Nested updates are a
// programming error.
func (t *Tree) Update(fn func(*Tx) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.inTx {
		return fmt.Errorf("nested tree update")
	}
	t.inTx = true
	defer func() { t.inTx = false }()

	if err := fn(&Tx{t: t}); err != nil {
		return err
	}
	t.version++
	return nil
}

// Read runs fn with the tree locked for reading. fn must not mutate.
func (t *Tree) Read(fn func(*Tx)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fn(&Tx{t: t})
}

func (t *Tree) register(n Node) {
	if n.Key() == "" {
		t.nextKey++
		n.setKey(NodeKey(strconv.FormatUint(t.nextKey, 10)))
	}
	t.attached[n.Key()] = n
	if el, ok := n.(Element); ok {
		for _, c := range el.Children() {
			t.register(c)
		}
	}
}

func (t *Tree) unregister(n Node) {
	delete(t.attached, n.Key())
	if el, ok := n.(Element); ok {
		for _, c := range el.Children() {
			t.unregister(c)
		}
	}
}

// Tx is the handle passed to Update and Read callbacks.
type Tx struct {
	t *Tree
}

// Root returns the document root.
func (tx *Tx) Root() *RootNode { return tx.t.root }

// NodeByKey returns the attached node for key, if any.
func (tx *Tx) NodeByKey(k NodeKey) (Node, bool) {
	n, ok := tx.t.attached[k]
	return n, ok
}

// IsAttached reports whether n is currently part of the tree.
func (tx *Tx) IsAttached(n Node) bool {
	got, ok := tx.t.attached[n.Key()]
	return ok && got == n
}

// Append adds n as the last child of parent.
func (tx *Tx) Append(parent Element, n Node) {
	parent.insertChild(len(parent.Children()), n)
	n.setParent(parent)
	tx.t.register(n)
}

// InsertBefore places n immediately before ref under ref's parent.
func (tx *Tx) InsertBefore(ref, n Node) error {
	parent := ref.Parent()
	if parent == nil {
		return fmt.Errorf("insert before detached node %q", ref.Key())
	}
	parent.insertChild(parent.childIndex(ref), n)
	n.setParent(parent)
	tx.t.register(n)
	return nil
}

// InsertAfter places n immediately after ref under ref's parent.
func (tx *Tx) InsertAfter(ref, n Node) error {
	parent := ref.Parent()
	if parent == nil {
		return fmt.Errorf("insert after detached node %q", ref.Key())
	}
	parent.insertChild(parent.childIndex(ref)+1, n)
	n.setParent(parent)
	tx.t.register(n)
	return nil
}

// Replace swaps old for n in place. old is detached and keeps its subtree,
// so it can be held for later restoration.
func (tx *Tx) Replace(old, n Node) error {
	parent := old.Parent()
	if parent == nil {
		return fmt.Errorf("replace detached node %q", old.Key())
	}
	i := parent.childIndex(old)
	parent.removeChild(old)
	old.setParent(nil)
	tx.t.unregister(old)

	parent.insertChild(i, n)
	n.setParent(parent)
	tx.t.register(n)
	return nil
}

// Remove detaches n from its parent.
func (tx *Tx) Remove(n Node) error {
	parent := n.Parent()
	if parent == nil {
		return fmt.Errorf("remove detached node %q", n.Key())
	}
	parent.removeChild(n)
	n.setParent(nil)
	tx.t.unregister(n)
	return nil
}

// Walk visits n and its descendants in pre-order. Returning false from fn
// skips the node's children.
func (tx *Tx) Walk(n Node, fn func(Node) bool) {
	if !fn(n) {
		return
	}
	if el, ok := n.(Element); ok {
		// Children may be mutated by fn; walk a snapshot.
		snapshot := append([]Node(nil), el.Children()...)
		for _, c := range snapshot {
			tx.Walk(c, fn)
		}
	}
}
