// internal/vsync/table.go

package vsync

import (
	"weak"

	"github.com/emirpasic/gods/trees/redblacktree"
	"github.com/emirpasic/gods/utils"
)

// connTable holds weak handles to connections keyed by connection id.
// Iteration order is id order, i.e. registration order.
type connTable struct {
	tree *redblacktree.Tree
}

func newConnTable() *connTable {
	return &connTable{tree: redblacktree.NewWith(utils.UInt64Comparator)}
}

// put returns false if id is already tracked.
func (t *connTable) put(c *Connection) bool {
	if _, found := t.tree.Get(c.id); found {
		return false
	}
	t.tree.Put(c.id, weak.Make(c))
	return true
}

func (t *connTable) remove(id uint64) bool {
	if _, found := t.tree.Get(id); !found {
		return false
	}
	t.tree.Remove(id)
	return true
}

func (t *connTable) contains(id uint64) bool {
	_, found := t.tree.Get(id)
	return found
}

// live resolves every handle. Handles whose connection was collected or
// released are removed and reported through gone.
func (t *connTable) live(gone func(id uint64, collected bool)) []*Connection {
	var (
		out  = make([]*Connection, 0, t.tree.Size())
		dead []uint64
	)
	it := t.tree.Iterator()
	for it.Next() {
		id := it.Key().(uint64)
		c := it.Value().(weak.Pointer[Connection]).Value()
		switch {
		case c == nil:
			dead = append(dead, id)
			if gone != nil {
				gone(id, true)
			}
		case !c.alive():
			dead = append(dead, id)
			if gone != nil {
				gone(id, false)
			}
		default:
			out = append(out, c)
		}
	}
	for _, id := range dead {
		t.tree.Remove(id)
	}
	return out
}
