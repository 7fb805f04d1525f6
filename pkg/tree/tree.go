package tree

import (
	"errors"
	"fmt"
	"slices"

	"github.com/lsfs/lsfs/pkg/models"
)

// ErrSkipDir can be returned from a WalkFunc to skip a directory's children.
var ErrSkipDir = errors.New("skip this directory")

// Tree is the frozen result of a build. It has no mutating methods and is
// safe to share between concurrent readers.
type Tree struct {
	entries []*models.Entry // indexed by id, slot 0 unused
	names   []map[string]uint64
}

func newTree(entries []*models.Entry) *Tree {
	t := &Tree{
		entries: entries,
		names:   make([]map[string]uint64, len(entries)),
	}
	for id, e := range entries {
		if e == nil || !e.IsDir() {
			continue
		}
		idx := make(map[string]uint64, len(e.Dir.Children))
		for _, c := range e.Dir.Children {
			if c.Name == models.ParentName {
				continue
			}
			// The first declaration of a name wins, like a linear search would.
			if _, dup := idx[c.Name]; !dup {
				idx[c.Name] = c.ID
			}
		}
		t.names[id] = idx
	}
	return t
}

// Get returns the entry with the given id.
func (t *Tree) Get(id uint64) (*models.Entry, bool) {
	if id == 0 || id >= uint64(len(t.entries)) {
		return nil, false
	}
	return t.entries[id], true
}

// Root returns the root directory.
func (t *Tree) Root() *models.Entry {
	return t.entries[models.RootID]
}

// Len returns the number of entries, root included.
func (t *Tree) Len() int {
	return len(t.entries) - 1
}

// Entries returns all entries in id order. The slice is a copy; the entries
// must not be modified.
func (t *Tree) Entries() []*models.Entry {
	return slices.Clone(t.entries[1:])
}

// Lookup finds the child called name inside directory dirID, using only that
// directory's own child list. The ".." slot is not a named child.
func (t *Tree) Lookup(dirID uint64, name string) (*models.Entry, bool) {
	if dirID == 0 || dirID >= uint64(len(t.names)) {
		return nil, false
	}
	idx := t.names[dirID]
	if idx == nil {
		return nil, false
	}
	id, ok := idx[name]
	if !ok {
		return nil, false
	}
	return t.entries[id], true
}

// ChildPath constructs a child path from parent + name.
func ChildPath(parentPath, name string) string {
	if parentPath == "/" {
		return "/" + name
	}
	return parentPath + "/" + name
}

// WalkFunc is called for every entry visited by Walk.
type WalkFunc func(path string, e *models.Entry) error

// Walk visits the tree depth-first in child order, starting at the root
// ("/"). ".." slots are not followed.
func (t *Tree) Walk(fn WalkFunc) error {
	return t.walk("/", t.Root(), fn)
}

func (t *Tree) walk(path string, e *models.Entry, fn WalkFunc) error {
	if err := fn(path, e); err != nil {
		if errors.Is(err, ErrSkipDir) {
			return nil
		}
		return err
	}
	if !e.IsDir() {
		return nil
	}
	for _, c := range e.Dir.Children {
		if c.Name == models.ParentName {
			continue
		}
		if err := t.walk(ChildPath(path, c.Name), t.entries[c.ID], fn); err != nil {
			return err
		}
	}
	return nil
}

// DirSizes returns the recursive size of every directory, keyed by id.
func (t *Tree) DirSizes() map[uint64]uint64 {
	totals := make([]uint64, len(t.entries))
	// Children always have larger ids than their parent, so one pass from
	// the highest id down settles every subtree before its parent is read.
	for id := len(t.entries) - 1; id > int(models.RootID); id-- {
		e := t.entries[id]
		totals[id] += e.Size()
		totals[e.ParentID] += totals[id]
	}

	sizes := make(map[uint64]uint64)
	for id, e := range t.entries {
		if e != nil && e.IsDir() {
			sizes[uint64(id)] = totals[id]
		}
	}
	return sizes
}

// TotalSize returns the size of a file, or the recursive size of a directory.
func (t *Tree) TotalSize(id uint64) (uint64, bool) {
	e, ok := t.Get(id)
	if !ok {
		return 0, false
	}
	if !e.IsDir() {
		return e.Size(), true
	}
	var total uint64
	for _, c := range e.Dir.Children {
		if c.Name == models.ParentName {
			continue
		}
		n, _ := t.TotalSize(c.ID)
		total += n
	}
	return total, true
}

// Check verifies the structural invariants of the tree: ids are dense and
// unique, the root is its own parent, every entry is listed by its parent,
// and every non-root directory starts with a ".." slot to its parent.
func (t *Tree) Check() error {
	if len(t.entries) < 2 || t.entries[models.RootID] == nil {
		return errors.New("missing root")
	}
	root := t.Root()
	if !root.IsDir() || root.ParentID != models.RootID || root.Name != "" {
		return fmt.Errorf("malformed root %+v", *root)
	}

	for id := 1; id < len(t.entries); id++ {
		e := t.entries[id]
		if e == nil || e.ID != uint64(id) {
			return fmt.Errorf("entry slot %d holds the wrong id", id)
		}
		if (e.File == nil) == (e.Dir == nil) {
			return fmt.Errorf("entry %d must be exactly one of file or directory", id)
		}
		if e.ID == models.RootID {
			continue
		}

		parent, ok := t.Get(e.ParentID)
		if !ok || !parent.IsDir() {
			return fmt.Errorf("entry %d: parent %d is not a directory", id, e.ParentID)
		}
		if !listed(parent.Dir, e) {
			return fmt.Errorf("entry %d (%s) missing from parent %d", id, e.Name, e.ParentID)
		}
		if e.IsDir() {
			kids := e.Dir.Children
			if len(kids) == 0 || kids[0] != (models.Child{Name: models.ParentName, ID: e.ParentID}) {
				return fmt.Errorf("directory %d does not start with a %q slot", id, models.ParentName)
			}
		}
	}
	return nil
}

func listed(dir *models.Dir, e *models.Entry) bool {
	for _, c := range dir.Children {
		if c.Name == e.Name && c.ID == e.ID {
			return true
		}
	}
	return false
}
