// Package tree builds the directory tree described by a shell transcript and
// exposes it as an immutable, id-indexed structure.
package tree

import (
	"errors"
	"fmt"

	"github.com/lsfs/lsfs/pkg/models"
)

var (
	// ErrFrozen is returned by Builder methods called after Build.
	ErrFrozen = errors.New("builder is frozen")
	// ErrNoSuchEntry is returned when cd names a child the cursor does not have.
	ErrNoSuchEntry = errors.New("no such entry")
	// ErrNotDirectory is returned when cd targets a file, or the cursor is not a directory.
	ErrNotDirectory = errors.New("not a directory")
)

// Builder accumulates entries while a transcript is consumed. It exclusively
// owns the entries until Build hands them to a Tree.
type Builder struct {
	cursor  uint64
	nextID  uint64
	entries []*models.Entry // indexed by id, slot 0 unused
	frozen  bool
}

// NewBuilder returns a builder holding only the root directory, with the
// cursor at the root.
func NewBuilder() *Builder {
	root := &models.Entry{
		ID:       models.RootID,
		ParentID: models.RootID,
		Dir:      &models.Dir{},
	}
	return &Builder{
		cursor:  models.RootID,
		nextID:  models.RootID + 1,
		entries: []*models.Entry{nil, root},
	}
}

// Cursor returns the id of the current directory.
func (b *Builder) Cursor() uint64 {
	return b.cursor
}

// ChangeDirectory moves the cursor. "/" always returns to the root; any other
// name, ".." included, is looked up in the current directory's children.
func (b *Builder) ChangeDirectory(name string) error {
	if b.frozen {
		return ErrFrozen
	}
	if name == "/" {
		b.cursor = models.RootID
		return nil
	}

	dir, err := b.cursorDir()
	if err != nil {
		return fmt.Errorf("cd %s: %w", name, err)
	}

	for _, child := range dir.Children {
		if child.Name != name {
			continue
		}
		if !b.entries[child.ID].IsDir() {
			return fmt.Errorf("cd %s: %w", name, ErrNotDirectory)
		}
		b.cursor = child.ID
		return nil
	}
	return fmt.Errorf("cd %s: %w", name, ErrNoSuchEntry)
}

// AddFile records a file of the given size in the current directory.
func (b *Builder) AddFile(name string, size uint64) error {
	_, err := b.add(name, &models.Entry{File: &models.File{Size: size}})
	return err
}

// AddDirectory records a subdirectory of the current directory. Its child
// list starts with a ".." slot pointing back at the current directory.
func (b *Builder) AddDirectory(name string) error {
	_, err := b.add(name, &models.Entry{
		Dir: &models.Dir{
			Children: []models.Child{{Name: models.ParentName, ID: b.cursor}},
		},
	})
	return err
}

func (b *Builder) add(name string, entry *models.Entry) (uint64, error) {
	if b.frozen {
		return 0, ErrFrozen
	}
	dir, err := b.cursorDir()
	if err != nil {
		return 0, fmt.Errorf("add %s: %w", name, err)
	}

	id := b.nextID
	b.nextID++

	dir.Children = append(dir.Children, models.Child{Name: name, ID: id})

	entry.ID = id
	entry.ParentID = b.cursor
	entry.Name = name
	b.entries = append(b.entries, entry)
	return id, nil
}

func (b *Builder) cursorDir() (*models.Dir, error) {
	cur := b.entries[b.cursor]
	if !cur.IsDir() {
		return nil, ErrNotDirectory
	}
	return cur.Dir, nil
}

// Build freezes the builder and returns the finished tree. Later calls to
// any Builder method fail with ErrFrozen; Build itself returns nil.
func (b *Builder) Build() *Tree {
	if b.frozen {
		return nil
	}
	b.frozen = true
	t := newTree(b.entries)
	b.entries = nil
	return t
}
