// Package vfs answers the read-only filesystem queries a serving boundary
// needs (lookup by parent and name, attributes by id, listing by id and
// offset) against a finished tree.
package vfs

import (
	"errors"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/lsfs/lsfs/pkg/models"
	"github.com/lsfs/lsfs/pkg/tree"
)

var (
	// ErrNotFound is returned for unknown ids and names.
	ErrNotFound = errors.New("no such entry")
	// ErrNotDirectory is returned when listing or descending into a file.
	ErrNotDirectory = errors.New("not a directory")
)

const (
	// Perm is the permission set reported for every entry.
	Perm = 0o755
	// Nlink is the link count reported for every entry.
	Nlink = 2
	// Blksize is the preferred I/O size reported for every entry.
	Blksize = 512
)

// Epoch is the timestamp reported for every entry.
var Epoch = time.Unix(0, 0)

// Attr is the attribute record of one entry.
type Attr struct {
	ID      uint64
	Kind    models.Kind
	Size    uint64
	Mode    uint32 // type bits | Perm
	Nlink   uint32
	Uid     uint32
	Gid     uint32
	Blksize uint32
	Blocks  uint64
	Atime   time.Time
	Mtime   time.Time
	Ctime   time.Time
}

// IsDir reports whether the attributes describe a directory.
func (a Attr) IsDir() bool {
	return a.Kind == models.KindDirectory
}

// DirEntry is one item of a directory listing.
type DirEntry struct {
	Name string
	ID   uint64
	Kind models.Kind
}

// Mode returns the file type bits for the entry.
func (d DirEntry) Mode() uint32 {
	return typeBits(d.Kind)
}

// Owner identifies the uid and gid reported for every entry.
type Owner struct {
	Uid uint32
	Gid uint32
}

// ProcessOwner returns the identity of the running process.
func ProcessOwner() Owner {
	return Owner{Uid: uint32(os.Getuid()), Gid: uint32(os.Getgid())}
}

// Adapter serves a tree. It never mutates the tree, so one Adapter may be
// used from any number of goroutines.
type Adapter struct {
	tree  *tree.Tree
	owner Owner
	total uint64
}

// New returns an adapter for t reporting the running process as owner.
func New(t *tree.Tree) *Adapter {
	return NewWithOwner(t, ProcessOwner())
}

// NewWithOwner returns an adapter for t reporting owner on every entry.
func NewWithOwner(t *tree.Tree, owner Owner) *Adapter {
	total, _ := t.TotalSize(models.RootID)
	return &Adapter{tree: t, owner: owner, total: total}
}

// Len returns the number of entries served, the root included.
func (a *Adapter) Len() int {
	return a.tree.Len()
}

// TotalSize returns the sum of all file sizes in the tree.
func (a *Adapter) TotalSize() uint64 {
	return a.total
}

// Resolve returns the attributes of the child called name inside parentID.
// Names match byte for byte. An unknown parent, or a parent that is a file,
// has no children and yields ErrNotFound.
func (a *Adapter) Resolve(parentID uint64, name string) (Attr, error) {
	child, ok := a.tree.Lookup(parentID, name)
	if !ok {
		return Attr{}, ErrNotFound
	}
	return a.attr(child), nil
}

// Attributes returns the attributes of entry id.
func (a *Adapter) Attributes(id uint64) (Attr, error) {
	e, ok := a.tree.Get(id)
	if !ok {
		return Attr{}, ErrNotFound
	}
	return a.attr(e), nil
}

// List returns the children of directory id starting at position offset
// of its ordered child list. An offset at or past the end yields an empty
// listing. Because the tree never changes, List(id, k) always returns the
// same suffix.
func (a *Adapter) List(id uint64, offset uint64) ([]DirEntry, error) {
	e, ok := a.tree.Get(id)
	if !ok {
		return nil, ErrNotFound
	}
	if !e.IsDir() {
		return nil, ErrNotDirectory
	}

	children := e.Dir.Children
	if offset >= uint64(len(children)) {
		return []DirEntry{}, nil
	}

	out := make([]DirEntry, 0, uint64(len(children))-offset)
	for _, c := range children[offset:] {
		target, ok := a.tree.Get(c.ID)
		if !ok {
			return nil, ErrNotFound
		}
		out = append(out, DirEntry{Name: c.Name, ID: c.ID, Kind: target.Kind()})
	}
	return out, nil
}

// ResolvePath walks a slash separated path from the root. Empty path
// elements are ignored, so "", "/" and "//" all name the root.
func (a *Adapter) ResolvePath(path string) (Attr, error) {
	attr, err := a.Attributes(models.RootID)
	if err != nil {
		return Attr{}, err
	}
	for _, name := range strings.Split(path, "/") {
		if name == "" {
			continue
		}
		if attr, err = a.Resolve(attr.ID, name); err != nil {
			return Attr{}, err
		}
	}
	return attr, nil
}

func (a *Adapter) attr(e *models.Entry) Attr {
	kind := e.Kind()
	return Attr{
		ID:      e.ID,
		Kind:    kind,
		Size:    e.Size(),
		Mode:    typeBits(kind) | Perm,
		Nlink:   Nlink,
		Uid:     a.owner.Uid,
		Gid:     a.owner.Gid,
		Blksize: Blksize,
		Atime:   Epoch,
		Mtime:   Epoch,
		Ctime:   Epoch,
	}
}

func typeBits(k models.Kind) uint32 {
	if k == models.KindDirectory {
		return syscall.S_IFDIR
	}
	return syscall.S_IFREG
}
