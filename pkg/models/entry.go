// Package models contains the data types shared by the tree builder and the
// serving boundaries.
package models

// RootID is the id of the root directory. FUSE uses the same number for the
// root node, so entry ids double as node ids.
const RootID uint64 = 1

// ParentName is the child name every non-root directory carries first,
// pointing back at its parent.
const ParentName = ".."

// Child is one named slot in a directory listing.
type Child struct {
	Name string `json:"name"`
	ID   uint64 `json:"id"`
}

// Entry represents a file or directory in the tree.
//
// Exactly one of File and Dir is non-nil.
type Entry struct {
	ID       uint64 `json:"id"`
	ParentID uint64 `json:"parent_id"`
	Name     string `json:"name"`
	File     *File  `json:"file,omitempty"`
	Dir      *Dir   `json:"dir,omitempty"`
}

// File holds the size declared for a file in an ls listing.
type File struct {
	Size uint64 `json:"size"`
}

// Dir holds the ordered children of a directory. Order is insertion order
// and is what listings and resume offsets index into.
type Dir struct {
	Children []Child `json:"children"`
}

// IsDir reports whether the entry is a directory.
func (e *Entry) IsDir() bool {
	return e.Dir != nil
}

// Size returns the file size, or 0 for directories.
func (e *Entry) Size() uint64 {
	if e.File == nil {
		return 0
	}
	return e.File.Size
}

// Kind is the coarse type of an entry as seen by a serving boundary.
type Kind uint8

const (
	KindFile Kind = iota
	KindDirectory
)

func (k Kind) String() string {
	if k == KindDirectory {
		return "dir"
	}
	return "file"
}

// Kind returns the entry's kind.
func (e *Entry) Kind() Kind {
	if e.IsDir() {
		return KindDirectory
	}
	return KindFile
}
