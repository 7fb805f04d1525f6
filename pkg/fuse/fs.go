//go:build !windows

// Package fuse serves a tree over the kernel FUSE protocol.
//
// FUSE node ids are the tree's entry ids, so the root is node 1 and the
// kernel's view of an inode never needs translating. Directory offsets are
// positions in the ordered child list: the cookie of an emitted entry is its
// index + 1, which is exactly where the next readdir resumes.
package fuse

import (
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	gofuse "github.com/hanwen/go-fuse/v2/fuse"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sys/unix"

	"github.com/lsfs/lsfs/internal/logging"
	"github.com/lsfs/lsfs/internal/metrics"
	"github.com/lsfs/lsfs/pkg/models"
	"github.com/lsfs/lsfs/pkg/vfs"
)

const backendName = "gofuse"

// errPerm answers every request that would modify the tree.
const errPerm = gofuse.Status(unix.EPERM)

// Config holds FUSE filesystem configuration.
type Config struct {
	FsName       string
	AllowOther   bool
	Debug        bool
	EntryTimeout time.Duration
	AttrTimeout  time.Duration
}

// DefaultConfig returns the settings used when none are given.
func DefaultConfig() Config {
	return Config{
		FsName:       "lsfs",
		EntryTimeout: time.Second,
		AttrTimeout:  time.Second,
	}
}

// Stats holds filesystem statistics.
type Stats struct {
	Lookups    atomic.Int64
	GetAttrs   atomic.Int64
	ReadDirs   atomic.Int64
	DirEntries atomic.Int64
	NotFound   atomic.Int64
	Denied     atomic.Int64
}

// TreeFS is a read-only raw FUSE filesystem over a vfs.Adapter. Requests it
// does not implement fall through to the go-fuse defaults (ENOSYS).
type TreeFS struct {
	gofuse.RawFileSystem

	adapter *vfs.Adapter
	cfg     Config
	stats   Stats
}

var _ gofuse.RawFileSystem = (*TreeFS)(nil)

// New creates a filesystem serving a.
func New(a *vfs.Adapter, cfg Config) *TreeFS {
	if cfg.FsName == "" {
		cfg.FsName = DefaultConfig().FsName
	}
	return &TreeFS{
		RawFileSystem: gofuse.NewDefaultRawFileSystem(),
		adapter:       a,
		cfg:           cfg,
	}
}

func (f *TreeFS) String() string {
	return f.cfg.FsName
}

// Stats returns the request counters.
func (f *TreeFS) Stats() *Stats {
	return &f.stats
}

// Mount mounts the filesystem read-only at mountPoint and starts serving.
// The caller must Unmount the returned server.
func (f *TreeFS) Mount(mountPoint string) (*gofuse.Server, error) {
	if err := os.MkdirAll(mountPoint, 0755); err != nil {
		return nil, fmt.Errorf("create mount point: %w", err)
	}

	opts := &gofuse.MountOptions{
		AllowOther: f.cfg.AllowOther,
		Debug:      f.cfg.Debug,
		FsName:     f.cfg.FsName,
		Name:       "lsfs",
		Options:    []string{"ro"},
	}

	server, err := gofuse.NewServer(f, mountPoint, opts)
	if err != nil {
		return nil, fmt.Errorf("mount: %w", err)
	}
	go server.Serve()

	if err := server.WaitMount(); err != nil {
		_ = server.Unmount()
		return nil, fmt.Errorf("wait for mount: %w", err)
	}
	return server, nil
}

// Lookup resolves name inside the directory header.NodeId.
func (f *TreeFS) Lookup(cancel <-chan struct{}, header *gofuse.InHeader, name string, out *gofuse.EntryOut) gofuse.Status {
	f.stats.Lookups.Add(1)
	attr, err := f.adapter.Resolve(header.NodeId, name)
	if err != nil {
		logging.Debug("lookup failed", logging.Uint64("parent", header.NodeId), logging.String("name", name), logging.Err(err))
		return f.fail("lookup", err)
	}
	f.fillEntry(attr, out)
	return f.ok("lookup")
}

// GetAttr returns the attributes of input.NodeId.
func (f *TreeFS) GetAttr(cancel <-chan struct{}, input *gofuse.GetAttrIn, out *gofuse.AttrOut) gofuse.Status {
	f.stats.GetAttrs.Add(1)
	attr, err := f.adapter.Attributes(input.NodeId)
	if err != nil {
		return f.fail("getattr", err)
	}
	out.SetTimeout(f.cfg.AttrTimeout)
	fillAttr(attr, &out.Attr)
	return f.ok("getattr")
}

// OpenDir accepts directories only. No per-handle state is kept: listings
// are computed from the offset on every ReadDir.
func (f *TreeFS) OpenDir(cancel <-chan struct{}, input *gofuse.OpenIn, out *gofuse.OpenOut) gofuse.Status {
	attr, err := f.adapter.Attributes(input.NodeId)
	if err != nil {
		return f.fail("opendir", err)
	}
	if !attr.IsDir() {
		return f.fail("opendir", vfs.ErrNotDirectory)
	}
	return f.ok("opendir")
}

// ReadDir fills out with children of input.NodeId starting at input.Offset
// until the reply buffer is full.
func (f *TreeFS) ReadDir(cancel <-chan struct{}, input *gofuse.ReadIn, out *gofuse.DirEntryList) gofuse.Status {
	f.stats.ReadDirs.Add(1)
	entries, err := f.adapter.List(input.NodeId, input.Offset)
	if err != nil {
		return f.fail("readdir", err)
	}

	n := 0
	for _, e := range entries {
		if !out.AddDirEntry(gofuse.DirEntry{Name: e.Name, Ino: e.ID, Mode: e.Mode()}) {
			break
		}
		n++
	}
	f.emitted(input, n)
	return f.ok("readdir")
}

// ReadDirPlus is ReadDir with the attributes of each entry attached.
func (f *TreeFS) ReadDirPlus(cancel <-chan struct{}, input *gofuse.ReadIn, out *gofuse.DirEntryList) gofuse.Status {
	f.stats.ReadDirs.Add(1)
	entries, err := f.adapter.List(input.NodeId, input.Offset)
	if err != nil {
		return f.fail("readdirplus", err)
	}

	n := 0
	for _, e := range entries {
		entryOut := out.AddDirLookupEntry(gofuse.DirEntry{Name: e.Name, Ino: e.ID, Mode: e.Mode()})
		if entryOut == nil {
			break
		}
		n++
		// The kernel ignores attributes sent for "..", and a zero node id
		// keeps it from taking a lookup reference.
		if e.Name == models.ParentName {
			continue
		}
		attr, err := f.adapter.Attributes(e.ID)
		if err != nil {
			return f.fail("readdirplus", err)
		}
		f.fillEntry(attr, entryOut)
	}
	f.emitted(input, n)
	return f.ok("readdirplus")
}

// StatFs reports the tree's totals.
func (f *TreeFS) StatFs(cancel <-chan struct{}, input *gofuse.InHeader, out *gofuse.StatfsOut) gofuse.Status {
	total := f.adapter.TotalSize()

	out.Bsize = vfs.Blksize
	out.Frsize = vfs.Blksize
	out.Blocks = (total + vfs.Blksize - 1) / vfs.Blksize
	out.Files = uint64(f.adapter.Len())
	out.NameLen = 255
	return f.ok("statfs")
}

func (f *TreeFS) Mkdir(cancel <-chan struct{}, input *gofuse.MkdirIn, name string, out *gofuse.EntryOut) gofuse.Status {
	return f.deny("mkdir")
}

func (f *TreeFS) Mknod(cancel <-chan struct{}, input *gofuse.MknodIn, name string, out *gofuse.EntryOut) gofuse.Status {
	return f.deny("mknod")
}

func (f *TreeFS) Create(cancel <-chan struct{}, input *gofuse.CreateIn, name string, out *gofuse.CreateOut) gofuse.Status {
	return f.deny("create")
}

func (f *TreeFS) Unlink(cancel <-chan struct{}, header *gofuse.InHeader, name string) gofuse.Status {
	return f.deny("unlink")
}

func (f *TreeFS) Rmdir(cancel <-chan struct{}, header *gofuse.InHeader, name string) gofuse.Status {
	return f.deny("rmdir")
}

func (f *TreeFS) Rename(cancel <-chan struct{}, input *gofuse.RenameIn, oldName string, newName string) gofuse.Status {
	return f.deny("rename")
}

func (f *TreeFS) Link(cancel <-chan struct{}, input *gofuse.LinkIn, filename string, out *gofuse.EntryOut) gofuse.Status {
	return f.deny("link")
}

func (f *TreeFS) Symlink(cancel <-chan struct{}, header *gofuse.InHeader, pointedTo string, linkName string, out *gofuse.EntryOut) gofuse.Status {
	return f.deny("symlink")
}

func (f *TreeFS) SetAttr(cancel <-chan struct{}, input *gofuse.SetAttrIn, out *gofuse.AttrOut) gofuse.Status {
	return f.deny("setattr")
}

func (f *TreeFS) Write(cancel <-chan struct{}, input *gofuse.WriteIn, data []byte) (uint32, gofuse.Status) {
	return 0, f.deny("write")
}

func (f *TreeFS) fillEntry(attr vfs.Attr, out *gofuse.EntryOut) {
	out.NodeId = attr.ID
	out.Generation = 1
	out.SetEntryTimeout(f.cfg.EntryTimeout)
	out.SetAttrTimeout(f.cfg.AttrTimeout)
	fillAttr(attr, &out.Attr)
}

func fillAttr(attr vfs.Attr, out *gofuse.Attr) {
	out.Ino = attr.ID
	out.Size = attr.Size
	out.Blocks = attr.Blocks
	out.Mode = attr.Mode
	out.Nlink = attr.Nlink
	out.Uid = attr.Uid
	out.Gid = attr.Gid
	out.Blksize = attr.Blksize
	out.Atime = uint64(attr.Atime.Unix())
	out.Mtime = uint64(attr.Mtime.Unix())
	out.Ctime = uint64(attr.Ctime.Unix())
}

func (f *TreeFS) emitted(input *gofuse.ReadIn, n int) {
	f.stats.DirEntries.Add(int64(n))
	metrics.RecordDirEntries(n)
	if !logging.Enabled(zapcore.DebugLevel) {
		return
	}
	logging.Debug("readdir",
		logging.Uint64("dir", input.NodeId),
		logging.Uint64("offset", input.Offset),
		logging.Int("entries", n))
}

func (f *TreeFS) ok(op string) gofuse.Status {
	metrics.RecordFSOp(backendName, op, metrics.StatusOK)
	return gofuse.OK
}

func (f *TreeFS) deny(op string) gofuse.Status {
	f.stats.Denied.Add(1)
	metrics.RecordFSOp(backendName, op, metrics.StatusDenied)
	logging.Debug("rejected write request", logging.String("op", op))
	return errPerm
}

// fail maps adapter errors to FUSE status codes.
func (f *TreeFS) fail(op string, err error) gofuse.Status {
	switch {
	case errors.Is(err, vfs.ErrNotFound):
		f.stats.NotFound.Add(1)
		metrics.RecordFSOp(backendName, op, metrics.StatusNotFound)
		return gofuse.ENOENT
	case errors.Is(err, vfs.ErrNotDirectory):
		metrics.RecordFSOp(backendName, op, metrics.StatusNotDir)
		return gofuse.ENOTDIR
	default:
		logging.Error("filesystem request failed", logging.String("op", op), logging.Err(err))
		metrics.RecordFSOp(backendName, op, metrics.StatusError)
		return gofuse.EIO
	}
}
