// Package hostfs serves a tree through cgofuse, for hosts where the kernel
// FUSE protocol is not available directly (WinFsp on Windows, macFUSE).
// cgofuse is path based, so every request resolves its path from the root.
package hostfs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"

	"github.com/winfsp/cgofuse/fuse"
	"go.uber.org/zap"

	"github.com/lsfs/lsfs/internal/logging"
	"github.com/lsfs/lsfs/internal/metrics"
	"github.com/lsfs/lsfs/pkg/models"
	"github.com/lsfs/lsfs/pkg/vfs"
)

const backendName = "cgofuse"

// Options configures the cgofuse mount.
type Options struct {
	FsName     string
	AllowOther bool
	Debug      bool
}

// Backend implements fuse.FileSystemInterface over a vfs.Adapter.
type Backend struct {
	fuse.FileSystemBase

	adapter   *vfs.Adapter
	opts      Options
	mountPath string
	host      *fuse.FileSystemHost
	log       *zap.Logger

	denied atomic.Int64
}

// New creates a cgofuse backend that will mount a at mountPath.
func New(a *vfs.Adapter, mountPath string, opts Options) *Backend {
	if opts.FsName == "" {
		opts.FsName = "lsfs"
	}
	return &Backend{
		adapter:   a,
		opts:      opts,
		mountPath: mountPath,
		log:       logging.L(),
	}
}

// Name returns "cgofuse".
func (b *Backend) Name() string {
	return backendName
}

// Start mounts the filesystem and blocks until ctx is cancelled or the
// mount ends on its own.
func (b *Backend) Start(ctx context.Context) error {
	if err := os.MkdirAll(b.mountPath, 0755); err != nil {
		return fmt.Errorf("create mount point: %w", err)
	}

	b.host = fuse.NewFileSystemHost(b)
	b.host.SetCapReaddirPlus(true)
	b.log = logging.WithContext(ctx)

	b.log.Debug("mounting cgofuse filesystem", logging.String("mount", b.mountPath))

	// Mount blocks until the filesystem is unmounted.
	errCh := make(chan error, 1)
	go func() {
		if !b.host.Mount(b.mountPath, b.mountArgs()) {
			errCh <- errors.New("cgofuse mount failed")
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		if err := b.Stop(); err != nil {
			b.log.Warn("unmount failed", logging.Err(err))
		}
		<-errCh
		return nil
	}
}

// Stop unmounts the filesystem.
func (b *Backend) Stop() error {
	if b.host != nil && !b.host.Unmount() {
		return errors.New("cgofuse unmount failed")
	}
	return nil
}

func (b *Backend) mountArgs() []string {
	args := []string{"-o", "ro", "-o", "fsname=" + b.opts.FsName}
	if b.opts.AllowOther {
		args = append(args, "-o", "allow_other")
	}
	if b.opts.Debug {
		args = append(args, "-d")
	}
	return args
}

// --- fuse.FileSystemInterface implementation ---

// Init runs once the kernel has accepted the mount.
func (b *Backend) Init() {
	b.log.Info("mounted", logging.String("mount", b.mountPath), logging.String("backend", backendName))
}

func (b *Backend) Destroy() {
	b.log.Debug("cgofuse: destroy")
}

func (b *Backend) Getattr(path string, stat *fuse.Stat_t, fh uint64) int {
	attr, err := b.adapter.ResolvePath(path)
	if err != nil {
		return b.fail("getattr", err)
	}
	attrToStat(attr, stat)
	return b.ok("getattr")
}

func (b *Backend) Opendir(path string) (int, uint64) {
	attr, err := b.adapter.ResolvePath(path)
	if err != nil {
		return b.fail("opendir", err), ^uint64(0)
	}
	if !attr.IsDir() {
		return b.fail("opendir", vfs.ErrNotDirectory), ^uint64(0)
	}
	return b.ok("opendir"), attr.ID
}

func (b *Backend) Releasedir(path string, fh uint64) int {
	return 0
}

// Readdir runs in offset mode: each entry is passed its position + 1, so a
// refilled buffer resumes at the next child.
func (b *Backend) Readdir(path string, fill func(name string, stat *fuse.Stat_t, ofst int64) bool, ofst int64, fh uint64) int {
	attr, err := b.adapter.ResolvePath(path)
	if err != nil {
		return b.fail("readdir", err)
	}
	if ofst < 0 {
		ofst = 0
	}
	entries, err := b.adapter.List(attr.ID, uint64(ofst))
	if err != nil {
		return b.fail("readdir", err)
	}

	n := 0
	for i, e := range entries {
		var st *fuse.Stat_t
		if e.Name != models.ParentName {
			child, err := b.adapter.Attributes(e.ID)
			if err != nil {
				return b.fail("readdir", err)
			}
			st = &fuse.Stat_t{}
			attrToStat(child, st)
		}
		if !fill(e.Name, st, ofst+int64(i)+1) {
			break
		}
		n++
	}
	metrics.RecordDirEntries(n)
	return b.ok("readdir")
}

func (b *Backend) Statfs(path string, stat *fuse.Statfs_t) int {
	total := b.adapter.TotalSize()

	stat.Bsize = vfs.Blksize
	stat.Frsize = vfs.Blksize
	stat.Blocks = (total + vfs.Blksize - 1) / vfs.Blksize
	stat.Files = uint64(b.adapter.Len())
	stat.Namemax = 255
	return b.ok("statfs")
}

func (b *Backend) Mknod(path string, mode uint32, dev uint64) int {
	return b.deny("mknod")
}

func (b *Backend) Mkdir(path string, mode uint32) int {
	return b.deny("mkdir")
}

func (b *Backend) Unlink(path string) int {
	return b.deny("unlink")
}

func (b *Backend) Rmdir(path string) int {
	return b.deny("rmdir")
}

func (b *Backend) Link(oldpath string, newpath string) int {
	return b.deny("link")
}

func (b *Backend) Symlink(target string, newpath string) int {
	return b.deny("symlink")
}

func (b *Backend) Rename(oldpath string, newpath string) int {
	return b.deny("rename")
}

func (b *Backend) Chmod(path string, mode uint32) int {
	return b.deny("chmod")
}

func (b *Backend) Chown(path string, uid uint32, gid uint32) int {
	return b.deny("chown")
}

func (b *Backend) Utimens(path string, tmsp []fuse.Timespec) int {
	return b.deny("utimens")
}

func (b *Backend) Create(path string, flags int, mode uint32) (int, uint64) {
	return b.deny("create"), ^uint64(0)
}

func (b *Backend) Truncate(path string, size int64, fh uint64) int {
	return b.deny("truncate")
}

func (b *Backend) Write(path string, buff []byte, ofst int64, fh uint64) int {
	return b.deny("write")
}

func (b *Backend) Setxattr(path string, name string, value []byte, flags int) int {
	return b.deny("setxattr")
}

func (b *Backend) Removexattr(path string, name string) int {
	return b.deny("removexattr")
}

func attrToStat(attr vfs.Attr, stat *fuse.Stat_t) {
	stat.Ino = attr.ID
	stat.Mode = attr.Mode
	stat.Nlink = attr.Nlink
	stat.Uid = attr.Uid
	stat.Gid = attr.Gid
	stat.Size = int64(attr.Size)
	stat.Blksize = int64(attr.Blksize)
	stat.Blocks = int64(attr.Blocks)
	stat.Atim = fuse.NewTimespec(attr.Atime)
	stat.Mtim = fuse.NewTimespec(attr.Mtime)
	stat.Ctim = fuse.NewTimespec(attr.Ctime)
	stat.Birthtim = fuse.NewTimespec(attr.Ctime)
}

func (b *Backend) ok(op string) int {
	metrics.RecordFSOp(backendName, op, metrics.StatusOK)
	return 0
}

func (b *Backend) deny(op string) int {
	b.denied.Add(1)
	metrics.RecordFSOp(backendName, op, metrics.StatusDenied)
	logging.Debug("rejected write request", logging.String("op", op))
	return -fuse.EPERM
}

func (b *Backend) fail(op string, err error) int {
	switch {
	case errors.Is(err, vfs.ErrNotFound):
		metrics.RecordFSOp(backendName, op, metrics.StatusNotFound)
		return -fuse.ENOENT
	case errors.Is(err, vfs.ErrNotDirectory):
		metrics.RecordFSOp(backendName, op, metrics.StatusNotDir)
		return -fuse.ENOTDIR
	default:
		logging.Error("filesystem request failed", logging.String("op", op), logging.Err(err))
		metrics.RecordFSOp(backendName, op, metrics.StatusError)
		return -fuse.EIO
	}
}
