//go:build !windows

package cli

import (
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/lsfs/lsfs/internal/config"
	"github.com/lsfs/lsfs/internal/logging"
	"github.com/lsfs/lsfs/pkg/fuse"
	"github.com/lsfs/lsfs/pkg/vfs"
)

func serveGoFuse(ctx context.Context, log *zap.Logger, out io.Writer, adapter *vfs.Adapter, mountPoint string, mc config.MountConfig) error {
	fsys := fuse.New(adapter, fuse.Config{
		FsName:       mc.FsName,
		AllowOther:   mc.AllowOther,
		Debug:        mc.Debug,
		EntryTimeout: mc.EntryTimeout,
		AttrTimeout:  mc.AttrTimeout,
	})

	server, err := fsys.Mount(mountPoint)
	if err != nil {
		return err
	}
	log.Info("mounted", logging.String("mount", mountPoint), logging.String("backend", config.BackendGoFuse))

	done := make(chan struct{})
	go func() {
		server.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		log.Info("unmounting")
		if err := server.Unmount(); err != nil {
			log.Error("unmount failed", logging.Err(err))
			return fmt.Errorf("unmount %s: %w", mountPoint, err)
		}
		<-done
	case <-done:
		log.Info("filesystem was unmounted externally")
	}

	stats := fsys.Stats()
	fmt.Fprintf(out, "Session stats: %d lookups, %d getattrs, %d readdirs (%d entries), %d not found, %d writes rejected\n",
		stats.Lookups.Load(), stats.GetAttrs.Load(), stats.ReadDirs.Load(), stats.DirEntries.Load(),
		stats.NotFound.Load(), stats.Denied.Load())
	return nil
}
