package cli

import (
	"context"
	"errors"
	"io"

	"go.uber.org/zap"

	"github.com/lsfs/lsfs/internal/config"
	"github.com/lsfs/lsfs/pkg/vfs"
)

func serveGoFuse(ctx context.Context, log *zap.Logger, out io.Writer, adapter *vfs.Adapter, mountPoint string, mc config.MountConfig) error {
	return errors.New("the gofuse backend needs kernel FUSE; use --backend cgofuse on Windows")
}
