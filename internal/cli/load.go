package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/lsfs/lsfs/internal/logging"
	"github.com/lsfs/lsfs/internal/metrics"
	"github.com/lsfs/lsfs/internal/transcript"
	"github.com/lsfs/lsfs/pkg/models"
	"github.com/lsfs/lsfs/pkg/tree"
)

// loadTree reads the transcript at location, builds the tree and verifies
// it. stdin is used for the "-" location.
func (a *app) loadTree(ctx context.Context, location string, stdin io.Reader) (*tree.Tree, error) {
	rc, err := transcript.Open(ctx, location, transcript.Options{
		S3:    a.cfg.S3,
		Stdin: stdin,
	})
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	start := time.Now()
	t, err := tree.Parse(rc)
	if err != nil {
		return nil, err
	}
	elapsed := time.Since(start)
	metrics.RecordBuild(elapsed)

	if err := t.Check(); err != nil {
		return nil, fmt.Errorf("built tree is inconsistent: %w", err)
	}

	total, _ := t.TotalSize(models.RootID)
	metrics.SetTree(t.Len(), total)

	logging.WithContext(ctx).Info("tree built",
		logging.String("transcript", location),
		logging.Int("entries", t.Len()),
		logging.Uint64("bytes", total),
		logging.Duration("took", elapsed))
	return t, nil
}
