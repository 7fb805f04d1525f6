package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lsfs/lsfs/internal/config"
	"github.com/lsfs/lsfs/internal/hostfs"
	"github.com/lsfs/lsfs/internal/logging"
	"github.com/lsfs/lsfs/internal/metrics"
	"github.com/lsfs/lsfs/pkg/vfs"
)

type mountFlags struct {
	backend      string
	fsName       string
	allowOther   bool
	debug        bool
	entryTimeout time.Duration
	attrTimeout  time.Duration
	metricsAddr  string
}

func newMountCmd(a *app) *cobra.Command {
	var mf mountFlags

	cmd := &cobra.Command{
		Use:   "mount <transcript> <mountpoint>",
		Short: "Mount the tree a transcript describes, read-only",
		Example: `  lsfs mount session.txt /mnt/dump
  cat session.txt | lsfs mount - /mnt/dump
  lsfs mount s3://dumps/session.txt /mnt/dump --metrics-addr :9100`,
		Args: exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := mf.apply(cmd, a.cfg); err != nil {
				return err
			}
			return a.runMount(cmd, args[0], args[1])
		},
	}

	f := cmd.Flags()
	f.StringVar(&mf.backend, "backend", "", "Serving backend: gofuse or cgofuse")
	f.StringVar(&mf.fsName, "fs-name", "", "Filesystem name shown in the mount table")
	f.BoolVar(&mf.allowOther, "allow-other", false, "Allow other users to access the mount")
	f.BoolVar(&mf.debug, "debug", false, "Log every FUSE request from the kernel")
	f.DurationVar(&mf.entryTimeout, "entry-timeout", 0, "Kernel cache lifetime for name lookups")
	f.DurationVar(&mf.attrTimeout, "attr-timeout", 0, "Kernel cache lifetime for attributes")
	f.StringVar(&mf.metricsAddr, "metrics-addr", "", "Serve /metrics and /healthz on this address")
	return cmd
}

// apply copies the flags the user set onto cfg.
func (mf *mountFlags) apply(cmd *cobra.Command, cfg *config.Config) error {
	f := cmd.Flags()
	if f.Changed("backend") {
		cfg.Mount.Backend = mf.backend
	}
	if f.Changed("fs-name") {
		cfg.Mount.FsName = mf.fsName
	}
	if f.Changed("allow-other") {
		cfg.Mount.AllowOther = mf.allowOther
	}
	if f.Changed("debug") {
		cfg.Mount.Debug = mf.debug
	}
	if f.Changed("entry-timeout") {
		cfg.Mount.EntryTimeout = mf.entryTimeout
	}
	if f.Changed("attr-timeout") {
		cfg.Mount.AttrTimeout = mf.attrTimeout
	}
	if f.Changed("metrics-addr") {
		cfg.MetricsAddr = mf.metricsAddr
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrUsage, err)
	}
	// Per-request FUSE logging is written at debug level.
	if cfg.Mount.Debug {
		logging.SetLevel("debug")
	}
	return nil
}

func (a *app) runMount(cmd *cobra.Command, location, mountPoint string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ctx = logging.WithFields(ctx, logging.String("mount_id", uuid.NewString()))
	log := logging.WithContext(ctx)

	t, err := a.loadTree(ctx, location, cmd.InOrStdin())
	if err != nil {
		return err
	}
	adapter := vfs.New(t)

	if a.cfg.MetricsAddr != "" {
		srv, err := startMetricsServer(a.cfg.MetricsAddr)
		if err != nil {
			return err
		}
		log.Info("metrics listener started", logging.String("addr", a.cfg.MetricsAddr))
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	mc := a.cfg.Mount
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Mounting %s at %s (%s, %d entries)\n", location, mountPoint, mc.Backend, t.Len())
	fmt.Fprintln(out, "Press Ctrl+C to unmount and exit")

	switch mc.Backend {
	case config.BackendCgoFuse:
		return serveCgoFuse(ctx, log, adapter, mountPoint, mc)
	default:
		return serveGoFuse(ctx, log, out, adapter, mountPoint, mc)
	}
}

func serveCgoFuse(ctx context.Context, log *zap.Logger, adapter *vfs.Adapter, mountPoint string, mc config.MountConfig) error {
	backend := hostfs.New(adapter, mountPoint, hostfs.Options{
		FsName:     mc.FsName,
		AllowOther: mc.AllowOther,
		Debug:      mc.Debug,
	})
	if err := backend.Start(ctx); err != nil {
		return err
	}
	log.Info("unmounted")
	return nil
}

// newMetricsMux serves Prometheus metrics and a liveness check.
func newMetricsMux() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	return logging.Middleware(metrics.Middleware(mux))
}

func startMetricsServer(addr string) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listener: %w", err)
	}
	srv := &http.Server{
		Handler:           newMetricsMux(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error("metrics server failed", logging.Err(err))
		}
	}()
	return srv, nil
}
