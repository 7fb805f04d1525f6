// Package cli implements the lsfs command line.
package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/lsfs/lsfs/internal/config"
	"github.com/lsfs/lsfs/internal/logging"
)

// app carries state shared by subcommands once flags are parsed.
type app struct {
	cfg *config.Config

	configPath string
	logLevel   string
	logFormat  string
	verbose    bool
}

// NewRootCmd builds the command tree. Output goes to out and errOut.
func NewRootCmd(out, errOut io.Writer) *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "lsfs",
		Short: "Mount a recorded cd/ls session as a read-only filesystem",
		Long: `lsfs rebuilds the directory tree described by a transcript of "$ cd" and
"$ ls" commands and their output, and serves it read-only over FUSE.

Transcripts are read from a file, from stdin ("-"), or from S3 (s3://bucket/key).

Exit Codes:
  0  - Success
  1  - General error
  2  - CLI usage error (invalid arguments or flags)
  3  - Panic or unexpected system error
  10 - Invalid configuration
  11 - Malformed transcript`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}
	root.SetOut(out)
	root.SetErr(errOut)
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return fmt.Errorf("%w: %v", ErrUsage, err)
	})

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "Path to config file (default: ./"+config.ConfigFileName+" if present)")
	flags.StringVar(&a.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	flags.StringVar(&a.logFormat, "log-format", "", "Log format: console or json")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "Enable debug logging")

	root.AddCommand(
		newMountCmd(a),
		newTreeCmd(a),
		newDuCmd(a),
		newVersionCmd(),
	)
	return root
}

// Execute runs the CLI against the process arguments.
func Execute() error {
	root := NewRootCmd(os.Stdout, os.Stderr)
	err := root.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	_ = logging.Sync()
	return err
}

// setup loads configuration and initializes logging. Flags override the
// config file and environment.
func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	if a.logLevel != "" {
		cfg.LogLevel = a.logLevel
	}
	if a.logFormat != "" {
		cfg.LogFormat = a.logFormat
	}
	if a.verbose {
		cfg.LogLevel = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	if err := logging.Init(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	}); err != nil {
		return fmt.Errorf("%w: init logging: %w", ErrInvalidConfig, err)
	}

	a.cfg = cfg
	return nil
}

// exactArgs is cobra.ExactArgs with the error marked as a usage error.
func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.ExactArgs(n)(cmd, args); err != nil {
			return fmt.Errorf("%w: %v", ErrUsage, err)
		}
		return nil
	}
}
