package cli

import (
	"errors"

	"github.com/lsfs/lsfs/internal/config"
	"github.com/lsfs/lsfs/internal/transcript"
	"github.com/lsfs/lsfs/pkg/tree"
)

// Exit codes.
const (
	ExitSuccess          = 0
	ExitGeneralError     = 1
	ExitUsageError       = 2
	ExitPanic            = 3
	ExitConfigError      = 10
	ExitTranscriptFormat = 11
)

var (
	// ErrUsage marks bad arguments or flags.
	ErrUsage = errors.New("usage error")
	// ErrInvalidConfig marks configuration that could not be loaded or is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// ExitCodeForError returns the process exit code for err.
func ExitCodeForError(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var formatErr *tree.FormatError
	switch {
	case errors.As(err, &formatErr):
		return ExitTranscriptFormat
	case errors.Is(err, ErrUsage), errors.Is(err, transcript.ErrBadLocation):
		return ExitUsageError
	case errors.Is(err, ErrInvalidConfig), errors.Is(err, config.ErrConfigNotFound):
		return ExitConfigError
	}
	return ExitGeneralError
}
