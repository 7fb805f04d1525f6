package cli

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/lsfs/lsfs/internal/config"
	"github.com/lsfs/lsfs/internal/logging"
	"github.com/lsfs/lsfs/internal/transcript"
	"github.com/lsfs/lsfs/pkg/tree"
)

const fixture = "../../pkg/tree/testdata/example.txt"

func run(t *testing.T, stdin io.Reader, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := NewRootCmd(&out, &errOut)
	if stdin != nil {
		root.SetIn(stdin)
	}
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestTreeCommand(t *testing.T) {
	out, err := run(t, nil, "tree", fixture)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	require.Len(t, lines, 14)
	assert.Equal(t, []string{
		"- / (dir, id=1)",
		"  - a (dir, id=2)",
		"    - e (dir, id=6)",
		"      - i (file, size=584, id=10)",
		"    - f (file, size=29116, id=7)",
	}, lines[:5])
	assert.Equal(t, "    - k (file, size=7214296, id=14)", lines[13])
}

func TestTreeFromStdin(t *testing.T) {
	raw, err := os.ReadFile(fixture)
	require.NoError(t, err)

	out, err := run(t, bytes.NewReader(raw), "tree", "-")
	require.NoError(t, err)
	assert.Contains(t, out, "- d.log (file, size=8033020, id=12)")
}

func TestDuCommand(t *testing.T) {
	out, err := run(t, nil, "du", fixture)
	require.NoError(t, err)
	for _, want := range []string{"48381165", "94853", "584", "24933642", "/a/e"} {
		assert.Contains(t, out, want)
	}
	assert.NotContains(t, out, "Total")

	out, err = run(t, nil, "du", "--max", "100000", fixture)
	require.NoError(t, err)
	assert.Contains(t, out, "95437")
	assert.NotContains(t, out, "24933642")
}

func TestDiskUsage(t *testing.T) {
	tr := loadFixture(t)
	assert.Equal(t, []dirUsage{
		{ID: 1, Path: "/", Size: 48381165},
		{ID: 2, Path: "/a", Size: 94853},
		{ID: 6, Path: "/a/e", Size: 584},
		{ID: 5, Path: "/d", Size: 24933642},
	}, diskUsage(tr, 0))
	assert.Len(t, diskUsage(tr, 1000), 1)
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, nil, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "lsfs dev "))
}

func TestCommandErrors(t *testing.T) {
	bad := filepath.Join(t.TempDir(), "bad.txt")
	require.NoError(t, os.WriteFile(bad, []byte("$ cd /\n$ rm -rf a\n"), 0o644))

	tests := []struct {
		name string
		args []string
		code int
	}{
		{"missing mountpoint", []string{"mount", fixture}, ExitUsageError},
		{"unknown flag", []string{"du", "--bogus", fixture}, ExitUsageError},
		{"bad s3 location", []string{"tree", "s3://bucket-only"}, ExitUsageError},
		{"bad transcript", []string{"tree", bad}, ExitTranscriptFormat},
		{"missing config", []string{"--config", "/nonexistent/lsfs.yaml", "tree", fixture}, ExitConfigError},
		{"missing transcript", []string{"tree", filepath.Join(t.TempDir(), "nope")}, ExitGeneralError},
		{"bad backend", []string{"mount", "--backend", "nfs", fixture, t.TempDir()}, ExitUsageError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, nil, tt.args...)
			require.Error(t, err)
			assert.Equal(t, tt.code, ExitCodeForError(err))
		})
	}
}

func TestExitCodeForError(t *testing.T) {
	assert.Equal(t, ExitSuccess, ExitCodeForError(nil))
	assert.Equal(t, ExitGeneralError, ExitCodeForError(errors.New("x")))
	assert.Equal(t, ExitTranscriptFormat,
		ExitCodeForError(fmt.Errorf("wrapped: %w", &tree.FormatError{Line: 1, Err: tree.ErrBadSize})))
	assert.Equal(t, ExitUsageError, ExitCodeForError(transcript.ErrBadLocation))
	assert.Equal(t, ExitConfigError, ExitCodeForError(fmt.Errorf("%w: x", config.ErrConfigNotFound)))
}

func TestMountFlagsApply(t *testing.T) {
	tests := []struct {
		name      string
		set       map[string]string
		mf        mountFlags
		wantDebug bool
		wantErr   bool
	}{
		{name: "defaults", wantDebug: false},
		{name: "debug raises log level", set: map[string]string{"debug": "true"}, mf: mountFlags{debug: true}, wantDebug: true},
		{name: "unknown backend", set: map[string]string{"backend": "nfs"}, mf: mountFlags{backend: "nfs"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logging.SetLevel("info")
			t.Cleanup(func() { logging.SetLevel("info") })

			cmd := newMountCmd(&app{})
			for k, v := range tt.set {
				require.NoError(t, cmd.Flags().Set(k, v))
			}
			cfg := config.Default()
			err := tt.mf.apply(cmd, cfg)
			if tt.wantErr {
				assert.Equal(t, ExitUsageError, ExitCodeForError(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantDebug, cfg.Mount.Debug)
			assert.Equal(t, tt.wantDebug, logging.Enabled(zapcore.DebugLevel))
		})
	}
}

func TestMetricsMux(t *testing.T) {
	srv := httptest.NewServer(newMetricsMux())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), "lsfs_http_requests_total")
}

func loadFixture(t *testing.T) *tree.Tree {
	t.Helper()
	f, err := os.Open(fixture)
	require.NoError(t, err)
	defer f.Close()
	tr, err := tree.Parse(f)
	require.NoError(t, err)
	return tr
}
