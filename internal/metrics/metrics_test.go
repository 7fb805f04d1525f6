package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordFSOp(t *testing.T) {
	before := testutil.ToFloat64(fsOpsTotal.WithLabelValues("gofuse", "lookup", StatusNotFound))
	RecordFSOp("gofuse", "lookup", StatusNotFound)
	RecordFSOp("gofuse", "lookup", StatusNotFound)
	after := testutil.ToFloat64(fsOpsTotal.WithLabelValues("gofuse", "lookup", StatusNotFound))
	assert.Equal(t, before+2, after)
}

func TestSetTree(t *testing.T) {
	SetTree(14, 48381165)
	assert.Equal(t, float64(14), testutil.ToFloat64(treeEntries))
	assert.Equal(t, float64(48381165), testutil.ToFloat64(treeBytes))
}

func TestRecordS3Operation(t *testing.T) {
	before := testutil.ToFloat64(s3OperationsTotal.WithLabelValues("get_object", "error"))
	RecordS3Operation("get_object", 10*time.Millisecond, false)
	assert.Equal(t, before+1, testutil.ToFloat64(s3OperationsTotal.WithLabelValues("get_object", "error")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	RecordDirEntries(3)
	AddTranscriptBytes(10)
	RecordBuild(time.Millisecond)

	srv := httptest.NewServer(Middleware(Handler()))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	body := string(raw)
	for _, name := range []string{
		"lsfs_dir_entries_listed_total",
		"lsfs_transcript_bytes_read_total",
		"lsfs_build_duration_seconds",
	} {
		assert.Contains(t, body, name)
	}
}
