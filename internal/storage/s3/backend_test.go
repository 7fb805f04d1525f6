package s3

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/lsfs/lsfs/pkg/retry"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeClient struct {
	errs  []error
	body  string
	calls int
	input *s3.GetObjectInput
}

func (f *fakeClient) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.calls++
	f.input = in
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return nil, err
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(strings.NewReader(f.body)),
		ContentLength: aws.Int64(int64(len(f.body))),
	}, nil
}

func testRetry() retry.Config {
	return retry.Config{MaxAttempts: 3, InitialWait: time.Millisecond, MaxWait: time.Millisecond, Multiplier: 1}
}

func httpError(status int) error {
	return &smithyhttp.ResponseError{
		Response: &smithyhttp.Response{Response: &http.Response{StatusCode: status}},
		Err:      errors.New("http failure"),
	}
}

func TestGetObject(t *testing.T) {
	client := &fakeClient{body: "$ cd /\n$ ls\n1 a\n"}
	b := NewBackendWithClient(client, testRetry())

	body, size, err := b.GetObject(context.Background(), "bucket", "dumps/x.txt")
	require.NoError(t, err)
	defer body.Close()

	raw, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, client.body, string(raw))
	assert.Equal(t, int64(len(client.body)), size)
	assert.Equal(t, "bucket", aws.ToString(client.input.Bucket))
	assert.Equal(t, "dumps/x.txt", aws.ToString(client.input.Key))
}

func TestGetObjectRetriesTransientErrors(t *testing.T) {
	client := &fakeClient{
		errs: []error{
			&smithy.GenericAPIError{Code: "SlowDown", Message: "slow down"},
			httpError(http.StatusServiceUnavailable),
		},
		body: "x",
	}
	b := NewBackendWithClient(client, testRetry())

	body, _, err := b.GetObject(context.Background(), "b", "k")
	require.NoError(t, err)
	body.Close()
	assert.Equal(t, 3, client.calls)
}

func TestGetObjectMissing(t *testing.T) {
	client := &fakeClient{errs: []error{&smithy.GenericAPIError{Code: "NoSuchKey", Message: "gone"}}}
	b := NewBackendWithClient(client, testRetry())

	_, _, err := b.GetObject(context.Background(), "b", "k")
	assert.ErrorIs(t, err, ErrNoSuchObject)
	assert.Equal(t, 1, client.calls)
}

func TestGetObjectGivesUp(t *testing.T) {
	client := &fakeClient{errs: []error{
		httpError(http.StatusInternalServerError),
		httpError(http.StatusInternalServerError),
		httpError(http.StatusInternalServerError),
	}}
	b := NewBackendWithClient(client, testRetry())

	_, _, err := b.GetObject(context.Background(), "b", "k")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "s3://b/k")
	assert.Equal(t, 3, client.calls)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"forbidden", httpError(http.StatusForbidden), false},
		{"server error", httpError(http.StatusBadGateway), true},
		{"throttled", &smithy.GenericAPIError{Code: "Throttling"}, true},
		{"canceled", context.Canceled, false},
		{"transport", errors.New("connection refused"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.retryable, retry.IsRetryable(classify(tt.err)))
		})
	}
}
