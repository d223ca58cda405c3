package camera

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/sensor-monitoring/internal/httpx"
)

type fakeUploader struct {
	bucket, key, contentType string
	body                     []byte
	err                      error
}

func (f *fakeUploader) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.bucket = aws.ToString(in.Bucket)
	f.key = aws.ToString(in.Key)
	f.contentType = aws.ToString(in.ContentType)
	f.body, _ = io.ReadAll(in.Body)
	return &s3.PutObjectOutput{}, f.err
}

var fastBackoff = httpx.BackoffConfig{MaxRetries: 1, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}

func TestRunUploadsImage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write([]byte("jpeg-bytes"))
	}))
	defer srv.Close()

	up := &fakeUploader{}
	s := New(srv.URL+"/image.jpg", "snapshots", "camera.jpg", httpx.New("camera", srv.Client(), fastBackoff), up, zerolog.Nop())

	require.NoError(t, s.Run(context.Background()))
	require.Equal(t, "snapshots", up.bucket)
	require.Equal(t, "camera.jpg", up.key)
	require.Equal(t, "image/jpeg", up.contentType)
	require.Equal(t, "jpeg-bytes", string(up.body))
}

func TestRunReportsFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	up := &fakeUploader{}
	s := New(srv.URL, "snapshots", "camera.jpg", httpx.New("camera", srv.Client(), fastBackoff), up, zerolog.Nop())
	require.ErrorIs(t, s.Run(context.Background()), httpx.ErrServerError)
	require.Empty(t, up.key)

	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("x"))
	}))
	defer ok.Close()

	boom := errors.New("access denied")
	s = New(ok.URL, "snapshots", "camera.jpg", httpx.New("camera-2", ok.Client(), fastBackoff), &fakeUploader{err: boom}, zerolog.Nop())
	require.ErrorIs(t, s.Run(context.Background()), boom)
}
