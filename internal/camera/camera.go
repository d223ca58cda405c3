package camera

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"

	"github.com/i474232898/sensor-monitoring/internal/httpx"
)

const maxImageBytes = 20 << 20

// Uploader is the subset of *s3.Client used for snapshots.
type Uploader interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Snapshotter copies the current camera image to a bucket, overwriting the
// previous one under the same key.
type Snapshotter struct {
	url      string
	bucket   string
	key      string
	client   *httpx.Client
	uploader Uploader
	log      zerolog.Logger
}

func New(url, bucket, key string, client *httpx.Client, uploader Uploader, log zerolog.Logger) *Snapshotter {
	return &Snapshotter{
		url:      url,
		bucket:   bucket,
		key:      key,
		client:   client,
		uploader: uploader,
		log:      log.With().Str("component", "camera").Logger(),
	}
}

// NewS3Uploader loads the default AWS configuration for region.
func NewS3Uploader(ctx context.Context, region string) (*s3.Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}
	return s3.NewFromConfig(cfg), nil
}

// Run downloads one image and uploads it.
func (s *Snapshotter) Run(ctx context.Context) error {
	resp, err := s.client.Get(ctx, s.url)
	if err != nil {
		return fmt.Errorf("download image: %w", err)
	}
	defer resp.Body.Close()

	image, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return fmt.Errorf("read image: %w", err)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(image)
	}

	_, err = s.uploader.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key),
		Body:        bytes.NewReader(image),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("upload image: %w", err)
	}

	s.log.Debug().Int("bytes", len(image)).Str("key", s.key).Msg("camera image uploaded")
	return nil
}
