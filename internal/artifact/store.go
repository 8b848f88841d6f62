// Package artifact provides the optional S3-compatible store that keeps a
// copy of every artifact a job hands to an external destination.
package artifact

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/vk/pipegrid/internal/config"
	"github.com/vk/pipegrid/internal/stage"
)

// S3Store implements stage.ArtifactSink against an S3-compatible endpoint.
type S3Store struct {
	client *minio.Client
	bucket string
	region string
	prefix string

	initOnce sync.Once
	initErr  error
}

// NewS3Store builds a store from the pipeline's artifacts block and its
// resolved credentials.
func NewS3Store(cfg *config.Artifacts, accessKey, secretKey, prefix string) (*S3Store, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" || strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("artifact store requires an endpoint and a bucket")
	}
	if accessKey == "" || secretKey == "" {
		return nil, fmt.Errorf("artifact store requires access and secret keys")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("init artifact store client: %w", err)
	}

	return &S3Store{
		client: client,
		bucket: cfg.Bucket,
		region: region,
		prefix: prefix,
	}, nil
}

// ensureBucket lazily creates the bucket on first use.
func (s *S3Store) ensureBucket(ctx context.Context) error {
	s.initOnce.Do(func() {
		exists, err := s.client.BucketExists(ctx, s.bucket)
		if err != nil {
			s.initErr = err
			return
		}
		if exists {
			return
		}
		s.initErr = s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region})
	})
	return s.initErr
}

// Store implements stage.ArtifactSink. Objects are keyed by pipeline
// prefix, run id, and artifact name so matrix legs never collide.
func (s *S3Store) Store(ctx context.Context, runID, name string, r io.Reader, size int64, contentType string) error {
	if err := s.ensureBucket(ctx); err != nil {
		return fmt.Errorf("ensure bucket: %w", err)
	}
	key := fmt.Sprintf("%s/%s/%s", s.prefix, runID, name)
	_, err := s.client.PutObject(ctx, s.bucket, key, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	return err
}

// Discard is the sink used when no artifact store is configured.
type Discard struct{}

// Store implements stage.ArtifactSink by dropping the artifact.
func (Discard) Store(context.Context, string, string, io.Reader, int64, string) error {
	return nil
}

var _ stage.ArtifactSink = (*S3Store)(nil)
var _ stage.ArtifactSink = Discard{}
