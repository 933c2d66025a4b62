package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	gcs "cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

type GCSConfig struct {
	Bucket          string
	CredentialsFile string
	// Endpoint overrides the API endpoint, e.g. for a local emulator.
	Endpoint string
}

type GCSStore struct {
	client *gcs.Client
	bucket string
	logger *zap.Logger
}

var _ ObjectStore = (*GCSStore)(nil)

func NewGCSStore(ctx context.Context, cfg GCSConfig, logger *zap.Logger) (*GCSStore, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("gcs store: bucket must be set")
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint), option.WithoutAuthentication())
	}

	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gcs store: failed to create client: %w", err)
	}

	return &GCSStore{client: client, bucket: cfg.Bucket, logger: logger}, nil
}

func (s *GCSStore) Type() string {
	return "gcs"
}

func (s *GCSStore) Close() error {
	return s.client.Close()
}

func (s *GCSStore) Upload(ctx context.Context, objectName string, data io.Reader, contentType string) error {
	w := s.client.Bucket(s.bucket).Object(objectName).NewWriter(ctx)
	w.ContentType = contentType

	if _, err := io.Copy(w, data); err != nil {
		w.Close()
		return fmt.Errorf("failed to upload gs://%s/%s: %w", s.bucket, objectName, err)
	}
	// the object only becomes visible once Close succeeds
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finalize gs://%s/%s: %w", s.bucket, objectName, err)
	}

	s.logger.Debug("Object stored",
		zap.String("store", "gcs"),
		zap.String("bucket", s.bucket),
		zap.String("object", objectName))
	return nil
}

func (s *GCSStore) Download(ctx context.Context, objectName string) (io.ReadCloser, error) {
	r, err := s.client.Bucket(s.bucket).Object(objectName).NewReader(ctx)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return nil, fmt.Errorf("%w: gs://%s/%s", ErrObjectNotFound, s.bucket, objectName)
		}
		return nil, fmt.Errorf("failed to download gs://%s/%s: %w", s.bucket, objectName, err)
	}
	return r, nil
}

func (s *GCSStore) ListObjects(ctx context.Context, prefix string, fn func(objectName string) error) error {
	it := s.client.Bucket(s.bucket).Objects(ctx, &gcs.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to list gs://%s/%s: %w", s.bucket, prefix, err)
		}
		if err := fn(attrs.Name); err != nil {
			return err
		}
	}
}
