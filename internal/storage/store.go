package storage

import (
	"context"
	"errors"
	"io"
)

var ErrObjectNotFound = errors.New("object not found")

// ObjectStore is a flat key/value blob store bound to one bucket or directory.
type ObjectStore interface {
	Upload(ctx context.Context, objectName string, data io.Reader, contentType string) error
	// Download returns a reader the caller must close.
	Download(ctx context.Context, objectName string) (io.ReadCloser, error)
	ListObjects(ctx context.Context, prefix string, fn func(objectName string) error) error
	Type() string
	Close() error
}
