package storage

import (
	"context"
	"errors"
	"io"
)

var ErrObjectNotFound = errors.New("object not found")

type Object struct {
	Name string
	Size int64
}

type ObjectIterator func(yield func(obj Object, err error) bool)

type Provider interface {
	CreateBucket(ctx context.Context, bucket string) error

	GetObject(ctx context.Context, bucket, key string) ([]byte, error)

	GetObjectStream(ctx context.Context, bucket, key string) (io.ReadCloser, error)

	PutObject(ctx context.Context, bucket, key string, data io.Reader) error

	// Names are full keys relative to the bucket, using '/' as separator.
	ListObjects(ctx context.Context, bucket, prefix string) ([]Object, error)

	IterObjects(ctx context.Context, bucket, prefix string) ObjectIterator
}

// Locker is implemented by providers that can serialise output directory
// allocation across processes.
type Locker interface {
	Lock(ctx context.Context, bucket string) (unlock func(), err error)
}
