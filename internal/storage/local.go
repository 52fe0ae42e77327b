package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
)

const (
	lockFileName  = ".conversions.lock"
	lockRetryWait = 50 * time.Millisecond
)

type LocalProvider struct {
	baseDir string
}

var _ Provider = &LocalProvider{}
var _ Locker = &LocalProvider{}

func NewLocalProvider(dir string) (*LocalProvider, error) {
	baseDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path for %s: %w", dir, err)
	}

	if err := os.MkdirAll(baseDir, os.ModePerm); err != nil {
		return nil, fmt.Errorf("failed to create storage directory %s: %w", baseDir, err)
	}

	return &LocalProvider{baseDir: baseDir}, nil
}

func (p *LocalProvider) fullpath(bucket, key string) string {
	return filepath.Join(p.baseDir, bucket, filepath.FromSlash(key))
}

func notFound(err error, bucket, key string) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s/%s", ErrObjectNotFound, bucket, key)
	}
	return err
}

func (p *LocalProvider) CreateBucket(ctx context.Context, bucket string) error {
	if err := os.MkdirAll(filepath.Join(p.baseDir, bucket), os.ModePerm); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
	}
	return nil
}

func (p *LocalProvider) GetObject(ctx context.Context, bucket, key string) ([]byte, error) {
	data, err := os.ReadFile(p.fullpath(bucket, key))
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s/%s: %w", bucket, key, notFound(err, bucket, key))
	}
	return data, nil
}

func (p *LocalProvider) GetObjectStream(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	file, err := os.Open(p.fullpath(bucket, key))
	if err != nil {
		return nil, fmt.Errorf("failed to open file %s/%s: %w", bucket, key, notFound(err, bucket, key))
	}
	return file, nil
}

func (p *LocalProvider) PutObject(ctx context.Context, bucket, key string, data io.Reader) error {
	path := p.fullpath(bucket, key)
	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		return fmt.Errorf("failed to create directory for %s/%s: %w", bucket, key, err)
	}

	dst, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file %s/%s: %w", bucket, key, err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, data); err != nil {
		return fmt.Errorf("failed to write file %s/%s: %w", bucket, key, err)
	}

	return nil
}

func (p *LocalProvider) ListObjects(ctx context.Context, bucket, prefix string) ([]Object, error) {
	var objects []Object
	for obj, err := range p.IterObjects(ctx, bucket, prefix) {
		if err != nil {
			return nil, err
		}
		objects = append(objects, obj)
	}
	return objects, nil
}

// IterObjects walks the whole bucket and yields the files whose key starts
// with prefix. The lock file used for directory allocation is skipped.
func (p *LocalProvider) IterObjects(ctx context.Context, bucket, prefix string) ObjectIterator {
	return func(yield func(obj Object, err error) bool) {
		root := filepath.Join(p.baseDir, bucket)

		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if path == root && errors.Is(err, fs.ErrNotExist) {
					return filepath.SkipAll
				}
				return err
			}
			if d.IsDir() {
				return nil
			}

			rel, err := filepath.Rel(root, path)
			if err != nil {
				return err
			}
			key := filepath.ToSlash(rel)
			if key == lockFileName || !strings.HasPrefix(key, prefix) {
				return nil
			}

			info, err := d.Info()
			if err != nil {
				return err
			}

			if !yield(Object{Name: key, Size: info.Size()}, nil) {
				return io.EOF
			}
			return nil
		})

		if err != nil && !errors.Is(err, io.EOF) {
			yield(Object{}, fmt.Errorf("failed to list files in %s/%s: %w", bucket, prefix, err))
		}
	}
}

// Lock takes an exclusive file lock on the bucket so that separate processes
// sharing the same storage directory never allocate the same output directory.
func (p *LocalProvider) Lock(ctx context.Context, bucket string) (func(), error) {
	if err := p.CreateBucket(ctx, bucket); err != nil {
		return nil, err
	}

	lockPath := filepath.Join(p.baseDir, bucket, lockFileName)
	fileLock := flock.New(lockPath)

	locked, err := fileLock.TryLockContext(ctx, lockRetryWait)
	if err != nil {
		return nil, fmt.Errorf("error locking %s: %w", lockPath, err)
	}
	if !locked {
		return nil, fmt.Errorf("unable to lock %s", lockPath)
	}

	return func() {
		if err := fileLock.Unlock(); err != nil {
			slog.Error("error unlocking storage lock", "path", lockPath, "error", err)
		}
	}, nil
}
