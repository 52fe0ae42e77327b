//go:build integration

package integrationtests

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"conll-backend/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestS3Provider(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	s3 := setupS3Provider(t, ctx)

	t.Run("PutObject and GetObject", func(t *testing.T) {
		require.NoError(t, s3.PutObject(ctx, dataBucket, "dir/file.txt", strings.NewReader("test content")))

		data, err := s3.GetObject(ctx, dataBucket, "dir/file.txt")
		require.NoError(t, err)
		assert.Equal(t, "test content", string(data))

		stream, err := s3.GetObjectStream(ctx, dataBucket, "dir/file.txt")
		require.NoError(t, err)
		defer stream.Close()

		streamed, err := io.ReadAll(stream)
		require.NoError(t, err)
		assert.Equal(t, "test content", string(streamed))
	})

	t.Run("Missing object", func(t *testing.T) {
		_, err := s3.GetObject(ctx, dataBucket, "dir/missing.txt")
		assert.ErrorIs(t, err, storage.ErrObjectNotFound)

		_, err = s3.GetObjectStream(ctx, dataBucket, "dir/missing.txt")
		assert.ErrorIs(t, err, storage.ErrObjectNotFound)
	})

	t.Run("ListObjects", func(t *testing.T) {
		for _, key := range []string{"list/a.txt", "list/sub/b.txt", "other/c.txt"} {
			require.NoError(t, s3.PutObject(ctx, dataBucket, key, strings.NewReader(key)))
		}

		objs, err := s3.ListObjects(ctx, dataBucket, "list/")
		require.NoError(t, err)

		names := make([]string, 0, len(objs))
		for _, obj := range objs {
			names = append(names, obj.Name)
		}
		assert.ElementsMatch(t, []string{"list/a.txt", "list/sub/b.txt"}, names)
	})

	t.Run("NewOutputDir", func(t *testing.T) {
		now := time.Date(2024, time.March, 5, 0, 0, 0, 0, time.UTC)

		first, err := storage.NewOutputDir(ctx, s3, dataBucket, "", now)
		require.NoError(t, err)
		assert.Equal(t, "05-Mar-2024-0001", first)

		second, err := storage.NewOutputDir(ctx, s3, dataBucket, "", now)
		require.NoError(t, err)
		assert.Equal(t, "05-Mar-2024-0002", second)
	})
}
