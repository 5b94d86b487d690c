package objectstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

type memBucket struct {
	objects map[string][]byte
	// broken objects fail after their stored bytes have been read.
	broken map[string]bool
}

// memWriter commits on Close unless its context was cancelled, like a storage writer.
type memWriter struct {
	bytes.Buffer
	ctx    context.Context
	commit func([]byte)
}

func (w *memWriter) Close() error {
	if err := w.ctx.Err(); err != nil {
		return err
	}
	w.commit(w.Bytes())
	return nil
}

func (b *memBucket) writer(ctx context.Context, key string) io.WriteCloser {
	return &memWriter{ctx: ctx, commit: func(data []byte) { b.objects[key] = append([]byte(nil), data...) }}
}

func (b *memBucket) reader(_ context.Context, key string) (io.ReadCloser, error) {
	data, ok := b.objects[key]
	if !ok {
		return nil, ErrNotFound
	}
	if b.broken[key] {
		return io.NopCloser(io.MultiReader(bytes.NewReader(data), errReader{})), nil
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

type errReader struct{}

func (errReader) Read([]byte) (int, error) { return 0, errors.New("connection reset by peer") }

func TestPutGetRoundTrip(t *testing.T) {
	mem := &memBucket{objects: map[string][]byte{}}
	store := &GCS{bucket: mem, name: "city-pulse-test"}
	dir := t.TempDir()

	src := filepath.Join(dir, "laporan.pdf")
	require.NoError(t, os.WriteFile(src, []byte("%PDF-1.4 laporan banjir"), 0o600))

	require.NoError(t, store.Put(context.Background(), src, "/docs/laporan.pdf"))
	require.Contains(t, mem.objects, "docs/laporan.pdf")

	dst := filepath.Join(dir, "unduhan", "laporan.pdf")
	require.NoError(t, store.Get(context.Background(), "docs/laporan.pdf", dst))

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	require.Equal(t, "%PDF-1.4 laporan banjir", string(got))
}

func TestGetMissingObject(t *testing.T) {
	store := &GCS{bucket: &memBucket{objects: map[string][]byte{}}}
	err := store.Get(context.Background(), "tidak-ada.pdf", filepath.Join(t.TempDir(), "x"))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestPutValidatesInput(t *testing.T) {
	store := &GCS{bucket: &memBucket{objects: map[string][]byte{}}}
	require.Error(t, store.Put(context.Background(), "/does/not/exist", "key"))
	require.Error(t, store.Put(context.Background(), "/does/not/exist", "  "))
}

func TestPutFailedReadStoresNothing(t *testing.T) {
	mem := &memBucket{objects: map[string][]byte{}}
	store := &GCS{bucket: mem}

	// Reading a directory fails after it has been opened.
	err := store.Put(context.Background(), t.TempDir(), "docs/laporan.pdf")
	require.ErrorContains(t, err, "upload docs/laporan.pdf")
	require.NotContains(t, mem.objects, "docs/laporan.pdf")
}

func TestGetInterruptedKeepsExistingFile(t *testing.T) {
	mem := &memBucket{
		objects: map[string][]byte{"docs/laporan.pdf": []byte("%PDF-1.4 sebagian")},
		broken:  map[string]bool{"docs/laporan.pdf": true},
	}
	store := &GCS{bucket: mem}
	dir := t.TempDir()
	dst := filepath.Join(dir, "laporan.pdf")
	require.NoError(t, os.WriteFile(dst, []byte("versi lama"), 0o600))

	err := store.Get(context.Background(), "docs/laporan.pdf", dst)
	require.ErrorContains(t, err, "connection reset by peer")

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	require.Equal(t, "versi lama", string(got))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestGetInterruptedLeavesNoFile(t *testing.T) {
	mem := &memBucket{
		objects: map[string][]byte{"a.pdf": []byte("%PDF")},
		broken:  map[string]bool{"a.pdf": true},
	}
	store := &GCS{bucket: mem}
	dst := filepath.Join(t.TempDir(), "unduhan", "a.pdf")

	require.Error(t, store.Get(context.Background(), "a.pdf", dst))
	_, err := os.Stat(dst)
	require.ErrorIs(t, err, os.ErrNotExist)
}
