// Package objectstore moves local files to and from a cloud storage bucket.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// ErrNotFound is returned by Get for a missing object.
var ErrNotFound = errors.New("object not found")

// Store uploads and downloads objects by key.
type Store interface {
	Put(ctx context.Context, localPath, key string) error
	Get(ctx context.Context, key, localPath string) error
}

type bucket interface {
	writer(ctx context.Context, key string) io.WriteCloser
	reader(ctx context.Context, key string) (io.ReadCloser, error)
}

// GCS stores objects in a Google Cloud Storage bucket.
type GCS struct {
	client *storage.Client
	bucket bucket
	name   string
}

// NewGCS opens bucket. credentialsFile may be empty to use application default credentials.
func NewGCS(ctx context.Context, bucketName, credentialsFile string) (*GCS, error) {
	if bucketName == "" {
		return nil, errors.New("bucket name is required")
	}
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &GCS{client: client, bucket: gcsBucket{client.Bucket(bucketName)}, name: bucketName}, nil
}

// Bucket returns the bucket name.
func (g *GCS) Bucket() string { return g.name }

// Put uploads the file at localPath as key. A failed upload leaves no object behind.
func (g *GCS) Put(ctx context.Context, localPath, key string) error {
	key, err := cleanKey(key)
	if err != nil {
		return err
	}
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close()

	// Cancelling the writer context aborts the upload instead of committing what was sent.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := g.bucket.writer(ctx, key)
	if _, err := io.Copy(w, f); err != nil {
		cancel()
		_ = w.Close()
		return fmt.Errorf("upload %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalize upload %s: %w", key, err)
	}
	return nil
}

// Get downloads key into localPath, creating parent directories.
// localPath is replaced only once the whole object has been read.
func (g *GCS) Get(ctx context.Context, key, localPath string) error {
	key, err := cleanKey(key)
	if err != nil {
		return err
	}
	r, err := g.bucket.reader(ctx, key)
	if err != nil {
		return err
	}
	defer r.Close()

	dir := filepath.Dir(localPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(localPath)+".*.part")
	if err != nil {
		return fmt.Errorf("create %s: %w", localPath, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("download %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("download %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), localPath); err != nil {
		return fmt.Errorf("move %s: %w", localPath, err)
	}
	return nil
}

// Close releases the storage client.
func (g *GCS) Close() error {
	if g.client == nil {
		return nil
	}
	return g.client.Close()
}

func cleanKey(key string) (string, error) {
	key = strings.TrimLeft(strings.TrimSpace(key), "/")
	if key == "" {
		return "", errors.New("object key is required")
	}
	return key, nil
}

type gcsBucket struct {
	h *storage.BucketHandle
}

func (b gcsBucket) writer(ctx context.Context, key string) io.WriteCloser {
	return b.h.Object(key).NewWriter(ctx)
}

func (b gcsBucket) reader(ctx context.Context, key string) (io.ReadCloser, error) {
	r, err := b.h.Object(key).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("open object %s: %w", key, err)
	}
	return r, nil
}
