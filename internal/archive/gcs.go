//go:build gcp

package archive

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"

	"github.com/cognicore/ptrwatch/pkg/ptrwatch/internalerr"
)

// GCSBlobs stores blobs in a Google Cloud Storage bucket.
type GCSBlobs struct {
	client *storage.Client
	bucket string
}

// NewGCSBlobs uses application default credentials.
func NewGCSBlobs(ctx context.Context, bucket string) (*GCSBlobs, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create GCS client: %w", err)
	}
	return &GCSBlobs{client: client, bucket: bucket}, nil
}

func (b *GCSBlobs) Put(ctx context.Context, key string, data []byte) error {
	w := b.client.Bucket(b.bucket).Object(key).NewWriter(ctx)
	w.ContentType = "application/msgpack"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("gcs write %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("gcs close %s: %w", key, err)
	}
	return nil
}

func (b *GCSBlobs) Get(ctx context.Context, key string) ([]byte, error) {
	r, err := b.client.Bucket(b.bucket).Object(key).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("gcs %s: %w", key, internalerr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("gcs get %s: %w", key, err)
	}
	defer r.Close()
	return io.ReadAll(r)
}

func (b *GCSBlobs) Close() error { return b.client.Close() }
