//go:build gcp

package archive

import "context"

func openGCS(ctx context.Context, bucket string) (Blobs, error) {
	return NewGCSBlobs(ctx, bucket)
}
