package archive

import (
	"context"
	"fmt"

	"github.com/cognicore/ptrwatch/pkg/ptrwatch/config"
	"github.com/cognicore/ptrwatch/pkg/ptrwatch/internalerr"
)

// Open builds the archive cfg selects. An empty kind disables archiving and
// returns nil.
func Open(ctx context.Context, cfg config.ArchiveConfig) (*Archive, error) {
	var (
		blobs Blobs
		err   error
	)
	switch cfg.Kind {
	case "":
		return nil, nil
	case "fs":
		blobs, err = NewFileBlobs(cfg.Dir)
	case "s3":
		blobs, err = NewS3Blobs(ctx, S3Config{Bucket: cfg.Bucket, Region: cfg.Region, Endpoint: cfg.Endpoint})
	case "gcs":
		blobs, err = openGCS(ctx, cfg.Bucket)
	default:
		return nil, fmt.Errorf("%w: unknown archive kind %q", internalerr.ErrInvalidConfig, cfg.Kind)
	}
	if err != nil {
		return nil, err
	}
	return New(blobs, cfg.Prefix), nil
}
