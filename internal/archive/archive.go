// Package archive keeps retrieved documents so a filing is downloaded from
// the clerk at most once.
//
// Documents are stored as msgpack envelopes under "<prefix>/<year>/<id>.msgpack"
// in a pluggable blob backend: a local directory, S3 or GCS.
package archive

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strconv"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/cognicore/ptrwatch/pkg/ptrwatch/filing"
	"github.com/cognicore/ptrwatch/pkg/ptrwatch/internalerr"
)

// ErrCorrupt is returned by Load when an archived body no longer matches
// its recorded hash.
var ErrCorrupt = errors.New("archived document corrupt")

// Blobs is a flat key/value blob backend. Get wraps internalerr.ErrNotFound
// for missing keys.
type Blobs interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Close() error
}

// Archive stores RawDocuments in a Blobs backend.
type Archive struct {
	blobs  Blobs
	prefix string
}

// New wraps blobs. prefix may be empty.
func New(blobs Blobs, prefix string) *Archive {
	return &Archive{blobs: blobs, prefix: prefix}
}

// Key is the object key for a filing's document.
func (a *Archive) Key(f filing.Filing) string {
	year := "unknown"
	if f.Year > 0 {
		year = strconv.Itoa(f.Year)
	}
	return path.Join(a.prefix, year, f.ID+".msgpack")
}

// Save archives doc under f's key.
func (a *Archive) Save(ctx context.Context, f filing.Filing, doc filing.RawDocument) error {
	data, err := msgpack.Marshal(&doc)
	if err != nil {
		return fmt.Errorf("encode %s: %w", f.ID, err)
	}
	if err := a.blobs.Put(ctx, a.Key(f), data); err != nil {
		return fmt.Errorf("archive %s: %w", f.ID, err)
	}
	return nil
}

// Load returns the archived document for f. found is false when nothing is
// archived; a document failing its hash check yields ErrCorrupt.
func (a *Archive) Load(ctx context.Context, f filing.Filing) (filing.RawDocument, bool, error) {
	data, err := a.blobs.Get(ctx, a.Key(f))
	if errors.Is(err, internalerr.ErrNotFound) {
		return filing.RawDocument{}, false, nil
	}
	if err != nil {
		return filing.RawDocument{}, false, fmt.Errorf("load %s: %w", f.ID, err)
	}
	var doc filing.RawDocument
	if err := msgpack.Unmarshal(data, &doc); err != nil {
		return filing.RawDocument{}, false, fmt.Errorf("decode %s: %w: %v", f.ID, ErrCorrupt, err)
	}
	if !doc.Verify() {
		return filing.RawDocument{}, false, fmt.Errorf("%s: %w", f.ID, ErrCorrupt)
	}
	return doc, true, nil
}

// Close releases the backend.
func (a *Archive) Close() error { return a.blobs.Close() }
