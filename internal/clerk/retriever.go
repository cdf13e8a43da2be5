package clerk

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/cognicore/ptrwatch/internal/archive"
	"github.com/cognicore/ptrwatch/pkg/ptrwatch/filing"
	"github.com/cognicore/ptrwatch/pkg/ptrwatch/internalerr"
)

// Retriever downloads filing documents, consulting an archive first.
type Retriever struct {
	*client
	archive *archive.Archive
}

// NewRetriever creates a Retriever. arch may be nil.
func NewRetriever(opts Options, arch *archive.Archive) *Retriever {
	return &Retriever{client: newClient(opts), archive: arch}
}

// Fetch returns the document behind f. Missing documents are permanent
// errors wrapping internalerr.ErrNotFound; network trouble that outlives
// the retries is transient.
func (r *Retriever) Fetch(ctx context.Context, f filing.Filing) (filing.RawDocument, error) {
	logger := r.opts.Logger.With("filing_id", f.ID)

	if r.archive != nil {
		doc, found, err := r.archive.Load(ctx, f)
		switch {
		case err != nil:
			logger.Warn("archive lookup failed, refetching", "error", err)
		case found:
			logger.Debug("document served from archive")
			return doc, nil
		}
	}

	wantPDF := strings.HasSuffix(strings.ToLower(f.URL), ".pdf")
	resp, err := r.get(ctx, f.URL, "application/pdf,*/*", func(resp response) error {
		if wantPDF && !bytes.HasPrefix(resp.body, []byte("%PDF")) {
			return fmt.Errorf("%w: %s is not a PDF", internalerr.ErrUnsupportedMedia, f.URL)
		}
		return nil
	})
	if err != nil {
		return filing.RawDocument{}, fmt.Errorf("retrieve %s: %w", f.ID, err)
	}

	doc := filing.NewRawDocument(f.ID, f.URL, resp.contentType, resp.body)
	if r.archive != nil {
		if err := r.archive.Save(ctx, f, doc); err != nil {
			logger.Warn("archive store failed", "error", err)
		}
	}
	logger.Debug("document retrieved", "bytes", len(resp.body), "media", doc.Media)
	return doc, nil
}
