package parse

import (
	"fmt"
	"strings"

	"github.com/cognicore/ptrwatch/pkg/ptrwatch/filing"
	"github.com/cognicore/ptrwatch/pkg/ptrwatch/internalerr"
)

// Page is one unit of extracted content. Tables holds the cell grids the
// extractor could recognize; Text is the flattened page for pattern
// matching.
type Page struct {
	Number int
	Text   string
	Tables [][][]string
}

// Extractor turns raw document bytes into pages.
type Extractor interface {
	// Name returns the unique name of the extractor.
	Name() string
	// CanExtract reports whether this extractor handles doc.
	CanExtract(doc filing.RawDocument) bool
	// Extract splits the document into pages.
	Extract(body []byte) ([]Page, error)
}

// Registry holds the available extractors and picks the first that accepts
// a document.
type Registry struct {
	extractors []Extractor
}

// NewRegistry returns a registry with the PDF, delimited and plain text
// extractors, in that order.
func NewRegistry() *Registry {
	return &Registry{
		extractors: []Extractor{
			NewPDFExtractor(),
			NewDelimitedExtractor(),
			NewTextExtractor(),
		},
	}
}

// Register adds an extractor after the built-in ones.
func (r *Registry) Register(e Extractor) {
	r.extractors = append(r.extractors, e)
}

// Find returns the extractor for doc.
func (r *Registry) Find(doc filing.RawDocument) (Extractor, error) {
	for _, e := range r.extractors {
		if e.CanExtract(doc) {
			return e, nil
		}
	}
	return nil, fmt.Errorf("no extractor for %s document %s: %w", doc.Media, doc.FilingID, internalerr.ErrUnsupportedMedia)
}

// ByName returns an extractor by its name.
func (r *Registry) ByName(name string) (Extractor, error) {
	name = strings.ToLower(name)
	for _, e := range r.extractors {
		if strings.ToLower(e.Name()) == name {
			return e, nil
		}
	}
	return nil, fmt.Errorf("extractor not found: %s", name)
}
