// Package parse extracts candidate trade rows from disclosure documents.
//
// Extraction runs as an ordered fallback. The table strategy always runs;
// the regex and line strategies only run when tables yield fewer than the
// configured threshold of records. Results are merged and deduplicated
// within the document.
package parse

import (
	"fmt"
	"log/slog"

	"github.com/cognicore/ptrwatch/pkg/ptrwatch/filing"
)

// DefaultTableThreshold is the table yield below which text strategies run.
const DefaultTableThreshold = 3

// Unit names the part of a document a parse error is attached to.
type Unit string

const (
	UnitDocument Unit = "document"
	UnitPage     Unit = "page"
	UnitRow      Unit = "row"
	UnitLine     Unit = "line"
)

// ParseError is a structured diagnostic. Only Fatal errors mean the
// document produced nothing usable.
type ParseError struct {
	Unit     Unit            `json:"unit"`
	Page     int             `json:"page,omitempty"`
	Table    int             `json:"table,omitempty"`
	Row      int             `json:"row,omitempty"`
	Strategy filing.Strategy `json:"strategy,omitempty"`
	Reason   string          `json:"reason"`
	RawText  string          `json:"raw_text,omitempty"`
	Fatal    bool            `json:"fatal,omitempty"`
}

func (e ParseError) Error() string {
	switch e.Unit {
	case UnitDocument:
		return fmt.Sprintf("document: %s", e.Reason)
	case UnitPage:
		return fmt.Sprintf("page %d: %s", e.Page, e.Reason)
	}
	return fmt.Sprintf("page %d table %d %s %d: %s", e.Page, e.Table, e.Unit, e.Row, e.Reason)
}

// Meta is the context a document is parsed under.
type Meta struct {
	Source   string
	FilingID string
	Owner    string
}

// Result is the outcome of parsing one document.
type Result struct {
	Records   []filing.ParsedRecord
	Errors    []ParseError
	Extractor string
	// Per-strategy yields before deduplication.
	TableCount   int
	RegexCount   int
	LineCount    int
	TextFallback bool
	Duplicates   int
}

// Fatal returns the document-level failure, if any.
func (r Result) Fatal() error {
	for _, e := range r.Errors {
		if e.Fatal {
			return e
		}
	}
	return nil
}

// Engine parses raw documents.
type Engine struct {
	registry  *Registry
	threshold int
	logger    *slog.Logger
}

// Options configures an Engine.
type Options struct {
	Registry       *Registry
	TableThreshold int
	Logger         *slog.Logger
}

// NewEngine creates an Engine. Zero options fall back to the built-in
// registry and DefaultTableThreshold.
func NewEngine(opts Options) *Engine {
	e := &Engine{registry: opts.Registry, threshold: opts.TableThreshold, logger: opts.Logger}
	if e.registry == nil {
		e.registry = NewRegistry()
	}
	if e.threshold <= 0 {
		e.threshold = DefaultTableThreshold
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e
}

// Parse never fails; problems are reported in Result.Errors.
func (e *Engine) Parse(doc filing.RawDocument, meta Meta) Result {
	var res Result

	ex, err := e.registry.Find(doc)
	if err != nil {
		res.Errors = append(res.Errors, ParseError{Unit: UnitDocument, Reason: err.Error(), Fatal: true})
		return res
	}
	res.Extractor = ex.Name()

	pages, err := ex.Extract(doc.Body)
	if err != nil {
		res.Errors = append(res.Errors, ParseError{Unit: UnitDocument, Reason: err.Error(), Fatal: true})
		return res
	}
	return e.parsePages(pages, meta, res)
}

// ParsePages runs the strategies over already extracted pages.
func (e *Engine) ParsePages(pages []Page, meta Meta) Result {
	return e.parsePages(pages, meta, Result{})
}

func (e *Engine) parsePages(pages []Page, meta Meta, res Result) Result {
	var recs []filing.ParsedRecord
	for _, p := range pages {
		for ti, table := range p.Tables {
			rows, errs := parseTable(table, p.Number, ti)
			recs = append(recs, rows...)
			res.Errors = append(res.Errors, errs...)
		}
	}
	res.TableCount = len(recs)

	if res.TableCount < e.threshold {
		res.TextFallback = true
		for _, p := range pages {
			rx := parseRegex(p)
			ln := parseLines(p)
			res.RegexCount += len(rx)
			res.LineCount += len(ln)
			recs = append(recs, rx...)
			recs = append(recs, ln...)
		}
	}

	recs, res.Duplicates = dedupe(recs)
	for i := range recs {
		recs[i].Owner = meta.Owner
	}
	res.Records = recs

	e.logger.Debug("document parsed",
		"filing_id", meta.FilingID,
		"extractor", res.Extractor,
		"pages", len(pages),
		"table", res.TableCount,
		"regex", res.RegexCount,
		"line", res.LineCount,
		"duplicates", res.Duplicates,
		"records", len(res.Records),
		"diagnostics", len(res.Errors))
	return res
}
