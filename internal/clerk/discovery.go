package clerk

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/cognicore/ptrwatch/pkg/ptrwatch/filing"
)

var zipLinkPattern = regexp.MustCompile(`/public_disc/financial-pdfs/(\d{4})FD\.zip$`)

// Discoverer finds PTR filings through the clerk's yearly bulk index.
type Discoverer struct {
	*client
	now func() time.Time
}

// NewDiscoverer creates a Discoverer.
func NewDiscoverer(opts Options) *Discoverer {
	return &Discoverer{client: newClient(opts), now: time.Now}
}

// Discover returns PTR filings for every year in years, deduplicated by
// URL. A limit above zero caps the result. Years that fail are logged and
// skipped; the error is non-nil only when every year failed.
func (d *Discoverer) Discover(ctx context.Context, years filing.YearRange, limit int) ([]filing.Filing, error) {
	if err := years.Validate(); err != nil {
		return nil, err
	}
	logger := d.opts.Logger.With("years", years.String())
	links := d.downloadLinks(ctx)

	var (
		out     []filing.Filing
		seen    = make(map[string]bool)
		yearErr []error
	)
	for _, year := range years.Years() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		zipURL, ok := links[year]
		if !ok {
			zipURL = IndexZipURL(d.opts.BaseURL, year)
		}

		found, err := d.discoverYear(ctx, year, zipURL)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			logger.Error("year discovery failed", "year", year, "error", err)
			yearErr = append(yearErr, fmt.Errorf("year %d: %w", year, err))
			continue
		}
		added := 0
		for _, f := range found {
			if seen[f.URL] {
				continue
			}
			seen[f.URL] = true
			out = append(out, f)
			added++
			if limit > 0 && len(out) >= limit {
				break
			}
		}
		logger.Info("year discovery completed", "year", year, "filings_found", added)
		if limit > 0 && len(out) >= limit {
			break
		}
	}

	if len(yearErr) == len(years.Years()) {
		return nil, fmt.Errorf("discovery failed for every year: %w", errors.Join(yearErr...))
	}
	logger.Info("discovery completed", "total_found", len(out), "years_failed", len(yearErr))
	return out, nil
}

// downloadLinks scrapes the download page for yearly index archives. A
// failure is logged and yields no links, so constructed URLs are used.
func (d *Discoverer) downloadLinks(ctx context.Context) map[int]string {
	page := d.opts.BaseURL + "/FinancialDisclosure"
	resp, err := d.get(ctx, page, "text/html", nil)
	if err != nil {
		d.opts.Logger.Warn("download page unavailable, using constructed URLs", "error", err)
		return nil
	}
	links, err := FindIndexLinks(bytes.NewReader(resp.body), page)
	if err != nil {
		d.opts.Logger.Warn("download page unparseable, using constructed URLs", "error", err)
		return nil
	}
	return links
}

func (d *Discoverer) discoverYear(ctx context.Context, year int, zipURL string) ([]filing.Filing, error) {
	resp, err := d.get(ctx, zipURL, "application/zip", func(r response) error {
		if !bytes.HasPrefix(r.body, []byte("PK")) {
			return fmt.Errorf("%s is not a zip archive", zipURL)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	zr, err := zip.NewReader(bytes.NewReader(resp.body), int64(len(resp.body)))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", zipURL, err)
	}
	want := strconv.Itoa(year) + "FD.txt"
	var index *zip.File
	for _, f := range zr.File {
		if strings.EqualFold(path.Base(f.Name), want) {
			index = f
			break
		}
	}
	if index == nil {
		return nil, fmt.Errorf("%s not found in %s", want, zipURL)
	}

	rc, err := index.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", want, err)
	}
	defer rc.Close()

	entries, rowErrs, err := ParseIndex(rc, year)
	if err != nil {
		return nil, err
	}
	if len(rowErrs) > 0 {
		d.opts.Logger.Warn("index rows skipped", "year", year, "count", len(rowErrs), "first", rowErrs[0].Error())
	}

	now := d.now().UTC()
	var out []filing.Filing
	for _, e := range entries {
		if e.FilingType != filing.TypePTR {
			continue
		}
		out = append(out, e.Filing(d.opts.BaseURL, now))
	}
	return out, nil
}

// FindIndexLinks returns the yearly index archive links on the download
// page, resolved against pageURL.
func FindIndexLinks(r io.Reader, pageURL string) (map[int]string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, err
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, err
	}

	links := make(map[int]string)
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			for _, a := range n.Attr {
				if a.Key != "href" {
					continue
				}
				ref, err := url.Parse(strings.TrimSpace(a.Val))
				if err != nil {
					continue
				}
				abs := base.ResolveReference(ref)
				if m := zipLinkPattern.FindStringSubmatch(abs.Path); m != nil {
					year, _ := strconv.Atoi(m[1])
					links[year] = abs.String()
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return links, nil
}
