package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cognicore/ptrwatch/pkg/ptrwatch/filing"
	"github.com/cognicore/ptrwatch/pkg/ptrwatch/internalerr"
	"github.com/cognicore/ptrwatch/pkg/ptrwatch/normalize"
	"github.com/cognicore/ptrwatch/pkg/ptrwatch/parse"
)

// work carries one filing through the stages.
type work struct {
	filing  filing.Filing
	doc     filing.RawDocument
	parsed  []filing.ParsedRecord
	records []filing.CanonicalRecord
	failed  bool
}

// RunFull discovers filings for years and runs every stage. A limit of 0
// means no limit. The returned report is never nil; its Err reports a
// stage-level failure.
func (p *Pipeline) RunFull(ctx context.Context, years filing.YearRange, limit int) *RunReport {
	r := p.begin(ModeFull)
	filings, ok := p.discover(ctx, r, years, limit)
	if ok {
		p.process(ctx, r, filings)
	}
	return p.finish(ctx, r)
}

// RunDiscoveryOnly runs discovery and, when storage is configured,
// persists the discovered filings linked to their resolved owners.
func (p *Pipeline) RunDiscoveryOnly(ctx context.Context, years filing.YearRange, limit int) ([]filing.Filing, *RunReport) {
	r := p.begin(ModeDiscoveryOnly)
	filings, ok := p.discover(ctx, r, years, limit)
	if ok && p.storage != nil {
		p.registerAll(ctx, r, filings)
	}
	return filings, p.finish(ctx, r)
}

// RunDownloadOnly discovers filings and fetches their documents without
// parsing them. The retriever archives what it fetches, so a later run
// reads from the archive instead of the clerk.
func (p *Pipeline) RunDownloadOnly(ctx context.Context, years filing.YearRange, limit int) *RunReport {
	r := p.begin(ModeDownloadOnly)
	filings, ok := p.discover(ctx, r, years, limit)
	if !ok {
		return p.finish(ctx, r)
	}
	if err := ctx.Err(); err != nil {
		p.failRun(r, StageRetrieval, err)
		return p.finish(ctx, r)
	}
	items := make([]*work, len(filings))
	for i, f := range filings {
		items[i] = &work{filing: f}
	}
	p.stage(r, StatusRetrieving)
	p.retrieveAll(ctx, r, items)
	return p.finish(ctx, r)
}

// RunBulk loads the filing index into the store: every discovered filing
// is upserted and its member resolved, with no document retrieval. Unlike
// RunDiscoveryOnly a missing or unreachable store fails the run.
func (p *Pipeline) RunBulk(ctx context.Context, years filing.YearRange, limit int) *RunReport {
	r := p.begin(ModeBulk)
	filings, ok := p.discover(ctx, r, years, limit)
	if !ok {
		return p.finish(ctx, r)
	}
	if err := ctx.Err(); err != nil {
		p.failRun(r, StageStorage, err)
		return p.finish(ctx, r)
	}
	p.stage(r, StatusStoring)
	if p.storage == nil || p.store == nil {
		p.failRun(r, StageStorage, errors.New("no store configured"))
		return p.finish(ctx, r)
	}
	if err := p.store.Ping(ctx); err != nil {
		p.failRun(r, StageStorage, err)
		return p.finish(ctx, r)
	}
	p.registerAll(ctx, r, filings)
	return p.finish(ctx, r)
}

// registerAll upserts filings with their owners and counts the distinct
// members seen.
func (p *Pipeline) registerAll(ctx context.Context, r *run, filings []filing.Filing) {
	var mu sync.Mutex
	owners := make(map[string]bool)
	p.forEach(ctx, r, StageStorage, len(filings), func(i int) string { return filings[i].ID },
		func(ctx context.Context, i int) error {
			owner, err := p.storage.RegisterFiling(ctx, filings[i])
			if err != nil {
				return err
			}
			mu.Lock()
			owners[owner.ID] = true
			mu.Unlock()
			r.rec.add(func(rep *RunReport) { rep.Filings++ })
			return nil
		})
	r.rec.add(func(rep *RunReport) { rep.Entities = len(owners) })
}

// RunFromFilings skips discovery and processes filings already known to
// the store. Unknown IDs are counted as errors.
func (p *Pipeline) RunFromFilings(ctx context.Context, ids []string) *RunReport {
	r := p.begin(ModeFromFilings)
	p.stage(r, StatusDiscovering)
	if p.store == nil {
		p.failRun(r, StageDiscovery, errors.New("no store configured"))
		return p.finish(ctx, r)
	}
	filings, err := p.store.GetFilings(ctx, ids)
	if err != nil {
		p.failRun(r, StageDiscovery, err)
		return p.finish(ctx, r)
	}
	known := make(map[string]bool, len(filings))
	for _, f := range filings {
		known[f.ID] = true
	}
	for _, id := range ids {
		if !known[id] {
			r.rec.fail(StageDiscovery, id, internalerr.Permanent("lookup", fmt.Errorf("filing %s: %w", id, internalerr.ErrNotFound)))
		}
	}
	r.rec.add(func(rep *RunReport) { rep.Discovered = len(filings) })
	p.process(ctx, r, filings)
	return p.finish(ctx, r)
}

// RunWithFilings skips discovery and processes the given filings.
func (p *Pipeline) RunWithFilings(ctx context.Context, filings []filing.Filing) *RunReport {
	r := p.begin(ModeWithFilings)
	p.stage(r, StatusDiscovering)
	valid := make([]filing.Filing, 0, len(filings))
	for _, f := range filings {
		if err := f.Validate(); err != nil {
			r.rec.fail(StageDiscovery, f.ID, internalerr.Permanent("validate", err))
			continue
		}
		valid = append(valid, f)
	}
	r.rec.add(func(rep *RunReport) { rep.Discovered = len(valid) })
	p.process(ctx, r, valid)
	return p.finish(ctx, r)
}

func (p *Pipeline) discover(ctx context.Context, r *run, years filing.YearRange, limit int) ([]filing.Filing, bool) {
	p.stage(r, StatusDiscovering)
	if p.discoverer == nil {
		p.failRun(r, StageDiscovery, errors.New("no discoverer configured"))
		return nil, false
	}
	filings, err := p.discoverer.Discover(ctx, years, limit)
	if err != nil {
		p.failRun(r, StageDiscovery, err)
		return nil, false
	}
	p.metrics.items(ctx, StageDiscovery, len(filings))
	r.rec.add(func(rep *RunReport) { rep.Discovered = len(filings) })
	r.logger.Info("discovery finished", "years", years.String(), "filings", len(filings))
	return filings, true
}

// process runs retrieval through storage over filings.
func (p *Pipeline) process(ctx context.Context, r *run, filings []filing.Filing) {
	items := make([]*work, len(filings))
	for i, f := range filings {
		items[i] = &work{filing: f}
	}
	steps := []struct {
		status Status
		run    func(context.Context, *run, []*work) bool
	}{
		{StatusRetrieving, p.retrieveAll},
		{StatusParsing, p.parseAll},
		{StatusNormalizing, p.normalizeAll},
		{StatusStoring, p.storeAll},
	}
	for _, s := range steps {
		if err := ctx.Err(); err != nil {
			p.failRun(r, string(s.status), err)
			return
		}
		p.stage(r, s.status)
		if !s.run(ctx, r, items) {
			return
		}
	}
}

func live(items []*work) []*work {
	out := make([]*work, 0, len(items))
	for _, it := range items {
		if !it.failed {
			out = append(out, it)
		}
	}
	return out
}

func (p *Pipeline) retrieveAll(ctx context.Context, r *run, items []*work) bool {
	if p.retriever == nil {
		p.failRun(r, StageRetrieval, errors.New("no retriever configured"))
		return false
	}
	p.forEach(ctx, r, StageRetrieval, len(items), func(i int) string { return items[i].filing.ID },
		func(ctx context.Context, i int) error {
			it := items[i]
			it.failed = true
			doc, err := p.retriever.Fetch(ctx, it.filing)
			if err != nil {
				return err
			}
			it.doc, it.failed = doc, false
			r.rec.add(func(rep *RunReport) { rep.Retrieved++ })
			return nil
		})
	return true
}

func (p *Pipeline) parseAll(ctx context.Context, r *run, items []*work) bool {
	todo := live(items)
	p.forEach(ctx, r, StageParsing, len(todo), func(i int) string { return todo[i].filing.ID },
		func(ctx context.Context, i int) error {
			it := todo[i]
			it.failed = true
			res := p.parser.Parse(it.doc, parse.Meta{
				Source:   it.filing.SourceOrDefault(),
				FilingID: it.filing.ID,
				Owner:    it.filing.Owner.FullName,
			})
			if err := res.Fatal(); err != nil {
				return internalerr.Permanent("parse", err)
			}
			it.parsed, it.failed = res.Records, false
			it.doc.Body = nil
			r.rec.add(func(rep *RunReport) {
				rep.Parsed += len(res.Records)
				rep.ParseDiagnostics += len(res.Errors)
			})
			return nil
		})
	return true
}

func (p *Pipeline) normalizeAll(ctx context.Context, r *run, items []*work) bool {
	todo := live(items)
	p.forEach(ctx, r, StageNormalization, len(todo), func(i int) string { return todo[i].filing.ID },
		func(ctx context.Context, i int) error {
			it := todo[i]
			nc := normalize.ContextFor(it.filing)
			var warnings int
			for _, pr := range it.parsed {
				res := p.normalizer.Normalize(pr, nc)
				warnings += len(res.Warnings)
				if !res.OK {
					r.rec.reject(StageNormalization, it.filing.ID, res.Reason)
					r.logger.Info("record rejected", "filing_id", it.filing.ID, "asset", pr.AssetName, "reason", res.Reason)
					continue
				}
				it.records = append(it.records, res.Record)
			}
			r.rec.add(func(rep *RunReport) {
				rep.Normalized += len(it.records)
				rep.DataQualityWarnings += warnings
			})
			return nil
		})
	return true
}

func (p *Pipeline) storeAll(ctx context.Context, r *run, items []*work) bool {
	if p.storage == nil || p.store == nil {
		p.failRun(r, StageStorage, errors.New("no store configured"))
		return false
	}
	if err := p.store.Ping(ctx); err != nil {
		p.failRun(r, StageStorage, err)
		return false
	}
	todo := live(items)
	p.forEach(ctx, r, StageStorage, len(todo), func(i int) string { return todo[i].filing.ID },
		func(ctx context.Context, i int) error {
			it := todo[i]
			out, err := p.storage.StoreFiling(ctx, it.filing, it.records)
			r.rec.add(func(rep *RunReport) {
				rep.Inserted += out.Inserted
				rep.Updated += out.Updated
				rep.Skipped += out.Skipped
				rep.Stored += out.Stored()
			})
			for _, re := range out.Errors {
				r.rec.fail(StageStorage, it.filing.ID, re)
			}
			return err
		})
	return true
}
