package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cognicore/ptrwatch/pkg/ptrwatch/filing"
	"github.com/cognicore/ptrwatch/pkg/ptrwatch/normalize"
	"github.com/cognicore/ptrwatch/pkg/ptrwatch/parse"
	"github.com/cognicore/ptrwatch/pkg/ptrwatch/store"
)

// Health states.
const (
	Healthy   = "healthy"
	Unhealthy = "unhealthy"
	Degraded  = "degraded"
)

// ComponentHealth is the result of probing one collaborator.
type ComponentHealth struct {
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Health is the outcome of HealthCheck.
type Health struct {
	Status     string                     `json:"status"`
	Components map[string]ComponentHealth `json:"components"`
	Integrity  *store.IntegrityStats      `json:"integrity,omitempty"`
	Timestamp  time.Time                  `json:"timestamp"`
}

// Err is non-nil when any component is unhealthy.
func (h Health) Err() error {
	if h.Status == Healthy {
		return nil
	}
	var bad []string
	for name, c := range h.Components {
		if c.Status != Healthy {
			bad = append(bad, fmt.Sprintf("%s: %s", name, c.Detail))
		}
	}
	return fmt.Errorf("pipeline degraded: %s", strings.Join(bad, "; "))
}

const probeLine = "Purchase Microsoft Corp MSFT 03/06/2024 $15,001 - $50,000"

// HealthCheck probes discovery (limit 1, current year), the store, the
// parser and the normalizer without writing anything.
func (p *Pipeline) HealthCheck(ctx context.Context) Health {
	now := p.now()
	h := Health{Components: make(map[string]ComponentHealth, 4), Timestamp: now.UTC()}

	h.Components["discovery"] = probe(func() error {
		if p.discoverer == nil {
			return errors.New("not configured")
		}
		_, err := p.discoverer.Discover(ctx, filing.SingleYear(now.Year()), 1)
		return err
	})

	h.Components["store"] = probe(func() error {
		if p.store == nil {
			return errors.New("not configured")
		}
		if err := p.store.Ping(ctx); err != nil {
			return err
		}
		stats, err := p.store.IntegrityStats(ctx)
		if err != nil {
			return err
		}
		h.Integrity = &stats
		return nil
	})

	var sample []filing.ParsedRecord
	h.Components["parser"] = probe(func() error {
		res := p.parser.ParsePages([]parse.Page{{Number: 1, Text: probeLine}}, parse.Meta{FilingID: "health"})
		if len(res.Records) != 1 {
			return fmt.Errorf("probe line yielded %d records", len(res.Records))
		}
		sample = res.Records
		return nil
	})

	h.Components["normalizer"] = probe(func() error {
		if len(sample) == 0 {
			sample = []filing.ParsedRecord{{AssetName: "Microsoft Corp", Ticker: "MSFT", TransactionType: "P",
				DateText: "03/06/2024", AmountText: "$15,001 - $50,000"}}
		}
		res := p.normalizer.Normalize(sample[0], normalize.Context{
			Source: filing.SourceHouseClerk, FilingID: "health", Owner: filing.NewEntityKey("health probe", ""),
		})
		if !res.OK {
			return res.Reason
		}
		return nil
	})

	h.Status = Healthy
	for _, c := range h.Components {
		if c.Status != Healthy {
			h.Status = Degraded
		}
	}
	return h
}

func probe(fn func() error) ComponentHealth {
	if err := guard(fn); err != nil {
		return ComponentHealth{Status: Unhealthy, Detail: err.Error()}
	}
	return ComponentHealth{Status: Healthy}
}
