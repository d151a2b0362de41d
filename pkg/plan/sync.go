package plan

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/dmitrymomot/clubbilling/pkg/logger"
)

// PriceInfo is the provider's view of a price.
type PriceInfo struct {
	ID        string
	ProductID string
	Amount    int64
	Currency  string
	Interval  Interval
	Active    bool
}

// PriceFetcher looks up a price at the billing provider.
type PriceFetcher interface {
	FetchPrice(ctx context.Context, priceID string) (PriceInfo, error)
}

// Drift describes one mismatch between a plan and its provider price.
type Drift struct {
	PlanID string
	Reason string
}

// SyncReport summarizes a Sync run.
type SyncReport struct {
	Synced  []string
	Drifted []Drift
	Failed  map[string]error
}

// OK reports whether every paid plan matched its provider price.
func (r SyncReport) OK() bool {
	return len(r.Drifted) == 0 && len(r.Failed) == 0
}

// Sync checks every paid plan against its provider price. Matching plans are
// marked synced; mismatches are reported as drift and marked unsynced.
func (c *Catalog) Sync(ctx context.Context, fetcher PriceFetcher) SyncReport {
	report := SyncReport{Failed: make(map[string]error)}

	c.mu.RLock()
	ids := make([]string, 0, len(c.plans))
	for id, p := range c.plans {
		if !p.IsFree() {
			ids = append(ids, id)
		}
	}
	c.mu.RUnlock()
	slices.Sort(ids)

	for _, id := range ids {
		p, err := c.Get(id)
		if err != nil {
			continue
		}

		var reasons []string
		if p.ProductID == "" || p.PriceID == "" {
			reasons = append(reasons, "missing provider product or price")
		} else {
			info, err := fetcher.FetchPrice(ctx, p.PriceID)
			if err != nil {
				report.Failed[id] = err
				c.logger.WarnContext(ctx, "plan price lookup failed",
					logger.PlanID(id), logger.Error(err))
				continue
			}
			reasons = priceDrift(p, info)
		}

		if len(reasons) > 0 {
			report.Drifted = append(report.Drifted, Drift{PlanID: id, Reason: strings.Join(reasons, "; ")})
			c.markSynced(id, false)
			c.logger.WarnContext(ctx, "plan drifted from provider price",
				logger.PlanID(id), slog.Any("reasons", reasons))
			continue
		}

		report.Synced = append(report.Synced, id)
		c.markSynced(id, true)
	}

	c.logger.InfoContext(ctx, "plan sync finished",
		slog.Int("synced", len(report.Synced)),
		slog.Int("drifted", len(report.Drifted)),
		slog.Int("failed", len(report.Failed)))
	return report
}

func priceDrift(p Plan, info PriceInfo) []string {
	var reasons []string
	if !info.Active {
		reasons = append(reasons, "price inactive")
	}
	if info.ProductID != "" && info.ProductID != p.ProductID {
		reasons = append(reasons, fmt.Sprintf("product %s, want %s", info.ProductID, p.ProductID))
	}
	if info.Amount != p.Price.Amount {
		reasons = append(reasons, fmt.Sprintf("amount %d, want %d", info.Amount, p.Price.Amount))
	}
	if !strings.EqualFold(info.Currency, p.Price.Currency) {
		reasons = append(reasons, fmt.Sprintf("currency %s, want %s", info.Currency, p.Price.Currency))
	}
	if info.Interval != p.Interval {
		reasons = append(reasons, fmt.Sprintf("interval %q, want %q", info.Interval, p.Interval))
	}
	return reasons
}

func (c *Catalog) markSynced(id string, synced bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.plans[id]
	if !ok {
		return
	}
	p.Synced = synced
	if synced {
		now := c.now()
		p.LastSyncedAt = &now
	}
	c.plans[id] = p
}
