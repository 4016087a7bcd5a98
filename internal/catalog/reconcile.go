package catalog

import (
	"context"
	"fmt"
	"time"
)

// IDSource enumerates correlation ids found in storage.
type IDSource interface {
	ListCorrelationIDs(ctx context.Context) ([]string, error)
}

// ReconciliationReport describes one reconciliation run.
type ReconciliationReport struct {
	// Added are ids found in storage but missing from the index.
	Added []string
	// Dangling are indexed ids with no step records left in storage.
	Dangling []string
	TotalIndexed int
	TotalStored  int
	RunAt        time.Time
}

// HasIssues reports whether the index and storage disagreed.
func (r *ReconciliationReport) HasIssues() bool {
	return len(r.Added) > 0 || len(r.Dangling) > 0
}

// Reconcile brings the index in line with storage: ids present only in
// storage are registered with source backfill at time now, and when prune is
// set, indexed ids with no stored steps are removed.
func Reconcile(ctx context.Context, c *SQLiteCatalog, src IDSource, now time.Time, prune bool) (*ReconciliationReport, error) {
	report := &ReconciliationReport{RunAt: now}

	indexed, err := c.ListCorrelationIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("reconciliation: failed to list index: %w", err)
	}
	report.TotalIndexed = len(indexed)

	stored, err := src.ListCorrelationIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("reconciliation: failed to list storage: %w", err)
	}
	report.TotalStored = len(stored)

	inIndex := make(map[string]bool, len(indexed))
	for _, id := range indexed {
		inIndex[id] = true
	}
	inStore := make(map[string]bool, len(stored))
	for _, id := range stored {
		inStore[id] = true
		if inIndex[id] {
			continue
		}
		if err := c.Register(ctx, Entry{CorrelationID: id, PublishedAt: now, Source: SourceBackfill}); err != nil {
			return nil, err
		}
		report.Added = append(report.Added, id)
	}

	for _, id := range indexed {
		if !inStore[id] {
			report.Dangling = append(report.Dangling, id)
		}
	}
	if prune && len(report.Dangling) > 0 {
		if err := c.Remove(ctx, report.Dangling...); err != nil {
			return nil, err
		}
	}
	return report, nil
}
