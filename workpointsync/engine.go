package workpointsync

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/crm_backend/config"
	"github.com/sirupsen/logrus"
)

// SourceReader is the WorkPoint side of the engine. Production uses Client;
// tests use fakes.
type SourceReader interface {
	FetchDevRecords(ctx context.Context, organizationId string, start, end time.Time) ([]DevRecord, error)
}

// Engine reconciles WorkPoint dev records against the customer_sales ledger
// for one organization and date window per invocation.
//
// Synchronize is idempotent over an unchanged source window: the second run
// produces zero creates and updates. That is the retry mechanism — callers
// re-invoke the whole window on failure; the engine never retries
// internally. Callers bound latency by scoping windows small (the backfill
// CLI uses month-sized batches).
type Engine struct {
	Source SourceReader
	Ledger SalesStore
	Logger *logrus.Logger
}

func NewEngine(source SourceReader, ledger SalesStore, logger *logrus.Logger) *Engine {
	return &Engine{Source: source, Ledger: ledger, Logger: logger}
}

// Synchronize runs the full pipeline: both readers concurrently, then
// reconcile, then execute, then aggregate. Reader and integrity failures are
// fatal and short-circuit with Success=false; per-record write failures are
// data in Changes.Errors and never abort the batch.
func (e *Engine) Synchronize(ctx context.Context, organizationId string, start, end time.Time, opts SyncOptions) SyncResult {
	startedAt := time.Now()

	type sourceFetch struct {
		records []DevRecord
		err     error
	}
	sourceCh := make(chan sourceFetch, 1)
	go func() {
		records, err := e.Source.FetchDevRecords(ctx, organizationId, start, end)
		sourceCh <- sourceFetch{records: records, err: err}
	}()

	rows, ledgerErr := e.Ledger.ListSales(ctx, organizationId, start, end)
	src := <-sourceCh

	if src.err != nil {
		e.logFatal(organizationId, "FetchDevRecords", src.err)
		return SyncResult{Success: false, Error: src.err.Error(), Duration: millisSince(startedAt)}
	}
	if ledgerErr != nil {
		e.logFatal(organizationId, "ListSales", ledgerErr)
		return SyncResult{Success: false, Error: ledgerErr.Error(), Duration: millisSince(startedAt)}
	}

	plan, err := Reconcile(src.records, rows)
	if err != nil {
		e.logFatal(organizationId, "Reconcile", err)
		return SyncResult{Success: false, Error: err.Error(), Duration: millisSince(startedAt)}
	}

	execRes := ExecutePlan(ctx, e.Ledger, plan, opts)

	if e.Logger != nil {
		e.Logger.WithFields(logrus.Fields{
			"module":          "workpointsync",
			"organization_id": organizationId,
			"window_start":    start.Format("2006-01-02"),
			"window_end":      end.Format("2006-01-02"),
			"dry_run":         opts.DryRun,
			"created":         len(execRes.Created),
			"updated":         len(execRes.Updated),
			"deleted":         len(execRes.Deleted),
			"orphaned":        len(execRes.Orphaned),
			"unchanged":       plan.Unchanged,
			"skipped":         len(plan.Skipped),
			"errors":          len(execRes.Errors),
		}).Info("sync window reconciled")
	}

	return SyncResult{
		Success: true,
		Summary: &SyncSummary{
			DevRecordsCount:    len(src.records),
			CustomerSalesCount: len(rows),
		},
		Changes: &SyncChanges{
			Created:       emptyIfNilSales(execRes.Created),
			Updated:       emptyIfNilSales(execRes.Updated),
			Deleted:       execRes.Deleted,
			Orphaned:      execRes.Orphaned,
			Skipped:       len(plan.Skipped),
			InvoicedHolds: plan.InvoicedHolds,
			Errors:        emptyIfNilErrors(execRes.Errors),
		},
		Duration: millisSince(startedAt),
	}
}

func (e *Engine) logFatal(organizationId string, funcName string, err error) {
	if e.Logger == nil {
		return
	}
	config.LogError(e.Logger, "workpointsync", funcName, organizationId, logrus.Fields{
		"fatal":     true,
		"integrity": errors.Is(err, ErrDataIntegrity),
	}, err)
}

func millisSince(t time.Time) int64 {
	return time.Since(t).Milliseconds()
}

func emptyIfNilSales(s []MappedSale) []MappedSale {
	if s == nil {
		return []MappedSale{}
	}
	return s
}

func emptyIfNilErrors(s []SyncItemError) []SyncItemError {
	if s == nil {
		return []SyncItemError{}
	}
	return s
}
