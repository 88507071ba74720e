package workpointsync

import (
	"fmt"
	"sort"
	"time"

	"bitbucket.org/mmdatafocus/crm_backend/models"
	"github.com/shopspring/decimal"
)

// fieldTolerance is the comparison tolerance for monetary and quantity
// fields, shared by the mapper's rounding policy and the drift check below.
var fieldTolerance = decimal.New(1, -6)

type PlannedCreate struct {
	Record DevRecord
	Sale   MappedSale
}

type PlannedUpdate struct {
	Row  models.CustomerSale
	Sale MappedSale
}

// ReconciliationPlan is the Reconciler's output: every eligible dev record
// and every engine-owned ledger row classified into exactly one bucket.
// ToDelete holds orphan candidates only; actual deletion is gated by
// SyncOptions.DeleteOrphaned at execution time.
type ReconciliationPlan struct {
	ToCreate []PlannedCreate
	ToUpdate []PlannedUpdate
	ToDelete []models.CustomerSale
	Skipped  []DevRecord

	// InvoicedHolds lists source record ids whose ledger rows changed
	// upstream but are frozen behind an invoice. Informational, not errors.
	InvoicedHolds []string

	Unchanged int
}

// Reconcile diffs the source window against the ledger window.
//
// A duplicate source_record_id among ledger rows breaks the one-to-one
// invariant and is fatal; it indicates upstream corruption and must not be
// silently repaired.
func Reconcile(records []DevRecord, rows []models.CustomerSale) (*ReconciliationPlan, error) {
	bySource := make(map[string]models.CustomerSale, len(rows))
	for _, row := range rows {
		if row.SourceRecordId == nil || *row.SourceRecordId == "" {
			// Manually-entered rows are excluded at the query level; a nil
			// back-reference here means the store query is wrong.
			return nil, fmt.Errorf("%w: ledger row %d has no source record id", ErrDataIntegrity, row.ID)
		}
		if dup, ok := bySource[*row.SourceRecordId]; ok {
			return nil, fmt.Errorf("%w: source record %s maps to ledger rows %d and %d",
				ErrDataIntegrity, *row.SourceRecordId, dup.ID, row.ID)
		}
		bySource[*row.SourceRecordId] = row
	}

	plan := &ReconciliationPlan{}
	seen := make(map[string]bool, len(records))

	for _, rec := range records {
		seen[rec.ID] = true

		mapped, ok := MapToLedgerRow(rec)
		if !ok {
			plan.Skipped = append(plan.Skipped, rec)
			continue
		}

		row, exists := bySource[rec.ID]
		if !exists {
			plan.ToCreate = append(plan.ToCreate, PlannedCreate{Record: rec, Sale: *mapped})
			continue
		}
		if row.Invoiced() {
			if !saleFieldsEqual(row, *mapped) {
				plan.InvoicedHolds = append(plan.InvoicedHolds, rec.ID)
			} else {
				plan.Unchanged++
			}
			continue
		}
		if saleFieldsEqual(row, *mapped) {
			plan.Unchanged++
			continue
		}
		plan.ToUpdate = append(plan.ToUpdate, PlannedUpdate{Row: row, Sale: *mapped})
	}

	// Rows whose source record fell outside the window or was deleted
	// upstream. Skipped records count as seen: their rows are intentionally
	// invisible, not missing. Invoiced rows are never delete candidates.
	for _, row := range rows {
		if seen[*row.SourceRecordId] {
			continue
		}
		if row.Invoiced() {
			continue
		}
		plan.ToDelete = append(plan.ToDelete, row)
	}

	// Deterministic ordering for diffable logs and tests.
	sort.Slice(plan.ToCreate, func(i, j int) bool {
		a, b := plan.ToCreate[i].Sale, plan.ToCreate[j].Sale
		if !a.SaleDate.Equal(b.SaleDate) {
			return a.SaleDate.Before(b.SaleDate)
		}
		return a.SourceRecordId < b.SourceRecordId
	})
	sort.Slice(plan.ToUpdate, func(i, j int) bool {
		a, b := plan.ToUpdate[i].Sale, plan.ToUpdate[j].Sale
		if !a.SaleDate.Equal(b.SaleDate) {
			return a.SaleDate.Before(b.SaleDate)
		}
		return a.SourceRecordId < b.SourceRecordId
	})
	sort.Slice(plan.ToDelete, func(i, j int) bool {
		return plan.ToDelete[i].ID < plan.ToDelete[j].ID
	})
	sort.Strings(plan.InvoicedHolds)

	return plan, nil
}

func saleFieldsEqual(row models.CustomerSale, mapped MappedSale) bool {
	if row.CustomerId != mapped.CustomerId {
		return false
	}
	if row.ProductName != mapped.ProductName {
		return false
	}
	if !decimalsClose(row.Quantity, mapped.Quantity) {
		return false
	}
	if !decimalsClose(row.UnitPrice, mapped.UnitPrice) {
		return false
	}
	if !decimalsClose(row.TotalPrice, mapped.TotalPrice) {
		return false
	}
	return sameCalendarDate(row.SaleDate, mapped.SaleDate)
}

func decimalsClose(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(fieldTolerance)
}

func sameCalendarDate(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}
