package workpointsync

import (
	"context"
	"sort"
	"sync"

	"bitbucket.org/mmdatafocus/crm_backend/models"
)

// defaultWriteConcurrency bounds parallel ledger writes within one batch.
// Small on purpose: the upstream store rate-limits aggressively.
const defaultWriteConcurrency = 5

type SyncItemError struct {
	Type           string `json:"type"`
	SourceRecordId string `json:"sourceRecordId,omitempty"`
	LedgerRowId    uint   `json:"ledgerRowId,omitempty"`
	Error          string `json:"error"`
}

// ExecutionResult reports what the executor did (or, under dry run, would
// have done). Orphaned lists delete candidates that were not removed.
type ExecutionResult struct {
	Created  []MappedSale
	Updated  []MappedSale
	Deleted  []models.CustomerSale
	Orphaned []models.CustomerSale
	Errors   []SyncItemError
}

type writeJob struct {
	kind   string // create | update | delete
	create *PlannedCreate
	update *PlannedUpdate
	remove *models.CustomerSale
}

// ExecutePlan applies the reconciliation plan as ledger writes.
//
// Every item is an independent write: a failure is recorded into Errors and
// the rest of the batch continues. Writes run on a bounded worker pool;
// ordering across workers is not guaranteed, but each item's classification
// is independent of ordering, so the outcome is deterministic up to slice
// order (normalized before returning).
//
// Under opts.DryRun no store method is called at all.
func ExecutePlan(ctx context.Context, store SalesStore, plan *ReconciliationPlan, opts SyncOptions) ExecutionResult {
	if opts.DryRun {
		res := ExecutionResult{}
		for _, c := range plan.ToCreate {
			res.Created = append(res.Created, c.Sale)
		}
		for _, u := range plan.ToUpdate {
			res.Updated = append(res.Updated, u.Sale)
		}
		// Mirror the live run's classification: candidates preview as Deleted
		// when the flag would remove them, as Orphaned otherwise.
		if opts.DeleteOrphaned {
			res.Deleted = append([]models.CustomerSale(nil), plan.ToDelete...)
		} else {
			res.Orphaned = append([]models.CustomerSale(nil), plan.ToDelete...)
		}
		return res
	}

	jobs := make([]writeJob, 0, len(plan.ToCreate)+len(plan.ToUpdate)+len(plan.ToDelete))
	for i := range plan.ToCreate {
		jobs = append(jobs, writeJob{kind: "create", create: &plan.ToCreate[i]})
	}
	for i := range plan.ToUpdate {
		jobs = append(jobs, writeJob{kind: "update", update: &plan.ToUpdate[i]})
	}
	res := ExecutionResult{}
	if opts.DeleteOrphaned {
		for i := range plan.ToDelete {
			jobs = append(jobs, writeJob{kind: "delete", remove: &plan.ToDelete[i]})
		}
	} else {
		// Conservative default: candidates are reported, never removed.
		res.Orphaned = append(res.Orphaned, plan.ToDelete...)
	}

	concurrency := opts.WriteConcurrency
	if concurrency <= 0 {
		concurrency = defaultWriteConcurrency
	}
	if concurrency > len(jobs) && len(jobs) > 0 {
		concurrency = len(jobs)
	}

	var (
		mu    sync.Mutex
		wg    sync.WaitGroup
		jobCh = make(chan writeJob)
	)

	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobCh {
				created, updated, deleted, itemErr := applyWrite(ctx, store, job)
				mu.Lock()
				switch {
				case itemErr != nil:
					res.Errors = append(res.Errors, *itemErr)
				case created != nil:
					res.Created = append(res.Created, *created)
				case updated != nil:
					res.Updated = append(res.Updated, *updated)
				case deleted != nil:
					res.Deleted = append(res.Deleted, *deleted)
				}
				mu.Unlock()
			}
		}()
	}

	for _, job := range jobs {
		jobCh <- job
	}
	close(jobCh)
	wg.Wait()

	normalizeResult(&res)
	return res
}

func applyWrite(ctx context.Context, store SalesStore, job writeJob) (*MappedSale, *MappedSale, *models.CustomerSale, *SyncItemError) {
	switch job.kind {
	case "create":
		sale := job.create.Sale
		srcID := sale.SourceRecordId
		row := models.CustomerSale{
			OrganizationId: sale.OrganizationId,
			SourceRecordId: &srcID,
			CustomerId:     sale.CustomerId,
			ProductName:    sale.ProductName,
			Quantity:       sale.Quantity,
			UnitPrice:      sale.UnitPrice,
			TotalPrice:     sale.TotalPrice,
			SaleDate:       sale.SaleDate,
		}
		if err := store.InsertSale(ctx, &row); err != nil {
			return nil, nil, nil, &SyncItemError{Type: "create", SourceRecordId: srcID, Error: err.Error()}
		}
		return &sale, nil, nil, nil

	case "update":
		sale := job.update.Sale
		patch := map[string]interface{}{
			"customer_id":  sale.CustomerId,
			"product_name": sale.ProductName,
			"quantity":     sale.Quantity,
			"unit_price":   sale.UnitPrice,
			"total_price":  sale.TotalPrice,
			"sale_date":    sale.SaleDate,
		}
		if err := store.UpdateSale(ctx, job.update.Row.ID, patch); err != nil {
			return nil, nil, nil, &SyncItemError{
				Type:           "update",
				SourceRecordId: sale.SourceRecordId,
				LedgerRowId:    job.update.Row.ID,
				Error:          err.Error(),
			}
		}
		return nil, &sale, nil, nil

	default: // delete
		row := *job.remove
		if err := store.DeleteSale(ctx, row.ID); err != nil {
			return nil, nil, nil, &SyncItemError{
				Type:        "delete",
				LedgerRowId: row.ID,
				Error:       err.Error(),
			}
		}
		return nil, nil, &row, nil
	}
}

// normalizeResult restores deterministic slice ordering after concurrent
// appends: date then source record id, mirroring the plan's ordering.
func normalizeResult(res *ExecutionResult) {
	sortMapped := func(sales []MappedSale) {
		sort.Slice(sales, func(i, j int) bool {
			if !sales[i].SaleDate.Equal(sales[j].SaleDate) {
				return sales[i].SaleDate.Before(sales[j].SaleDate)
			}
			return sales[i].SourceRecordId < sales[j].SourceRecordId
		})
	}
	sortMapped(res.Created)
	sortMapped(res.Updated)
	sort.Slice(res.Deleted, func(i, j int) bool { return res.Deleted[i].ID < res.Deleted[j].ID })
	sort.Slice(res.Errors, func(i, j int) bool {
		if res.Errors[i].SourceRecordId != res.Errors[j].SourceRecordId {
			return res.Errors[i].SourceRecordId < res.Errors[j].SourceRecordId
		}
		return res.Errors[i].LedgerRowId < res.Errors[j].LedgerRowId
	})
}
