package workpointsync

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"bitbucket.org/mmdatafocus/crm_backend/models"
)

func mustPlan(t *testing.T, records []DevRecord, rows []models.CustomerSale) *ReconciliationPlan {
	t.Helper()
	plan, err := Reconcile(records, rows)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	return plan
}

func TestExecutePlanDryRunTouchesNothing(t *testing.T) {
	records := []DevRecord{
		eligibleRecord("R1", "cust-1", 2, 100, "2026-03-10"),
		eligibleRecord("R2", "cust-1", 3, 100, "2026-03-11"),
	}
	rows := []models.CustomerSale{
		ledgerRow(7, "R2", "cust-1", 2, 100, 200, "2026-03-11"),
		ledgerRow(8, "R9", "cust-1", 1, 100, 100, "2026-03-12"),
	}
	store := newFakeStore(rows...)
	plan := mustPlan(t, records, rows)

	res := ExecutePlan(context.Background(), store, plan, SyncOptions{DryRun: true})

	if store.writeCalls() != 0 {
		t.Fatalf("dry run must not call the store, saw %d writes", store.writeCalls())
	}
	if len(res.Created) != 1 || len(res.Updated) != 1 {
		t.Fatalf("expected 1 create + 1 update reported, got %d/%d", len(res.Created), len(res.Updated))
	}
	if len(res.Deleted) != 0 {
		t.Fatalf("without deleteOrphaned nothing previews as deleted")
	}
	if len(res.Orphaned) != 1 || res.Orphaned[0].ID != 8 {
		t.Fatalf("expected orphan candidate row 8, got %+v", res.Orphaned)
	}
}

func TestExecutePlanDryRunPreviewsDeletes(t *testing.T) {
	rows := []models.CustomerSale{ledgerRow(8, "R9", "cust-1", 1, 100, 100, "2026-03-12")}
	opts := SyncOptions{DeleteOrphaned: true}

	dryStore := newFakeStore(rows...)
	dry := ExecutePlan(context.Background(), dryStore, mustPlan(t, nil, rows), SyncOptions{DryRun: true, DeleteOrphaned: true})
	if dryStore.writeCalls() != 0 {
		t.Fatalf("dry run must not call the store")
	}

	liveStore := newFakeStore(rows...)
	live := ExecutePlan(context.Background(), liveStore, mustPlan(t, nil, rows), opts)

	// The preview classifies exactly as the live run does.
	if len(dry.Deleted) != len(live.Deleted) || len(dry.Orphaned) != len(live.Orphaned) {
		t.Fatalf("preview diverged from live run: dry %d/%d live %d/%d",
			len(dry.Deleted), len(dry.Orphaned), len(live.Deleted), len(live.Orphaned))
	}
	if len(dry.Deleted) != 1 || dry.Deleted[0].ID != 8 {
		t.Fatalf("expected row 8 previewed as deleted, got %+v", dry.Deleted)
	}
}

func TestExecutePlanPartialFailureIsolated(t *testing.T) {
	var records []DevRecord
	for i := 1; i <= 5; i++ {
		records = append(records, eligibleRecord(fmt.Sprintf("R%d", i), "cust-1", 1, 100, "2026-03-10"))
	}
	store := newFakeStore()
	store.failInsert = map[string]error{"R3": fmt.Errorf("duplicate entry")}
	plan := mustPlan(t, records, nil)

	res := ExecutePlan(context.Background(), store, plan, SyncOptions{})

	if len(res.Created) != 4 {
		t.Fatalf("expected 4 successful creates, got %d", len(res.Created))
	}
	if len(res.Errors) != 1 {
		t.Fatalf("expected 1 error, got %d", len(res.Errors))
	}
	e := res.Errors[0]
	if e.Type != "create" || e.SourceRecordId != "R3" {
		t.Fatalf("error should identify the failed record: %+v", e)
	}
	if !strings.Contains(e.Error, "duplicate entry") {
		t.Fatalf("error should carry the store message: %q", e.Error)
	}
	for _, sale := range res.Created {
		if sale.SourceRecordId == "R3" {
			t.Fatalf("failed record must not appear in Created")
		}
	}
}

func TestExecutePlanDeleteGating(t *testing.T) {
	rows := []models.CustomerSale{ledgerRow(8, "R9", "cust-1", 1, 100, 100, "2026-03-12")}

	store := newFakeStore(rows...)
	plan := mustPlan(t, nil, rows)
	res := ExecutePlan(context.Background(), store, plan, SyncOptions{})
	if store.deleteCalls != 0 {
		t.Fatalf("deleteOrphaned=false must not delete")
	}
	if len(res.Orphaned) != 1 || len(res.Deleted) != 0 {
		t.Fatalf("expected candidate reported, not removed: %+v", res)
	}

	store = newFakeStore(rows...)
	plan = mustPlan(t, nil, rows)
	res = ExecutePlan(context.Background(), store, plan, SyncOptions{DeleteOrphaned: true})
	if store.deleteCalls != 1 {
		t.Fatalf("expected 1 delete call, got %d", store.deleteCalls)
	}
	if len(res.Deleted) != 1 || res.Deleted[0].ID != 8 {
		t.Fatalf("expected row 8 deleted, got %+v", res.Deleted)
	}
	if len(res.Orphaned) != 0 {
		t.Fatalf("removed rows must not also be listed as orphan candidates")
	}
}

func TestExecutePlanUpdateFailureKeepsOthers(t *testing.T) {
	records := []DevRecord{
		eligibleRecord("R1", "cust-1", 3, 100, "2026-03-10"),
		eligibleRecord("R2", "cust-1", 4, 100, "2026-03-11"),
	}
	rows := []models.CustomerSale{
		ledgerRow(7, "R1", "cust-1", 2, 100, 200, "2026-03-10"),
		ledgerRow(8, "R2", "cust-1", 2, 100, 200, "2026-03-11"),
	}
	store := newFakeStore(rows...)
	store.failUpdate = map[uint]error{7: fmt.Errorf("row locked")}
	plan := mustPlan(t, records, rows)

	res := ExecutePlan(context.Background(), store, plan, SyncOptions{})

	if len(res.Updated) != 1 || res.Updated[0].SourceRecordId != "R2" {
		t.Fatalf("expected only R2 updated, got %+v", res.Updated)
	}
	if len(res.Errors) != 1 || res.Errors[0].LedgerRowId != 7 {
		t.Fatalf("expected error for row 7, got %+v", res.Errors)
	}
}

func TestExecutePlanResultOrderingStable(t *testing.T) {
	var records []DevRecord
	for i := 9; i >= 1; i-- {
		records = append(records, eligibleRecord(fmt.Sprintf("R%d", i), "cust-1", 1, 100, "2026-03-10"))
	}
	store := newFakeStore()
	plan := mustPlan(t, records, nil)

	res := ExecutePlan(context.Background(), store, plan, SyncOptions{WriteConcurrency: 4})

	for i := 1; i < len(res.Created); i++ {
		if res.Created[i-1].SourceRecordId > res.Created[i].SourceRecordId {
			t.Fatalf("created slice not sorted: %q before %q",
				res.Created[i-1].SourceRecordId, res.Created[i].SourceRecordId)
		}
	}
}
