package workpointsync

import (
	"errors"
	"testing"

	"bitbucket.org/mmdatafocus/crm_backend/models"
	"github.com/shopspring/decimal"
)

func TestReconcileCreatesMissingRow(t *testing.T) {
	records := []DevRecord{eligibleRecord("R1", "cust-1", 2, 100, "2026-03-10")}

	plan, err := Reconcile(records, nil)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if len(plan.ToCreate) != 1 {
		t.Fatalf("expected 1 create, got %d", len(plan.ToCreate))
	}
	if len(plan.ToUpdate) != 0 || len(plan.ToDelete) != 0 || plan.Unchanged != 0 {
		t.Fatalf("unexpected extra buckets: %+v", plan)
	}
	sale := plan.ToCreate[0].Sale
	if got := sale.TotalPrice.StringFixed(2); got != "200.00" {
		t.Fatalf("expected planned total 200.00, got %s", got)
	}
}

func TestReconcileUpdatesDriftedRow(t *testing.T) {
	records := []DevRecord{eligibleRecord("R1", "cust-1", 3, 100, "2026-03-10")}
	rows := []models.CustomerSale{ledgerRow(7, "R1", "cust-1", 2, 100, 200, "2026-03-10")}

	plan, err := Reconcile(records, rows)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if len(plan.ToUpdate) != 1 {
		t.Fatalf("expected 1 update, got %d", len(plan.ToUpdate))
	}
	upd := plan.ToUpdate[0]
	if upd.Row.ID != 7 {
		t.Fatalf("expected row 7, got %d", upd.Row.ID)
	}
	if got := upd.Sale.TotalPrice.StringFixed(2); got != "300.00" {
		t.Fatalf("expected corrected total 300.00, got %s", got)
	}
	if len(plan.ToCreate) != 0 || len(plan.ToDelete) != 0 {
		t.Fatalf("unexpected extra buckets: %+v", plan)
	}
}

func TestReconcileMatchedRowIsUnchanged(t *testing.T) {
	records := []DevRecord{eligibleRecord("R1", "cust-1", 2, 100, "2026-03-10")}
	rows := []models.CustomerSale{ledgerRow(7, "R1", "cust-1", 2, 100, 200, "2026-03-10")}

	plan, err := Reconcile(records, rows)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if plan.Unchanged != 1 {
		t.Fatalf("expected 1 unchanged, got %d", plan.Unchanged)
	}
	if len(plan.ToCreate)+len(plan.ToUpdate)+len(plan.ToDelete) != 0 {
		t.Fatalf("matched row must not produce writes: %+v", plan)
	}
}

func TestReconcileToleranceSuppressesNoise(t *testing.T) {
	rec := eligibleRecord("R1", "cust-1", 2, 100, "2026-03-10")
	row := ledgerRow(7, "R1", "cust-1", 2, 100, 200, "2026-03-10")
	// Sub-tolerance drift must not trigger an update.
	row.TotalPrice = row.TotalPrice.Add(decimal.New(5, -7))

	plan, err := Reconcile([]DevRecord{rec}, []models.CustomerSale{row})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if len(plan.ToUpdate) != 0 || plan.Unchanged != 1 {
		t.Fatalf("expected drift within tolerance to be unchanged: %+v", plan)
	}
}

func TestReconcileInvoicedRowIsFrozen(t *testing.T) {
	records := []DevRecord{eligibleRecord("R1", "cust-1", 5, 100, "2026-03-10")}
	rows := []models.CustomerSale{invoiced(ledgerRow(7, "R1", "cust-1", 2, 100, 200, "2026-03-10"), "INV-1")}

	plan, err := Reconcile(records, rows)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if len(plan.ToUpdate) != 0 {
		t.Fatalf("invoiced row must not be updated")
	}
	if len(plan.InvoicedHolds) != 1 || plan.InvoicedHolds[0] != "R1" {
		t.Fatalf("expected invoiced hold for R1, got %v", plan.InvoicedHolds)
	}
}

func TestReconcileInvoicedOrphanIsProtected(t *testing.T) {
	// R2's source record disappeared upstream, but its row is invoiced:
	// it must survive even as an orphan candidate.
	rows := []models.CustomerSale{
		invoiced(ledgerRow(7, "R2", "cust-1", 1, 100, 100, "2026-03-10"), "INV-1"),
		ledgerRow(8, "R3", "cust-1", 1, 100, 100, "2026-03-11"),
	}

	plan, err := Reconcile(nil, rows)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if len(plan.ToDelete) != 1 || plan.ToDelete[0].ID != 8 {
		t.Fatalf("expected only uninvoiced row 8 as orphan candidate, got %+v", plan.ToDelete)
	}
}

func TestReconcileSkippedRecordRowNotOrphaned(t *testing.T) {
	rec := eligibleRecord("R1", "cust-1", 2, 100, "2026-03-10")
	rec.DoNotBill = true
	rows := []models.CustomerSale{ledgerRow(7, "R1", "cust-1", 2, 100, 200, "2026-03-10")}

	plan, err := Reconcile([]DevRecord{rec}, rows)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if len(plan.Skipped) != 1 {
		t.Fatalf("expected record to be skipped")
	}
	// The record was seen, just ineligible: its row is not missing upstream.
	if len(plan.ToDelete) != 0 {
		t.Fatalf("skipped record's row must not become an orphan candidate: %+v", plan.ToDelete)
	}
}

func TestReconcileDuplicateSourceIdIsFatal(t *testing.T) {
	rows := []models.CustomerSale{
		ledgerRow(7, "R1", "cust-1", 2, 100, 200, "2026-03-10"),
		ledgerRow(8, "R1", "cust-1", 2, 100, 200, "2026-03-10"),
	}

	_, err := Reconcile(nil, rows)
	if !errors.Is(err, ErrDataIntegrity) {
		t.Fatalf("expected ErrDataIntegrity, got %v", err)
	}
}

func TestReconcileNilSourceIdIsFatal(t *testing.T) {
	row := ledgerRow(7, "R1", "cust-1", 2, 100, 200, "2026-03-10")
	row.SourceRecordId = nil

	_, err := Reconcile(nil, []models.CustomerSale{row})
	if !errors.Is(err, ErrDataIntegrity) {
		t.Fatalf("expected ErrDataIntegrity, got %v", err)
	}
}

func TestReconcileDeterministicOrdering(t *testing.T) {
	records := []DevRecord{
		eligibleRecord("R3", "cust-1", 1, 100, "2026-03-12"),
		eligibleRecord("R1", "cust-1", 1, 100, "2026-03-10"),
		eligibleRecord("R2", "cust-1", 1, 100, "2026-03-10"),
	}

	plan, err := Reconcile(records, nil)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	var got []string
	for _, c := range plan.ToCreate {
		got = append(got, c.Sale.SourceRecordId)
	}
	want := []string{"R1", "R2", "R3"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected order %v, got %v", want, got)
		}
	}
}
