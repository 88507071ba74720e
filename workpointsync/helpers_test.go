package workpointsync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"bitbucket.org/mmdatafocus/crm_backend/models"
	"github.com/shopspring/decimal"
)

// fakeSource returns a canned record set or a canned error.
type fakeSource struct {
	records []DevRecord
	err     error
}

func (f *fakeSource) FetchDevRecords(ctx context.Context, organizationId string, start, end time.Time) ([]DevRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.records, nil
}

// fakeStore is an in-memory SalesStore that records every call, so tests can
// assert both outcomes and side effects (or their absence under dry run).
type fakeStore struct {
	mu     sync.Mutex
	rows   []models.CustomerSale
	nextID uint

	listErr    error
	failInsert map[string]error // keyed by source record id
	failUpdate map[uint]error
	failDelete map[uint]error

	insertCalls int
	updateCalls int
	deleteCalls int
}

func newFakeStore(rows ...models.CustomerSale) *fakeStore {
	s := &fakeStore{nextID: 1}
	for _, row := range rows {
		if row.ID == 0 {
			row.ID = s.nextID
		}
		if row.ID >= s.nextID {
			s.nextID = row.ID + 1
		}
		s.rows = append(s.rows, row)
	}
	return s
}

func (s *fakeStore) ListSales(ctx context.Context, organizationId string, start, end time.Time) ([]models.CustomerSale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []models.CustomerSale
	for _, row := range s.rows {
		if row.OrganizationId != organizationId {
			continue
		}
		if row.SaleDate.Before(start) || row.SaleDate.After(end) {
			continue
		}
		out = append(out, row)
	}
	return out, nil
}

func (s *fakeStore) InsertSale(ctx context.Context, sale *models.CustomerSale) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertCalls++
	if sale.SourceRecordId != nil {
		if err, ok := s.failInsert[*sale.SourceRecordId]; ok {
			return err
		}
	}
	sale.ID = s.nextID
	s.nextID++
	s.rows = append(s.rows, *sale)
	return nil
}

func (s *fakeStore) UpdateSale(ctx context.Context, id uint, patch map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updateCalls++
	if err, ok := s.failUpdate[id]; ok {
		return err
	}
	for i := range s.rows {
		if s.rows[i].ID != id {
			continue
		}
		if v, ok := patch["customer_id"].(string); ok {
			s.rows[i].CustomerId = v
		}
		if v, ok := patch["product_name"].(string); ok {
			s.rows[i].ProductName = v
		}
		if v, ok := patch["quantity"].(decimal.Decimal); ok {
			s.rows[i].Quantity = v
		}
		if v, ok := patch["unit_price"].(decimal.Decimal); ok {
			s.rows[i].UnitPrice = v
		}
		if v, ok := patch["total_price"].(decimal.Decimal); ok {
			s.rows[i].TotalPrice = v
		}
		if v, ok := patch["sale_date"].(time.Time); ok {
			s.rows[i].SaleDate = v
		}
		return nil
	}
	return fmt.Errorf("ledger row %d not found", id)
}

func (s *fakeStore) DeleteSale(ctx context.Context, id uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteCalls++
	if err, ok := s.failDelete[id]; ok {
		return err
	}
	for i := range s.rows {
		if s.rows[i].ID == id {
			s.rows = append(s.rows[:i], s.rows[i+1:]...)
			return nil
		}
	}
	return nil
}

func (s *fakeStore) writeCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertCalls + s.updateCalls + s.deleteCalls
}

func dateOnly(value string) time.Time {
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		panic(err)
	}
	return t.UTC()
}

func eligibleRecord(id, customerId string, quantity, unitRate int64, date string) DevRecord {
	return DevRecord{
		ID:             id,
		OrganizationId: "org-1",
		CustomerId:     customerId,
		Date:           dateOnly(date),
		Quantity:       decimal.NewFromInt(quantity),
		UnitRate:       decimal.NewFromInt(unitRate),
		Description:    "Development work",
		Billable:       true,
	}
}

func ledgerRow(id uint, sourceRecordId, customerId string, quantity, unitPrice, totalPrice int64, date string) models.CustomerSale {
	src := sourceRecordId
	return models.CustomerSale{
		ID:             id,
		OrganizationId: "org-1",
		SourceRecordId: &src,
		CustomerId:     customerId,
		ProductName:    "Development work",
		Quantity:       decimal.NewFromInt(quantity),
		UnitPrice:      decimal.NewFromInt(unitPrice),
		TotalPrice:     decimal.NewFromInt(totalPrice),
		SaleDate:       dateOnly(date),
	}
}

func invoiced(row models.CustomerSale, invoiceId string) models.CustomerSale {
	row.InvoiceId = &invoiceId
	return row
}
