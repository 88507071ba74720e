package workpointsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/crm_backend/models"
	mysqlDriver "github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
)

// SalesStore is the ledger side of the engine. Any store satisfying this
// contract works; production uses GormSalesStore, tests use fakes.
type SalesStore interface {
	// ListSales returns engine-owned rows (source_record_id non-null) for the
	// organization whose sale date falls inside [start, end].
	ListSales(ctx context.Context, organizationId string, start, end time.Time) ([]models.CustomerSale, error)
	InsertSale(ctx context.Context, sale *models.CustomerSale) error
	UpdateSale(ctx context.Context, id uint, patch map[string]interface{}) error
	DeleteSale(ctx context.Context, id uint) error
}

type GormSalesStore struct {
	db *gorm.DB
}

func NewGormSalesStore(db *gorm.DB) *GormSalesStore {
	return &GormSalesStore{db: db}
}

func (s *GormSalesStore) ListSales(ctx context.Context, organizationId string, start, end time.Time) ([]models.CustomerSale, error) {
	var rows []models.CustomerSale
	err := s.db.WithContext(ctx).
		Where("organization_id = ? AND source_record_id IS NOT NULL AND sale_date >= ? AND sale_date <= ?",
			organizationId, start, end).
		Order("sale_date, source_record_id").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLedgerUnavailable, err)
	}
	return rows, nil
}

func (s *GormSalesStore) InsertSale(ctx context.Context, sale *models.CustomerSale) error {
	err := s.db.WithContext(ctx).Create(sale).Error
	if err != nil && isDuplicateKey(err) {
		// The unique (organization_id, source_record_id) index caught a
		// concurrent writer. Surface as an integrity failure, not a retry.
		return fmt.Errorf("%w: duplicate source record %s", ErrDataIntegrity, derefString(sale.SourceRecordId))
	}
	return err
}

func (s *GormSalesStore) UpdateSale(ctx context.Context, id uint, patch map[string]interface{}) error {
	res := s.db.WithContext(ctx).
		Model(&models.CustomerSale{}).
		Where("id = ? AND (invoice_id IS NULL OR invoice_id = '')", id).
		Updates(patch)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("ledger row %d not updated (missing or invoiced)", id)
	}
	return nil
}

func (s *GormSalesStore) DeleteSale(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).
		Where("id = ? AND (invoice_id IS NULL OR invoice_id = '')", id).
		Delete(&models.CustomerSale{}).Error
}

func isDuplicateKey(err error) bool {
	var myErr *mysqlDriver.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}
	return false
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
