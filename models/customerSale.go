package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// CustomerSale is one row of the locally-owned sales ledger.
//
// Rows with a non-null SourceRecordId are owned by the WorkPoint sync engine
// and are only written through it. Rows with a null SourceRecordId were
// entered by hand and the engine never loads or touches them.
type CustomerSale struct {
	ID             uint            `gorm:"primary_key" json:"id"`
	OrganizationId string          `gorm:"uniqueIndex:idx_customer_sales_source,priority:1;size:64;not null" json:"organization_id"`
	SourceRecordId *string         `gorm:"uniqueIndex:idx_customer_sales_source,priority:2;size:128" json:"source_record_id"`
	CustomerId     string          `gorm:"index;size:64" json:"customer_id"`
	ProductName    string          `gorm:"size:255" json:"product_name"`
	Quantity       decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"quantity"`
	UnitPrice      decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"unit_price"`
	TotalPrice     decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total_price"`
	SaleDate       time.Time       `gorm:"index;not null" json:"sale_date"`
	InvoiceId      *string         `gorm:"size:64" json:"invoice_id"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// The unique index spans (organization_id, source_record_id) so a source
// record maps to at most one ledger row per organization.
func (CustomerSale) TableName() string { return "customer_sales" }

// Invoiced reports whether the row has been attached to an invoice.
// Invoiced rows are immutable under the sync engine.
func (s *CustomerSale) Invoiced() bool {
	return s.InvoiceId != nil && *s.InvoiceId != ""
}
