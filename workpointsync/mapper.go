package workpointsync

import (
	"time"

	"github.com/shopspring/decimal"
)

// MappedSale is a DevRecord translated into the ledger's row shape, before
// any store write. It is also the shape reported back in SyncChanges.
type MappedSale struct {
	SourceRecordId string          `json:"sourceRecordId"`
	OrganizationId string          `json:"organizationId"`
	CustomerId     string          `json:"customerId"`
	ProductName    string          `json:"productName"`
	Quantity       decimal.Decimal `json:"quantity"`
	UnitPrice      decimal.Decimal `json:"unitPrice"`
	TotalPrice     decimal.Decimal `json:"totalPrice"`
	SaleDate       time.Time       `json:"saleDate"`
}

// MapToLedgerRow translates one dev record into the ledger row shape.
// The second return is false when the record fails the eligibility gate;
// such records are invisible to the ledger, not "missing".
//
// Monetary totals are rounded half-to-even to 2 decimal places. The same
// rounding runs on create and update paths, so re-running sync never
// oscillates a stored value.
func MapToLedgerRow(rec DevRecord) (*MappedSale, bool) {
	if !rec.Eligible() {
		return nil, false
	}

	productName := rec.Description
	if productName == "" {
		productName = rec.ProjectLabel
	}
	if productName == "" {
		productName = "Unlabeled"
	}

	return &MappedSale{
		SourceRecordId: rec.ID,
		OrganizationId: rec.OrganizationId,
		CustomerId:     rec.CustomerId,
		ProductName:    productName,
		Quantity:       rec.Quantity,
		UnitPrice:      rec.UnitRate,
		TotalPrice:     roundMoney(rec.Quantity.Mul(rec.UnitRate)),
		SaleDate:       rec.Date,
	}, true
}

func roundMoney(d decimal.Decimal) decimal.Decimal {
	return d.RoundBank(2)
}
