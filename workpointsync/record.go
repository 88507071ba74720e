package workpointsync

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DevRecord is the canonical shape of one billable usage entry from
// WorkPoint. All upstream field-name variance is resolved by
// normalizeDevRecord; nothing past the reader sees raw API payloads.
type DevRecord struct {
	ID             string
	OrganizationId string
	CustomerId     string
	ProjectId      string
	Date           time.Time // date-only, normalized to UTC midnight
	Quantity       decimal.Decimal
	UnitRate       decimal.Decimal
	Description    string
	ProjectLabel   string
	Billable       bool
	DoNotBill      bool
	Omit           bool
	AlreadyBilled  bool
}

// Eligible reports whether the record should ever be reflected in the ledger.
func (r DevRecord) Eligible() bool {
	return r.Billable && !r.DoNotBill && !r.Omit
}

// workPointDevRecord is the wire shape. WorkPoint has renamed several fields
// across API revisions, so alternates are listed and resolved during
// normalization.
type workPointDevRecord struct {
	ID             string      `json:"id"`
	OrganizationId string      `json:"organization_id"`
	CustomerId     string      `json:"customer_id"`
	ClientId       string      `json:"client_id"`
	ProjectId      string      `json:"project_id"`
	Date           string      `json:"date"`
	WorkDate       string      `json:"work_date"`
	Quantity       json.Number `json:"quantity"`
	Hours          json.Number `json:"hours"`
	UnitRate       json.Number `json:"unit_rate"`
	Rate           json.Number `json:"rate"`
	Description    string      `json:"description"`
	ProductName    string      `json:"product_name"`
	ProjectName    string      `json:"project_name"`
	Billable       *bool       `json:"billable"`
	DoNotBill      *bool       `json:"do_not_bill"`
	Omit           *bool       `json:"omit"`
	AlreadyBilled  *bool       `json:"already_billed"`
	Invoiced       *bool       `json:"invoiced"`
}

func normalizeDevRecord(raw workPointDevRecord) (DevRecord, error) {
	id := strings.TrimSpace(raw.ID)
	if id == "" {
		return DevRecord{}, fmt.Errorf("%w: record id missing", ErrSourceFormat)
	}

	customerId := strings.TrimSpace(raw.CustomerId)
	if customerId == "" {
		customerId = strings.TrimSpace(raw.ClientId)
	}
	if customerId == "" {
		return DevRecord{}, fmt.Errorf("%w: record %s has no customer id", ErrSourceFormat, id)
	}

	dateStr := strings.TrimSpace(raw.Date)
	if dateStr == "" {
		dateStr = strings.TrimSpace(raw.WorkDate)
	}
	date, err := parseRecordDate(dateStr)
	if err != nil {
		return DevRecord{}, fmt.Errorf("%w: record %s: %v", ErrSourceFormat, id, err)
	}

	quantity := decimalFromNumber(raw.Quantity)
	if quantity.IsZero() {
		quantity = decimalFromNumber(raw.Hours)
	}
	if quantity.IsNegative() {
		return DevRecord{}, fmt.Errorf("%w: record %s has negative quantity", ErrSourceFormat, id)
	}

	unitRate := decimalFromNumber(raw.UnitRate)
	if unitRate.IsZero() {
		unitRate = decimalFromNumber(raw.Rate)
	}
	if unitRate.IsNegative() {
		return DevRecord{}, fmt.Errorf("%w: record %s has negative unit rate", ErrSourceFormat, id)
	}

	description := strings.TrimSpace(raw.Description)
	if description == "" {
		description = strings.TrimSpace(raw.ProductName)
	}

	alreadyBilled := boolValue(raw.AlreadyBilled)
	if !alreadyBilled {
		alreadyBilled = boolValue(raw.Invoiced)
	}

	return DevRecord{
		ID:             id,
		OrganizationId: strings.TrimSpace(raw.OrganizationId),
		CustomerId:     customerId,
		ProjectId:      strings.TrimSpace(raw.ProjectId),
		Date:           date,
		Quantity:       quantity,
		UnitRate:       unitRate,
		Description:    description,
		ProjectLabel:   strings.TrimSpace(raw.ProjectName),
		Billable:       boolValue(raw.Billable),
		DoNotBill:      boolValue(raw.DoNotBill),
		Omit:           boolValue(raw.Omit),
		AlreadyBilled:  alreadyBilled,
	}, nil
}

// parseRecordDate accepts either a plain calendar date or a full RFC3339
// timestamp and truncates to UTC midnight. Dev records have date-only
// semantics.
func parseRecordDate(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("date missing")
	}
	if t, err := time.Parse("2006-01-02", value); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		t = t.UTC()
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
	}
	return time.Time{}, fmt.Errorf("unparseable date %q", value)
}

func decimalFromNumber(num json.Number) decimal.Decimal {
	if num.String() == "" {
		return decimal.Zero
	}
	if d, err := decimal.NewFromString(num.String()); err == nil {
		return d
	}
	return decimal.Zero
}

func boolValue(b *bool) bool {
	return b != nil && *b
}
