package workpointsync

import "errors"

// Fatal error classes. Reader failures and ledger index corruption abort the
// run before or during reconciliation; everything else is captured per record
// and the batch continues.
var (
	// ErrSourceUnavailable wraps auth/network/HTTP failures against WorkPoint.
	ErrSourceUnavailable = errors.New("workpoint source unavailable")

	// ErrSourceFormat wraps rows WorkPoint returned that cannot be normalized
	// into a DevRecord (missing required field).
	ErrSourceFormat = errors.New("workpoint record format error")

	// ErrLedgerUnavailable wraps failures reading the customer_sales table.
	ErrLedgerUnavailable = errors.New("sales ledger unavailable")

	// ErrDataIntegrity reports a duplicate source_record_id mapping in the
	// ledger. The one-to-one invariant is broken upstream; it must never be
	// silently repaired here.
	ErrDataIntegrity = errors.New("ledger data integrity violation")
)
