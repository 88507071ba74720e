package workpointsync

import (
	"encoding/json"

	"bitbucket.org/mmdatafocus/crm_backend/models"
)

type SyncOptions struct {
	DryRun         bool `json:"dryRun"`
	DeleteOrphaned bool `json:"deleteOrphaned"`

	// WriteConcurrency overrides the batch executor's worker pool size.
	// Zero means the default.
	WriteConcurrency int `json:"-"`
}

func DecodeOptions(raw []byte) SyncOptions {
	if len(raw) == 0 {
		return SyncOptions{}
	}
	var opts SyncOptions
	if err := json.Unmarshal(raw, &opts); err != nil {
		return SyncOptions{}
	}
	return opts
}

func EncodeOptions(opts SyncOptions) []byte {
	b, _ := json.Marshal(opts)
	return b
}

// SyncSettings are the per-organization defaults stored on the connection.
type SyncSettings struct {
	DeleteOrphaned  bool `json:"deleteOrphaned"`
	AutoSyncEnabled bool `json:"autoSyncEnabled"`
	WindowDays      int  `json:"windowDays"`
}

func DefaultSettings() SyncSettings {
	return SyncSettings{
		DeleteOrphaned:  false,
		AutoSyncEnabled: false,
		WindowDays:      31,
	}
}

func DecodeSettings(raw []byte) SyncSettings {
	if len(raw) == 0 {
		return DefaultSettings()
	}
	var settings SyncSettings
	if err := json.Unmarshal(raw, &settings); err != nil {
		return DefaultSettings()
	}
	if settings.WindowDays <= 0 {
		settings.WindowDays = DefaultSettings().WindowDays
	}
	return settings
}

func EncodeSettings(settings SyncSettings) []byte {
	b, _ := json.Marshal(settings)
	return b
}

type SyncSummary struct {
	DevRecordsCount    int `json:"devRecordsCount"`
	CustomerSalesCount int `json:"customerSalesCount"`
}

type SyncChanges struct {
	Created  []MappedSale         `json:"created"`
	Updated  []MappedSale         `json:"updated"`
	Deleted  []models.CustomerSale `json:"deleted"`
	Orphaned []models.CustomerSale `json:"orphaned"`
	Skipped  int                  `json:"skipped"`
	// InvoicedHolds lists source records whose ledger rows drifted upstream
	// but stay frozen behind an invoice.
	InvoicedHolds []string        `json:"invoicedHolds,omitempty"`
	Errors        []SyncItemError `json:"errors"`
}

type SyncResult struct {
	Success  bool         `json:"success"`
	Summary  *SyncSummary `json:"summary,omitempty"`
	Changes  *SyncChanges `json:"changes,omitempty"`
	Duration int64        `json:"duration,omitempty"`
	Error    string       `json:"error,omitempty"`
}

type ConnectRequest struct {
	AccountId   string `json:"accountId"`
	AccountName string `json:"accountName"`
	APIKey      string `json:"apiKey"`
}

type UpdateSettingsRequest struct {
	Settings SyncSettings `json:"settings"`
}

type TriggerSyncRequest struct {
	StartDate      string `json:"startDate"`
	EndDate        string `json:"endDate"`
	DryRun         bool   `json:"dryRun"`
	DeleteOrphaned bool   `json:"deleteOrphaned"`
}

type StatusResponse struct {
	Connection        ConnectionResponse `json:"connection"`
	LastSyncAt        *string            `json:"lastSyncAt"`
	LastSuccessSyncAt *string            `json:"lastSuccessSyncAt"`
	Settings          SyncSettings       `json:"settings"`
}

type ConnectionResponse struct {
	Status      string `json:"status"`
	AccountId   string `json:"accountId"`
	AccountName string `json:"accountName"`
}

type SyncHistoryResponse struct {
	Items []SyncRunResponse `json:"items"`
}

type SyncRunResponse struct {
	ID            uint    `json:"id"`
	Status        string  `json:"status"`
	StartDate     string  `json:"startDate"`
	EndDate       string  `json:"endDate"`
	StartedAt     *string `json:"startedAt"`
	FinishedAt    *string `json:"finishedAt"`
	DurationMs    int64   `json:"durationMs"`
	RecordsSynced int     `json:"recordsSynced"`
	ErrorCount    int     `json:"errorCount"`
	TriggeredBy   string  `json:"triggeredBy"`
}

type SyncRunDetailResponse struct {
	SyncRunResponse
	Errors []SyncErrorResponse `json:"errors"`
}

type SyncErrorResponse struct {
	ID             uint   `json:"id"`
	EntityType     string `json:"entityType"`
	SourceRecordId string `json:"sourceRecordId"`
	LedgerRowId    uint   `json:"ledgerRowId"`
	Message        string `json:"message"`
	Retryable      bool   `json:"retryable"`
}

type PubSubPushEnvelope struct {
	Message struct {
		Data []byte `json:"data"`
		ID   string `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

type SyncPubSubPayload struct {
	RunId          uint   `json:"run_id"`
	OrganizationId string `json:"organization_id"`
	ConnectionId   uint   `json:"connection_id"`
}
