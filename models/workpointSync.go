package models

import "time"

const (
	IntegrationProviderWorkPoint = "workpoint"
)

const (
	IntegrationStatusConnected    = "connected"
	IntegrationStatusDisconnected = "disconnected"
	IntegrationStatusError        = "error"
)

const (
	SyncRunStatusQueued  = "queued"
	SyncRunStatusRunning = "running"
	SyncRunStatusSuccess = "success"
	SyncRunStatusFailed  = "failed"
	SyncRunStatusPartial = "partial"
)

const (
	SyncTriggeredManual = "manual"
	SyncTriggeredRetry  = "retry"
	SyncTriggeredSystem = "system"
)

type WorkPointConnection struct {
	ID                uint       `gorm:"primary_key" json:"id"`
	OrganizationId    string     `gorm:"index;size:64;not null" json:"organization_id"`
	Status            string     `gorm:"size:20;not null" json:"status"`
	AuthType          string     `gorm:"size:20" json:"auth_type"`
	AuthSecretRef     string     `gorm:"type:text" json:"auth_secret_ref"`
	AccountId         string     `gorm:"size:100" json:"account_id"`
	AccountName       string     `gorm:"size:255" json:"account_name"`
	SettingsJSON      []byte     `gorm:"type:json" json:"settings"`
	LastSyncAt        *time.Time `json:"last_sync_at"`
	LastSuccessSyncAt *time.Time `json:"last_success_sync_at"`
	CreatedAt         time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

type SyncRun struct {
	ID             uint       `gorm:"primary_key" json:"id"`
	OrganizationId string     `gorm:"index;size:64;not null" json:"organization_id"`
	ConnectionId   uint       `gorm:"index;not null" json:"connection_id"`
	Status         string     `gorm:"size:20;not null" json:"status"`
	TriggeredBy    string     `gorm:"size:20" json:"triggered_by"`
	StartDate      time.Time  `json:"start_date"`
	EndDate        time.Time  `json:"end_date"`
	OptionsJSON    []byte     `gorm:"type:json" json:"options"`
	StatsJSON      []byte     `gorm:"type:json" json:"stats"`
	RecordsSynced  int        `json:"records_synced"`
	ErrorCount     int        `json:"error_count"`
	ParentRunId    *uint      `gorm:"index" json:"parent_run_id"`
	StartedAt      *time.Time `json:"started_at"`
	FinishedAt     *time.Time `json:"finished_at"`
	DurationMs     int64      `json:"duration_ms"`
	CreatedAt      time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

type SyncRunError struct {
	ID             uint      `gorm:"primary_key" json:"id"`
	SyncRunId      uint      `gorm:"index;not null" json:"sync_run_id"`
	OrganizationId string    `gorm:"index;size:64;not null" json:"organization_id"`
	EntityType     string    `gorm:"size:50" json:"entity_type"`
	SourceRecordId string    `gorm:"size:128" json:"source_record_id"`
	LedgerRowId    uint      `json:"ledger_row_id"`
	ErrorCode      string    `gorm:"size:64" json:"error_code"`
	Message        string    `gorm:"type:text" json:"message"`
	Retryable      bool      `gorm:"default:false" json:"retryable"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
}
