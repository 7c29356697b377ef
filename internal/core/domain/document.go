package domain

import "time"

type DocumentStatus string

const (
	StatusUploaded   DocumentStatus = "uploaded"
	StatusProcessing DocumentStatus = "processing"
	StatusReady      DocumentStatus = "ready"
	StatusFailed     DocumentStatus = "failed"
)

type Document struct {
	ID          string           `json:"id"`
	Filename    string           `json:"filename"`
	MimeType    string           `json:"mime_type"`
	StoragePath string           `json:"storage_path"`
	Version     int              `json:"version"`
	Status      DocumentStatus   `json:"status"`
	Error       string           `json:"error,omitempty"`
	Report      *IngestionReport `json:"report,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

type IssueKind string

const (
	IssueOrientationAmbiguous IssueKind = "orientation_ambiguous"
	IssueUnparsableCell       IssueKind = "unparsable_cell"
	IssueUnresolvedEntity     IssueKind = "unresolved_entity"
	IssueUnresolvedMetric     IssueKind = "unresolved_metric"
	IssueMissingPeriod        IssueKind = "missing_period"
)

// IngestionIssue is a recoverable ParseAmbiguity attached to a table or cell.
type IngestionIssue struct {
	Kind    IssueKind `json:"kind"`
	TableID string    `json:"table_id,omitempty"`
	Row     int       `json:"row,omitempty"`
	Col     int       `json:"col,omitempty"`
	Detail  string    `json:"detail,omitempty"`
}

type TableReport struct {
	TableID     string      `json:"table_id"`
	Page        int         `json:"page"`
	Orientation Orientation `json:"orientation"`
	Facts       int         `json:"facts"`
}

// IngestionReport summarizes one processing run of a document.
type IngestionReport struct {
	Version int              `json:"version"`
	Tables  []TableReport    `json:"tables"`
	Facts   int              `json:"facts"`
	Chunks  int              `json:"chunks"`
	Issues  []IngestionIssue `json:"issues,omitempty"`
}
