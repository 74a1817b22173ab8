package model

import "time"

// AuditOutcome 审计结果
type AuditOutcome string

const (
	OutcomeSuccess   AuditOutcome = "success"
	OutcomeFailed    AuditOutcome = "failed"
	OutcomeCancelled AuditOutcome = "cancelled"
	OutcomeBlocked   AuditOutcome = "blocked"
)

// AuditEntry 只追加的审计记录
type AuditEntry struct {
	ID            string        `json:"id"`
	Timestamp     time.Time     `json:"timestamp"`
	OperationKind string        `json:"operationKind"`
	SpreadsheetID string        `json:"spreadsheetId"`
	PreviewID     string        `json:"previewId,omitempty"`
	ScopeSummary  string        `json:"scopeSummary"`
	Outcome       AuditOutcome  `json:"outcome"`
	CellsChanged  int           `json:"cellsChanged"`
	Error         string        `json:"error,omitempty"`
	Duration      time.Duration `json:"duration"`
}
