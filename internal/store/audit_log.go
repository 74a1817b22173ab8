package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Chris5934/SheetSmith/internal/model"
)

// AppendAudit 追加审计记录；ID/Timestamp 为空时自动生成
func (s *Store) AppendAudit(ctx context.Context, entry *model.AuditEntry) error {
	if entry == nil {
		return fmt.Errorf("nil audit entry")
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = s.now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log (
			id, timestamp, operation_kind, spreadsheet_id, preview_id,
			scope_summary, outcome, cells_changed, error, duration_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		entry.ID, formatTime(entry.Timestamp), entry.OperationKind, entry.SpreadsheetID, entry.PreviewID,
		entry.ScopeSummary, string(entry.Outcome), entry.CellsChanged, entry.Error, entry.Duration.Milliseconds(),
	)
	if err != nil {
		return unavailable("append audit entry", err)
	}
	return nil
}

// RecentAudit 最近的审计记录（新的在前）；spreadsheetID 为空时不过滤
func (s *Store) RecentAudit(ctx context.Context, spreadsheetID string, limit int) ([]*model.AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT id, timestamp, operation_kind, spreadsheet_id, preview_id,
		scope_summary, outcome, cells_changed, error, duration_ms FROM audit_log`
	args := []any{}
	if spreadsheetID != "" {
		query += ` WHERE spreadsheet_id = ?`
		args = append(args, spreadsheetID)
	}
	query += ` ORDER BY timestamp DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, unavailable("query audit log", err)
	}
	defer rows.Close()

	out := []*model.AuditEntry{}
	for rows.Next() {
		var (
			e          model.AuditEntry
			ts         string
			outcome    string
			durationMs int64
		)
		if err := rows.Scan(&e.ID, &ts, &e.OperationKind, &e.SpreadsheetID, &e.PreviewID,
			&e.ScopeSummary, &outcome, &e.CellsChanged, &e.Error, &durationMs); err != nil {
			return nil, unavailable("scan audit entry", err)
		}
		e.Timestamp = parseTime(ts)
		e.Outcome = model.AuditOutcome(outcome)
		e.Duration = time.Duration(durationMs) * time.Millisecond
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("query audit log", err)
	}
	return out, nil
}
