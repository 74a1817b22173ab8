// Package audit 操作审计：每次阻止、失败、取消或成功的应用都落一条只追加记录
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Chris5934/SheetSmith/internal/model"
)

// Store 审计持久化接口
type Store interface {
	AppendAudit(ctx context.Context, entry *model.AuditEntry) error
	RecentAudit(ctx context.Context, spreadsheetID string, limit int) ([]*model.AuditEntry, error)
}

// Trail 审计轨迹：持久化并同步输出结构化日志
type Trail struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// NewTrail 创建审计轨迹
func NewTrail(store Store, logger *slog.Logger) *Trail {
	if logger == nil {
		logger = slog.Default()
	}
	return &Trail{store: store, logger: logger, now: time.Now}
}

// WithClock 替换时钟（测试用）
func (t *Trail) WithClock(now func() time.Time) *Trail {
	t.now = now
	return t
}

// Record 写入一条审计记录，返回带 ID 的副本
func (t *Trail) Record(ctx context.Context, entry model.AuditEntry) (model.AuditEntry, error) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = t.now()
	}

	level := slog.LevelInfo
	switch entry.Outcome {
	case model.OutcomeBlocked, model.OutcomeFailed:
		level = slog.LevelWarn
	}
	t.logger.Log(ctx, level, "operation audited",
		"audit_id", entry.ID,
		"operation", entry.OperationKind,
		"spreadsheet_id", entry.SpreadsheetID,
		"preview_id", entry.PreviewID,
		"outcome", entry.Outcome,
		"cells_changed", entry.CellsChanged,
		"scope", entry.ScopeSummary,
		"error", entry.Error,
	)

	if err := t.store.AppendAudit(ctx, &entry); err != nil {
		return entry, fmt.Errorf("failed to record audit entry %s: %w", entry.ID, err)
	}
	return entry, nil
}

// Recent 最近的审计记录
func (t *Trail) Recent(ctx context.Context, spreadsheetID string, limit int) ([]*model.AuditEntry, error) {
	return t.store.RecentAudit(ctx, spreadsheetID, limit)
}
