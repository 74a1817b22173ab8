package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Chris5934/SheetSmith/internal/model"
)

func TestAuditLogAppendAndRecent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	entries := []*model.AuditEntry{
		{Timestamp: base, OperationKind: "set_values", SpreadsheetID: "book", Outcome: model.OutcomeSuccess, CellsChanged: 3, Duration: 30 * time.Millisecond},
		{Timestamp: base.Add(time.Second), OperationKind: "set_values", SpreadsheetID: "other", Outcome: model.OutcomeBlocked, Error: "too many cells"},
		{Timestamp: base.Add(2 * time.Second), OperationKind: "replace_in_formulas", SpreadsheetID: "book", PreviewID: "p1", Outcome: model.OutcomeFailed, CellsChanged: 1},
	}
	for _, e := range entries {
		require.NoError(t, s.AppendAudit(ctx, e))
		assert.NotEmpty(t, e.ID)
	}

	got, err := s.RecentAudit(ctx, "book", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "p1", got[0].PreviewID)
	assert.Equal(t, model.OutcomeFailed, got[0].Outcome)
	assert.Equal(t, 3, got[1].CellsChanged)
	assert.Equal(t, 30*time.Millisecond, got[1].Duration)
	assert.True(t, got[1].Timestamp.Equal(base))

	all, err := s.RecentAudit(ctx, "", 2)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "other", all[1].SpreadsheetID)
}
