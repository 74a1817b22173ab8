package ops

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Chris5934/SheetSmith/internal/audit"
	"github.com/Chris5934/SheetSmith/internal/mapping"
	"github.com/Chris5934/SheetSmith/internal/model"
	"github.com/Chris5934/SheetSmith/internal/safety"
	"github.com/Chris5934/SheetSmith/internal/sheet"
	"github.com/Chris5934/SheetSmith/internal/store"
)

const testSheetID = "balance"

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

type fixture struct {
	mem      *sheet.MemoryClient
	store    *store.Store
	pipeline *Pipeline
	clock    *fakeClock
}

func newFixture(t *testing.T, limits safety.Limits) *fixture {
	t.Helper()

	st, err := store.New(filepath.Join(t.TempDir(), "ops.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	clock := &fakeClock{t: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	mem := sheet.NewMemoryClient()
	coord := mapping.NewCoordinator(st, 0, mapping.WithClock(clock.Now))
	res := mapping.NewResolver(st, mem, coord, mapping.DefaultOptions(), nil)
	analyzer := safety.NewAnalyzer(limits, safety.DefaultRiskThresholds(), 0)
	trail := audit.NewTrail(st, nil).WithClock(clock.Now)

	p := NewPipeline(res, mem, analyzer, trail, WithClock(clock.Now))
	return &fixture{mem: mem, store: st, pipeline: p, clock: clock}
}

// characterRows n 个角色，Base Damage 位于 F 列
func characterRows(n int) [][]string {
	rows := [][]string{{"Name", "HP", "Armor", "Speed", "Crit", "Base Damage"}}
	for i := 1; i <= n; i++ {
		rows = append(rows, []string{
			fmt.Sprintf("Character %d", i), "100", "5", "3", "0.1", fmt.Sprintf("%d", 10+i),
		})
	}
	return rows
}

func (f *fixture) cell(t *testing.T, sheetName, addr string) sheet.CellValue {
	t.Helper()
	v, err := f.mem.ReadCell(context.Background(), testSheetID, sheetName, addr)
	require.NoError(t, err)
	return v
}

func (f *fixture) audits(t *testing.T) []*model.AuditEntry {
	t.Helper()
	entries, err := f.pipeline.RecentAudit(context.Background(), testSheetID, 0)
	require.NoError(t, err)
	return entries
}

func setValues(values map[string]string) ChangeRequest {
	return ChangeRequest{
		SpreadsheetID: testSheetID,
		Kind:          KindSetValues,
		Sheet:         "Base",
		Header:        "Base Damage",
		Values:        values,
	}
}
