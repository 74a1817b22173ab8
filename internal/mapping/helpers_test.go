package mapping

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Chris5934/SheetSmith/internal/sheet"
	"github.com/Chris5934/SheetSmith/internal/store"
)

// fakeClock 可手动推进的时钟
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

type fixture struct {
	mem      *sheet.MemoryClient
	store    *store.Store
	coord    *Coordinator
	resolver *Resolver
	clock    *fakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	st, err := store.New(filepath.Join(t.TempDir(), "mapping.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	clock := &fakeClock{t: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	mem := sheet.NewMemoryClient()
	coord := NewCoordinator(st, 0, WithClock(clock.Now))
	res := NewResolver(st, mem, coord, DefaultOptions(), nil)

	return &fixture{mem: mem, store: st, coord: coord, resolver: res, clock: clock}
}

// baseRows Base 表：Base Damage 位于 F 列
func baseRows() [][]string {
	return [][]string{
		{"Name", "HP", "Armor", "Speed", "Crit", "Base Damage"},
		{"Character A", "100", "5", "3", "0.1", "12"},
		{"Character B", "90", "4", "4", "0.2", "15"},
		{"Character C", "120", "6", "2", "0.05", "9"},
	}
}

// damageRows Damage 表头重复出现在 F、J 列
func damageRows() [][]string {
	return [][]string{
		{"Name", "HP", "Armor", "Speed", "Crit", "Damage", "Range", "Mana", "Armor Pen", "Damage", "Cooldown"},
		{"Character A", "100", "5", "3", "0.1", "12", "1", "50", "2", "30", "4"},
		{"Character B", "90", "4", "4", "0.2", "15", "2", "40", "3", "35", "5"},
	}
}
