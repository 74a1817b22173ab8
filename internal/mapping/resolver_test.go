package mapping

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Chris5934/SheetSmith/internal/model"
)

func TestResolveColumnIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.mem.SetRows("book", "Base", baseRows())
	ctx := context.Background()

	first, err := f.resolver.ResolveColumn(ctx, "book", "Base", "Base Damage")
	require.NoError(t, err)
	assert.Equal(t, "F", first.ColumnLetter)
	assert.Equal(t, 5, first.ColumnIndex)
	assert.Equal(t, -1, first.RowIndex)

	stored, err := f.store.ListMappings(ctx, "book")
	require.NoError(t, err)
	require.Len(t, stored, 1)

	second, err := f.resolver.ResolveColumn(ctx, "book", "Base", "base damage")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	again, err := f.store.ListMappings(ctx, "book")
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.Equal(t, stored[0].ID, again[0].ID)
	assert.Empty(t, f.coord.Pending())
}

func TestResolveColumnFollowsMovedHeader(t *testing.T) {
	f := newFixture(t)
	f.mem.SetRows("book", "Base", baseRows())
	ctx := context.Background()

	before, err := f.resolver.ResolveColumn(ctx, "book", "Base", "Base Damage")
	require.NoError(t, err)
	require.Equal(t, "F", before.ColumnLetter)
	orig, err := f.store.GetMapping(ctx, model.LogicalCoordinate{SpreadsheetID: "book", SheetName: "Base", HeaderText: "Base Damage"})
	require.NoError(t, err)

	// 在 F 前插入一列
	f.mem.InsertColumn("book", "Base", 5, "Magic")

	after, err := f.resolver.ResolveColumn(ctx, "book", "Base", "Base Damage")
	require.NoError(t, err)
	assert.Equal(t, "G", after.ColumnLetter)
	assert.Equal(t, 6, after.ColumnIndex)

	all, err := f.store.ListMappings(ctx, "book")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, orig.ID, all[0].ID)
	assert.Equal(t, "G", all[0].Physical.ColumnLetter)
}

func TestResolveColumnAmbiguousReturnsSameRequest(t *testing.T) {
	f := newFixture(t)
	f.mem.SetRows("book", "Base", damageRows())
	ctx := context.Background()

	_, err := f.resolver.ResolveColumn(ctx, "book", "Base", "Damage")
	require.ErrorIs(t, err, model.ErrAmbiguous)
	req, ok := model.AsDisambiguation(err)
	require.True(t, ok)
	require.Len(t, req.Candidates, 2)
	assert.Equal(t, "F", req.Candidates[0].ColumnLetter)
	assert.Equal(t, "J", req.Candidates[1].ColumnLetter)
	assert.Equal(t, []string{"12", "15"}, req.Candidates[0].SampleValues)
	assert.Equal(t, []string{"30", "35"}, req.Candidates[1].SampleValues)
	assert.Equal(t, "Armor Pen", req.Candidates[1].AdjacentHeaders.Left)

	_, err = f.resolver.ResolveColumn(ctx, "book", "Base", "Damage")
	again, ok := model.AsDisambiguation(err)
	require.True(t, ok)
	assert.Equal(t, req.ID, again.ID)
	assert.Len(t, f.coord.Pending(), 1)

	all, err := f.store.ListMappings(ctx, "book")
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestDisambiguateCommitsSelectedCandidate(t *testing.T) {
	f := newFixture(t)
	f.mem.SetRows("book", "Base", damageRows())
	ctx := context.Background()

	_, err := f.resolver.ResolveColumn(ctx, "book", "Base", "Damage")
	req, ok := model.AsDisambiguation(err)
	require.True(t, ok)

	rec, err := f.resolver.Disambiguate(ctx, req.ID, 1, "Physical Damage")
	require.NoError(t, err)
	assert.Equal(t, "J", rec.Physical.ColumnLetter)
	require.NotNil(t, rec.Disambiguation)
	assert.Equal(t, "Physical Damage", rec.Disambiguation.UserLabel)
	assert.Equal(t, 2, rec.Disambiguation.TotalCandidates)

	// 请求已消费
	_, err = f.resolver.Disambiguate(ctx, req.ID, 1, "")
	require.ErrorIs(t, err, model.ErrInvalidRequest)
	assert.Empty(t, f.coord.Pending())

	// 消歧后的映射在重复集合不变时直接命中
	got, err := f.resolver.ResolveColumn(ctx, "book", "Base", "Damage")
	require.NoError(t, err)
	assert.Equal(t, "J", got.ColumnLetter)
}

func TestDisambiguateOutOfRangeKeepsRequest(t *testing.T) {
	f := newFixture(t)
	f.mem.SetRows("book", "Base", damageRows())
	ctx := context.Background()

	_, err := f.resolver.ResolveColumn(ctx, "book", "Base", "Damage")
	req, ok := model.AsDisambiguation(err)
	require.True(t, ok)

	for _, idx := range []int{-1, 2, 99} {
		_, err = f.resolver.Disambiguate(ctx, req.ID, idx, "")
		require.ErrorIs(t, err, model.ErrIndexOutOfRange)
	}

	still, err := f.coord.Get(req.ID)
	require.NoError(t, err)
	assert.Equal(t, req.ID, still.ID)

	rec, err := f.resolver.Disambiguate(ctx, req.ID, 0, "")
	require.NoError(t, err)
	assert.Equal(t, "F", rec.Physical.ColumnLetter)
}

func TestResolveColumnHeaderNotFound(t *testing.T) {
	f := newFixture(t)
	f.mem.SetRows("book", "Base", baseRows())

	_, err := f.resolver.ResolveColumn(context.Background(), "book", "Base", "Magic Damage")
	require.ErrorIs(t, err, model.ErrHeaderNotFound)
	require.ErrorIs(t, err, model.ErrNotFound)
}

func TestResolveColumnWithoutAutoCreate(t *testing.T) {
	f := newFixture(t)
	f.mem.SetRows("book", "Base", baseRows())
	ctx := context.Background()

	_, err := f.resolver.ResolveColumn(ctx, "book", "Base", "HP", WithAutoCreate(false))
	require.ErrorIs(t, err, model.ErrMappingNotFound)

	_, err = f.resolver.ResolveColumn(ctx, "book", "Base", "HP")
	require.NoError(t, err)

	got, err := f.resolver.ResolveColumn(ctx, "book", "Base", "HP", WithAutoCreate(false))
	require.NoError(t, err)
	assert.Equal(t, "B", got.ColumnLetter)
}

func TestResolveColumnMissingDeletesRecord(t *testing.T) {
	f := newFixture(t)
	f.mem.SetRows("book", "Base", baseRows())
	ctx := context.Background()

	_, err := f.resolver.ResolveColumn(ctx, "book", "Base", "Crit")
	require.NoError(t, err)

	rows := baseRows()
	rows[0][4] = "Critical"
	f.mem.SetRows("book", "Base", rows)

	_, err = f.resolver.ResolveColumn(ctx, "book", "Base", "Crit")
	require.ErrorIs(t, err, model.ErrHeaderNotFound)

	all, err := f.store.ListMappings(ctx, "book")
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestResolveColumnNewDuplicateForcesDisambiguation(t *testing.T) {
	f := newFixture(t)
	f.mem.SetRows("book", "Base", baseRows())
	ctx := context.Background()

	_, err := f.resolver.ResolveColumn(ctx, "book", "Base", "HP")
	require.NoError(t, err)

	rows := baseRows()
	rows[0] = append(rows[0], "HP")
	f.mem.SetRows("book", "Base", rows)

	_, err = f.resolver.ResolveColumn(ctx, "book", "Base", "HP")
	req, ok := model.AsDisambiguation(err)
	require.True(t, ok)
	assert.Len(t, req.Candidates, 2)

	// 缓存记录保留，等待消歧
	_, err = f.store.GetMapping(ctx, model.LogicalCoordinate{SpreadsheetID: "book", SheetName: "Base", HeaderText: "HP"})
	require.NoError(t, err)
}

func TestResolveCell(t *testing.T) {
	f := newFixture(t)
	f.mem.SetRows("book", "Base", baseRows())
	ctx := context.Background()

	got, err := f.resolver.ResolveCell(ctx, "book", "Base", "Base Damage", "Character B")
	require.NoError(t, err)
	assert.Equal(t, "F3", got.CellAddress())

	// 插入一行后行号变化
	rows := baseRows()
	rows = append(rows[:1], append([][]string{{"Character 0", "1", "1", "1", "1", "1"}}, rows[1:]...)...)
	f.mem.SetRows("book", "Base", rows)

	got, err = f.resolver.ResolveCell(ctx, "book", "Base", "Base Damage", "Character B")
	require.NoError(t, err)
	assert.Equal(t, "F4", got.CellAddress())

	_, err = f.resolver.ResolveCell(ctx, "book", "Base", "Base Damage", "Character Z")
	require.ErrorIs(t, err, model.ErrRowLabelNotFound)

	_, err = f.resolver.ResolveCell(ctx, "book", "Base", "Base Damage", " ")
	require.ErrorIs(t, err, model.ErrInvalidArgument)
}

func TestResolveCellRowAmbiguity(t *testing.T) {
	f := newFixture(t)
	rows := baseRows()
	rows = append(rows, []string{"Character A", "1", "1", "1", "1", "77"})
	f.mem.SetRows("book", "Base", rows)
	ctx := context.Background()

	_, err := f.resolver.ResolveCell(ctx, "book", "Base", "Base Damage", "Character A")
	req, ok := model.AsDisambiguation(err)
	require.True(t, ok)
	assert.Equal(t, model.DimensionRow, req.Dimension)
	require.Len(t, req.Candidates, 2)
	assert.Equal(t, []string{"77"}, req.Candidates[1].SampleValues)

	rec, err := f.resolver.Disambiguate(ctx, req.ID, 1, "second A")
	require.NoError(t, err)
	assert.Equal(t, "F5", rec.Physical.CellAddress())
	require.NotNil(t, rec.RowDisambiguation)

	got, err := f.resolver.ResolveCell(ctx, "book", "Base", "Base Damage", "Character A")
	require.NoError(t, err)
	assert.Equal(t, "F5", got.CellAddress())
}

func TestResolveCellColumnAmbiguityFirst(t *testing.T) {
	f := newFixture(t)
	rows := damageRows()
	rows = append(rows, []string{"Character A"})
	f.mem.SetRows("book", "Base", rows)
	ctx := context.Background()

	_, err := f.resolver.ResolveCell(ctx, "book", "Base", "Damage", "Character A")
	req, ok := model.AsDisambiguation(err)
	require.True(t, ok)
	assert.Equal(t, model.DimensionColumn, req.Dimension)
	assert.Equal(t, -1, req.Candidates[0].RowIndex)
}

func TestResolveCellAfterColumnDisambiguation(t *testing.T) {
	f := newFixture(t)
	f.mem.SetRows("book", "Base", damageRows())
	ctx := context.Background()

	_, err := f.resolver.ResolveCell(ctx, "book", "Base", "Damage", "Character B")
	req, ok := model.AsDisambiguation(err)
	require.True(t, ok)
	assert.Equal(t, 2, req.Candidates[1].RowIndex)

	rec, err := f.resolver.Disambiguate(ctx, req.ID, 1, "")
	require.NoError(t, err)
	assert.Equal(t, "J3", rec.Physical.CellAddress())

	got, err := f.resolver.ResolveCell(ctx, "book", "Base", "Damage", "Character B")
	require.NoError(t, err)
	assert.Equal(t, "J3", got.CellAddress())
}

func TestColumnDisambiguationWithMissingRowLabel(t *testing.T) {
	f := newFixture(t)
	f.mem.SetRows("book", "Base", damageRows())
	ctx := context.Background()

	_, err := f.resolver.ResolveCell(ctx, "book", "Base", "Damage", "Character Z")
	req, ok := model.AsDisambiguation(err)
	require.True(t, ok)
	require.Equal(t, model.DimensionColumn, req.Dimension)

	_, err = f.resolver.Disambiguate(ctx, req.ID, 1, "")
	require.ErrorIs(t, err, model.ErrRowLabelNotFound)

	all, err := f.store.ListMappings(ctx, "book")
	require.NoError(t, err)
	assert.Empty(t, all)

	// 请求保留，再次解析返回同一个请求
	_, err = f.resolver.ResolveCell(ctx, "book", "Base", "Damage", "Character Z")
	again, ok := model.AsDisambiguation(err)
	require.True(t, ok)
	assert.Equal(t, req.ID, again.ID)

	// 行标签补上之后同一请求可以完成
	rows := damageRows()
	rows = append(rows, []string{"Character Z", "", "", "", "", "1", "", "", "", "2", ""})
	f.mem.SetRows("book", "Base", rows)

	rec, err := f.resolver.Disambiguate(ctx, req.ID, 1, "")
	require.NoError(t, err)
	assert.Equal(t, "J4", rec.Physical.CellAddress())
}

func TestColumnDisambiguationWithDuplicateRowLabel(t *testing.T) {
	f := newFixture(t)
	rows := damageRows()
	rows = append(rows, []string{"Character B", "", "", "", "", "1", "", "", "", "2", ""})
	f.mem.SetRows("book", "Base", rows)
	ctx := context.Background()

	_, err := f.resolver.ResolveCell(ctx, "book", "Base", "Damage", "Character B")
	req, ok := model.AsDisambiguation(err)
	require.True(t, ok)
	require.Equal(t, model.DimensionColumn, req.Dimension)

	rec, err := f.resolver.Disambiguate(ctx, req.ID, 1, "")
	require.NoError(t, err)
	assert.Equal(t, "J", rec.Physical.ColumnLetter)
	assert.Equal(t, -1, rec.Physical.RowIndex)

	// 列选择保留，接着发起行消歧
	_, err = f.resolver.ResolveCell(ctx, "book", "Base", "Damage", "Character B")
	rowReq, ok := model.AsDisambiguation(err)
	require.True(t, ok)
	assert.Equal(t, model.DimensionRow, rowReq.Dimension)
	require.Len(t, rowReq.Candidates, 2)
	assert.Equal(t, "J", rowReq.Candidates[0].ColumnLetter)

	rec, err = f.resolver.Disambiguate(ctx, rowReq.ID, 1, "")
	require.NoError(t, err)
	assert.Equal(t, "J4", rec.Physical.CellAddress())

	got, err := f.resolver.ResolveCell(ctx, "book", "Base", "Damage", "Character B")
	require.NoError(t, err)
	assert.Equal(t, "J4", got.CellAddress())
}

func TestResolveValidatesArguments(t *testing.T) {
	f := newFixture(t)
	_, err := f.resolver.ResolveColumn(context.Background(), "book", "", "HP")
	require.ErrorIs(t, err, model.ErrInvalidArgument)
	_, err = f.resolver.ResolveColumn(context.Background(), "book", "Base", "  ")
	require.ErrorIs(t, err, model.ErrInvalidArgument)
}

func TestResolveMissingSheet(t *testing.T) {
	f := newFixture(t)
	_, err := f.resolver.ResolveColumn(context.Background(), "book", "Nope", "HP")
	require.ErrorIs(t, err, model.ErrNotFound)
	assert.False(t, errors.Is(err, model.ErrAmbiguous))
}

func TestAuditIsSideEffectFree(t *testing.T) {
	f := newFixture(t)
	f.mem.SetRows("book", "Base", baseRows())
	ctx := context.Background()

	for _, h := range []string{"HP", "Armor", "Crit", "Base Damage"} {
		_, err := f.resolver.ResolveColumn(ctx, "book", "Base", h)
		require.NoError(t, err)
	}

	rows := baseRows()
	rows[0][4] = "Critical" // Crit 丢失
	rows[0] = append([]string{"Id"}, rows[0]...)
	for i := 1; i < len(rows); i++ {
		rows[i] = append([]string{""}, rows[i]...)
	}
	rows[0] = append(rows[0], "HP") // HP 重复
	f.mem.SetRows("book", "Base", rows)

	before, err := f.store.ListMappings(ctx, "book")
	require.NoError(t, err)

	report, err := f.resolver.Audit(ctx, "book")
	require.NoError(t, err)
	assert.Equal(t, 4, report.Total)
	assert.Equal(t, 0, report.Valid)
	assert.Equal(t, 2, report.Moved)
	assert.Equal(t, 1, report.Missing)
	assert.Equal(t, 1, report.Ambiguous)

	after, err := f.store.ListMappings(ctx, "book")
	require.NoError(t, err)
	assert.Equal(t, before, after)

	res, err := f.resolver.RepairAudit(ctx, "book")
	require.NoError(t, err)
	assert.Len(t, res.Updated, 2)
	assert.Len(t, res.Deleted, 1)

	repaired, err := f.resolver.Audit(ctx, "book")
	require.NoError(t, err)
	assert.Equal(t, 3, repaired.Total)
	assert.Equal(t, 2, repaired.Valid)
	assert.Equal(t, 1, repaired.Ambiguous)
}

func TestAuditReportsMissingSheet(t *testing.T) {
	f := newFixture(t)
	f.mem.SetRows("book", "Base", baseRows())
	ctx := context.Background()

	_, err := f.resolver.ResolveColumn(ctx, "book", "Base", "HP")
	require.NoError(t, err)
	_, err = f.store.PutMapping(ctx, &model.MappingRecord{
		Logical:  model.LogicalCoordinate{SpreadsheetID: "book", SheetName: "Gone", HeaderText: "HP"},
		Physical: model.PhysicalCoordinate{SheetName: "Gone", ColumnIndex: 1, ColumnLetter: "B", RowIndex: -1},
	})
	require.NoError(t, err)

	report, err := f.resolver.Audit(ctx, "book")
	require.NoError(t, err)
	assert.Equal(t, 2, report.Total)
	assert.Equal(t, 1, report.Valid)
	assert.Equal(t, 1, report.Missing)
}

func TestDeleteMapping(t *testing.T) {
	f := newFixture(t)
	f.mem.SetRows("book", "Base", baseRows())
	ctx := context.Background()

	_, err := f.resolver.ResolveColumn(ctx, "book", "Base", "HP")
	require.NoError(t, err)
	all, err := f.store.ListMappings(ctx, "book")
	require.NoError(t, err)
	require.Len(t, all, 1)

	require.NoError(t, f.resolver.DeleteMapping(ctx, all[0].ID))
	require.ErrorIs(t, f.resolver.DeleteMapping(ctx, all[0].ID), model.ErrMappingNotFound)
}
