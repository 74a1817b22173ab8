package sheet

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/Chris5934/SheetSmith/internal/model"
)

// writeWorkbook 在临时目录生成测试工作簿
func writeWorkbook(t *testing.T, dir, name, sheet string, rows [][]any) {
	t.Helper()

	f := excelize.NewFile()
	defer f.Close()

	if sheet != "Sheet1" {
		if _, err := f.NewSheet(sheet); err != nil {
			t.Fatalf("new sheet: %v", err)
		}
		if err := f.DeleteSheet("Sheet1"); err != nil {
			t.Fatalf("delete sheet: %v", err)
		}
	}
	for i, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			t.Fatalf("set row: %v", err)
		}
	}
	if err := f.SaveAs(filepath.Join(dir, name+".xlsx")); err != nil {
		t.Fatalf("save: %v", err)
	}
}

func TestXLSXClientReads(t *testing.T) {
	dir := t.TempDir()
	writeWorkbook(t, dir, "units", "Base", [][]any{
		{"Name", "HP", "Base Damage"},
		{"Character A", 100, 12},
		{"Character B", 90, 15},
	})

	c := NewXLSXClient(dir)
	ctx := context.Background()

	header, err := c.ReadHeaderRow(ctx, "units", "Base", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"Name", "HP", "Base Damage"}, header)

	col, err := c.ReadColumn(ctx, "units.xlsx", "Base", 0, 1, 50)
	require.NoError(t, err)
	assert.Equal(t, []string{"Character A", "Character B"}, col)

	v, err := c.ReadCell(ctx, "units", "Base", "C3")
	require.NoError(t, err)
	assert.Equal(t, "15", v.Value)
	assert.Empty(t, v.Formula)

	names, err := c.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"units"}, names)
}

func TestXLSXClientMissingTargets(t *testing.T) {
	dir := t.TempDir()
	writeWorkbook(t, dir, "units", "Base", [][]any{{"Name"}})
	c := NewXLSXClient(dir)
	ctx := context.Background()

	_, err := c.ReadHeaderRow(ctx, "nope", "Base", 0)
	require.ErrorIs(t, err, model.ErrNotFound)

	_, err = c.ReadHeaderRow(ctx, "units", "Other", 0)
	require.ErrorIs(t, err, model.ErrNotFound)

	_, err = c.ReadHeaderRow(ctx, "../units", "Base", 0)
	require.ErrorIs(t, err, model.ErrNotFound)
}

func TestXLSXClientBatchWrite(t *testing.T) {
	dir := t.TempDir()
	writeWorkbook(t, dir, "units", "Base", [][]any{
		{"Name", "Base Damage", "Total"},
		{"Character A", 12, 0},
	})
	c := NewXLSXClient(dir)
	ctx := context.Background()

	outcomes, err := c.BatchWrite(ctx, "units", "Base", []CellWrite{
		{Address: "B2", Value: "20"},
		{Address: "C2", Formula: "=B2*2"},
		{Address: "not-a-cell", Value: "x"},
	})
	require.NoError(t, err)
	require.Len(t, outcomes, 3)
	assert.NoError(t, outcomes[0].Err)
	assert.NoError(t, outcomes[1].Err)
	assert.Error(t, outcomes[2].Err)

	v, err := c.ReadCell(ctx, "units", "Base", "B2")
	require.NoError(t, err)
	assert.Equal(t, "20", v.Value)

	f, err := c.ReadCell(ctx, "units", "Base", "C2")
	require.NoError(t, err)
	assert.Equal(t, "=B2*2", f.Formula)
}

func TestXLSXClientReusesOpenWorkbook(t *testing.T) {
	dir := t.TempDir()
	writeWorkbook(t, dir, "units", "Base", [][]any{
		{"Name", "Base Damage"},
		{"Character A", 12},
	})
	c := NewXLSXClient(dir)
	t.Cleanup(func() { _ = c.Close() })
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := c.ReadHeaderRow(ctx, "units", "Base", 0)
		require.NoError(t, err)
		_, err = c.ReadCell(ctx, "units", "Base", "B2")
		require.NoError(t, err)
	}
	assert.Equal(t, 1, c.opens)

	// 自身写入后不需要重新打开
	_, err := c.BatchWrite(ctx, "units", "Base", []CellWrite{{Address: "B2", Value: "30"}})
	require.NoError(t, err)
	v, err := c.ReadCell(ctx, "units", "Base", "B2")
	require.NoError(t, err)
	assert.Equal(t, "30", v.Value)
	assert.Equal(t, 1, c.opens)
}

func TestXLSXClientSeesExternalEdits(t *testing.T) {
	dir := t.TempDir()
	writeWorkbook(t, dir, "units", "Base", [][]any{
		{"Name", "Base Damage"},
		{"Character A", 12},
	})
	c := NewXLSXClient(dir)
	t.Cleanup(func() { _ = c.Close() })
	ctx := context.Background()

	v, err := c.ReadCell(ctx, "units", "Base", "B2")
	require.NoError(t, err)
	assert.Equal(t, "12", v.Value)

	writeWorkbook(t, dir, "units", "Base", [][]any{
		{"Name", "Armor", "Base Damage"},
		{"Character A", 5, 40},
		{"Character B", 7, 41},
	})
	path := filepath.Join(dir, "units.xlsx")
	later := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(path, later, later))

	header, err := c.ReadHeaderRow(ctx, "units", "Base", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"Name", "Armor", "Base Damage"}, header)
	assert.Equal(t, 2, c.opens)

	require.NoError(t, os.Remove(path))
	_, err = c.ReadCell(ctx, "units", "Base", "B2")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestXLSXClientListSheets(t *testing.T) {
	dir := t.TempDir()
	writeWorkbook(t, dir, "units", "Base", [][]any{{"Name"}})
	c := NewXLSXClient(dir)
	t.Cleanup(func() { _ = c.Close() })
	ctx := context.Background()

	names, err := c.ListSheets(ctx, "units")
	require.NoError(t, err)
	assert.Equal(t, []string{"Base"}, names)

	_, err = c.ListSheets(ctx, "nope")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestA1Helpers(t *testing.T) {
	assert.Equal(t, "A", ColumnLetter(0))
	assert.Equal(t, "F", ColumnLetter(5))
	assert.Equal(t, "AA", ColumnLetter(26))
	assert.Equal(t, "G7", CellAddress(6, 6))

	idx, err := ColumnIndex("J")
	require.NoError(t, err)
	assert.Equal(t, 9, idx)

	col, row, err := ParseCell("AB12")
	require.NoError(t, err)
	assert.Equal(t, 27, col)
	assert.Equal(t, 11, row)

	_, _, err = ParseCell("12AB")
	assert.Error(t, err)
}

func TestCellValueMatches(t *testing.T) {
	assert.True(t, CellValue{Value: "1"}.Matches("1", ""))
	assert.False(t, CellValue{Value: "2"}.Matches("1", ""))
	assert.True(t, CellValue{Value: "4", Formula: "=A1*2"}.Matches("3", "A1*2"))
	assert.False(t, CellValue{Value: "4", Formula: "=A1*3"}.Matches("4", "=A1*2"))
}
