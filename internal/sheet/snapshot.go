package sheet

import (
	"context"
	"fmt"
)

// ScanLimits 扫描范围上限
type ScanLimits struct {
	MaxColumns       int
	MaxRows          int
	HeaderSearchRows int
}

// DefaultScanLimits 默认扫描范围（前 10 行找表头，最多 ZZ 列）
func DefaultScanLimits() ScanLimits {
	return ScanLimits{
		MaxColumns:       702,
		MaxRows:          5000,
		HeaderSearchRows: 10,
	}
}

// WithDefaults 用默认值补齐未设置的字段
func (l ScanLimits) WithDefaults() ScanLimits {
	d := DefaultScanLimits()
	if l.MaxColumns <= 0 {
		l.MaxColumns = d.MaxColumns
	}
	if l.MaxRows <= 0 {
		l.MaxRows = d.MaxRows
	}
	if l.HeaderSearchRows <= 0 {
		l.HeaderSearchRows = d.HeaderSearchRows
	}
	if l.HeaderSearchRows > l.MaxRows {
		l.HeaderSearchRows = l.MaxRows
	}
	return l
}

// Snapshot 某一时刻 sheet 的表头区域与行标签列
type Snapshot struct {
	SpreadsheetID string
	SheetName     string
	// HeaderRows[i] 为第 i 行（0-based）的内容，截断到 MaxColumns
	HeaderRows  [][]string
	LabelColumn int
	// Labels[i] 为行标签列第 i 行的内容
	Labels []string
	Limits ScanLimits
}

// LoadSnapshot 通过客户端读取表头区域和行标签列
func LoadSnapshot(ctx context.Context, client Client, spreadsheetID, sheetName string, labelColumn int, limits ScanLimits) (*Snapshot, error) {
	limits = limits.WithDefaults()
	snap := &Snapshot{
		SpreadsheetID: spreadsheetID,
		SheetName:     sheetName,
		HeaderRows:    make([][]string, 0, limits.HeaderSearchRows),
		LabelColumn:   labelColumn,
		Limits:        limits,
	}

	for row := 0; row < limits.HeaderSearchRows; row++ {
		cells, err := client.ReadHeaderRow(ctx, spreadsheetID, sheetName, row)
		if err != nil {
			return nil, fmt.Errorf("failed to read header row %d of %s: %w", row+1, sheetName, err)
		}
		if len(cells) > limits.MaxColumns {
			cells = cells[:limits.MaxColumns]
		}
		snap.HeaderRows = append(snap.HeaderRows, cells)
	}

	labels, err := client.ReadColumn(ctx, spreadsheetID, sheetName, labelColumn, 0, limits.MaxRows-1)
	if err != nil {
		return nil, fmt.Errorf("failed to read label column of %s: %w", sheetName, err)
	}
	snap.Labels = labels

	return snap, nil
}

// HeaderRow 返回指定表头行，越界返回 nil
func (s *Snapshot) HeaderRow(row int) []string {
	if row < 0 || row >= len(s.HeaderRows) {
		return nil
	}
	return s.HeaderRows[row]
}

// HeaderAt 返回指定位置的表头文本
func (s *Snapshot) HeaderAt(row, col int) string {
	cells := s.HeaderRow(row)
	if col < 0 || col >= len(cells) {
		return ""
	}
	return cells[col]
}

// LabelAt 返回指定行的行标签
func (s *Snapshot) LabelAt(row int) string {
	if row < 0 || row >= len(s.Labels) {
		return ""
	}
	return s.Labels[row]
}
