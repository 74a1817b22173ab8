package model

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// LogicalCoordinate 逻辑坐标：sheet + 表头文本 + 可选行标签
// RowLabel 为空表示列级引用，非空表示概念单元格引用
type LogicalCoordinate struct {
	SpreadsheetID string `json:"spreadsheetId"`
	SheetName     string `json:"sheetName"`
	HeaderText    string `json:"headerText"`
	RowLabel      string `json:"rowLabel,omitempty"`
}

// IsCell 是否为单元格级引用
func (l LogicalCoordinate) IsCell() bool {
	return strings.TrimSpace(l.RowLabel) != ""
}

// Key 查找用的规范化键（展示仍使用原始文本）
func (l LogicalCoordinate) Key() string {
	return strings.Join([]string{
		l.SpreadsheetID,
		NormalizeText(l.SheetName),
		NormalizeText(l.HeaderText),
		NormalizeText(l.RowLabel),
	}, "\x1f")
}

// Equal 按规范化文本比较
func (l LogicalCoordinate) Equal(other LogicalCoordinate) bool {
	return l.Key() == other.Key()
}

func (l LogicalCoordinate) String() string {
	if l.IsCell() {
		return fmt.Sprintf("%s/%s[%s × %s]", l.SpreadsheetID, l.SheetName, l.HeaderText, l.RowLabel)
	}
	return fmt.Sprintf("%s/%s[%s]", l.SpreadsheetID, l.SheetName, l.HeaderText)
}

// PhysicalCoordinate 物理坐标，仅在最近一次校验时有效
// 索引均从 0 开始；列级坐标 RowIndex = -1
type PhysicalCoordinate struct {
	SheetName      string `json:"sheetName"`
	ColumnIndex    int    `json:"columnIndex"`
	ColumnLetter   string `json:"columnLetter"`
	RowIndex       int    `json:"rowIndex"`
	HeaderRowIndex int    `json:"headerRowIndex"`
}

// CellAddress 返回 A1 地址；列级坐标返回列字母
func (p PhysicalCoordinate) CellAddress() string {
	if p.RowIndex < 0 {
		return p.ColumnLetter
	}
	return fmt.Sprintf("%s%d", p.ColumnLetter, p.RowIndex+1)
}

// NormalizeText 规范化比较文本：NFKC、去首尾空白、压缩空白、大小写折叠
func NormalizeText(s string) string {
	s = norm.NFKC.String(s)
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	s = strings.Join(strings.FieldsFunc(s, unicode.IsSpace), " ")
	return norm.NFKC.String(cases.Fold().String(s))
}

// TextMatches 规范化后是否相等（空串不匹配任何内容）
func TextMatches(a, b string) bool {
	na := NormalizeText(a)
	if na == "" {
		return false
	}
	return na == NormalizeText(b)
}
