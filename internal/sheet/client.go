package sheet

import (
	"context"
	"strings"
)

// CellValue 单元格当前内容；Formula 以 "=" 开头，无公式时为空
type CellValue struct {
	Value   string `json:"value"`
	Formula string `json:"formula,omitempty"`
}

// Matches 与预览记录的旧值/旧公式是否一致
func (v CellValue) Matches(value, formula string) bool {
	if v.Formula != "" || formula != "" {
		return NormalizeFormula(v.Formula) == NormalizeFormula(formula)
	}
	return v.Value == value
}

// CellWrite 单个单元格写入；Formula 非空时写公式，否则写值
type CellWrite struct {
	Address string
	Value   string
	Formula string
}

// WriteOutcome 单个单元格的写入结果
type WriteOutcome struct {
	Address string
	Err     error
}

// Client 表格存储客户端
// 所有读取都反映调用时刻的实时内容；行列索引从 0 开始
type Client interface {
	// ListSheets 按工作簿中的顺序列出全部 sheet 名
	ListSheets(ctx context.Context, spreadsheetID string) ([]string, error)
	ReadHeaderRow(ctx context.Context, spreadsheetID, sheet string, headerRow int) ([]string, error)
	// ReadColumn 读取 [fromRow, toRow] 闭区间，末尾空行可能被截断
	ReadColumn(ctx context.Context, spreadsheetID, sheet string, col, fromRow, toRow int) ([]string, error)
	ReadCell(ctx context.Context, spreadsheetID, sheet, address string) (CellValue, error)
	// BatchWrite 逐单元格写入，返回每个单元格的结果；err 仅表示整体不可用
	BatchWrite(ctx context.Context, spreadsheetID, sheet string, writes []CellWrite) ([]WriteOutcome, error)
}

// NormalizeFormula 统一公式前缀
func NormalizeFormula(f string) string {
	f = strings.TrimSpace(f)
	if f == "" {
		return ""
	}
	if !strings.HasPrefix(f, "=") {
		return "=" + f
	}
	return f
}
