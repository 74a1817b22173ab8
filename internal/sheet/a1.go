package sheet

import (
	"fmt"

	"github.com/xuri/excelize/v2"
)

// ColumnLetter 0-based 列索引转列字母
func ColumnLetter(col int) string {
	name, err := excelize.ColumnNumberToName(col + 1)
	if err != nil {
		return ""
	}
	return name
}

// ColumnIndex 列字母转 0-based 列索引
func ColumnIndex(letter string) (int, error) {
	n, err := excelize.ColumnNameToNumber(letter)
	if err != nil {
		return -1, err
	}
	return n - 1, nil
}

// CellAddress 0-based 行列转 A1 地址
func CellAddress(col, row int) string {
	addr, err := excelize.CoordinatesToCellName(col+1, row+1)
	if err != nil {
		return ""
	}
	return addr
}

// ParseCell A1 地址转 0-based 行列
func ParseCell(address string) (col, row int, err error) {
	c, r, err := excelize.CellNameToCoordinates(address)
	if err != nil {
		return -1, -1, fmt.Errorf("invalid cell address %q: %w", address, err)
	}
	return c - 1, r - 1, nil
}
