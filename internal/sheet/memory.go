package sheet

import (
	"context"
	"fmt"
	"sync"

	"github.com/Chris5934/SheetSmith/internal/model"
)

// MemoryClient 内存表格客户端，用于测试和演示
// 模拟可被外部（人工）同时编辑的表格
type MemoryClient struct {
	mu     sync.RWMutex
	sheets map[string]*memorySheet
	// order 每个表格的 sheet 创建顺序
	order map[string][]string
	// failAddrs 写入时返回错误的单元格
	failAddrs map[string]error
	calls     map[string]int
}

type memorySheet struct {
	values   [][]string
	formulas map[string]string
}

// NewMemoryClient 创建内存客户端
func NewMemoryClient() *MemoryClient {
	return &MemoryClient{
		sheets:    make(map[string]*memorySheet),
		order:     make(map[string][]string),
		failAddrs: make(map[string]error),
		calls:     make(map[string]int),
	}
}

func memoryKey(spreadsheetID, sheet string) string {
	return spreadsheetID + "!" + sheet
}

// SetRows 整体替换 sheet 内容
func (m *MemoryClient) SetRows(spreadsheetID, sheet string, rows [][]string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	copied := make([][]string, len(rows))
	for i, r := range rows {
		copied[i] = append([]string(nil), r...)
	}
	key := memoryKey(spreadsheetID, sheet)
	if _, ok := m.sheets[key]; !ok {
		m.order[spreadsheetID] = append(m.order[spreadsheetID], sheet)
	}
	m.sheets[key] = &memorySheet{values: copied, formulas: make(map[string]string)}
}

// InsertColumn 在 col 前插入一列（模拟人工插列）
func (m *MemoryClient) InsertColumn(spreadsheetID, sheet string, col int, values ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sheets[memoryKey(spreadsheetID, sheet)]
	if !ok {
		return
	}
	for r := range s.values {
		row := s.values[r]
		for len(row) < col {
			row = append(row, "")
		}
		v := ""
		if r < len(values) {
			v = values[r]
		}
		row = append(row[:col], append([]string{v}, row[col:]...)...)
		s.values[r] = row
	}
	s.formulas = make(map[string]string)
}

// SetCell 直接修改单元格（模拟外部编辑）
func (m *MemoryClient) SetCell(spreadsheetID, sheet, address, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sheets[memoryKey(spreadsheetID, sheet)]
	if !ok {
		return fmt.Errorf("sheet %q: %w", sheet, model.ErrNotFound)
	}
	return s.set(address, value, "")
}

// FailWrites 让指定单元格的后续写入失败
func (m *MemoryClient) FailWrites(address string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAddrs[address] = err
}

// Calls 返回某个方法的调用次数
func (m *MemoryClient) Calls(method string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls[method]
}

func (s *memorySheet) get(address string) (CellValue, error) {
	col, row, err := ParseCell(address)
	if err != nil {
		return CellValue{}, err
	}
	v := CellValue{Formula: s.formulas[address]}
	if row < len(s.values) && col < len(s.values[row]) {
		v.Value = s.values[row][col]
	}
	return v, nil
}

func (s *memorySheet) set(address, value, formula string) error {
	col, row, err := ParseCell(address)
	if err != nil {
		return err
	}
	for len(s.values) <= row {
		s.values = append(s.values, []string{})
	}
	for len(s.values[row]) <= col {
		s.values[row] = append(s.values[row], "")
	}
	s.values[row][col] = value
	if formula != "" {
		s.formulas[address] = NormalizeFormula(formula)
	} else {
		delete(s.formulas, address)
	}
	return nil
}

func (m *MemoryClient) sheet(method, spreadsheetID, sheet string) (*memorySheet, error) {
	m.calls[method]++
	s, ok := m.sheets[memoryKey(spreadsheetID, sheet)]
	if !ok {
		return nil, fmt.Errorf("sheet %q in %s: %w", sheet, spreadsheetID, model.ErrNotFound)
	}
	return s, nil
}

func (m *MemoryClient) ListSheets(ctx context.Context, spreadsheetID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls["ListSheets"]++
	names, ok := m.order[spreadsheetID]
	if !ok {
		return nil, fmt.Errorf("spreadsheet %s: %w", spreadsheetID, model.ErrNotFound)
	}
	return append([]string(nil), names...), nil
}

func (m *MemoryClient) ReadHeaderRow(ctx context.Context, spreadsheetID, sheet string, headerRow int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.sheet("ReadHeaderRow", spreadsheetID, sheet)
	if err != nil {
		return nil, err
	}
	if headerRow < 0 || headerRow >= len(s.values) {
		return []string{}, nil
	}
	return append([]string(nil), s.values[headerRow]...), nil
}

func (m *MemoryClient) ReadColumn(ctx context.Context, spreadsheetID, sheet string, col, fromRow, toRow int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.sheet("ReadColumn", spreadsheetID, sheet)
	if err != nil {
		return nil, err
	}
	if toRow >= len(s.values) {
		toRow = len(s.values) - 1
	}
	out := []string{}
	for r := max(fromRow, 0); r <= toRow; r++ {
		v := ""
		if col >= 0 && col < len(s.values[r]) {
			v = s.values[r][col]
		}
		out = append(out, v)
	}
	return out, nil
}

func (m *MemoryClient) ReadCell(ctx context.Context, spreadsheetID, sheet, address string) (CellValue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.sheet("ReadCell", spreadsheetID, sheet)
	if err != nil {
		return CellValue{}, err
	}
	return s.get(address)
}

func (m *MemoryClient) BatchWrite(ctx context.Context, spreadsheetID, sheet string, writes []CellWrite) ([]WriteOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.sheet("BatchWrite", spreadsheetID, sheet)
	if err != nil {
		return nil, err
	}
	outcomes := make([]WriteOutcome, len(writes))
	for i, w := range writes {
		outcomes[i].Address = w.Address
		if ferr, ok := m.failAddrs[w.Address]; ok {
			outcomes[i].Err = ferr
			continue
		}
		outcomes[i].Err = s.set(w.Address, w.Value, w.Formula)
	}
	return outcomes, nil
}
