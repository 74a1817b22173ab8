package sheet

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/Chris5934/SheetSmith/internal/model"
)

// XLSXClient 基于本地 xlsx 工作簿的表格客户端
// spreadsheetID 为工作簿目录下的文件名（可省略 .xlsx 后缀）
// 已打开的工作簿按文件路径缓存，文件修改时间或大小变化时重新加载
type XLSXClient struct {
	dir string

	mu    sync.Mutex
	books map[string]*workbook
	// opens 实际打开文件的次数
	opens int
}

// workbook 单个工作簿的缓存；mu 串行化对 file 的全部访问
type workbook struct {
	mu      sync.Mutex
	file    *excelize.File
	modTime time.Time
	size    int64
}

// NewXLSXClient 创建 xlsx 客户端
func NewXLSXClient(dir string) *XLSXClient {
	return &XLSXClient{
		dir:   dir,
		books: make(map[string]*workbook),
	}
}

// Path 工作簿文件路径
func (c *XLSXClient) Path(spreadsheetID string) (string, error) {
	name := filepath.Base(strings.TrimSpace(spreadsheetID))
	if name == "" || name == "." || name == string(filepath.Separator) || name != strings.TrimSpace(spreadsheetID) {
		return "", fmt.Errorf("invalid spreadsheet id %q: %w", spreadsheetID, model.ErrNotFound)
	}
	if !strings.EqualFold(filepath.Ext(name), ".xlsx") {
		name += ".xlsx"
	}
	return filepath.Join(c.dir, name), nil
}

// List 列出目录下的工作簿
func (c *XLSXClient) List() ([]string, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to list workbooks: %w: %v", model.ErrStoreUnavailable, err)
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), "~$") {
			continue
		}
		if strings.EqualFold(filepath.Ext(e.Name()), ".xlsx") {
			out = append(out, strings.TrimSuffix(e.Name(), filepath.Ext(e.Name())))
		}
	}
	return out, nil
}

// Close 关闭全部缓存的工作簿
func (c *XLSXClient) Close() error {
	c.mu.Lock()
	books := make([]*workbook, 0, len(c.books))
	for path, b := range c.books {
		books = append(books, b)
		delete(c.books, path)
	}
	c.mu.Unlock()

	var firstErr error
	for _, b := range books {
		b.mu.Lock()
		if b.file != nil {
			if err := b.file.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		b.file = nil
		b.mu.Unlock()
	}
	return firstErr
}

func (c *XLSXClient) bookFor(path string) *workbook {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.books[path]
	if !ok {
		b = &workbook{}
		c.books[path] = b
	}
	return b
}

// withBook 在工作簿锁内执行 fn；sheet 非空时校验其存在
func (c *XLSXClient) withBook(spreadsheetID, sheet string, fn func(f *excelize.File) error) error {
	path, err := c.Path(spreadsheetID)
	if err != nil {
		return err
	}
	b := c.bookFor(path)
	b.mu.Lock()
	defer b.mu.Unlock()

	f, err := c.load(b, path, spreadsheetID)
	if err != nil {
		return err
	}
	if sheet != "" {
		idx, err := f.GetSheetIndex(sheet)
		if err != nil || idx < 0 {
			return fmt.Errorf("sheet %q in %s: %w", sheet, spreadsheetID, model.ErrNotFound)
		}
	}
	return fn(f)
}

// load 返回缓存的文件；磁盘上的文件变化后重新打开（调用方持有 b.mu）
func (c *XLSXClient) load(b *workbook, path, spreadsheetID string) (*excelize.File, error) {
	info, err := os.Stat(path)
	if err != nil {
		b.drop()
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("workbook %s: %w", spreadsheetID, model.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to stat workbook %s: %w: %v", spreadsheetID, model.ErrStoreUnavailable, err)
	}
	if b.file != nil && b.modTime.Equal(info.ModTime()) && b.size == info.Size() {
		return b.file, nil
	}

	b.drop()
	f, err := excelize.OpenFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("workbook %s: %w", spreadsheetID, model.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to open workbook %s: %w: %v", spreadsheetID, model.ErrStoreUnavailable, err)
	}
	c.mu.Lock()
	c.opens++
	c.mu.Unlock()

	b.file = f
	b.modTime = info.ModTime()
	b.size = info.Size()
	return f, nil
}

// refresh 写入并保存后记录新的文件状态，避免下一次读取重新打开
func (b *workbook) refresh(path string) {
	info, err := os.Stat(path)
	if err != nil {
		b.drop()
		return
	}
	b.modTime = info.ModTime()
	b.size = info.Size()
}

func (b *workbook) drop() {
	if b.file != nil {
		_ = b.file.Close()
	}
	b.file = nil
	b.modTime = time.Time{}
	b.size = 0
}

func (c *XLSXClient) rows(spreadsheetID, sheet string) ([][]string, error) {
	var rows [][]string
	err := c.withBook(spreadsheetID, sheet, func(f *excelize.File) error {
		var err error
		rows, err = f.GetRows(sheet)
		if err != nil {
			return fmt.Errorf("failed to read sheet %s: %w: %v", sheet, model.ErrStoreUnavailable, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// ListSheets 工作簿中的 sheet 名
func (c *XLSXClient) ListSheets(ctx context.Context, spreadsheetID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var names []string
	err := c.withBook(spreadsheetID, "", func(f *excelize.File) error {
		names = f.GetSheetList()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return names, nil
}

// ReadHeaderRow 读取一行表头
func (c *XLSXClient) ReadHeaderRow(ctx context.Context, spreadsheetID, sheet string, headerRow int) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows, err := c.rows(spreadsheetID, sheet)
	if err != nil {
		return nil, err
	}
	if headerRow < 0 || headerRow >= len(rows) {
		return []string{}, nil
	}
	return append([]string(nil), rows[headerRow]...), nil
}

// ReadColumn 读取一列的闭区间
func (c *XLSXClient) ReadColumn(ctx context.Context, spreadsheetID, sheet string, col, fromRow, toRow int) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows, err := c.rows(spreadsheetID, sheet)
	if err != nil {
		return nil, err
	}
	if fromRow < 0 {
		fromRow = 0
	}
	if toRow >= len(rows) {
		toRow = len(rows) - 1
	}
	out := make([]string, 0, max(toRow-fromRow+1, 0))
	for r := fromRow; r <= toRow; r++ {
		v := ""
		if col >= 0 && col < len(rows[r]) {
			v = rows[r][col]
		}
		out = append(out, v)
	}
	return out, nil
}

// ReadCell 读取单元格的值和公式
func (c *XLSXClient) ReadCell(ctx context.Context, spreadsheetID, sheet, address string) (CellValue, error) {
	if err := ctx.Err(); err != nil {
		return CellValue{}, err
	}
	if _, _, err := ParseCell(address); err != nil {
		return CellValue{}, err
	}
	var v CellValue
	err := c.withBook(spreadsheetID, sheet, func(f *excelize.File) error {
		value, err := f.GetCellValue(sheet, address)
		if err != nil {
			return fmt.Errorf("failed to read %s!%s: %w: %v", sheet, address, model.ErrStoreUnavailable, err)
		}
		formula, err := f.GetCellFormula(sheet, address)
		if err != nil {
			return fmt.Errorf("failed to read formula %s!%s: %w: %v", sheet, address, model.ErrStoreUnavailable, err)
		}
		v = CellValue{Value: value, Formula: NormalizeFormula(formula)}
		return nil
	})
	if err != nil {
		return CellValue{}, err
	}
	return v, nil
}

// BatchWrite 逐单元格写入并保存工作簿
// 单元格级失败记录在结果中；保存失败时全部单元格标记为失败，并丢弃缓存
func (c *XLSXClient) BatchWrite(ctx context.Context, spreadsheetID, sheet string, writes []CellWrite) ([]WriteOutcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := c.Path(spreadsheetID)
	if err != nil {
		return nil, err
	}

	b := c.bookFor(path)
	outcomes := make([]WriteOutcome, len(writes))
	err = c.withBook(spreadsheetID, sheet, func(f *excelize.File) error {
		written := 0
		for i, w := range writes {
			outcomes[i].Address = w.Address
			if w.Formula != "" {
				outcomes[i].Err = f.SetCellFormula(sheet, w.Address, strings.TrimPrefix(NormalizeFormula(w.Formula), "="))
			} else {
				outcomes[i].Err = f.SetCellValue(sheet, w.Address, w.Value)
			}
			if outcomes[i].Err == nil {
				written++
			}
		}
		if written == 0 {
			return nil
		}

		if err := f.Save(); err != nil {
			b.drop()
			saveErr := fmt.Errorf("failed to save workbook %s: %w: %v", spreadsheetID, model.ErrStoreUnavailable, err)
			for i := range outcomes {
				if outcomes[i].Err == nil {
					outcomes[i].Err = saveErr
				}
			}
			return nil
		}
		b.refresh(path)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return outcomes, nil
}
