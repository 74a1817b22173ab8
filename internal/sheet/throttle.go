package sheet

import (
	"context"

	"golang.org/x/time/rate"
)

// Throttled 对表格客户端调用限速
type Throttled struct {
	next    Client
	limiter *rate.Limiter
}

// NewThrottled 创建限速客户端；perSecond <= 0 时不限速
func NewThrottled(next Client, perSecond float64, burst int) Client {
	if perSecond <= 0 {
		return next
	}
	if burst <= 0 {
		burst = 1
	}
	return &Throttled{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

func (t *Throttled) ListSheets(ctx context.Context, spreadsheetID string) ([]string, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return t.next.ListSheets(ctx, spreadsheetID)
}

func (t *Throttled) ReadHeaderRow(ctx context.Context, spreadsheetID, sheet string, headerRow int) ([]string, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return t.next.ReadHeaderRow(ctx, spreadsheetID, sheet, headerRow)
}

func (t *Throttled) ReadColumn(ctx context.Context, spreadsheetID, sheet string, col, fromRow, toRow int) ([]string, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return t.next.ReadColumn(ctx, spreadsheetID, sheet, col, fromRow, toRow)
}

func (t *Throttled) ReadCell(ctx context.Context, spreadsheetID, sheet, address string) (CellValue, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return CellValue{}, err
	}
	return t.next.ReadCell(ctx, spreadsheetID, sheet, address)
}

// BatchWrite 一次批量写入只消耗一个令牌
func (t *Throttled) BatchWrite(ctx context.Context, spreadsheetID, sheet string, writes []CellWrite) ([]WriteOutcome, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return t.next.BatchWrite(ctx, spreadsheetID, sheet, writes)
}
