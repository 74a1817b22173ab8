package mapping

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Chris5934/SheetSmith/internal/model"
	"github.com/Chris5934/SheetSmith/internal/sheet"
)

// Options 解析器配置
type Options struct {
	Limits sheet.ScanLimits
	// LabelColumn 行标签所在列（0-based），默认 A 列
	LabelColumn int
	// SampleValues 候选列展示的样例数量
	SampleValues int
}

// DefaultOptions 默认配置
func DefaultOptions() Options {
	return Options{
		Limits:       sheet.DefaultScanLimits(),
		LabelColumn:  0,
		SampleValues: 5,
	}
}

// Resolver 逻辑坐标解析入口，组合映射存储、布局校验和消歧登记表
type Resolver struct {
	store  Store
	client sheet.Client
	coord  *Coordinator
	opts   Options
	logger *slog.Logger
	now    func() time.Time
}

// NewResolver 创建解析器
func NewResolver(store Store, client sheet.Client, coord *Coordinator, opts Options, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.SampleValues <= 0 {
		opts.SampleValues = 5
	}
	if opts.LabelColumn < 0 {
		opts.LabelColumn = 0
	}
	opts.Limits = opts.Limits.WithDefaults()
	return &Resolver{
		store:  store,
		client: client,
		coord:  coord,
		opts:   opts,
		logger: logger,
		now:    coord.now,
	}
}

// Coordinator 返回消歧登记表
func (r *Resolver) Coordinator() *Coordinator {
	return r.coord
}

type resolveOptions struct {
	autoCreate bool
}

// ResolveOption 单次解析选项
type ResolveOption func(*resolveOptions)

// WithAutoCreate 未缓存时是否扫描并创建映射（默认 true）
func WithAutoCreate(v bool) ResolveOption {
	return func(o *resolveOptions) { o.autoCreate = v }
}

// ResolveColumn 解析列级逻辑坐标
func (r *Resolver) ResolveColumn(ctx context.Context, spreadsheetID, sheetName, header string, opts ...ResolveOption) (model.PhysicalCoordinate, error) {
	l := model.LogicalCoordinate{SpreadsheetID: spreadsheetID, SheetName: sheetName, HeaderText: header}
	return r.Resolve(ctx, l, opts...)
}

// ResolveCell 解析 表头 × 行标签 的概念单元格；列歧义优先于行歧义
func (r *Resolver) ResolveCell(ctx context.Context, spreadsheetID, sheetName, header, rowLabel string, opts ...ResolveOption) (model.PhysicalCoordinate, error) {
	if strings.TrimSpace(rowLabel) == "" {
		return model.PhysicalCoordinate{}, fmt.Errorf("row label is required: %w", model.ErrInvalidArgument)
	}
	l := model.LogicalCoordinate{SpreadsheetID: spreadsheetID, SheetName: sheetName, HeaderText: header, RowLabel: rowLabel}
	return r.Resolve(ctx, l, opts...)
}

// Resolve 解析任意逻辑坐标
func (r *Resolver) Resolve(ctx context.Context, l model.LogicalCoordinate, opts ...ResolveOption) (model.PhysicalCoordinate, error) {
	o := resolveOptions{autoCreate: true}
	for _, opt := range opts {
		opt(&o)
	}
	if strings.TrimSpace(l.SpreadsheetID) == "" || strings.TrimSpace(l.SheetName) == "" || model.NormalizeText(l.HeaderText) == "" {
		return model.PhysicalCoordinate{}, fmt.Errorf("spreadsheet, sheet and header are required: %w", model.ErrInvalidArgument)
	}

	unlock := r.coord.locks.Lock(l.Key())
	defer unlock()

	snap, err := sheet.LoadSnapshot(ctx, r.client, l.SpreadsheetID, l.SheetName, r.opts.LabelColumn, r.opts.Limits)
	if err != nil {
		return model.PhysicalCoordinate{}, err
	}

	cached, err := r.store.GetMapping(ctx, l)
	if err != nil && !errors.Is(err, model.ErrMappingNotFound) {
		return model.PhysicalCoordinate{}, err
	}

	if cached != nil {
		v := Validate(cached, snap)
		switch v.Status {
		case model.StatusValid:
			cached.LastValidatedAt = r.now()
			if _, err := r.store.PutMapping(ctx, cached); err != nil {
				return model.PhysicalCoordinate{}, err
			}
			return cached.Physical, nil

		case model.StatusMoved:
			from := cached.Physical.CellAddress()
			cached.Physical = v.Physical
			cached.LastValidatedAt = r.now()
			saved, err := r.store.PutMapping(ctx, cached)
			if err != nil {
				return model.PhysicalCoordinate{}, err
			}
			r.logger.Info("mapping moved",
				"mapping_id", saved.ID,
				"logical", l.String(),
				"from", from,
				"to", saved.Physical.CellAddress(),
			)
			return saved.Physical, nil

		case model.StatusAmbiguous:
			return model.PhysicalCoordinate{}, r.raise(ctx, l, v.Dimension, v.Candidates)

		case model.StatusMissing:
			if _, err := r.store.DeleteMapping(ctx, cached.ID); err != nil {
				return model.PhysicalCoordinate{}, err
			}
			r.logger.Warn("mapping deleted",
				"mapping_id", cached.ID,
				"logical", l.String(),
				"reason", v.Message,
			)
		}
	}

	if !o.autoCreate {
		return model.PhysicalCoordinate{}, fmt.Errorf("%s: %w", l, model.ErrMappingNotFound)
	}
	return r.scan(ctx, l, snap)
}

// scan 全量扫描并在唯一匹配时创建映射
func (r *Resolver) scan(ctx context.Context, l model.LogicalCoordinate, snap *sheet.Snapshot) (model.PhysicalCoordinate, error) {
	cols := FindHeader(snap, l.HeaderText, -1)
	switch {
	case len(cols) == 0:
		return model.PhysicalCoordinate{}, fmt.Errorf("header %q in sheet %q: %w", l.HeaderText, l.SheetName, model.ErrHeaderNotFound)
	case len(cols) > 1:
		if l.IsCell() {
			// 行标签唯一时预先带上行号
			for i := range cols {
				if rows := FindRowLabel(snap, l.RowLabel, cols[i]); len(rows) == 1 {
					cols[i].RowIndex = rows[0].RowIndex
				}
			}
		}
		return model.PhysicalCoordinate{}, r.raise(ctx, l, model.DimensionColumn, cols)
	}

	col := cols[0]
	physical := col.Physical(l.SheetName)
	physical.RowIndex = -1
	if l.IsCell() {
		rows := FindRowLabel(snap, l.RowLabel, col)
		switch {
		case len(rows) == 0:
			return model.PhysicalCoordinate{}, fmt.Errorf("row label %q in sheet %q: %w", l.RowLabel, l.SheetName, model.ErrRowLabelNotFound)
		case len(rows) > 1:
			return model.PhysicalCoordinate{}, r.raise(ctx, l, model.DimensionRow, rows)
		}
		physical.RowIndex = rows[0].RowIndex
	}

	saved, err := r.store.PutMapping(ctx, &model.MappingRecord{
		Logical:         l,
		Physical:        physical,
		LastValidatedAt: r.now(),
	})
	if err != nil {
		return model.PhysicalCoordinate{}, err
	}
	r.logger.Info("mapping created",
		"mapping_id", saved.ID,
		"kind", saved.Kind(),
		"logical", l.String(),
		"address", saved.Physical.CellAddress(),
	)
	return saved.Physical, nil
}

// raise 补充候选上下文并登记消歧请求
func (r *Resolver) raise(ctx context.Context, l model.LogicalCoordinate, dim model.Dimension, candidates []model.Candidate) error {
	if existing := r.coord.outstanding(l, dim); existing != nil {
		return &model.DisambiguationRequiredError{Request: existing}
	}

	enriched := make([]model.Candidate, len(candidates))
	for i, cand := range candidates {
		samples, err := r.samples(ctx, l, dim, cand)
		if err != nil {
			return err
		}
		cand.SampleValues = samples
		enriched[i] = cand
	}

	req, created := r.coord.Request(l, dim, enriched)
	if created {
		r.logger.Info("mapping ambiguous",
			"logical", l.String(),
			"dimension", dim,
			"request_id", req.ID,
		)
	}
	return &model.DisambiguationRequiredError{Request: req}
}

// samples 现场读取候选的样例值，不复用缓存
func (r *Resolver) samples(ctx context.Context, l model.LogicalCoordinate, dim model.Dimension, cand model.Candidate) ([]string, error) {
	if dim == model.DimensionRow {
		v, err := r.client.ReadCell(ctx, l.SpreadsheetID, l.SheetName, sheet.CellAddress(cand.ColumnIndex, cand.RowIndex))
		if err != nil {
			return nil, err
		}
		if v.Formula != "" {
			return []string{v.Value, v.Formula}, nil
		}
		return []string{v.Value}, nil
	}

	from := cand.HeaderRowIndex + 1
	values, err := r.client.ReadColumn(ctx, l.SpreadsheetID, l.SheetName, cand.ColumnIndex, from, from+r.opts.Limits.MaxRows-1)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, r.opts.SampleValues)
	for _, v := range values {
		if strings.TrimSpace(v) == "" {
			continue
		}
		out = append(out, v)
		if len(out) >= r.opts.SampleValues {
			break
		}
	}
	return out, nil
}

// Disambiguate 提交消歧选择
func (r *Resolver) Disambiguate(ctx context.Context, requestID string, selectedIndex int, userLabel string) (*model.MappingRecord, error) {
	return r.coord.resolve(ctx, requestID, selectedIndex, userLabel, r.locateRow)
}

// locateRow 读取当前布局，在选定列下查找行标签
func (r *Resolver) locateRow(ctx context.Context, l model.LogicalCoordinate, col model.Candidate) ([]model.Candidate, error) {
	snap, err := r.Snapshot(ctx, l.SpreadsheetID, l.SheetName)
	if err != nil {
		return nil, err
	}
	return FindRowLabel(snap, l.RowLabel, col), nil
}

// DeleteMapping 手动删除映射
func (r *Resolver) DeleteMapping(ctx context.Context, id int64) error {
	rec, err := r.store.GetMappingByID(ctx, id)
	if err != nil {
		return err
	}

	unlock := r.coord.locks.Lock(rec.Logical.Key())
	defer unlock()

	ok, err := r.store.DeleteMapping(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("mapping id %d: %w", id, model.ErrMappingNotFound)
	}
	r.logger.Info("mapping deleted", "mapping_id", id, "logical", rec.Logical.String(), "reason", "operator")
	return nil
}

// Snapshot 按解析器的扫描范围读取 sheet 当前布局
func (r *Resolver) Snapshot(ctx context.Context, spreadsheetID, sheetName string) (*sheet.Snapshot, error) {
	return sheet.LoadSnapshot(ctx, r.client, spreadsheetID, sheetName, r.opts.LabelColumn, r.opts.Limits)
}
