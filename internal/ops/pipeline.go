// Package ops 预览-确认-应用流水线
package ops

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Chris5934/SheetSmith/internal/audit"
	"github.com/Chris5934/SheetSmith/internal/mapping"
	"github.com/Chris5934/SheetSmith/internal/model"
	"github.com/Chris5934/SheetSmith/internal/safety"
	"github.com/Chris5934/SheetSmith/internal/sheet"
)

const (
	// DefaultPreviewTTL 预览有效期
	DefaultPreviewTTL = 300 * time.Second
	// DefaultTombstoneRetention 过期预览的墓碑保留时长
	DefaultTombstoneRetention = 24 * time.Hour
)

// Pipeline 预览生成与应用
type Pipeline struct {
	resolver *mapping.Resolver
	client   sheet.Client
	analyzer *safety.Analyzer
	trail    *audit.Trail
	previews *registry
	ttl      time.Duration
	now      func() time.Time
	logger   *slog.Logger

	// tombstones 过期预览墓碑的保留时长
	tombstones time.Duration
}

// Option 流水线选项
type Option func(*Pipeline)

// WithTTL 设置预览有效期
func WithTTL(ttl time.Duration) Option {
	return func(p *Pipeline) {
		if ttl > 0 {
			p.ttl = ttl
		}
	}
}

// WithTombstoneRetention 设置过期预览墓碑的保留时长
func WithTombstoneRetention(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.tombstones = d
		}
	}
}

// WithClock 替换时钟（测试用）
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// WithLogger 设置日志
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewPipeline 创建流水线
func NewPipeline(resolver *mapping.Resolver, client sheet.Client, analyzer *safety.Analyzer, trail *audit.Trail, opts ...Option) *Pipeline {
	p := &Pipeline{
		resolver:   resolver,
		client:     client,
		analyzer:   analyzer,
		trail:      trail,
		ttl:        DefaultPreviewTTL,
		tombstones: DefaultTombstoneRetention,
		now:        time.Now,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.previews = newRegistry(p.ttl, p.tombstones)
	return p
}

// Limits 当前生效的安全限制
func (p *Pipeline) Limits() safety.Limits {
	return p.analyzer.Limits
}

// GeneratePreview 解析逻辑坐标、读取当前内容并生成预览
// 触发硬性限制时记录 blocked 审计并返回 *model.SafetyCheckFailedError
func (p *Pipeline) GeneratePreview(ctx context.Context, req ChangeRequest) (*model.PreviewArtifact, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var (
		changes []model.ProposedChange
		err     error
	)
	switch req.Kind {
	case KindSetValues:
		changes, err = p.buildSetValues(ctx, req)
	case KindSetCells:
		changes, err = p.buildSetCells(ctx, req)
	case KindReplaceInFormulas, KindBulkFormulaUpdate:
		changes, err = p.buildReplace(ctx, req)
	}
	if err != nil {
		return nil, err
	}

	scope, check := p.analyzer.Check(changes)
	if !check.Allowed {
		p.record(ctx, model.AuditEntry{
			OperationKind: req.Kind,
			SpreadsheetID: req.SpreadsheetID,
			ScopeSummary:  safety.Summary(scope),
			Outcome:       model.OutcomeBlocked,
			Error:         strings.Join(check.Errors, "; "),
		})
		return nil, &model.SafetyCheckFailedError{Scope: scope, Check: check}
	}

	now := p.now()
	description := req.describe()
	art := &model.PreviewArtifact{
		ID:            uuid.NewString(),
		SpreadsheetID: req.SpreadsheetID,
		Kind:          req.Kind,
		Description:   description,
		Changes:       changes,
		Scope:         scope,
		Safety:        check,
		DiffText:      diffText(description, scope, changes),
		CreatedAt:     now,
		ExpiresAt:     now.Add(p.ttl),
		State:         model.PreviewCreated,
	}
	p.previews.put(art, now)

	p.logger.Info("preview generated",
		"preview_id", art.ID,
		"spreadsheet_id", art.SpreadsheetID,
		"operation", art.Kind,
		"cells", scope.TotalCells,
		"risk", scope.RiskLevel,
		"requires_confirmation", check.RequiresConfirmation,
	)
	return clonePreview(art), nil
}

func (p *Pipeline) buildSetValues(ctx context.Context, req ChangeRequest) ([]model.ProposedChange, error) {
	labels := make([]string, 0, len(req.Values))
	for label := range req.Values {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	changes := make([]model.ProposedChange, 0, len(labels))
	for _, label := range labels {
		c, err := p.proposeCell(ctx, req.SpreadsheetID, CellChange{
			Sheet:    req.Sheet,
			Header:   req.Header,
			RowLabel: label,
			Value:    req.Values[label],
		})
		if err != nil {
			return nil, err
		}
		if c != nil {
			changes = append(changes, *c)
		}
	}
	return changes, nil
}

func (p *Pipeline) buildSetCells(ctx context.Context, req ChangeRequest) ([]model.ProposedChange, error) {
	changes := make([]model.ProposedChange, 0, len(req.Cells))
	seen := make(map[string]int, len(req.Cells))
	for _, cell := range req.Cells {
		c, err := p.proposeCell(ctx, req.SpreadsheetID, cell)
		if err != nil {
			return nil, err
		}
		if c == nil {
			continue
		}
		// 同一物理单元格以最后一次为准
		key := c.SheetName + "!" + c.CellAddress
		if i, ok := seen[key]; ok {
			changes[i] = *c
			continue
		}
		seen[key] = len(changes)
		changes = append(changes, *c)
	}
	return changes, nil
}

// proposeCell 解析概念单元格并读取当前内容；内容不变时返回 nil
func (p *Pipeline) proposeCell(ctx context.Context, spreadsheetID string, cell CellChange) (*model.ProposedChange, error) {
	phys, err := p.resolver.ResolveCell(ctx, spreadsheetID, cell.Sheet, cell.Header, cell.RowLabel)
	if err != nil {
		return nil, err
	}
	addr := phys.CellAddress()
	cur, err := p.client.ReadCell(ctx, spreadsheetID, phys.SheetName, addr)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s!%s: %w", phys.SheetName, addr, err)
	}

	c := &model.ProposedChange{
		SheetName:   phys.SheetName,
		CellAddress: addr,
		Header:      cell.Header,
		RowLabel:    cell.RowLabel,
		OldValue:    cur.Value,
		OldFormula:  cur.Formula,
	}
	if cell.Formula != "" {
		c.NewFormula = sheet.NormalizeFormula(cell.Formula)
		if c.NewFormula == sheet.NormalizeFormula(cur.Formula) {
			return nil, nil
		}
		return c, nil
	}
	c.NewValue = cell.Value
	if cur.Formula == "" && cur.Value == cell.Value {
		return nil, nil
	}
	return c, nil
}

// replaceColumn 待替换的物理列
type replaceColumn struct {
	header    string
	col       int
	headerRow int
}

// buildReplace 在目标 sheet 的公式中查找替换
// 未指定 sheet 时遍历表格的全部 sheet，并跳过缺少指定表头的 sheet
func (p *Pipeline) buildReplace(ctx context.Context, req ChangeRequest) ([]model.ProposedChange, error) {
	replace, err := replacer(req.Find, req.Replace, req.Regex)
	if err != nil {
		return nil, err
	}

	sheets := req.targetSheets()
	everySheet := len(sheets) == 0
	if everySheet {
		sheets, err = p.client.ListSheets(ctx, req.SpreadsheetID)
		if err != nil {
			return nil, fmt.Errorf("failed to list sheets of %s: %w", req.SpreadsheetID, err)
		}
	}

	var changes []model.ProposedChange
	for _, name := range sheets {
		found, err := p.replaceInSheet(ctx, req, name, replace)
		if err != nil {
			if everySheet && errors.Is(err, model.ErrHeaderNotFound) {
				p.logger.Debug("sheet skipped", "sheet", name, "error", err)
				continue
			}
			return nil, err
		}
		changes = append(changes, found...)
	}
	return changes, nil
}

func (p *Pipeline) replaceInSheet(ctx context.Context, req ChangeRequest, sheetName string, replace func(string) string) ([]model.ProposedChange, error) {
	snap, err := p.resolver.Snapshot(ctx, req.SpreadsheetID, sheetName)
	if err != nil {
		return nil, err
	}

	headers := req.Headers
	if req.Header != "" {
		headers = []string{req.Header}
	}

	var cols []replaceColumn
	if len(headers) > 0 {
		for _, h := range headers {
			phys, err := p.resolver.ResolveColumn(ctx, req.SpreadsheetID, sheetName, h)
			if err != nil {
				return nil, err
			}
			cols = append(cols, replaceColumn{header: h, col: phys.ColumnIndex, headerRow: phys.HeaderRowIndex})
		}
	} else {
		cols = allColumns(snap)
	}

	var changes []model.ProposedChange
	for _, rc := range cols {
		for row := rc.headerRow + 1; row < len(snap.Labels); row++ {
			label := snap.LabelAt(row)
			if strings.TrimSpace(label) == "" || !req.Criteria.matchesLabelOrAll(label) {
				continue
			}
			addr := sheet.CellAddress(rc.col, row)
			cur, err := p.client.ReadCell(ctx, req.SpreadsheetID, sheetName, addr)
			if err != nil {
				return nil, fmt.Errorf("failed to read %s!%s: %w", sheetName, addr, err)
			}
			if cur.Formula == "" || !req.Criteria.match(label, cur) {
				continue
			}
			next := replace(cur.Formula)
			if next == cur.Formula {
				continue
			}
			changes = append(changes, model.ProposedChange{
				SheetName:   sheetName,
				CellAddress: addr,
				Header:      rc.header,
				RowLabel:    label,
				OldValue:    cur.Value,
				OldFormula:  cur.Formula,
				NewFormula:  sheet.NormalizeFormula(next),
			})
		}
	}
	return changes, nil
}

// allColumns 第一个非空表头行中除行标签列外的全部列
func allColumns(snap *sheet.Snapshot) []replaceColumn {
	for row, cells := range snap.HeaderRows {
		var cols []replaceColumn
		for col, text := range cells {
			if col == snap.LabelColumn || strings.TrimSpace(text) == "" {
				continue
			}
			cols = append(cols, replaceColumn{header: text, col: col, headerRow: row})
		}
		if len(cols) > 0 {
			return cols
		}
	}
	return nil
}

func replacer(find, repl string, useRegex bool) (func(string) string, error) {
	if !useRegex {
		return func(s string) string { return strings.ReplaceAll(s, find, repl) }, nil
	}
	re, err := regexp.Compile(find)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid pattern %q: %v", model.ErrInvalidChange, find, err)
	}
	return func(s string) string { return re.ReplaceAllString(s, repl) }, nil
}

// Get 返回预览副本
func (p *Pipeline) Get(id string) (*model.PreviewArtifact, error) {
	art, ok := p.previews.get(id, p.now())
	if !ok {
		return nil, fmt.Errorf("preview %s: %w", id, model.ErrPreviewNotFound)
	}
	return art, nil
}

// List 仍在登记表中的预览
func (p *Pipeline) List(spreadsheetID string) []*model.PreviewArtifact {
	return p.previews.list(spreadsheetID, p.now())
}

// Apply 应用预览；单元格逐个处理，冲突与写入失败记入结果，不回滚已写入的单元格
func (p *Pipeline) Apply(ctx context.Context, id string, confirm bool) (*model.ApplyResult, error) {
	start := p.now()

	art, ok := p.previews.get(id, start)
	if !ok {
		return nil, fmt.Errorf("preview %s: %w", id, model.ErrPreviewNotFound)
	}
	if art.State != model.PreviewCreated {
		return nil, p.reject(ctx, art, stateError(art), start)
	}

	scope, check := p.analyzer.Check(art.Changes)
	if !check.Allowed {
		err := &model.SafetyCheckFailedError{Scope: scope, Check: check}
		return nil, p.reject(ctx, art, err, start)
	}
	if check.RequiresConfirmation && !confirm {
		err := fmt.Errorf("preview %s affects %d cells (risk %s): %w",
			art.ID, scope.TotalCells, scope.RiskLevel, model.ErrConfirmationRequired)
		return nil, p.reject(ctx, art, err, start)
	}

	art, err := p.previews.transition(id, model.PreviewConsumed, p.now())
	if err != nil {
		if art == nil {
			return nil, err
		}
		return nil, p.reject(ctx, art, err, start)
	}

	result := &model.ApplyResult{
		PreviewID:     art.ID,
		SpreadsheetID: art.SpreadsheetID,
		Conflicts:     []model.CellError{},
		Errors:        []model.CellError{},
	}
	for _, name := range art.Scope.Sheets {
		p.applySheet(ctx, art, name, result)
	}

	result.AppliedAt = p.now()
	result.Success = result.CellsUpdated == len(art.Changes)

	entry := model.AuditEntry{
		OperationKind: art.Kind,
		SpreadsheetID: art.SpreadsheetID,
		PreviewID:     art.ID,
		ScopeSummary:  safety.Summary(art.Scope),
		Outcome:       model.OutcomeSuccess,
		CellsChanged:  result.CellsUpdated,
		Duration:      result.AppliedAt.Sub(start),
	}
	if !result.Success {
		entry.Outcome = model.OutcomeFailed
		entry.Error = fmt.Sprintf("%d of %d cells updated; %d conflicts, %d errors",
			result.CellsUpdated, len(art.Changes), len(result.Conflicts), len(result.Errors))
	}
	result.AuditID = p.record(ctx, entry)

	p.logger.Info("preview applied",
		"preview_id", art.ID,
		"spreadsheet_id", art.SpreadsheetID,
		"cells_updated", result.CellsUpdated,
		"conflicts", len(result.Conflicts),
		"errors", len(result.Errors),
	)
	return result, nil
}

// applySheet 重读每个目标单元格，与预览不一致的记为冲突，其余批量写入
func (p *Pipeline) applySheet(ctx context.Context, art *model.PreviewArtifact, sheetName string, result *model.ApplyResult) {
	var writes []sheet.CellWrite
	for _, c := range art.Changes {
		if c.SheetName != sheetName {
			continue
		}
		cur, err := p.client.ReadCell(ctx, art.SpreadsheetID, c.SheetName, c.CellAddress)
		if err != nil {
			result.Errors = append(result.Errors, model.CellError{
				SheetName:   c.SheetName,
				CellAddress: c.CellAddress,
				Message:     fmt.Sprintf("failed to re-read cell: %v", err),
			})
			continue
		}
		if !cur.Matches(c.OldValue, c.OldFormula) {
			result.Conflicts = append(result.Conflicts, model.CellError{
				SheetName:   c.SheetName,
				CellAddress: c.CellAddress,
				Expected:    displayOld(c),
				Actual:      displayCurrent(cur),
				Message:     model.ErrConflict.Error(),
			})
			continue
		}
		writes = append(writes, sheet.CellWrite{Address: c.CellAddress, Value: c.NewValue, Formula: c.NewFormula})
	}
	if len(writes) == 0 {
		return
	}

	outcomes, err := p.client.BatchWrite(ctx, art.SpreadsheetID, sheetName, writes)
	if err != nil {
		for _, w := range writes {
			result.Errors = append(result.Errors, model.CellError{
				SheetName:   sheetName,
				CellAddress: w.Address,
				Message:     err.Error(),
			})
		}
		return
	}
	for _, o := range outcomes {
		if o.Err != nil {
			result.Errors = append(result.Errors, model.CellError{
				SheetName:   sheetName,
				CellAddress: o.Address,
				Message:     o.Err.Error(),
			})
			continue
		}
		result.CellsUpdated++
	}
}

func displayCurrent(v sheet.CellValue) string {
	if v.Formula != "" {
		return v.Formula
	}
	return v.Value
}

// Cancel 取消预览
func (p *Pipeline) Cancel(ctx context.Context, id string) (*model.PreviewArtifact, error) {
	art, err := p.previews.transition(id, model.PreviewCancelled, p.now())
	if err != nil {
		return art, err
	}
	p.record(ctx, model.AuditEntry{
		OperationKind: art.Kind,
		SpreadsheetID: art.SpreadsheetID,
		PreviewID:     art.ID,
		ScopeSummary:  safety.Summary(art.Scope),
		Outcome:       model.OutcomeCancelled,
	})
	p.logger.Info("preview cancelled", "preview_id", art.ID)
	return art, nil
}

// RecentAudit 最近的审计记录
func (p *Pipeline) RecentAudit(ctx context.Context, spreadsheetID string, limit int) ([]*model.AuditEntry, error) {
	return p.trail.Recent(ctx, spreadsheetID, limit)
}

// reject 记录 blocked 审计后返回原错误
func (p *Pipeline) reject(ctx context.Context, art *model.PreviewArtifact, cause error, start time.Time) error {
	entry := model.AuditEntry{
		OperationKind: art.Kind,
		SpreadsheetID: art.SpreadsheetID,
		PreviewID:     art.ID,
		ScopeSummary:  safety.Summary(art.Scope),
		Outcome:       model.OutcomeBlocked,
		Error:         cause.Error(),
		Duration:      p.now().Sub(start),
	}
	p.record(ctx, entry)
	return cause
}

// record 写审计；审计存储失败不覆盖操作本身的结果
func (p *Pipeline) record(ctx context.Context, entry model.AuditEntry) string {
	saved, err := p.trail.Record(ctx, entry)
	if err != nil {
		p.logger.Error("audit write failed",
			"audit_id", saved.ID,
			"preview_id", entry.PreviewID,
			"error", err,
		)
		return ""
	}
	return saved.ID
}
