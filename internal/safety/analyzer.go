package safety

import (
	"fmt"
	"sort"
	"time"
	"unicode/utf8"

	"github.com/Chris5934/SheetSmith/internal/model"
	"github.com/Chris5934/SheetSmith/internal/sheet"
)

// Limits 硬性限制与确认阈值
type Limits struct {
	MaxCellsPerOperation     int `toml:"max_cells_per_operation" json:"maxCellsPerOperation"`
	MaxSheetsPerOperation    int `toml:"max_sheets_per_operation" json:"maxSheetsPerOperation"`
	MaxFormulaLength         int `toml:"max_formula_length" json:"maxFormulaLength"`
	RequirePreviewAboveCells int `toml:"require_preview_above_cells" json:"requirePreviewAboveCells"`
}

// RiskThresholds 风险等级阈值：两项都不超过下限为 low，任一超过上限为 high
type RiskThresholds struct {
	CellsFloor    int `toml:"cells_floor" json:"cellsFloor"`
	CellsCeiling  int `toml:"cells_ceiling" json:"cellsCeiling"`
	SheetsFloor   int `toml:"sheets_floor" json:"sheetsFloor"`
	SheetsCeiling int `toml:"sheets_ceiling" json:"sheetsCeiling"`
}

// DefaultPerCellCost 单元格预估耗时
const DefaultPerCellCost = 10 * time.Millisecond

// DefaultLimits 默认限制
func DefaultLimits() Limits {
	return Limits{
		MaxCellsPerOperation:     500,
		MaxSheetsPerOperation:    40,
		MaxFormulaLength:         50000,
		RequirePreviewAboveCells: 10,
	}
}

// DefaultRiskThresholds 默认风险阈值
func DefaultRiskThresholds() RiskThresholds {
	return RiskThresholds{
		CellsFloor:    100,
		CellsCeiling:  300,
		SheetsFloor:   10,
		SheetsCeiling: 30,
	}
}

// Analyzer 影响范围与安全校验
type Analyzer struct {
	Limits      Limits
	Risk        RiskThresholds
	PerCellCost time.Duration
}

// NewAnalyzer 创建分析器；perCellCost <= 0 使用默认值
func NewAnalyzer(limits Limits, risk RiskThresholds, perCellCost time.Duration) *Analyzer {
	if perCellCost <= 0 {
		perCellCost = DefaultPerCellCost
	}
	return &Analyzer{Limits: limits, Risk: risk, PerCellCost: perCellCost}
}

// Analyze 计算影响范围
func (a *Analyzer) Analyze(changes []model.ProposedChange) model.OperationScope {
	return Analyze(changes, a.Risk, a.PerCellCost)
}

// Check 计算影响范围并做安全校验
func (a *Analyzer) Check(changes []model.ProposedChange) (model.OperationScope, model.SafetyCheck) {
	scope := a.Analyze(changes)
	return scope, Validate(scope, changes, a.Limits)
}

// Analyze 纯函数：统计单元格、sheet、表头、列、行，估算耗时并评定风险
func Analyze(changes []model.ProposedChange, risk RiskThresholds, perCellCost time.Duration) model.OperationScope {
	sheets := map[string]struct{}{}
	headers := map[string]struct{}{}
	columns := map[string]struct{}{}
	rows := map[string]struct{}{}
	ranges := map[string]model.RowRange{}

	for _, c := range changes {
		sheets[c.SheetName] = struct{}{}
		if c.Header != "" {
			headers[c.Header] = struct{}{}
		}
		col, row, err := sheet.ParseCell(c.CellAddress)
		if err != nil {
			continue
		}
		columns[c.SheetName+"!"+sheet.ColumnLetter(col)] = struct{}{}
		rows[fmt.Sprintf("%s!%d", c.SheetName, row+1)] = struct{}{}

		r, ok := ranges[c.SheetName]
		if !ok {
			r = model.RowRange{First: row + 1, Last: row + 1}
		}
		r.First = min(r.First, row+1)
		r.Last = max(r.Last, row+1)
		ranges[c.SheetName] = r
	}

	scope := model.OperationScope{
		TotalCells:        len(changes),
		TotalSheets:       len(sheets),
		Sheets:            sortedKeys(sheets),
		Headers:           sortedKeys(headers),
		Columns:           sortedKeys(columns),
		Rows:              sortedKeys(rows),
		RowRangeBySheet:   ranges,
		EstimatedDuration: time.Duration(len(changes)) * perCellCost,
	}
	scope.RiskLevel = Risk(scope.TotalCells, scope.TotalSheets, risk)
	return scope
}

// Risk 风险等级，随单元格数和 sheet 数单调不减
func Risk(cells, sheets int, t RiskThresholds) model.RiskLevel {
	switch {
	case cells > t.CellsCeiling || sheets > t.SheetsCeiling:
		return model.RiskHigh
	case cells > t.CellsFloor || sheets > t.SheetsFloor:
		return model.RiskMedium
	default:
		return model.RiskLow
	}
}

// Validate 按硬性限制校验；任何违反都使 Allowed=false，不存在部分放行
func Validate(scope model.OperationScope, changes []model.ProposedChange, limits Limits) model.SafetyCheck {
	check := model.SafetyCheck{Warnings: []string{}, Errors: []string{}, LimitBreaches: []string{}}

	if limits.MaxCellsPerOperation > 0 && scope.TotalCells > limits.MaxCellsPerOperation {
		check.LimitBreaches = append(check.LimitBreaches, "max_cells_per_operation")
		check.Errors = append(check.Errors, fmt.Sprintf(
			"operation affects %d cells, exceeding limit of %d; narrow the scope",
			scope.TotalCells, limits.MaxCellsPerOperation))
	}
	if limits.MaxSheetsPerOperation > 0 && scope.TotalSheets > limits.MaxSheetsPerOperation {
		check.LimitBreaches = append(check.LimitBreaches, "max_sheets_per_operation")
		check.Errors = append(check.Errors, fmt.Sprintf(
			"operation affects %d sheets, exceeding limit of %d; narrow the scope",
			scope.TotalSheets, limits.MaxSheetsPerOperation))
	}
	if limits.MaxFormulaLength > 0 {
		longest, where := 0, ""
		over := 0
		for _, c := range changes {
			n := utf8.RuneCountInString(c.NewFormula)
			if n > limits.MaxFormulaLength {
				over++
			}
			if n > longest {
				longest, where = n, c.SheetName+"!"+c.CellAddress
			}
		}
		if over > 0 {
			check.LimitBreaches = append(check.LimitBreaches, "max_formula_length")
			check.Errors = append(check.Errors, fmt.Sprintf(
				"%d formulas exceed the length limit of %d (longest %d at %s)",
				over, limits.MaxFormulaLength, longest, where))
		}
	}

	if scope.TotalCells > limits.RequirePreviewAboveCells {
		check.RequiresConfirmation = true
		check.RequiresPreview = true
		check.Warnings = append(check.Warnings, fmt.Sprintf(
			"large operation (%d cells); explicit confirmation required", scope.TotalCells))
	}
	if scope.RiskLevel == model.RiskHigh {
		check.RequiresConfirmation = true
		check.RequiresPreview = true
		check.Warnings = append(check.Warnings, "high-risk operation")
	}

	check.Allowed = len(check.Errors) == 0
	return check
}

// Summary 单行范围摘要，写入审计日志
func Summary(scope model.OperationScope) string {
	return fmt.Sprintf("%d cells, %d sheets, %d columns, %d rows, risk %s",
		scope.TotalCells, scope.TotalSheets, len(scope.Columns), len(scope.Rows), scope.RiskLevel)
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
