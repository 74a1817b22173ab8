package model

import "time"

// ChangeType 变更类型
type ChangeType string

const (
	ChangeTypeValue   ChangeType = "value"
	ChangeTypeFormula ChangeType = "formula"
	ChangeTypeBoth    ChangeType = "both"
)

// RiskLevel 风险等级
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// ProposedChange 针对单个物理单元格的拟变更
type ProposedChange struct {
	SheetName   string `json:"sheetName"`
	CellAddress string `json:"cellAddress"`
	Header      string `json:"header,omitempty"`
	RowLabel    string `json:"rowLabel,omitempty"`
	OldValue    string `json:"oldValue"`
	NewValue    string `json:"newValue,omitempty"`
	OldFormula  string `json:"oldFormula,omitempty"`
	NewFormula  string `json:"newFormula,omitempty"`
}

// IsFormula 是否写入公式
func (c ProposedChange) IsFormula() bool {
	return c.NewFormula != ""
}

// ChangeType 按新旧内容判断变更类型
func (c ProposedChange) ChangeType() ChangeType {
	switch {
	case c.NewFormula != "" && c.OldFormula == "" && c.OldValue != "":
		return ChangeTypeBoth
	case c.NewFormula != "" || c.OldFormula != "":
		return ChangeTypeFormula
	default:
		return ChangeTypeValue
	}
}

// RowRange 单个 sheet 内受影响的行区间（1-based，闭区间）
type RowRange struct {
	First int `json:"first"`
	Last  int `json:"last"`
}

// OperationScope 变更集合的影响范围摘要
type OperationScope struct {
	TotalCells        int                 `json:"totalCells"`
	TotalSheets       int                 `json:"totalSheets"`
	Sheets            []string            `json:"sheets"`
	Headers           []string            `json:"headers"`
	Columns           []string            `json:"columns"`
	Rows              []string            `json:"rows"`
	RowRangeBySheet   map[string]RowRange `json:"rowRangeBySheet"`
	EstimatedDuration time.Duration       `json:"estimatedDuration"`
	RiskLevel         RiskLevel           `json:"riskLevel"`
}

// SafetyCheck 安全校验结果
type SafetyCheck struct {
	Allowed              bool     `json:"allowed"`
	Warnings             []string `json:"warnings,omitempty"`
	Errors               []string `json:"errors,omitempty"`
	LimitBreaches        []string `json:"limitBreaches,omitempty"`
	RequiresConfirmation bool     `json:"requiresConfirmation"`
	RequiresPreview      bool     `json:"requiresPreview"`
}

// PreviewState 预览生命周期状态
type PreviewState string

const (
	PreviewCreated   PreviewState = "created"
	PreviewConsumed  PreviewState = "consumed"
	PreviewExpired   PreviewState = "expired"
	PreviewCancelled PreviewState = "cancelled"
)

// Terminal 是否为终态
func (s PreviewState) Terminal() bool {
	return s != PreviewCreated
}

// PreviewArtifact 单次使用、带过期时间的变更预览
type PreviewArtifact struct {
	ID            string           `json:"previewId"`
	SpreadsheetID string           `json:"spreadsheetId"`
	Kind          string           `json:"operationKind"`
	Description   string           `json:"description"`
	Changes       []ProposedChange `json:"changes"`
	Scope         OperationScope   `json:"scope"`
	Safety        SafetyCheck      `json:"safety"`
	DiffText      string           `json:"diffText"`
	CreatedAt     time.Time        `json:"createdAt"`
	ExpiresAt     time.Time        `json:"expiresAt"`
	State         PreviewState     `json:"state"`
}

// Consumed 是否已被应用
func (p *PreviewArtifact) Consumed() bool {
	return p.State == PreviewConsumed
}

// CellError 单元格级错误或冲突
type CellError struct {
	SheetName   string `json:"sheetName"`
	CellAddress string `json:"cellAddress"`
	Expected    string `json:"expected,omitempty"`
	Actual      string `json:"actual,omitempty"`
	Message     string `json:"message"`
}

// ApplyResult 应用结果
type ApplyResult struct {
	Success       bool        `json:"success"`
	PreviewID     string      `json:"previewId"`
	SpreadsheetID string      `json:"spreadsheetId"`
	CellsUpdated  int         `json:"cellsUpdated"`
	Conflicts     []CellError `json:"conflicts,omitempty"`
	Errors        []CellError `json:"errors,omitempty"`
	AuditID       string      `json:"auditId"`
	AppliedAt     time.Time   `json:"appliedAt"`
}
