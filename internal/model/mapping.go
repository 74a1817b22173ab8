package model

import "time"

// MappingKind 映射类型，由 RowLabel 是否存在决定
type MappingKind string

const (
	MappingKindColumn MappingKind = "column"
	MappingKindCell   MappingKind = "cell"
)

// MappingStatus 映射状态，总是针对当前 sheet 内容计算，不单独存储
type MappingStatus string

const (
	StatusValid     MappingStatus = "valid"
	StatusMoved     MappingStatus = "moved"
	StatusMissing   MappingStatus = "missing"
	StatusAmbiguous MappingStatus = "ambiguous"
)

// Dimension 校验/消歧的维度
type Dimension string

const (
	DimensionColumn Dimension = "column"
	DimensionRow    Dimension = "row"
)

// AdjacentHeaders 左右相邻表头；行候选时为上下相邻的行标签
type AdjacentHeaders struct {
	Left  string `json:"left,omitempty"`
	Right string `json:"right,omitempty"`
}

// Candidate 歧义候选
// 列候选 RowIndex 为所在行（未知时 -1），行候选 ColumnIndex 为已确定的列
type Candidate struct {
	ColumnLetter    string          `json:"columnLetter"`
	ColumnIndex     int             `json:"columnIndex"`
	HeaderRowIndex  int             `json:"headerRowIndex"`
	RowIndex        int             `json:"rowIndex"`
	SampleValues    []string        `json:"sampleValues"`
	AdjacentHeaders AdjacentHeaders `json:"adjacentHeaders"`
}

// DisambiguationContext 由人工消歧产生的映射上下文
type DisambiguationContext struct {
	SelectedIndex   int       `json:"selectedIndex"`
	TotalCandidates int       `json:"totalCandidates"`
	UserLabel       string    `json:"userLabel,omitempty"`
	Candidate       Candidate `json:"candidate"`
	DisambiguatedAt time.Time `json:"disambiguatedAt"`
}

// MappingRecord 逻辑坐标 ↔ 物理坐标 的持久化映射
type MappingRecord struct {
	ID                int64                  `json:"id"`
	Logical           LogicalCoordinate      `json:"logical"`
	Physical          PhysicalCoordinate     `json:"physical"`
	Disambiguation    *DisambiguationContext `json:"disambiguation,omitempty"`
	RowDisambiguation *DisambiguationContext `json:"rowDisambiguation,omitempty"`
	LastValidatedAt   time.Time              `json:"lastValidatedAt"`
	CreatedAt         time.Time              `json:"createdAt"`
	UpdatedAt         time.Time              `json:"updatedAt"`
}

// Physical 候选对应的物理坐标
func (c Candidate) Physical(sheetName string) PhysicalCoordinate {
	return PhysicalCoordinate{
		SheetName:      sheetName,
		ColumnIndex:    c.ColumnIndex,
		ColumnLetter:   c.ColumnLetter,
		RowIndex:       c.RowIndex,
		HeaderRowIndex: c.HeaderRowIndex,
	}
}

// ContextFor 按维度取消歧上下文
func (r *MappingRecord) ContextFor(dim Dimension) *DisambiguationContext {
	if dim == DimensionRow {
		return r.RowDisambiguation
	}
	return r.Disambiguation
}

// Kind 返回映射类型
func (r *MappingRecord) Kind() MappingKind {
	if r.Logical.IsCell() {
		return MappingKindCell
	}
	return MappingKindColumn
}

// DisambiguationRequest 待人工确认的歧义请求（仅存在于内存，带 TTL）
type DisambiguationRequest struct {
	ID         string            `json:"id"`
	Logical    LogicalCoordinate `json:"logical"`
	Dimension  Dimension         `json:"dimension"`
	Candidates []Candidate       `json:"candidates"`
	CreatedAt  time.Time         `json:"createdAt"`
	ExpiresAt  time.Time         `json:"expiresAt"`
}

// AuditReportEntry 映射审计明细
type AuditReportEntry struct {
	MappingID       int64             `json:"mappingId"`
	Kind            MappingKind       `json:"kind"`
	Logical         LogicalCoordinate `json:"logical"`
	CachedAddress   string            `json:"cachedAddress"`
	CurrentAddress  string            `json:"currentAddress,omitempty"`
	Status          MappingStatus     `json:"status"`
	Message         string            `json:"message"`
	CandidateCount  int               `json:"candidateCount,omitempty"`
	LastValidatedAt time.Time         `json:"lastValidatedAt"`
	NeedsAction     bool              `json:"needsAction"`
}

// AuditReport 某个表格全部映射的健康报告
type AuditReport struct {
	SpreadsheetID string             `json:"spreadsheetId"`
	Total         int                `json:"total"`
	Valid         int                `json:"valid"`
	Moved         int                `json:"moved"`
	Missing       int                `json:"missing"`
	Ambiguous     int                `json:"ambiguous"`
	Entries       []AuditReportEntry `json:"entries"`
	GeneratedAt   time.Time          `json:"generatedAt"`
}

// Add 按状态计数并追加明细
func (r *AuditReport) Add(e AuditReportEntry) {
	switch e.Status {
	case StatusValid:
		r.Valid++
	case StatusMoved:
		r.Moved++
	case StatusMissing:
		r.Missing++
	case StatusAmbiguous:
		r.Ambiguous++
	}
	r.Total++
	r.Entries = append(r.Entries, e)
}
