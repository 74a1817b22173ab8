package mapping

import (
	"fmt"

	"github.com/Chris5934/SheetSmith/internal/model"
	"github.com/Chris5934/SheetSmith/internal/sheet"
)

// Validation 映射校验结果
//
//	Valid     Physical 为缓存坐标
//	Moved     Physical 为新坐标，由调用方写回
//	Missing   Dimension 指明缺失的维度
//	Ambiguous Candidates 为全部候选，需人工消歧
type Validation struct {
	Status     model.MappingStatus
	Dimension  model.Dimension
	Physical   model.PhysicalCoordinate
	Candidates []model.Candidate
	Message    string
}

// Validate 将映射与当前 sheet 内容比对，不修改任何状态
func Validate(rec *model.MappingRecord, snap *sheet.Snapshot) Validation {
	l := rec.Logical
	cached := rec.Physical

	cols := FindHeader(snap, l.HeaderText, cached.HeaderRowIndex)
	col, status := classify(cols, cached.ColumnIndex, rec.Disambiguation, columnPosition)
	switch status {
	case model.StatusMissing:
		return Validation{
			Status:    model.StatusMissing,
			Dimension: model.DimensionColumn,
			Message:   fmt.Sprintf("header %q not found in row %d of sheet %q", l.HeaderText, cached.HeaderRowIndex+1, l.SheetName),
		}
	case model.StatusAmbiguous:
		return Validation{
			Status:     model.StatusAmbiguous,
			Dimension:  model.DimensionColumn,
			Candidates: cols,
			Message:    fmt.Sprintf("%d columns found with header %q", len(cols), l.HeaderText),
		}
	}

	current := col.Physical(l.SheetName)
	current.RowIndex = -1
	if !l.IsCell() {
		v := Validation{Status: status, Dimension: model.DimensionColumn, Physical: current}
		if status == model.StatusMoved {
			v.Message = fmt.Sprintf("header %q moved from column %s to %s", l.HeaderText, cached.ColumnLetter, current.ColumnLetter)
		} else {
			v.Message = fmt.Sprintf("header %q is valid at column %s", l.HeaderText, cached.ColumnLetter)
		}
		return v
	}

	rows := FindRowLabel(snap, l.RowLabel, col)
	row, rowStatus := classify(rows, cached.RowIndex, rec.RowDisambiguation, rowPosition)
	switch rowStatus {
	case model.StatusMissing:
		return Validation{
			Status:    model.StatusMissing,
			Dimension: model.DimensionRow,
			Message:   fmt.Sprintf("row label %q not found in sheet %q", l.RowLabel, l.SheetName),
		}
	case model.StatusAmbiguous:
		return Validation{
			Status:     model.StatusAmbiguous,
			Dimension:  model.DimensionRow,
			Candidates: rows,
			Message:    fmt.Sprintf("%d rows found with label %q", len(rows), l.RowLabel),
		}
	}

	current.RowIndex = row.RowIndex
	v := Validation{Status: model.StatusValid, Dimension: model.DimensionColumn, Physical: current}
	if status == model.StatusMoved || rowStatus == model.StatusMoved {
		v.Status = model.StatusMoved
		if rowStatus == model.StatusMoved {
			v.Dimension = model.DimensionRow
		}
		v.Message = fmt.Sprintf("cell %q × %q moved from %s to %s", l.HeaderText, l.RowLabel, cached.CellAddress(), current.CellAddress())
	} else {
		v.Message = fmt.Sprintf("cell %q × %q is valid at %s", l.HeaderText, l.RowLabel, cached.CellAddress())
	}
	return v
}

func columnPosition(c model.Candidate) int { return c.ColumnIndex }
func rowPosition(c model.Candidate) int    { return c.RowIndex }

// classify 四态判定
// 多个匹配时仍为 Ambiguous，除非匹配集合与消歧时一致且能唯一定位到用户选择的候选
func classify(matches []model.Candidate, cachedPos int, disamb *model.DisambiguationContext, pos func(model.Candidate) int) (model.Candidate, model.MappingStatus) {
	switch len(matches) {
	case 0:
		return model.Candidate{}, model.StatusMissing
	case 1:
		if pos(matches[0]) == cachedPos {
			return matches[0], model.StatusValid
		}
		return matches[0], model.StatusMoved
	}

	if disamb == nil || disamb.TotalCandidates != len(matches) {
		return model.Candidate{}, model.StatusAmbiguous
	}
	for _, m := range matches {
		if pos(m) == cachedPos && sameNeighbours(m.AdjacentHeaders, disamb.Candidate.AdjacentHeaders) {
			return m, model.StatusValid
		}
	}
	var picked []model.Candidate
	for _, m := range matches {
		if sameNeighbours(m.AdjacentHeaders, disamb.Candidate.AdjacentHeaders) {
			picked = append(picked, m)
		}
	}
	if len(picked) == 1 {
		return picked[0], model.StatusMoved
	}
	return model.Candidate{}, model.StatusAmbiguous
}

func sameNeighbours(a, b model.AdjacentHeaders) bool {
	return model.NormalizeText(a.Left) == model.NormalizeText(b.Left) &&
		model.NormalizeText(a.Right) == model.NormalizeText(b.Right)
}

// FindHeader 在表头区域查找匹配的列
// headerRow < 0 时搜索全部表头行，否则只搜索该行
func FindHeader(snap *sheet.Snapshot, header string, headerRow int) []model.Candidate {
	var out []model.Candidate
	for r, cells := range snap.HeaderRows {
		if headerRow >= 0 && r != headerRow {
			continue
		}
		for c, text := range cells {
			if !model.TextMatches(text, header) {
				continue
			}
			out = append(out, model.Candidate{
				ColumnLetter:   sheet.ColumnLetter(c),
				ColumnIndex:    c,
				HeaderRowIndex: r,
				RowIndex:       -1,
				AdjacentHeaders: model.AdjacentHeaders{
					Left:  snap.HeaderAt(r, c-1),
					Right: snap.HeaderAt(r, c+1),
				},
			})
		}
	}
	return out
}

// FindRowLabel 在行标签列中查找表头行以下匹配的行，列取自已确定的 col
func FindRowLabel(snap *sheet.Snapshot, label string, col model.Candidate) []model.Candidate {
	var out []model.Candidate
	for r := col.HeaderRowIndex + 1; r < len(snap.Labels); r++ {
		if !model.TextMatches(snap.Labels[r], label) {
			continue
		}
		out = append(out, model.Candidate{
			ColumnLetter:   col.ColumnLetter,
			ColumnIndex:    col.ColumnIndex,
			HeaderRowIndex: col.HeaderRowIndex,
			RowIndex:       r,
			AdjacentHeaders: model.AdjacentHeaders{
				Left:  snap.LabelAt(r - 1),
				Right: snap.LabelAt(r + 1),
			},
		})
	}
	return out
}
