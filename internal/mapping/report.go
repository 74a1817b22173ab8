package mapping

import (
	"context"
	"errors"
	"fmt"

	"github.com/Chris5934/SheetSmith/internal/model"
	"github.com/Chris5934/SheetSmith/internal/sheet"
)

// Audit 对表格的全部映射做一次只读校验
func (r *Resolver) Audit(ctx context.Context, spreadsheetID string) (*model.AuditReport, error) {
	report, _, err := r.audit(ctx, spreadsheetID)
	return report, err
}

type auditItem struct {
	rec *model.MappingRecord
	v   Validation
}

func (r *Resolver) audit(ctx context.Context, spreadsheetID string) (*model.AuditReport, []auditItem, error) {
	records, err := r.store.ListMappings(ctx, spreadsheetID)
	if err != nil {
		return nil, nil, err
	}

	report := &model.AuditReport{
		SpreadsheetID: spreadsheetID,
		Entries:       []model.AuditReportEntry{},
		GeneratedAt:   r.now(),
	}
	snapshots := make(map[string]*sheet.Snapshot)
	items := make([]auditItem, 0, len(records))

	for _, rec := range records {
		sheetKey := model.NormalizeText(rec.Logical.SheetName)
		snap, ok := snapshots[sheetKey]
		if !ok {
			snap, err = sheet.LoadSnapshot(ctx, r.client, spreadsheetID, rec.Logical.SheetName, r.opts.LabelColumn, r.opts.Limits)
			if err != nil && !errors.Is(err, model.ErrNotFound) {
				return nil, nil, err
			}
			snapshots[sheetKey] = snap
		}

		var v Validation
		if snap == nil {
			v = Validation{
				Status:    model.StatusMissing,
				Dimension: model.DimensionColumn,
				Message:   fmt.Sprintf("sheet %q not found", rec.Logical.SheetName),
			}
		} else {
			v = Validate(rec, snap)
		}
		items = append(items, auditItem{rec: rec, v: v})

		entry := model.AuditReportEntry{
			MappingID:       rec.ID,
			Kind:            rec.Kind(),
			Logical:         rec.Logical,
			CachedAddress:   rec.Physical.CellAddress(),
			Status:          v.Status,
			Message:         v.Message,
			CandidateCount:  len(v.Candidates),
			LastValidatedAt: rec.LastValidatedAt,
			NeedsAction:     v.Status != model.StatusValid,
		}
		if v.Status == model.StatusValid || v.Status == model.StatusMoved {
			entry.CurrentAddress = v.Physical.CellAddress()
		}
		report.Add(entry)
	}
	return report, items, nil
}

// RepairResult 修复结果
type RepairResult struct {
	Report  *model.AuditReport `json:"report"`
	Updated []int64            `json:"updated"`
	Deleted []int64            `json:"deleted"`
}

// RepairAudit 按审计结果修复：MOVED 写回新坐标，MISSING 删除；AMBIGUOUS 保持不动
func (r *Resolver) RepairAudit(ctx context.Context, spreadsheetID string) (*RepairResult, error) {
	report, items, err := r.audit(ctx, spreadsheetID)
	if err != nil {
		return nil, err
	}

	res := &RepairResult{Report: report, Updated: []int64{}, Deleted: []int64{}}
	for _, it := range items {
		switch it.v.Status {
		case model.StatusMoved:
			if err := r.repairMoved(ctx, it.rec, it.v.Physical); err != nil {
				return res, err
			}
			res.Updated = append(res.Updated, it.rec.ID)
		case model.StatusMissing:
			if err := r.repairMissing(ctx, it.rec); err != nil {
				return res, err
			}
			res.Deleted = append(res.Deleted, it.rec.ID)
		}
	}
	return res, nil
}

func (r *Resolver) repairMoved(ctx context.Context, rec *model.MappingRecord, physical model.PhysicalCoordinate) error {
	unlock := r.coord.locks.Lock(rec.Logical.Key())
	defer unlock()

	from := rec.Physical.CellAddress()
	rec.Physical = physical
	rec.LastValidatedAt = r.now()
	if _, err := r.store.PutMapping(ctx, rec); err != nil {
		return err
	}
	r.logger.Info("mapping moved", "mapping_id", rec.ID, "logical", rec.Logical.String(), "from", from, "to", physical.CellAddress(), "reason", "repair")
	return nil
}

func (r *Resolver) repairMissing(ctx context.Context, rec *model.MappingRecord) error {
	unlock := r.coord.locks.Lock(rec.Logical.Key())
	defer unlock()

	if _, err := r.store.DeleteMapping(ctx, rec.ID); err != nil {
		return err
	}
	r.logger.Warn("mapping deleted", "mapping_id", rec.ID, "logical", rec.Logical.String(), "reason", "repair")
	return nil
}
