package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Chris5934/SheetSmith/internal/model"
)

const mappingColumns = `id, spreadsheet_id, sheet_name, header_text, row_label,
	column_index, column_letter, row_index, header_row_index,
	disambiguation, row_disambiguation, last_validated_at, created_at, updated_at`

// PutMapping 按逻辑坐标插入或更新映射，返回存储后的记录
func (s *Store) PutMapping(ctx context.Context, rec *model.MappingRecord) (*model.MappingRecord, error) {
	if rec == nil {
		return nil, fmt.Errorf("nil mapping record")
	}
	l := rec.Logical
	now := s.now()
	validated := rec.LastValidatedAt
	if validated.IsZero() {
		validated = now
	}

	disamb, err := marshalContext(rec.Disambiguation)
	if err != nil {
		return nil, err
	}
	rowDisamb, err := marshalContext(rec.RowDisambiguation)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO mappings (
			spreadsheet_id, sheet_name, header_text, row_label,
			sheet_key, header_key, row_label_key, kind,
			column_index, column_letter, row_index, header_row_index,
			disambiguation, row_disambiguation, last_validated_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(spreadsheet_id, sheet_key, header_key, row_label_key) DO UPDATE SET
			sheet_name = excluded.sheet_name,
			header_text = excluded.header_text,
			row_label = excluded.row_label,
			kind = excluded.kind,
			column_index = excluded.column_index,
			column_letter = excluded.column_letter,
			row_index = excluded.row_index,
			header_row_index = excluded.header_row_index,
			disambiguation = excluded.disambiguation,
			row_disambiguation = excluded.row_disambiguation,
			last_validated_at = excluded.last_validated_at,
			updated_at = excluded.updated_at
	`,
		l.SpreadsheetID, l.SheetName, l.HeaderText, l.RowLabel,
		model.NormalizeText(l.SheetName), model.NormalizeText(l.HeaderText), model.NormalizeText(l.RowLabel), string(rec.Kind()),
		rec.Physical.ColumnIndex, rec.Physical.ColumnLetter, rec.Physical.RowIndex, rec.Physical.HeaderRowIndex,
		disamb, rowDisamb, formatTime(validated), formatTime(now), formatTime(now),
	)
	if err != nil {
		return nil, unavailable("upsert mapping", err)
	}

	return s.GetMapping(ctx, l)
}

// GetMapping 按逻辑坐标查询映射，不存在返回 ErrMappingNotFound
func (s *Store) GetMapping(ctx context.Context, logical model.LogicalCoordinate) (*model.MappingRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+mappingColumns+` FROM mappings
		WHERE spreadsheet_id = ? AND sheet_key = ? AND header_key = ? AND row_label_key = ?`,
		logical.SpreadsheetID,
		model.NormalizeText(logical.SheetName),
		model.NormalizeText(logical.HeaderText),
		model.NormalizeText(logical.RowLabel),
	)
	rec, err := scanMapping(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", logical, model.ErrMappingNotFound)
		}
		return nil, unavailable("query mapping", err)
	}
	return rec, nil
}

// GetMappingByID 按 ID 查询映射
func (s *Store) GetMappingByID(ctx context.Context, id int64) (*model.MappingRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+mappingColumns+` FROM mappings WHERE id = ?`, id)
	rec, err := scanMapping(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("mapping id %d: %w", id, model.ErrMappingNotFound)
		}
		return nil, unavailable("query mapping", err)
	}
	return rec, nil
}

// ListMappings 列出某个表格的全部映射
func (s *Store) ListMappings(ctx context.Context, spreadsheetID string) ([]*model.MappingRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+mappingColumns+` FROM mappings
		WHERE spreadsheet_id = ? ORDER BY sheet_key, header_key, row_label_key`, spreadsheetID)
	if err != nil {
		return nil, unavailable("list mappings", err)
	}
	defer rows.Close()

	out := []*model.MappingRecord{}
	for rows.Next() {
		rec, err := scanMapping(rows)
		if err != nil {
			return nil, unavailable("scan mapping", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list mappings", err)
	}
	return out, nil
}

// DeleteMapping 删除映射，返回是否存在
func (s *Store) DeleteMapping(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM mappings WHERE id = ?`, id)
	if err != nil {
		return false, unavailable("delete mapping", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, unavailable("delete mapping", err)
	}
	return n > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMapping(r rowScanner) (*model.MappingRecord, error) {
	var (
		rec                     model.MappingRecord
		disamb, rowDisamb       sql.NullString
		validated, created, upd string
	)
	err := r.Scan(
		&rec.ID, &rec.Logical.SpreadsheetID, &rec.Logical.SheetName, &rec.Logical.HeaderText, &rec.Logical.RowLabel,
		&rec.Physical.ColumnIndex, &rec.Physical.ColumnLetter, &rec.Physical.RowIndex, &rec.Physical.HeaderRowIndex,
		&disamb, &rowDisamb, &validated, &created, &upd,
	)
	if err != nil {
		return nil, err
	}
	rec.Physical.SheetName = rec.Logical.SheetName
	rec.LastValidatedAt = parseTime(validated)
	rec.CreatedAt = parseTime(created)
	rec.UpdatedAt = parseTime(upd)

	if rec.Disambiguation, err = unmarshalContext(disamb); err != nil {
		return nil, err
	}
	if rec.RowDisambiguation, err = unmarshalContext(rowDisamb); err != nil {
		return nil, err
	}
	return &rec, nil
}

func marshalContext(c *model.DisambiguationContext) (sql.NullString, error) {
	if c == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(c)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to encode disambiguation context: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func unmarshalContext(v sql.NullString) (*model.DisambiguationContext, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	var c model.DisambiguationContext
	if err := json.Unmarshal([]byte(v.String), &c); err != nil {
		return nil, fmt.Errorf("failed to decode disambiguation context: %w", err)
	}
	return &c, nil
}
