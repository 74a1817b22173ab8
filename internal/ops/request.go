package ops

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/Chris5934/SheetSmith/internal/model"
	"github.com/Chris5934/SheetSmith/internal/sheet"
)

// 变更请求类型
const (
	KindSetValues         = "set_values"
	KindSetCells          = "set_cells"
	KindReplaceInFormulas = "replace_in_formulas"
	KindBulkFormulaUpdate = "bulk_formula_update"
)

// ChangeRequest 结构化变更请求，全部以逻辑坐标寻址
type ChangeRequest struct {
	SpreadsheetID string `json:"spreadsheet_id"`
	Kind          string `json:"kind"`
	Description   string `json:"description,omitempty"`

	// set_values / replace_in_formulas
	Sheet  string `json:"sheet,omitempty"`
	Header string `json:"header,omitempty"`

	// set_values：行标签 → 新值
	Values map[string]string `json:"values,omitempty"`

	// set_cells
	Cells []CellChange `json:"cells,omitempty"`

	// replace_in_formulas / bulk_formula_update
	// Sheets 与 Sheet 合并为目标 sheet；两者都为空时覆盖表格中的全部 sheet
	// Headers 为空且 Header 为空时覆盖全部表头列
	Sheets   []string        `json:"sheets,omitempty"`
	Headers  []string        `json:"headers,omitempty"`
	Find     string          `json:"find,omitempty"`
	Replace  string          `json:"replace,omitempty"`
	Regex    bool            `json:"regex,omitempty"`
	Criteria *SearchCriteria `json:"criteria,omitempty"`
}

// SearchCriteria 公式替换的附加筛选条件，全部条件同时满足才命中
type SearchCriteria struct {
	// RowLabels 只替换这些行标签所在的行
	RowLabels []string `json:"row_labels,omitempty"`
	// FormulaContains 公式须包含的文本
	FormulaContains string `json:"formula_contains,omitempty"`
	// ValueContains 当前计算值须包含的文本
	ValueContains string `json:"value_contains,omitempty"`
	// CaseSensitive 为 false 时上述比较忽略大小写
	CaseSensitive bool `json:"case_sensitive,omitempty"`
}

// empty 没有任何筛选条件
func (c *SearchCriteria) empty() bool {
	return c == nil || (len(c.RowLabels) == 0 && c.FormulaContains == "" && c.ValueContains == "")
}

// contains 按大小写设置判断包含关系
func (c *SearchCriteria) contains(s, sub string) bool {
	if c.CaseSensitive {
		return strings.Contains(s, sub)
	}
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}

// matchesLabel 行标签是否在 RowLabels 中
func (c *SearchCriteria) matchesLabel(label string) bool {
	if len(c.RowLabels) == 0 {
		return true
	}
	for _, want := range c.RowLabels {
		if c.CaseSensitive {
			if strings.TrimSpace(want) == strings.TrimSpace(label) {
				return true
			}
		} else if model.TextMatches(want, label) {
			return true
		}
	}
	return false
}

// matchesLabelOrAll 读取单元格前按行标签预筛；nil 条件总是满足
func (c *SearchCriteria) matchesLabelOrAll(label string) bool {
	return c == nil || c.matchesLabel(label)
}

// match 单元格是否满足全部条件；nil 条件总是满足
func (c *SearchCriteria) match(label string, cur sheet.CellValue) bool {
	if c == nil {
		return true
	}
	if !c.matchesLabel(label) {
		return false
	}
	if c.FormulaContains != "" && !c.contains(cur.Formula, c.FormulaContains) {
		return false
	}
	if c.ValueContains != "" && !c.contains(cur.Value, c.ValueContains) {
		return false
	}
	return true
}

// targetSheets 合并 Sheet 与 Sheets 并去重；为空表示全部 sheet
func (r *ChangeRequest) targetSheets() []string {
	var out []string
	seen := make(map[string]bool)
	for _, name := range append([]string{r.Sheet}, r.Sheets...) {
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}

// CellChange 单个概念单元格的新内容；Formula 非空时写公式
type CellChange struct {
	Sheet    string `json:"sheet"`
	Header   string `json:"header"`
	RowLabel string `json:"row_label"`
	Value    string `json:"value,omitempty"`
	Formula  string `json:"formula,omitempty"`
}

const changeRequestSchemaURL = "https://sheetsmith.local/schemas/change-request.schema.json"

const changeRequestSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["spreadsheet_id", "kind"],
  "additionalProperties": false,
  "properties": {
    "spreadsheet_id": {"type": "string", "minLength": 1},
    "kind": {"enum": ["set_values", "set_cells", "replace_in_formulas", "bulk_formula_update"]},
    "description": {"type": "string"},
    "sheet": {"type": "string", "minLength": 1},
    "sheets": {"type": "array", "items": {"type": "string", "minLength": 1}},
    "header": {"type": "string"},
    "headers": {"type": "array", "items": {"type": "string", "minLength": 1}},
    "values": {
      "type": "object",
      "minProperties": 1,
      "additionalProperties": {"type": "string"}
    },
    "cells": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["sheet", "header", "row_label"],
        "additionalProperties": false,
        "properties": {
          "sheet": {"type": "string", "minLength": 1},
          "header": {"type": "string", "minLength": 1},
          "row_label": {"type": "string", "minLength": 1},
          "value": {"type": "string"},
          "formula": {"type": "string"}
        }
      }
    },
    "find": {"type": "string", "minLength": 1},
    "replace": {"type": "string"},
    "regex": {"type": "boolean"},
    "criteria": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "row_labels": {"type": "array", "items": {"type": "string", "minLength": 1}},
        "formula_contains": {"type": "string"},
        "value_contains": {"type": "string"},
        "case_sensitive": {"type": "boolean"}
      }
    }
  },
  "allOf": [
    {
      "if": {"properties": {"kind": {"const": "set_values"}}},
      "then": {"required": ["sheet", "header", "values"]}
    },
    {
      "if": {"properties": {"kind": {"const": "set_cells"}}},
      "then": {"required": ["cells"]}
    },
    {
      "if": {"properties": {"kind": {"const": "replace_in_formulas"}}},
      "then": {"required": ["find", "replace"]}
    },
    {
      "if": {"properties": {"kind": {"const": "bulk_formula_update"}}},
      "then": {"required": ["find", "replace", "criteria"]}
    }
  ]
}`

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func changeSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		if err := c.AddResource(changeRequestSchemaURL, strings.NewReader(changeRequestSchema)); err != nil {
			schemaErr = fmt.Errorf("change request schema load failed: %w", err)
			return
		}
		compiledSchema, schemaErr = c.Compile(changeRequestSchemaURL)
		if schemaErr != nil {
			schemaErr = fmt.Errorf("change request schema compile failed: %w", schemaErr)
		}
	})
	return compiledSchema, schemaErr
}

// ParseChangeRequest 按 JSON Schema 校验并解析变更请求
func ParseChangeRequest(data []byte) (*ChangeRequest, error) {
	schema, err := changeSchema()
	if err != nil {
		return nil, err
	}

	var raw any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: invalid json: %v", model.ErrInvalidChange, err)
	}
	if err := schema.Validate(raw); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrInvalidChange, err)
	}

	var req ChangeRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrInvalidChange, err)
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return &req, nil
}

// Validate 语义校验（直接构造请求时同样适用）
func (r *ChangeRequest) Validate() error {
	if strings.TrimSpace(r.SpreadsheetID) == "" {
		return fmt.Errorf("%w: spreadsheet_id is required", model.ErrInvalidChange)
	}
	switch r.Kind {
	case KindSetValues:
		if r.Sheet == "" || model.NormalizeText(r.Header) == "" {
			return fmt.Errorf("%w: set_values requires sheet and header", model.ErrInvalidChange)
		}
		if len(r.Values) == 0 {
			return fmt.Errorf("%w: set_values requires at least one value", model.ErrInvalidChange)
		}
	case KindSetCells:
		if len(r.Cells) == 0 {
			return fmt.Errorf("%w: set_cells requires at least one cell", model.ErrInvalidChange)
		}
		for i, c := range r.Cells {
			if c.Sheet == "" || model.NormalizeText(c.Header) == "" || model.NormalizeText(c.RowLabel) == "" {
				return fmt.Errorf("%w: cells[%d] requires sheet, header and row_label", model.ErrInvalidChange, i)
			}
		}
	case KindReplaceInFormulas, KindBulkFormulaUpdate:
		if r.Find == "" {
			return fmt.Errorf("%w: %s requires find", model.ErrInvalidChange, r.Kind)
		}
		if r.Kind == KindBulkFormulaUpdate && r.Criteria.empty() {
			return fmt.Errorf("%w: bulk_formula_update requires at least one search criterion", model.ErrInvalidChange)
		}
	default:
		return fmt.Errorf("%w: unsupported kind %q", model.ErrInvalidChange, r.Kind)
	}
	return nil
}

// describe 未提供描述时生成默认描述
func (r *ChangeRequest) describe() string {
	if r.Description != "" {
		return r.Description
	}
	switch r.Kind {
	case KindSetValues:
		return fmt.Sprintf("set %d values of %q in %s", len(r.Values), r.Header, r.Sheet)
	case KindSetCells:
		return fmt.Sprintf("set %d cells", len(r.Cells))
	case KindReplaceInFormulas, KindBulkFormulaUpdate:
		where := "all sheets"
		if sheets := r.targetSheets(); len(sheets) > 0 {
			where = strings.Join(sheets, ", ")
		}
		return fmt.Sprintf("replace %q with %q in formulas of %s", r.Find, r.Replace, where)
	}
	return r.Kind
}
