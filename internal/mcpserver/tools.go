package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/Chris5934/SheetSmith/internal/mapping"
	"github.com/Chris5934/SheetSmith/internal/model"
	"github.com/Chris5934/SheetSmith/internal/ops"
)

// toolError 领域错误以结构化 JSON 返回给调用方，而不是作为协议错误
type toolError struct {
	Error          string                       `json:"error"`
	Code           string                       `json:"code"`
	Disambiguation *model.DisambiguationRequest `json:"disambiguation,omitempty"`
	Scope          *model.OperationScope        `json:"scope,omitempty"`
	Safety         *model.SafetyCheck           `json:"safety,omitempty"`
}

func errorResult(err error) *mcp.CallToolResult {
	payload := toolError{Error: err.Error(), Code: model.ErrorCode(err)}
	if req, ok := model.AsDisambiguation(err); ok {
		payload.Disambiguation = req
	}
	var sf *model.SafetyCheckFailedError
	if errors.As(err, &sf) {
		payload.Scope = &sf.Scope
		payload.Safety = &sf.Check
	}
	data, _ := json.Marshal(payload)
	return mcp.NewToolResultError(string(data))
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode tool result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}

func resolveOptions(request mcp.CallToolRequest) []mapping.ResolveOption {
	if _, ok := request.GetArguments()["auto_create"]; !ok {
		return nil
	}
	return []mapping.ResolveOption{mapping.WithAutoCreate(request.GetBool("auto_create", true))}
}

type resolveResult struct {
	Logical     model.LogicalCoordinate  `json:"logical"`
	Physical    model.PhysicalCoordinate `json:"physical"`
	CellAddress string                   `json:"cellAddress"`
}

func (s *Server) handleResolveColumn(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	l, err := logicalArgs(request, false)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	phys, err := s.resolver.ResolveColumn(ctx, l.SpreadsheetID, l.SheetName, l.HeaderText, resolveOptions(request)...)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(resolveResult{Logical: l, Physical: phys, CellAddress: phys.CellAddress()})
}

func (s *Server) handleResolveCell(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	l, err := logicalArgs(request, true)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	phys, err := s.resolver.ResolveCell(ctx, l.SpreadsheetID, l.SheetName, l.HeaderText, l.RowLabel, resolveOptions(request)...)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(resolveResult{Logical: l, Physical: phys, CellAddress: phys.CellAddress()})
}

func logicalArgs(request mcp.CallToolRequest, cell bool) (model.LogicalCoordinate, error) {
	var l model.LogicalCoordinate
	var err error
	if l.SpreadsheetID, err = request.RequireString("spreadsheet_id"); err != nil {
		return l, err
	}
	if l.SheetName, err = request.RequireString("sheet"); err != nil {
		return l, err
	}
	if l.HeaderText, err = request.RequireString("header"); err != nil {
		return l, err
	}
	if cell {
		if l.RowLabel, err = request.RequireString("row_label"); err != nil {
			return l, err
		}
	}
	return l, nil
}

func (s *Server) handleAuditMappings(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("spreadsheet_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	report, err := s.resolver.Audit(ctx, id)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(report)
}

func (s *Server) handleDeleteMapping(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireInt("mapping_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.resolver.DeleteMapping(ctx, int64(id)); err != nil {
		return errorResult(err), nil
	}
	return jsonResult(map[string]any{"deleted": true, "mappingId": id})
}

func (s *Server) handleDisambiguate(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("request_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	idx, err := request.RequireInt("selected_index")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	rec, err := s.resolver.Disambiguate(ctx, id, idx, request.GetString("user_label", ""))
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(rec)
}

func (s *Server) handleGeneratePreview(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(request.GetArguments())
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	req, err := ops.ParseChangeRequest(data)
	if err != nil {
		return errorResult(err), nil
	}
	art, err := s.pipeline.GeneratePreview(ctx, *req)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(art)
}

func (s *Server) handleApplyPreview(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("preview_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := s.pipeline.Apply(ctx, id, request.GetBool("confirm", false))
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(res)
}

func (s *Server) handleCancelPreview(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("preview_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	art, err := s.pipeline.Cancel(ctx, id)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(art)
}

func (s *Server) handleGetRecentAudit(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := request.GetInt("limit", 20)
	if limit <= 0 {
		limit = 20
	}
	entries, err := s.pipeline.RecentAudit(ctx, request.GetString("spreadsheet_id", ""), limit)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(map[string]any{"items": entries, "total": len(entries)})
}
