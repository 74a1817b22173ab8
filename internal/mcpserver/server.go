// Package mcpserver 通过 MCP 把映射解析与预览流水线暴露给智能体
package mcpserver

import (
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/Chris5934/SheetSmith/internal/mapping"
	"github.com/Chris5934/SheetSmith/internal/ops"
)

// 工具名称
const (
	ToolResolveColumn   = "resolve_column"
	ToolResolveCell     = "resolve_cell"
	ToolAuditMappings   = "audit_mappings"
	ToolDeleteMapping   = "delete_mapping"
	ToolDisambiguate    = "disambiguate"
	ToolGeneratePreview = "generate_preview"
	ToolApplyPreview    = "apply_preview"
	ToolCancelPreview   = "cancel_preview"
	ToolGetRecentAudit  = "get_recent_audit"
)

// Server MCP 服务
type Server struct {
	server   *server.MCPServer
	resolver *mapping.Resolver
	pipeline *ops.Pipeline
	logger   *slog.Logger
}

// NewServer 创建 MCP 服务并注册全部工具
func NewServer(name, version string, resolver *mapping.Resolver, pipeline *ops.Pipeline, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		server: server.NewMCPServer(
			name,
			version,
			server.WithToolCapabilities(true),
			server.WithRecovery(),
		),
		resolver: resolver,
		pipeline: pipeline,
		logger:   logger,
	}
	s.registerTools()
	return s
}

// ServeStdio 通过标准输入输出提供服务，阻塞直到输入结束
func (s *Server) ServeStdio() error {
	s.logger.Info("starting mcp server with stdio transport")
	return server.ServeStdio(s.server)
}

func (s *Server) registerTools() {
	s.server.AddTool(mcp.NewTool(ToolResolveColumn,
		mcp.WithDescription("Resolve a column by header text to its current physical location"),
		mcp.WithString("spreadsheet_id", mcp.Required(), mcp.Description("Spreadsheet identifier")),
		mcp.WithString("sheet", mcp.Required(), mcp.Description("Sheet name")),
		mcp.WithString("header", mcp.Required(), mcp.Description("Header text")),
		mcp.WithBoolean("auto_create", mcp.Description("Scan and cache the mapping when none exists (default true)")),
	), s.handleResolveColumn)

	s.server.AddTool(mcp.NewTool(ToolResolveCell,
		mcp.WithDescription("Resolve a concept cell (header x row label) to its current A1 address"),
		mcp.WithString("spreadsheet_id", mcp.Required(), mcp.Description("Spreadsheet identifier")),
		mcp.WithString("sheet", mcp.Required(), mcp.Description("Sheet name")),
		mcp.WithString("header", mcp.Required(), mcp.Description("Header text")),
		mcp.WithString("row_label", mcp.Required(), mcp.Description("Row label in the label column")),
		mcp.WithBoolean("auto_create", mcp.Description("Scan and cache the mapping when none exists (default true)")),
	), s.handleResolveCell)

	s.server.AddTool(mcp.NewTool(ToolAuditMappings,
		mcp.WithDescription("Check every cached mapping of a spreadsheet against the live layout without changing anything"),
		mcp.WithString("spreadsheet_id", mcp.Required(), mcp.Description("Spreadsheet identifier")),
	), s.handleAuditMappings)

	s.server.AddTool(mcp.NewTool(ToolDeleteMapping,
		mcp.WithDescription("Delete a cached mapping by id"),
		mcp.WithNumber("mapping_id", mcp.Required(), mcp.Description("Mapping id from audit_mappings")),
	), s.handleDeleteMapping)

	s.server.AddTool(mcp.NewTool(ToolDisambiguate,
		mcp.WithDescription("Answer a disambiguation request by choosing one of its candidates"),
		mcp.WithString("request_id", mcp.Required(), mcp.Description("Disambiguation request id")),
		mcp.WithNumber("selected_index", mcp.Required(), mcp.Description("Zero-based index into the request's candidates")),
		mcp.WithString("user_label", mcp.Description("Optional note describing the choice")),
	), s.handleDisambiguate)

	s.server.AddTool(mcp.NewTool(ToolGeneratePreview,
		mcp.WithDescription("Build a preview of a change without writing anything"),
		mcp.WithString("spreadsheet_id", mcp.Required(), mcp.Description("Spreadsheet identifier")),
		mcp.WithString("kind", mcp.Required(),
			mcp.Enum(ops.KindSetValues, ops.KindSetCells, ops.KindReplaceInFormulas, ops.KindBulkFormulaUpdate),
			mcp.Description("Change kind")),
		mcp.WithString("description", mcp.Description("Human readable description")),
		mcp.WithString("sheet", mcp.Description("Sheet name (set_values, replace_in_formulas)")),
		mcp.WithArray("sheets", mcp.Description("Sheets to search; empty means every sheet (replace_in_formulas, bulk_formula_update)")),
		mcp.WithString("header", mcp.Description("Header text (set_values, optional for replace_in_formulas)")),
		mcp.WithObject("values", mcp.Description("Row label to new value (set_values)")),
		mcp.WithArray("cells", mcp.Description("List of {sheet, header, row_label, value|formula} (set_cells)")),
		mcp.WithArray("headers", mcp.Description("Headers to search (replace_in_formulas)")),
		mcp.WithString("find", mcp.Description("Text or pattern to find (replace_in_formulas)")),
		mcp.WithString("replace", mcp.Description("Replacement text (replace_in_formulas)")),
		mcp.WithBoolean("regex", mcp.Description("Treat find as a regular expression")),
		mcp.WithObject("criteria", mcp.Description("Filters {row_labels, formula_contains, value_contains, case_sensitive} (required for bulk_formula_update)")),
	), s.handleGeneratePreview)

	s.server.AddTool(mcp.NewTool(ToolApplyPreview,
		mcp.WithDescription("Apply a preview; large or high-risk previews need confirm=true"),
		mcp.WithString("preview_id", mcp.Required(), mcp.Description("Preview id")),
		mcp.WithBoolean("confirm", mcp.Description("Explicit user confirmation")),
	), s.handleApplyPreview)

	s.server.AddTool(mcp.NewTool(ToolCancelPreview,
		mcp.WithDescription("Cancel a preview so it can no longer be applied"),
		mcp.WithString("preview_id", mcp.Required(), mcp.Description("Preview id")),
	), s.handleCancelPreview)

	s.server.AddTool(mcp.NewTool(ToolGetRecentAudit,
		mcp.WithDescription("List recent audited operations"),
		mcp.WithString("spreadsheet_id", mcp.Description("Filter by spreadsheet")),
		mcp.WithNumber("limit", mcp.Description("Maximum entries (default 20)")),
	), s.handleGetRecentAudit)
}
