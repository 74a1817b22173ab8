package v1

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Chris5934/SheetSmith/internal/mapping"
	"github.com/Chris5934/SheetSmith/internal/model"
)

// resolveRequest 解析请求
type resolveRequest struct {
	SpreadsheetID string `json:"spreadsheet_id" binding:"required"`
	Sheet         string `json:"sheet" binding:"required"`
	Header        string `json:"header" binding:"required"`
	RowLabel      string `json:"row_label"`
	AutoCreate    *bool  `json:"auto_create"`
}

func (r resolveRequest) options() []mapping.ResolveOption {
	if r.AutoCreate == nil {
		return nil
	}
	return []mapping.ResolveOption{mapping.WithAutoCreate(*r.AutoCreate)}
}

// resolveResponse 解析结果
type resolveResponse struct {
	Logical     model.LogicalCoordinate  `json:"logical"`
	Physical    model.PhysicalCoordinate `json:"physical"`
	CellAddress string                   `json:"cellAddress"`
}

// ResolveColumn 解析列级逻辑坐标
// POST /api/mappings/resolve/column
func (h *Handler) ResolveColumn(c *gin.Context) {
	var req resolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "invalid_request"})
		return
	}

	phys, err := h.resolver.ResolveColumn(c.Request.Context(), req.SpreadsheetID, req.Sheet, req.Header, req.options()...)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resolveResponse{
		Logical:     model.LogicalCoordinate{SpreadsheetID: req.SpreadsheetID, SheetName: req.Sheet, HeaderText: req.Header},
		Physical:    phys,
		CellAddress: phys.CellAddress(),
	})
}

// ResolveCell 解析 表头 × 行标签
// POST /api/mappings/resolve/cell
func (h *Handler) ResolveCell(c *gin.Context) {
	var req resolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "invalid_request"})
		return
	}

	phys, err := h.resolver.ResolveCell(c.Request.Context(), req.SpreadsheetID, req.Sheet, req.Header, req.RowLabel, req.options()...)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resolveResponse{
		Logical: model.LogicalCoordinate{
			SpreadsheetID: req.SpreadsheetID,
			SheetName:     req.Sheet,
			HeaderText:    req.Header,
			RowLabel:      req.RowLabel,
		},
		Physical:    phys,
		CellAddress: phys.CellAddress(),
	})
}

// DeleteMapping 删除映射
// DELETE /api/mappings/:id
func (h *Handler) DeleteMapping(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id", "code": "invalid_request"})
		return
	}
	if err := h.resolver.DeleteMapping(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true, "id": id})
}

// ListMappings 列出电子表格的全部映射
// GET /api/spreadsheets/:spreadsheetId/mappings
func (h *Handler) ListMappings(c *gin.Context) {
	records, err := h.store.ListMappings(c.Request.Context(), c.Param("spreadsheetId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": records, "total": len(records)})
}

// AuditMappings 只读审计全部映射
// GET /api/spreadsheets/:spreadsheetId/audit
func (h *Handler) AuditMappings(c *gin.Context) {
	report, err := h.resolver.Audit(c.Request.Context(), c.Param("spreadsheetId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// RepairMappings 按审计结果更新已移动的映射并删除缺失的映射
// POST /api/spreadsheets/:spreadsheetId/repair
func (h *Handler) RepairMappings(c *gin.Context) {
	result, err := h.resolver.RepairAudit(c.Request.Context(), c.Param("spreadsheetId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// ListDisambiguations 未过期的消歧请求
// GET /api/disambiguations
func (h *Handler) ListDisambiguations(c *gin.Context) {
	pending := h.resolver.Coordinator().Pending()
	c.JSON(http.StatusOK, gin.H{"items": pending, "total": len(pending)})
}

// GetDisambiguation 单个消歧请求
// GET /api/disambiguations/:id
func (h *Handler) GetDisambiguation(c *gin.Context) {
	req, err := h.resolver.Coordinator().Get(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}

// disambiguateRequest 消歧选择
type disambiguateRequest struct {
	SelectedIndex *int   `json:"selected_index" binding:"required"`
	UserLabel     string `json:"user_label"`
}

// Disambiguate 提交消歧选择
// POST /api/disambiguations/:id
func (h *Handler) Disambiguate(c *gin.Context) {
	var req disambiguateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "invalid_request"})
		return
	}

	rec, err := h.resolver.Disambiguate(c.Request.Context(), c.Param("id"), *req.SelectedIndex, req.UserLabel)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}
