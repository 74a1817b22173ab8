package v1

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Chris5934/SheetSmith/internal/ops"
)

// maxChangeRequestBytes 变更请求体上限
const maxChangeRequestBytes = 4 << 20

// GeneratePreview 生成预览
// POST /api/ops/preview
func (h *Handler) GeneratePreview(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxChangeRequestBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{
				"error": fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit),
				"code":  "request_too_large",
			})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body", "code": "invalid_request"})
		return
	}
	req, err := ops.ParseChangeRequest(body)
	if err != nil {
		writeError(c, err)
		return
	}

	art, err := h.pipeline.GeneratePreview(c.Request.Context(), *req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, art)
}

// ListPreviews 登记表中的预览
// GET /api/ops/previews?spreadsheet_id=
func (h *Handler) ListPreviews(c *gin.Context) {
	items := h.pipeline.List(c.Query("spreadsheet_id"))
	c.JSON(http.StatusOK, gin.H{"items": items, "total": len(items)})
}

// GetPreview 预览详情
// GET /api/ops/previews/:id
func (h *Handler) GetPreview(c *gin.Context) {
	art, err := h.pipeline.Get(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, art)
}

// applyRequest 应用请求
type applyRequest struct {
	PreviewID string `json:"preview_id"`
	Confirm   bool   `json:"confirm"`
}

// Apply 应用预览
// POST /api/ops/apply
func (h *Handler) Apply(c *gin.Context) {
	var req applyRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.PreviewID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "preview_id is required", "code": "invalid_request"})
		return
	}
	h.apply(c, req.PreviewID, req.Confirm)
}

// ApplyPreview 应用预览（路径参数形式）
// POST /api/ops/previews/:id/apply?confirm=true
func (h *Handler) ApplyPreview(c *gin.Context) {
	confirm, _ := strconv.ParseBool(c.Query("confirm"))
	h.apply(c, c.Param("id"), confirm)
}

func (h *Handler) apply(c *gin.Context, previewID string, confirm bool) {
	res, err := h.pipeline.Apply(c.Request.Context(), previewID, confirm)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// CancelPreview 取消预览
// POST /api/ops/previews/:id/cancel
func (h *Handler) CancelPreview(c *gin.Context) {
	art, err := h.pipeline.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, art)
}

// RecentAudit 最近的操作审计
// GET /api/audit-logs?spreadsheet_id=&limit=
func (h *Handler) RecentAudit(c *gin.Context) {
	limit := 50
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit", "code": "invalid_request"})
			return
		}
		limit = n
	}

	entries, err := h.pipeline.RecentAudit(c.Request.Context(), c.Query("spreadsheet_id"), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": entries, "total": len(entries)})
}

// Health 服务状态与生效的安全限制
// GET /api/health
func (h *Handler) Health(c *gin.Context) {
	status, code := "ok", http.StatusOK
	storeStatus := "ok"
	if err := h.store.Ping(); err != nil {
		status, code = "degraded", http.StatusServiceUnavailable
		storeStatus = err.Error()
	}
	c.JSON(code, gin.H{
		"status":                 status,
		"store":                  storeStatus,
		"limits":                 h.pipeline.Limits(),
		"pendingDisambiguations": len(h.resolver.Coordinator().Pending()),
	})
}
