package v1

import (
	"github.com/gin-gonic/gin"

	"github.com/Chris5934/SheetSmith/internal/mapping"
	"github.com/Chris5934/SheetSmith/internal/ops"
	"github.com/Chris5934/SheetSmith/internal/store"
)

// Handler V1 API 处理器
type Handler struct {
	store    *store.Store
	resolver *mapping.Resolver
	pipeline *ops.Pipeline
}

// NewHandler 创建 V1 API 处理器
func NewHandler(store *store.Store, resolver *mapping.Resolver, pipeline *ops.Pipeline) *Handler {
	return &Handler{
		store:    store,
		resolver: resolver,
		pipeline: pipeline,
	}
}

// RegisterRoutes 注册 V1 API 路由
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	// 健康检查
	router.GET("/health", h.Health)

	// 映射解析
	router.POST("/mappings/resolve/column", h.ResolveColumn)
	router.POST("/mappings/resolve/cell", h.ResolveCell)
	router.DELETE("/mappings/:id", h.DeleteMapping)

	// 映射审计
	router.GET("/spreadsheets/:spreadsheetId/mappings", h.ListMappings)
	router.GET("/spreadsheets/:spreadsheetId/audit", h.AuditMappings)
	router.POST("/spreadsheets/:spreadsheetId/repair", h.RepairMappings)

	// 消歧
	router.GET("/disambiguations", h.ListDisambiguations)
	router.GET("/disambiguations/:id", h.GetDisambiguation)
	router.POST("/disambiguations/:id", h.Disambiguate)

	// 预览与应用
	router.POST("/ops/preview", h.GeneratePreview)
	router.GET("/ops/previews", h.ListPreviews)
	router.GET("/ops/previews/:id", h.GetPreview)
	router.POST("/ops/previews/:id/apply", h.ApplyPreview)
	router.POST("/ops/previews/:id/cancel", h.CancelPreview)
	router.POST("/ops/apply", h.Apply)

	// 操作审计
	router.GET("/audit-logs", h.RecentAudit)
}
