package v1

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Chris5934/SheetSmith/internal/model"
)

var statusByCode = map[string]int{
	"safety_limit_exceeded":       http.StatusUnprocessableEntity,
	"disambiguation_required":     http.StatusConflict,
	"invalid_request":             http.StatusBadRequest,
	"index_out_of_range":          http.StatusBadRequest,
	"header_not_found":            http.StatusNotFound,
	"row_label_not_found":         http.StatusNotFound,
	"mapping_not_found":           http.StatusNotFound,
	"preview_not_found":           http.StatusNotFound,
	"not_found":                   http.StatusNotFound,
	"disambiguation_request_gone": http.StatusGone,
	"preview_expired":             http.StatusGone,
	"preview_consumed":            http.StatusConflict,
	"preview_cancelled":           http.StatusConflict,
	"confirmation_required":       http.StatusConflict,
	"store_unavailable":           http.StatusServiceUnavailable,
}

// writeError 按错误类型映射 HTTP 状态码
func writeError(c *gin.Context, err error) {
	code := model.ErrorCode(err)
	status, ok := statusByCode[code]
	if !ok {
		status = http.StatusInternalServerError
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			status = http.StatusServiceUnavailable
		}
	}

	body := gin.H{"error": err.Error(), "code": code}
	if req, ok := model.AsDisambiguation(err); ok {
		body["disambiguation"] = req
	}
	var sf *model.SafetyCheckFailedError
	if errors.As(err, &sf) {
		body["scope"] = sf.Scope
		body["safety"] = sf.Check
	}
	c.JSON(status, body)
}
