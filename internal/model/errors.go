package model

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound 目标不存在（终态，不做猜测）
	ErrNotFound         = errors.New("not found")
	ErrHeaderNotFound   = fmt.Errorf("header %w", ErrNotFound)
	ErrRowLabelNotFound = fmt.Errorf("row label %w", ErrNotFound)
	ErrMappingNotFound  = fmt.Errorf("mapping %w", ErrNotFound)
	ErrPreviewNotFound  = fmt.Errorf("preview %w", ErrNotFound)

	ErrAmbiguous       = errors.New("ambiguous reference")
	ErrInvalidRequest  = errors.New("invalid disambiguation request")
	ErrIndexOutOfRange = errors.New("selected index out of range")

	ErrPreviewExpired   = errors.New("preview expired")
	ErrPreviewConsumed  = errors.New("preview already consumed")
	ErrPreviewCancelled = errors.New("preview cancelled")

	ErrConfirmationRequired = errors.New("confirmation required")
	ErrSafetyLimitExceeded  = errors.New("safety limit exceeded")
	ErrConflict             = errors.New("cell changed since preview")
	ErrStoreUnavailable     = errors.New("store unavailable")
	ErrInvalidChange        = errors.New("invalid change request")
	ErrInvalidArgument      = errors.New("invalid argument")
)

// DisambiguationRequiredError 需要人工消歧，携带完整的候选上下文
type DisambiguationRequiredError struct {
	Request *DisambiguationRequest
}

func (e *DisambiguationRequiredError) Error() string {
	return fmt.Sprintf("disambiguation required for %s: %d candidates (request %s)",
		e.Request.Logical, len(e.Request.Candidates), e.Request.ID)
}

func (e *DisambiguationRequiredError) Is(target error) bool {
	return target == ErrAmbiguous
}

// SafetyCheckFailedError 触发硬性安全限制
type SafetyCheckFailedError struct {
	Scope OperationScope
	Check SafetyCheck
}

func (e *SafetyCheckFailedError) Error() string {
	if len(e.Check.Errors) == 0 {
		return ErrSafetyLimitExceeded.Error()
	}
	return fmt.Sprintf("%s: %s", ErrSafetyLimitExceeded, e.Check.Errors[0])
}

func (e *SafetyCheckFailedError) Is(target error) bool {
	return target == ErrSafetyLimitExceeded
}

// AsDisambiguation 提取消歧请求
func AsDisambiguation(err error) (*DisambiguationRequest, bool) {
	var de *DisambiguationRequiredError
	if errors.As(err, &de) {
		return de.Request, true
	}
	return nil, false
}

// ErrorCode 错误的机器可读编码，供 HTTP 与工具调用方分支处理
func ErrorCode(err error) string {
	var sf *SafetyCheckFailedError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &sf):
		return "safety_limit_exceeded"
	case errors.Is(err, ErrAmbiguous):
		return "disambiguation_required"
	case errors.Is(err, ErrInvalidArgument), errors.Is(err, ErrInvalidChange):
		return "invalid_request"
	case errors.Is(err, ErrIndexOutOfRange):
		return "index_out_of_range"
	case errors.Is(err, ErrHeaderNotFound):
		return "header_not_found"
	case errors.Is(err, ErrRowLabelNotFound):
		return "row_label_not_found"
	case errors.Is(err, ErrMappingNotFound):
		return "mapping_not_found"
	case errors.Is(err, ErrPreviewNotFound):
		return "preview_not_found"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidRequest):
		return "disambiguation_request_gone"
	case errors.Is(err, ErrPreviewExpired):
		return "preview_expired"
	case errors.Is(err, ErrPreviewConsumed):
		return "preview_consumed"
	case errors.Is(err, ErrPreviewCancelled):
		return "preview_cancelled"
	case errors.Is(err, ErrConfirmationRequired):
		return "confirmation_required"
	case errors.Is(err, ErrStoreUnavailable):
		return "store_unavailable"
	}
	return "internal"
}
