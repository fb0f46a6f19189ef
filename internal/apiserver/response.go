package apiserver

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "github.com/multi-agent/genruntime/pkg/errors"
	"github.com/multi-agent/genruntime/pkg/logger"
)

// 统一响应辅助, 所有 handler 共用。

func success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{"success": true, "data": data})
}

func created(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, gin.H{"success": true, "data": data})
}

func errorBody(code, message string) gin.H {
	return gin.H{"success": false, "error": gin.H{"code": code, "message": message}}
}

func badRequest(c *gin.Context, code, message string) {
	c.JSON(http.StatusBadRequest, errorBody(code, message))
}

func notFound(c *gin.Context, message string) {
	c.JSON(http.StatusNotFound, errorBody("not_found", message))
}

func conflict(c *gin.Context, code, message string) {
	c.JSON(http.StatusConflict, errorBody(code, message))
}

func serverError(c *gin.Context, err error) {
	logger.FromContext(c.Request.Context()).Error("internal error", logger.FieldError, err)
	c.JSON(http.StatusInternalServerError, errorBody("internal_error", "internal server error"))
}

// writeError 把哨兵错误映射为 HTTP 状态码。
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, apperrors.ErrUnknownEvent):
		badRequest(c, "unknown_event", err.Error())
	case errors.Is(err, apperrors.ErrInvalidInput):
		badRequest(c, "invalid_input", err.Error())
	case errors.Is(err, apperrors.ErrNoActiveTurn):
		notFound(c, err.Error())
	case errors.Is(err, apperrors.ErrNotFound):
		notFound(c, err.Error())
	case errors.Is(err, apperrors.ErrScopeMismatch):
		conflict(c, "scope_mismatch", err.Error())
	default:
		serverError(c, err)
	}
}
