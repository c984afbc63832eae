package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Skufu/GoTriage/internal/domain"
	"github.com/Skufu/GoTriage/internal/knowledge"
)

type errorBody struct {
	Status       domain.Status `json:"status"`
	ErrorMessage string        `json:"error_message"`
}

func respondError(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, errorBody{Status: domain.StatusError, ErrorMessage: msg})
}

// respondBindError distinguishes an oversized body from malformed JSON.
func respondBindError(c *gin.Context, err error, msg string) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		respondError(c, http.StatusRequestEntityTooLarge, "请求体过大")
		return
	}
	_ = c.Error(err)
	respondError(c, http.StatusBadRequest, msg)
}

func respondServiceError(c *gin.Context, err error) {
	_ = c.Error(err)
	switch {
	case errors.Is(err, knowledge.ErrNotFound):
		respondError(c, http.StatusNotFound, "未找到相关记录")
	default:
		respondError(c, http.StatusInternalServerError, "服务器内部错误")
	}
}
