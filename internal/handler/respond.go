package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"parley/internal/model"
	"parley/internal/pkg/apperr"
)

// writeError 将应用错误映射为 HTTP 响应
// 内部错误细节只进日志，对外返回通用消息
func writeError(c *gin.Context, err error) {
	e := apperr.AsError(err)

	if e.Kind == apperr.KindInternal {
		log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("request failed")
	}

	resp := model.ErrorResponse{
		Code:    e.Code,
		Message: e.Message,
	}
	if e.RetryAfter > 0 {
		seconds := int(e.RetryAfter.Seconds())
		if seconds < 1 {
			seconds = 1
		}
		resp.RetryAfter = seconds
		c.Header("Retry-After", strconv.Itoa(seconds))
	}

	c.JSON(apperr.HTTPStatus(e.Kind), resp)
}
