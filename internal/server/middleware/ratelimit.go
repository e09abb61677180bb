package middleware

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"parley/internal/pkg/ctxutil"
	"parley/internal/pkg/ratelimit"
)

// RateLimit 限流中间件
// 已认证请求按用户限流，未认证请求按客户端地址限流。
// 拒绝响应带 retry_after 秒数提示
func RateLimit(registry *ratelimit.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity := rateLimitIdentity(c)

		if !registry.Allow(identity) {
			seconds := int(registry.RetryAfter().Seconds())
			if seconds < 1 {
				seconds = 1
			}

			c.Header("Retry-After", strconv.Itoa(seconds))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"code":        42902,
				"message":     "Rate limit exceeded, please slow down",
				"retry_after": seconds,
			})
			return
		}

		c.Next()
	}
}

func rateLimitIdentity(c *gin.Context) string {
	if userID, ok := ctxutil.GetUserID(c.Request.Context()); ok {
		return "user:" + userID
	}
	return "ip:" + c.ClientIP()
}
