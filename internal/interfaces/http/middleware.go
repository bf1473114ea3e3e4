package http

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ragforge/ragforge/backend/internal/application/usecase"
	"github.com/ragforge/ragforge/backend/internal/infrastructure/monitoring"
	"github.com/ragforge/ragforge/backend/internal/interfaces/http/handlers"
	apperrors "github.com/ragforge/ragforge/backend/pkg/errors"
)

// authMiddleware 认证中间件
// 凭据来源优先级: Authorization Bearer → X-Token 头 → token 查询参数
func authMiddleware(auth *usecase.AuthUseCase) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractToken(c)
		if token == "" {
			abortWith(c, apperrors.NewUnauthorizedError("缺少登录凭据"))
			return
		}
		user, claims, err := auth.VerifyToken(c.Request.Context(), token)
		if err != nil {
			abortWith(c, err)
			return
		}
		c.Set(handlers.CtxUserID, user.ID())
		c.Set(handlers.CtxUsername, claims.Username)
		c.Set(handlers.CtxRole, user.Role())
		c.Next()
	}
}

func extractToken(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); h != "" {
		if after, ok := strings.CutPrefix(h, "Bearer "); ok {
			return after
		}
	}
	if t := c.GetHeader("X-Token"); t != "" {
		return t
	}
	return c.Query("token")
}

func abortWith(c *gin.Context, err error) {
	handlers.Fail(c, err)
	c.Abort()
}

// userRateLimiter 进程内每用户令牌桶
// 多副本部署时限速退化为每副本粒度
type userRateLimiter struct {
	mu       sync.Mutex
	limiters map[uint]*rate.Limiter
	perMin   int
}

func newUserRateLimiter(perMin int) *userRateLimiter {
	if perMin <= 0 {
		perMin = 30
	}
	return &userRateLimiter{
		limiters: make(map[uint]*rate.Limiter),
		perMin:   perMin,
	}
}

func (l *userRateLimiter) allow(userID uint) bool {
	l.mu.Lock()
	lim, ok := l.limiters[userID]
	if !ok {
		lim = rate.NewLimiter(rate.Every(time.Minute/time.Duration(l.perMin)), l.perMin)
		l.limiters[userID] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}

// rateLimitMiddleware 429 on exhaustion
func rateLimitMiddleware(limiter *userRateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiter.allow(handlers.UserID(c)) {
			abortWith(c, apperrors.NewRateLimitedError("请求过于频繁, 请稍后再试"))
			return
		}
		c.Next()
	}
}

// corsMiddleware 跨域
func corsMiddleware(allowOrigins []string) gin.HandlerFunc {
	allowAll := len(allowOrigins) == 0
	allowed := make(map[string]struct{}, len(allowOrigins))
	for _, o := range allowOrigins {
		if o == "*" {
			allowAll = true
		}
		allowed[o] = struct{}{}
	}
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" {
			if allowAll {
				c.Header("Access-Control-Allow-Origin", "*")
			} else if _, ok := allowed[origin]; ok {
				c.Header("Access-Control-Allow-Origin", origin)
				c.Header("Vary", "Origin")
			}
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Token")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// ginLogger 请求日志 + 指标
func ginLogger(logger *zap.Logger, monitor *monitoring.Monitor) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		monitor.IncRequestTotal()
		monitor.RecordRequestLatency(latency)
		if status >= http.StatusInternalServerError {
			monitor.IncRequestFailed()
			monitor.IncError()
		} else {
			monitor.IncRequestSuccess()
		}

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", status),
			zap.Duration("latency", latency),
			zap.String("ip", c.ClientIP()),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
			logger.Error("http request", fields...)
			return
		}
		logger.Info("http request", fields...)
	}
}
