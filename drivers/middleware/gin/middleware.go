package gin

import (
	"context"
	"fmt"
	"net/http"

	"github.com/Fischlvor/go-quota"
	"github.com/gin-gonic/gin"
)

// IdentifierKey 中间件把解析出的标识符存放在 gin.Context 中的键
const IdentifierKey = "quota.identifier"

// Policy 配额策略接口
type Policy interface {
	Authorize(ctx context.Context, action quota.Action, identifier string) error
}

// Middleware Gin配额中间件，一个路由对应一个动作
type Middleware struct {
	Policy           Policy
	Action           quota.Action
	OnError          func(*gin.Context, error)
	OnExceeded       func(*gin.Context, *quota.QuotaExceededError)
	IdentifierGetter func(*gin.Context) string
}

// NewMiddleware 创建Gin中间件
func NewMiddleware(policy Policy, action quota.Action, options ...Option) gin.HandlerFunc {
	m := &Middleware{
		Policy:           policy,
		Action:           action,
		OnError:          DefaultErrorHandler,
		OnExceeded:       DefaultExceededHandler,
		IdentifierGetter: DefaultIdentifier,
	}

	for _, opt := range options {
		opt(m)
	}

	return func(c *gin.Context) {
		m.Handle(c)
	}
}

// Handle 处理请求
func (m *Middleware) Handle(c *gin.Context) {
	identifier := m.IdentifierGetter(c)
	c.Set(IdentifierKey, identifier)

	err := m.Policy.Authorize(c.Request.Context(), m.Action, identifier)
	if err == nil {
		c.Next()
		return
	}

	if qe := quota.AsQuotaExceeded(err); qe != nil {
		// 设置限流响应头
		c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", qe.Limit))
		c.Header("X-RateLimit-Remaining", "0")
		c.Header("X-RateLimit-Rule", qe.Name)
		c.Header("Retry-After", fmt.Sprintf("%d", qe.ResetInSeconds))
		m.OnExceeded(c, qe)
		return
	}

	m.OnError(c, err)
}

// Option 中间件选项
type Option func(*Middleware)

// WithErrorHandler 自定义错误处理
func WithErrorHandler(handler func(*gin.Context, error)) Option {
	return func(m *Middleware) {
		m.OnError = handler
	}
}

// WithExceededHandler 自定义配额超限处理
func WithExceededHandler(handler func(*gin.Context, *quota.QuotaExceededError)) Option {
	return func(m *Middleware) {
		m.OnExceeded = handler
	}
}

// WithIdentifierGetter 自定义标识符获取
func WithIdentifierGetter(getter func(*gin.Context) string) Option {
	return func(m *Middleware) {
		m.IdentifierGetter = getter
	}
}

// DefaultErrorHandler 默认错误处理，存储不可用返回503
func DefaultErrorHandler(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	if quota.IsStoreUnavailable(err) {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{
		"error": "配额检查失败",
		"msg":   err.Error(),
	})
	c.Abort()
}

// DefaultExceededHandler 默认配额超限处理
func DefaultExceededHandler(c *gin.Context, qe *quota.QuotaExceededError) {
	c.JSON(http.StatusTooManyRequests, gin.H{
		"error":    "请求过于频繁",
		"rule":     qe.Name,
		"limit":    qe.Limit,
		"reset_in": qe.ResetInSeconds,
	})
	c.Abort()
}

// DefaultIdentifier 已登录用户按用户ID，否则按IP
func DefaultIdentifier(c *gin.Context) string {
	if userID := c.GetString("user_id"); userID != "" {
		return "user:" + userID
	}
	return IPIdentifier(c)
}

// IPIdentifier 只按IP（登录、注册、健康检查等登录前的路由）
func IPIdentifier(c *gin.Context) string {
	return "ip:" + c.ClientIP()
}

// Identifier 取出中间件解析出的标识符，供后续计数使用
func Identifier(c *gin.Context) string {
	return c.GetString(IdentifierKey)
}
