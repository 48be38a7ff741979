package main

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/Fischlvor/go-quota"
	ginmw "github.com/Fischlvor/go-quota/drivers/middleware/gin"
	"github.com/Fischlvor/go-quota/drivers/store/redis"
	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"
)

// catalog 内存中的"数据库"，AI生成的结果写回这里
type catalog struct {
	mu      sync.RWMutex
	entries map[string]string
	flags   map[string]int
}

func newCatalog() *catalog {
	return &catalog{
		entries: make(map[string]string),
		flags:   make(map[string]int),
	}
}

func (c *catalog) get(kind, code string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.entries[kind+":"+code]
	return v, ok
}

func (c *catalog) put(kind, code, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[kind+":"+code] = value
}

func (c *catalog) flag(kind, code string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flags[kind+":"+code]++
	return c.flags[kind+":"+code]
}

type server struct {
	policy  *quota.Policy
	store   *redis.Store
	catalog *catalog
	logger  hclog.Logger
}

func newRouter(policy *quota.Policy, store *redis.Store, cat *catalog, logger hclog.Logger) *gin.Engine {
	s := &server{policy: policy, store: store, catalog: cat, logger: logger.Named("http")}

	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", ginmw.NewMiddleware(policy, quota.ActionHealth, ginmw.WithIdentifierGetter(ginmw.IPIdentifier)), s.health)

	auth := r.Group("/auth")
	auth.POST("/login", ginmw.NewMiddleware(policy, quota.ActionLogin, ginmw.WithIdentifierGetter(ginmw.IPIdentifier)), s.ok)
	auth.POST("/register", ginmw.NewMiddleware(policy, quota.ActionRegister, ginmw.WithIdentifierGetter(ginmw.IPIdentifier)), s.ok)
	auth.POST("/refresh", requireUser, ginmw.NewMiddleware(policy, quota.ActionRefresh), s.ok)

	api := r.Group("/api", requireUser)
	api.GET("/scan/:code", ginmw.NewMiddleware(policy, quota.ActionScan), s.resource(quota.ActionScan, "scan"))
	api.POST("/scan/:code/reject", ginmw.NewMiddleware(policy, quota.ActionScanReject), s.regenerate(quota.ActionScanReject, "scan"))
	api.POST("/content/:code/confirm", ginmw.NewMiddleware(policy, quota.ActionContentConfirm), s.resource(quota.ActionContentConfirm, "content"))
	api.POST("/content/:code/reject", ginmw.NewMiddleware(policy, quota.ActionContentReject), s.regenerate(quota.ActionContentReject, "content"))
	api.GET("/analysis/:code", ginmw.NewMiddleware(policy, quota.ActionAnalysisGenerate), s.resource(quota.ActionAnalysisGenerate, "analysis"))
	api.POST("/analysis/:code/reject", ginmw.NewMiddleware(policy, quota.ActionAnalysisReject), s.regenerate(quota.ActionAnalysisReject, "analysis"))
	api.POST("/flag/:kind/:code", ginmw.NewMiddleware(policy, quota.ActionFlag), s.flag)

	r.POST("/admin/redis/reconnect", s.reconnect)

	return r
}

// requireUser 示例用的认证：X-User-ID 请求头
func requireUser(c *gin.Context) {
	userID := c.GetHeader("X-User-ID")
	if userID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "未登录"})
		return
	}
	c.Set("user_id", userID)
	c.Next()
}

func (s *server) ok(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"identifier": ginmw.Identifier(c)})
}

func (s *server) health(c *gin.Context) {
	status := http.StatusOK
	if !s.store.IsHealthy() {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"redis": s.store.State().String()})
}

// resource 先查库，未命中再调用AI并写回
func (s *server) resource(action quota.Action, kind string) gin.HandlerFunc {
	return func(c *gin.Context) {
		code := c.Param("code")
		value, path, err := quota.Execute(c.Request.Context(), s.policy, action, ginmw.Identifier(c), quota.Source[string]{
			Lookup: func(context.Context) (string, bool, error) {
				v, ok := s.catalog.get(kind, code)
				return v, ok, nil
			},
			Generate: func(ctx context.Context) (string, error) {
				return s.generate(ctx, kind, code)
			},
		})
		s.respond(c, value, path, err)
	}
}

// regenerate 用户不认可已有结果，直接走AI
func (s *server) regenerate(action quota.Action, kind string) gin.HandlerFunc {
	return func(c *gin.Context) {
		code := c.Param("code")
		value, path, err := quota.Execute(c.Request.Context(), s.policy, action, ginmw.Identifier(c), quota.Source[string]{
			Generate: func(ctx context.Context) (string, error) {
				return s.generate(ctx, kind, code)
			},
		})
		s.respond(c, value, path, err)
	}
}

func (s *server) flag(c *gin.Context) {
	kind, code := c.Param("kind"), c.Param("code")
	count, path, err := quota.Execute(c.Request.Context(), s.policy, quota.ActionFlag, ginmw.Identifier(c), quota.Source[int]{
		Lookup: func(context.Context) (int, bool, error) {
			return s.catalog.flag(kind, code), true, nil
		},
	})
	s.respond(c, count, path, err)
}

func (s *server) respond(c *gin.Context, value any, path quota.ResourcePath, err error) {
	if err != nil {
		s.logger.Warn("处理失败", "path", path.String(), "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"value": value, "source": path.String()})
}

// generate 模拟AI生成
func (s *server) generate(ctx context.Context, kind, code string) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(50 * time.Millisecond):
	}
	value := fmt.Sprintf("%s %s generated at %s", kind, code, time.Now().UTC().Format(time.RFC3339))
	s.catalog.put(kind, code, value)
	return value, nil
}

func (s *server) reconnect(c *gin.Context) {
	if err := s.store.Connect(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"redis": s.store.State().String()})
}
