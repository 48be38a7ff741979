package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/Fischlvor/go-quota"
	qmetrics "github.com/Fischlvor/go-quota/drivers/metrics/prometheus"
	"github.com/Fischlvor/go-quota/drivers/store/redis"
	"github.com/gin-gonic/gin"
	libredis "github.com/go-redis/redis"
	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

// ServeCmd 启动HTTP服务
type ServeCmd struct {
	Listen    string `help:"Listen address, overrides server.addr." env:"QUOTA_LISTEN"`
	RedisAddr string `name:"redis-addr" help:"Redis address, overrides redis.addr." env:"QUOTA_REDIS_ADDR"`
}

func (c *ServeCmd) Run(cli *CLI) error {
	config, err := cli.loadConfig()
	if err != nil {
		return err
	}
	if c.Listen != "" {
		config.Server.Addr = c.Listen
	}
	if c.RedisAddr != "" {
		config.Redis.Addr = c.RedisAddr
	}

	logger := newLogger(config.Log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store := newStore(config.Redis, logger)
	defer store.Close()

	// 启动时连不上不退出：检查按 fail-closed 拒绝，之后可以通过重启或重连恢复
	if err := store.Connect(ctx); err != nil {
		logger.Error("Redis不可用，所有受保护的请求将被拒绝", "error", err)
	}

	options := []quota.Option{quota.WithLogger(logger)}
	registry := prometheus.NewRegistry()
	if config.Metrics.Enabled {
		collector, err := qmetrics.NewCollector(config.Metrics.Namespace, registry, store.IsHealthy)
		if err != nil {
			return err
		}
		options = append(options, quota.WithObserver(collector))
	}

	policy, err := quota.NewFromConfig(config, store, options...)
	if err != nil {
		return err
	}

	engine := newRouter(policy, store, newCatalog(), logger)
	if config.Metrics.Enabled {
		engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	}

	srv := &http.Server{
		Addr:    config.Server.Addr,
		Handler: engine,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("HTTP服务已启动", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP服务异常退出: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("正在关闭")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func newStore(config quota.RedisConfig, logger hclog.Logger) *redis.Store {
	client := libredis.NewClient(&libredis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		DialTimeout:  quota.Duration(config.DialTimeout),
		ReadTimeout:  quota.Duration(config.ReadTimeout),
		WriteTimeout: quota.Duration(config.WriteTimeout),
	})

	return redis.NewStore(client, redis.Options{
		Prefix:          config.Prefix,
		MaxRetries:      config.Connect.MaxRetries,
		InitialInterval: quota.Duration(config.Connect.InitialInterval),
		MaxInterval:     quota.Duration(config.Connect.MaxInterval),
		Logger:          logger,
	})
}
