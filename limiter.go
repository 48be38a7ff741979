package quota

import (
	"context"
	"time"

	"github.com/Fischlvor/go-quota/drivers/algorithm"
	"github.com/hashicorp/go-hclog"
)

// Limiter 配额引擎：检查只读、递增只写，状态全部在共享存储中
//
// 检查与递增是两次独立的往返，并发突发时可能多放行少量请求；窗口是从第一次写入开始的固定窗口。
type Limiter struct {
	store    Store
	events   eventLog
	observer Observer
	throttle *throttle
	now      func() time.Time
}

// Option 引擎选项
type Option func(*Limiter)

// WithLogger 设置日志
func WithLogger(logger hclog.Logger) Option {
	return func(l *Limiter) {
		l.events = newEventLog(logger)
	}
}

// WithObserver 设置指标钩子
func WithObserver(observer Observer) Option {
	return func(l *Limiter) {
		if observer != nil {
			l.observer = observer
		}
	}
}

// WithClock 设置时钟（日志节流使用）
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// logThrottleWindow 同类存储故障日志的最小间隔
const logThrottleWindow = 60 * time.Second

// New 创建配额引擎
func New(store Store, options ...Option) *Limiter {
	l := &Limiter{
		store:    store,
		events:   newEventLog(nil),
		observer: nopObserver{},
		now:      time.Now,
	}

	for _, opt := range options {
		opt(l)
	}

	l.throttle = newThrottle(logThrottleWindow, l.now)
	return l
}

// Check 检查单条规则，只读；存储不可用时直接失败（fail-closed）
func (l *Limiter) Check(ctx context.Context, prefix, identifier string, rule Rule) (*Result, error) {
	if !l.store.IsHealthy() {
		l.observer.ObserveStoreUnavailable("check")
		if l.throttle.allow(classCheckUnavailable) {
			l.events.errs.Error("存储不可用，拒绝配额检查", "prefix", prefix)
		}
		return nil, &StoreError{Op: "check"}
	}

	key := Key(prefix, identifier)
	results, err := l.store.Pipeline(ctx, []Op{
		{Kind: OpGet, Key: key},
		{Kind: OpTTL, Key: key},
	})
	l.observer.ObserveRoundTrips("check", 1)
	if err != nil {
		l.observer.ObserveStoreUnavailable("check")
		if l.throttle.allow(classCheckRead) {
			l.events.errs.Error("读取计数失败，拒绝配额检查", "key", key, "error", err)
		}
		return nil, &StoreError{Op: "check", Err: err}
	}

	var current int64
	if results[0].Exists {
		current = results[0].Value
	}

	ctxResult := algorithm.FixedWindow(current, results[1].Value, rule.Limit, rule.WindowSeconds)
	return &Result{
		Allowed:        ctxResult.Allowed,
		Current:        ctxResult.Current,
		Limit:          ctxResult.Limit,
		Remaining:      ctxResult.Remaining,
		ResetInSeconds: ctxResult.ResetIn,
	}, nil
}

// Increment 递增单个计数器，第一次写入时设置过期时间
//
// 不会自行判断是否超限。存储不可用或出错时返回0，不影响调用方（fail-open）。
func (l *Limiter) Increment(ctx context.Context, prefix, identifier string, rule Rule) int64 {
	if !l.store.IsHealthy() {
		l.observer.ObserveStoreUnavailable("increment")
		if l.throttle.allow(classIncrementUnavailable) {
			l.events.infra.Info("存储不可用，跳过计数", "prefix", prefix)
		}
		return 0
	}

	key := Key(prefix, identifier)

	value, err := l.store.Incr(ctx, key)
	if err != nil {
		l.incrementFailed("increment", key, err)
		return 0
	}

	ttl, err := l.store.TTL(ctx, key)
	if err != nil {
		l.incrementFailed("increment", key, err)
		return value
	}
	roundTrips := 2

	if algorithm.NeedsExpire(ttl) {
		roundTrips++
		if _, err := l.store.Expire(ctx, key, rule.WindowSeconds); err != nil {
			l.incrementFailed("increment", key, err)
		}
	}
	l.observer.ObserveRoundTrips("increment", roundTrips)

	return value
}

// CheckMultiple 按顺序检查所有规则，遇到第一条不通过的规则立即返回 QuotaExceededError
func (l *Limiter) CheckMultiple(ctx context.Context, entries []CheckEntry) error {
	for _, entry := range entries {
		result, err := l.Check(ctx, entry.Prefix, entry.Identifier, entry.Rule)
		if err != nil {
			return err
		}

		l.observer.ObserveCheck(entry.Name, result.Allowed)
		if result.Allowed {
			continue
		}

		// 每次超限都记录，不节流
		l.events.security.Warn("配额超限",
			"rule", entry.Name,
			"identifier", entry.Identifier,
			"current", result.Current,
			"limit", result.Limit,
			"reset_in", result.ResetInSeconds,
		)
		return &QuotaExceededError{
			Name:           entry.Name,
			Identifier:     entry.Identifier,
			Current:        result.Current,
			Limit:          result.Limit,
			ResetInSeconds: result.ResetInSeconds,
		}
	}

	return nil
}

// IncrementMultiple 批量递增，固定最多两次往返：
// 第一次管道对每个计数器执行 INCR+TTL，第二次管道只为新建的键设置过期时间。
//
// 任一管道出错时放弃剩余工作，已生效的递增不回滚。
func (l *Limiter) IncrementMultiple(ctx context.Context, counters []Counter) {
	if len(counters) == 0 {
		return
	}
	if !l.store.IsHealthy() {
		l.observer.ObserveStoreUnavailable("increment_multiple")
		if l.throttle.allow(classIncrementMultipleUnavailable) {
			l.events.infra.Info("存储不可用，跳过批量计数", "count", len(counters))
		}
		return
	}

	ops := make([]Op, 0, 2*len(counters))
	for _, c := range counters {
		key := Key(c.Prefix, c.Identifier)
		ops = append(ops, Op{Kind: OpIncr, Key: key}, Op{Kind: OpTTL, Key: key})
	}

	results, err := l.store.Pipeline(ctx, ops)
	if err != nil {
		l.observer.ObserveRoundTrips("increment_multiple", 1)
		l.incrementFailed("increment_multiple", "", err)
		return
	}

	var expires []Op
	for i, c := range counters {
		if algorithm.NeedsExpire(results[2*i+1].Value) {
			expires = append(expires, Op{
				Kind:    OpExpire,
				Key:     Key(c.Prefix, c.Identifier),
				Seconds: c.Rule.WindowSeconds,
			})
		}
	}

	if len(expires) == 0 {
		l.observer.ObserveRoundTrips("increment_multiple", 1)
		return
	}

	l.observer.ObserveRoundTrips("increment_multiple", 2)
	if _, err := l.store.Pipeline(ctx, expires); err != nil {
		l.incrementFailed("increment_multiple", "", err)
	}
}

// incrementFailed 递增失败只记录，不向调用方返回
func (l *Limiter) incrementFailed(op, key string, err error) {
	l.observer.ObserveIncrementFailure(op)
	l.events.errs.Error("计数递增失败", "op", op, "key", key, "error", err)
}
