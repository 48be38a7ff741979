package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Fischlvor/go-quota"
	"github.com/cenkalti/backoff/v5"
	libredis "github.com/go-redis/redis"
	"github.com/hashicorp/go-hclog"
)

var (
	// ErrNotConnected 未连接时的操作直接失败，不产生网络请求
	ErrNotConnected = errors.New("redis未连接")
	// ErrClosed 存储已关闭
	ErrClosed = errors.New("redis存储已关闭")
)

// State 连接状态
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Options 存储选项
type Options struct {
	// Prefix 键的命名空间前缀
	Prefix string
	// MaxRetries 一轮连接最多尝试的次数
	MaxRetries int
	// InitialInterval 首次重试间隔
	InitialInterval time.Duration
	// MaxInterval 重试间隔上限
	MaxInterval time.Duration
	// Logger 连接生命周期日志
	Logger hclog.Logger
}

// Store Redis存储实现
//
// 只有 Connected 状态下才会访问网络。操作出错时转为 Disconnected 并在后台重连一轮，
// 这一轮重试耗尽后保持断开，直到再次调用 Connect。
type Store struct {
	client *libredis.Client
	prefix string
	opts   Options
	logger hclog.Logger

	state atomic.Int32

	mu     sync.Mutex
	closed bool
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ quota.Store = (*Store)(nil)

// NewStore 创建Redis存储，需要调用 Connect 后才可用
func NewStore(client *libredis.Client, opts Options) *Store {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 5
	}
	if opts.InitialInterval <= 0 {
		opts.InitialInterval = 100 * time.Millisecond
	}
	if opts.MaxInterval <= 0 {
		opts.MaxInterval = 2 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	return &Store{
		client: client,
		prefix: opts.Prefix,
		opts:   opts,
		logger: logger.Named("infrastructure").With("component", "redis"),
	}
}

// key 添加前缀
func (s *Store) key(k string) string {
	if s.prefix == "" {
		return k
	}
	return s.prefix + ":" + k
}

// State 当前连接状态
func (s *Store) State() State {
	return State(s.state.Load())
}

// IsHealthy 是否处于 Connected 状态
func (s *Store) IsHealthy() bool {
	return s.State() == StateConnected
}

// Connect 建立连接，失败时按指数退避重试，重试耗尽返回错误
//
// 正在进行的后台重连会先被取消。
func (s *Store) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.mu.Unlock()
	s.wg.Wait()

	if s.IsHealthy() {
		return nil
	}
	return s.connect(ctx)
}

func (s *Store) connect(ctx context.Context) error {
	s.state.Store(int32(StateConnecting))
	s.logger.Info("正在连接", "addr", s.client.Options().Addr)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.opts.InitialInterval
	b.MaxInterval = s.opts.MaxInterval

	_, err := backoff.Retry(ctx, func() (string, error) {
		return s.client.WithContext(ctx).Ping().Result()
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(s.opts.MaxRetries)),
		backoff.WithNotify(func(err error, next time.Duration) {
			s.logger.Warn("连接失败，准备重试", "error", err, "next", next)
		}),
	)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		s.state.Store(int32(StateDisconnected))
		return ErrClosed
	}
	if err != nil {
		s.state.Store(int32(StateDisconnected))
		if ctx.Err() != nil {
			s.logger.Info("连接已取消")
			return err
		}
		s.logger.Error("重试次数耗尽，保持断开", "max_retries", s.opts.MaxRetries, "error", err)
		return fmt.Errorf("连接Redis失败: %w", err)
	}

	s.state.Store(int32(StateConnected))
	s.logger.Info("已连接")
	return nil
}

// fail 操作出错：断开并启动一轮后台重连
func (s *Store) fail(op string, err error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || !s.state.CompareAndSwap(int32(StateConnected), int32(StateDisconnected)) {
		return
	}
	s.logger.Error("操作失败", "op", op, "error", err)
	s.logger.Warn("连接已断开")

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		_ = s.connect(ctx)
	}()
}

// Close 停止重连并关闭客户端
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.mu.Unlock()
	s.wg.Wait()

	s.state.Store(int32(StateDisconnected))
	err := s.client.Close()
	s.logger.Info("已关闭")
	return err
}

// Get 获取键的值
func (s *Store) Get(ctx context.Context, key string) (int64, bool, error) {
	if !s.IsHealthy() {
		return 0, false, ErrNotConnected
	}

	val, err := s.client.WithContext(ctx).Get(s.key(key)).Int64()
	if err == libredis.Nil {
		return 0, false, nil
	}
	if err != nil {
		s.fail("get", err)
		return 0, false, err
	}
	return val, true, nil
}

// TTL 获取剩余时间（秒）
func (s *Store) TTL(ctx context.Context, key string) (int64, error) {
	if !s.IsHealthy() {
		return 0, ErrNotConnected
	}

	d, err := s.client.WithContext(ctx).TTL(s.key(key)).Result()
	if err != nil {
		s.fail("ttl", err)
		return 0, err
	}
	return ttlSeconds(d), nil
}

// Incr 递增
func (s *Store) Incr(ctx context.Context, key string) (int64, error) {
	if !s.IsHealthy() {
		return 0, ErrNotConnected
	}

	val, err := s.client.WithContext(ctx).Incr(s.key(key)).Result()
	if err != nil {
		s.fail("incr", err)
		return 0, err
	}
	return val, nil
}

// Expire 设置过期时间
func (s *Store) Expire(ctx context.Context, key string, seconds int64) (bool, error) {
	if !s.IsHealthy() {
		return false, ErrNotConnected
	}

	ok, err := s.client.WithContext(ctx).Expire(s.key(key), time.Duration(seconds)*time.Second).Result()
	if err != nil {
		s.fail("expire", err)
		return false, err
	}
	return ok, nil
}

// Pipeline 一次往返执行一组操作
func (s *Store) Pipeline(ctx context.Context, ops []quota.Op) ([]quota.OpResult, error) {
	if !s.IsHealthy() {
		return nil, ErrNotConnected
	}
	if len(ops) == 0 {
		return nil, nil
	}

	pipe := s.client.WithContext(ctx).Pipeline()
	defer pipe.Close()

	cmds := make([]libredis.Cmder, len(ops))
	for i, op := range ops {
		key := s.key(op.Key)
		switch op.Kind {
		case quota.OpGet:
			cmds[i] = pipe.Get(key)
		case quota.OpIncr:
			cmds[i] = pipe.Incr(key)
		case quota.OpTTL:
			cmds[i] = pipe.TTL(key)
		case quota.OpExpire:
			cmds[i] = pipe.Expire(key, time.Duration(op.Seconds)*time.Second)
		default:
			return nil, fmt.Errorf("未知的管道操作: %d", op.Kind)
		}
	}

	// GET 不存在的键时 Exec 也会返回 Nil，逐条判断
	if _, err := pipe.Exec(); err != nil && err != libredis.Nil {
		s.fail("pipeline", err)
		return nil, err
	}

	results := make([]quota.OpResult, len(ops))
	for i, cmd := range cmds {
		if err := cmd.Err(); err != nil && err != libredis.Nil {
			s.fail("pipeline", err)
			return nil, err
		}

		switch c := cmd.(type) {
		case *libredis.StringCmd:
			val, err := c.Int64()
			if err == libredis.Nil {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("解析计数失败: %s: %w", ops[i].Key, err)
			}
			results[i] = quota.OpResult{Value: val, Exists: true}
		case *libredis.IntCmd:
			results[i] = quota.OpResult{Value: c.Val(), Exists: true}
		case *libredis.DurationCmd:
			results[i] = quota.OpResult{Value: ttlSeconds(c.Val())}
		case *libredis.BoolCmd:
			if c.Val() {
				results[i] = quota.OpResult{Value: 1}
			}
		}
	}
	return results, nil
}

// ttlSeconds 统一TTL返回值：-1 无过期时间，-2 不存在
//
// 不同版本的客户端对负值的单位处理不一致，两种都兼容。
func ttlSeconds(d time.Duration) int64 {
	if d < 0 {
		if d == -2 || d == -2*time.Second {
			return quota.TTLMissing
		}
		return quota.TTLNoExpire
	}
	return int64(d / time.Second)
}
