package quota

import "context"

// Category 规则分类
type Category string

const (
	// CategoryPool 共享池：多个同类动作共用一份额度
	CategoryPool Category = "pool"
	// CategoryEndpoint 单个动作的额外上限（主要用于 reject 类动作）
	CategoryEndpoint Category = "endpoint"
	// CategoryGlobal 按资源类别汇总的小时/天级上限
	CategoryGlobal Category = "global"
	// CategoryAuth 认证相关（登录前按IP，登录后按用户）
	CategoryAuth Category = "auth"
	// CategoryHealth 健康检查（按IP，阈值很低）
	CategoryHealth Category = "health"
)

// Rule 限流规则（固定窗口）
type Rule struct {
	// Limit 窗口内允许的次数
	Limit int64
	// WindowSeconds 窗口长度（秒），从第一次计数开始计时
	WindowSeconds int64
}

// Result 单条规则的检查结果，只读视图，不落库
type Result struct {
	// Allowed 是否允许通过
	Allowed bool
	// Current 当前计数
	Current int64
	// Limit 限流阈值
	Limit int64
	// Remaining 剩余配额
	Remaining int64
	// ResetInSeconds 距离窗口重置的秒数
	ResetInSeconds int64
}

// CheckEntry 多规则检查中的一项，Name 只用于审计日志和错误信息
type CheckEntry struct {
	Prefix     string
	Identifier string
	Rule       Rule
	Name       string
}

// Counter 一个待递增的计数器
type Counter struct {
	Prefix     string
	Identifier string
	Rule       Rule
}

// Key 计数器的存储键：prefix:identifier
func Key(prefix, identifier string) string {
	return prefix + ":" + identifier
}

// TTL 约定值
const (
	// TTLNoExpire 键存在但没有过期时间（只会出现在 INCR 与 EXPIRE 之间）
	TTLNoExpire int64 = -1
	// TTLMissing 键不存在
	TTLMissing int64 = -2
)

// OpKind 管道操作类型
type OpKind int

const (
	OpGet OpKind = iota
	OpIncr
	OpTTL
	OpExpire
)

// Op 管道中的一个操作
type Op struct {
	Kind OpKind
	Key  string
	// Seconds 仅 OpExpire 使用
	Seconds int64
}

// OpResult 管道操作结果，与 Op 一一对应
type OpResult struct {
	// Value Get/Incr 的值，TTL 的秒数，Expire 成功时为1
	Value int64
	// Exists Get 时键是否存在
	Exists bool
}

// Store 计数器存储接口
type Store interface {
	// Get 获取键的值，键不存在时 exists=false
	Get(ctx context.Context, key string) (value int64, exists bool, err error)
	// TTL 获取键的剩余过期时间（秒），-1 无过期时间，-2 不存在
	TTL(ctx context.Context, key string) (int64, error)
	// Incr 递增并返回新值，不存在时创建为1且没有过期时间
	Incr(ctx context.Context, key string) (int64, error)
	// Expire 设置键的过期时间（秒）
	Expire(ctx context.Context, key string, seconds int64) (bool, error)
	// Pipeline 在一次网络往返内按顺序执行一组操作
	Pipeline(ctx context.Context, ops []Op) ([]OpResult, error)
	// IsHealthy 连接是否可用
	IsHealthy() bool
}
