package quota

import (
	"context"
	"fmt"
)

// Action 受配额保护的业务动作
type Action string

const (
	ActionScan             Action = "scan"
	ActionScanReject       Action = "scan_reject"
	ActionContentConfirm   Action = "content_confirm"
	ActionContentReject    Action = "content_reject"
	ActionAnalysisGenerate Action = "analysis_generate"
	ActionAnalysisReject   Action = "analysis_reject"
	ActionFlag             Action = "flag"

	ActionLogin    Action = "login"
	ActionRegister Action = "register"
	ActionRefresh  Action = "refresh"

	ActionHealth Action = "health"
)

// Actions 所有已注册的动作
func Actions() []Action {
	return []Action{
		ActionScan, ActionScanReject,
		ActionContentConfirm, ActionContentReject,
		ActionAnalysisGenerate, ActionAnalysisReject,
		ActionFlag,
		ActionLogin, ActionRegister, ActionRefresh,
		ActionHealth,
	}
}

// ResourcePath 放行后实际走的资源路径
type ResourcePath int

const (
	// PathDB 命中数据库/缓存
	PathDB ResourcePath = iota + 1
	// PathAI 调用AI生成
	PathAI
)

func (p ResourcePath) String() string {
	switch p {
	case PathDB:
		return "db"
	case PathAI:
		return "ai"
	default:
		return "none"
	}
}

// NamedRule 带名称的规则，名称同时是存储键前缀（category:name）
type NamedRule struct {
	Name string
	Rule Rule
}

// Plan 一个动作的静态规则组合
type Plan struct {
	// PreCheck 执行前按顺序检查，全部通过才放行
	PreCheck []NamedRule
	// Attempt 检查通过后立即计数（代表"发生过一次尝试"）
	Attempt []NamedRule
	// DB 走数据库路径时计数
	DB []NamedRule
	// AI 走AI路径时计数
	AI []NamedRule
}

// Policy 将业务动作映射为检查/计数规则组合，规则表在启动时一次性解析
type Policy struct {
	limiter *Limiter
	plans   map[Action]Plan
}

// NewPolicy 创建策略
func NewPolicy(limiter *Limiter, registry *Registry) *Policy {
	return &Policy{
		limiter: limiter,
		plans:   buildPlans(registry),
	}
}

// NewFromConfig 从配置对象创建策略
func NewFromConfig(config *Config, store Store, options ...Option) (*Policy, error) {
	registry, err := config.Registry()
	if err != nil {
		return nil, fmt.Errorf("加载规则失败: %w", err)
	}
	return NewPolicy(New(store, options...), registry), nil
}

// NewFromFile 从配置文件创建策略
func NewFromFile(configFile string, store Store, options ...Option) (*Policy, error) {
	// 获取配置文件路径
	configPath, err := GetConfigPath(configFile)
	if err != nil {
		return nil, err
	}

	// 加载配置
	config, err := LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	return NewFromConfig(config, store, options...)
}

func buildPlans(r *Registry) map[Action]Plan {
	named := func(category Category, name string, rule Rule) NamedRule {
		return NamedRule{Name: Prefix(category, name), Rule: rule}
	}

	dbGlobal := []NamedRule{
		named(CategoryGlobal, "db_hourly", r.Global.DBHourly),
		named(CategoryGlobal, "db_daily", r.Global.DBDaily),
	}
	aiGlobal := []NamedRule{
		named(CategoryGlobal, "ai_hourly", r.Global.AIHourly),
		named(CategoryGlobal, "ai_daily", r.Global.AIDaily),
	}
	rejectGlobal := []NamedRule{
		named(CategoryGlobal, "reject_hourly", r.Global.RejectHourly),
		named(CategoryGlobal, "reject_daily", r.Global.RejectDaily),
	}

	// 数据库/AI 双路径的动作
	resource := func(dbPool, aiPool NamedRule) Plan {
		return Plan{
			PreCheck: concat([]NamedRule{dbPool, aiPool}, dbGlobal, aiGlobal),
			DB:       concat([]NamedRule{dbPool}, dbGlobal),
			AI:       concat([]NamedRule{aiPool}, aiGlobal),
		}
	}

	// reject 类动作：先查单动作上限，检查通过即计一次尝试
	reject := func(endpoint, dbPool, aiPool NamedRule) Plan {
		plan := resource(dbPool, aiPool)
		plan.PreCheck = concat([]NamedRule{endpoint, dbPool, aiPool}, rejectGlobal, dbGlobal, aiGlobal)
		plan.Attempt = concat([]NamedRule{endpoint}, rejectGlobal)
		return plan
	}

	// 只有一条规则的动作，检查通过即计数
	single := func(rule NamedRule) Plan {
		return Plan{
			PreCheck: []NamedRule{rule},
			Attempt:  []NamedRule{rule},
		}
	}

	scanDB := named(CategoryPool, "scan_db", r.Pool.ScanDB)
	scanAI := named(CategoryPool, "scan_ai", r.Pool.ScanAI)
	contentDB := named(CategoryPool, "content_db", r.Pool.ContentDB)
	contentAI := named(CategoryPool, "content_ai", r.Pool.ContentAI)
	analysisDB := named(CategoryPool, "analysis_db", r.Pool.AnalysisDB)
	analysisAI := named(CategoryPool, "analysis_ai", r.Pool.AnalysisAI)
	flagDB := named(CategoryPool, "flag_db", r.Pool.FlagDB)
	flagEndpoint := named(CategoryEndpoint, "flag", r.Endpoint.Flag)

	return map[Action]Plan{
		ActionScan:       resource(scanDB, scanAI),
		ActionScanReject: reject(named(CategoryEndpoint, "scan_reject", r.Endpoint.ScanReject), scanDB, scanAI),

		ActionContentConfirm: resource(contentDB, contentAI),
		ActionContentReject:  reject(named(CategoryEndpoint, "content_reject", r.Endpoint.ContentReject), contentDB, contentAI),

		ActionAnalysisGenerate: resource(analysisDB, analysisAI),
		ActionAnalysisReject:   reject(named(CategoryEndpoint, "analysis_reject", r.Endpoint.AnalysisReject), analysisDB, analysisAI),

		ActionFlag: {
			PreCheck: concat([]NamedRule{flagEndpoint, flagDB}, dbGlobal),
			Attempt:  []NamedRule{flagEndpoint},
			DB:       concat([]NamedRule{flagDB}, dbGlobal),
		},

		ActionLogin:    single(named(CategoryAuth, "login_ip", r.Auth.LoginIP)),
		ActionRegister: single(named(CategoryAuth, "register_ip", r.Auth.RegisterIP)),
		ActionRefresh:  single(named(CategoryAuth, "refresh_user", r.Auth.RefreshUser)),

		ActionHealth: single(named(CategoryHealth, "check_ip", r.Health.CheckIP)),
	}
}

func concat(parts ...[]NamedRule) []NamedRule {
	var out []NamedRule
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// Plan 查询动作的规则组合
func (p *Policy) Plan(action Action) (Plan, bool) {
	plan, ok := p.plans[action]
	return plan, ok
}

// Limiter 底层引擎
func (p *Policy) Limiter() *Limiter {
	return p.limiter
}

// Authorize 执行前检查，失败时什么都不计数；reject 类动作通过后立即记一次尝试
func (p *Policy) Authorize(ctx context.Context, action Action, identifier string) error {
	plan, ok := p.plans[action]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAction, action)
	}

	entries := make([]CheckEntry, 0, len(plan.PreCheck))
	for _, nr := range plan.PreCheck {
		entries = append(entries, CheckEntry{
			Prefix:     nr.Name,
			Identifier: identifier,
			Rule:       nr.Rule,
			Name:       nr.Name,
		})
	}
	if err := p.limiter.CheckMultiple(ctx, entries); err != nil {
		return err
	}

	p.limiter.IncrementMultiple(ctx, counters(plan.Attempt, identifier))
	return nil
}

// Charge 按实际走的路径计数，DB 与 AI 只会计其中一个
func (p *Policy) Charge(ctx context.Context, action Action, identifier string, path ResourcePath) error {
	plan, ok := p.plans[action]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAction, action)
	}

	switch path {
	case PathDB:
		p.limiter.IncrementMultiple(ctx, counters(plan.DB, identifier))
	case PathAI:
		p.limiter.IncrementMultiple(ctx, counters(plan.AI, identifier))
	}
	return nil
}

func counters(rules []NamedRule, identifier string) []Counter {
	out := make([]Counter, 0, len(rules))
	for _, nr := range rules {
		out = append(out, Counter{Prefix: nr.Name, Identifier: identifier, Rule: nr.Rule})
	}
	return out
}

// Source 受保护操作的两条执行路径
type Source[T any] struct {
	// Lookup 查询数据库/缓存，found=false 时走 Generate
	Lookup func(ctx context.Context) (value T, found bool, err error)
	// Generate 调用AI生成，为空表示该动作只有数据库路径
	Generate func(ctx context.Context) (T, error)
}

// Run 完整执行一次受保护的动作：检查 -> 选择路径并计数 -> 执行
//
// 走AI路径时先计数再调用，调用失败不退还额度。
func Run[T any](ctx context.Context, p *Policy, action Action, identifier string, src Source[T]) (T, ResourcePath, error) {
	if err := p.Authorize(ctx, action, identifier); err != nil {
		var zero T
		return zero, 0, err
	}
	return Execute(ctx, p, action, identifier, src)
}

// Execute 已经通过 Authorize 的请求：选择路径、计数、执行
//
// 用于检查由中间件完成、执行在处理函数中的场景。
func Execute[T any](ctx context.Context, p *Policy, action Action, identifier string, src Source[T]) (T, ResourcePath, error) {
	var zero T

	if src.Lookup != nil {
		value, found, err := src.Lookup(ctx)
		if err != nil {
			return zero, 0, err
		}
		if found || src.Generate == nil {
			_ = p.Charge(ctx, action, identifier, PathDB)
			return value, PathDB, nil
		}
	}

	if src.Generate == nil {
		return zero, 0, nil
	}

	_ = p.Charge(ctx, action, identifier, PathAI)
	value, err := src.Generate(ctx)
	if err != nil {
		return zero, PathAI, err
	}
	return value, PathAI, nil
}
