package quota

import "fmt"

// PoolRules 共享池规则，同一资源的多个动作共用
type PoolRules struct {
	ScanDB     Rule
	ScanAI     Rule
	ContentDB  Rule
	ContentAI  Rule
	AnalysisDB Rule
	AnalysisAI Rule
	FlagDB     Rule
}

// EndpointRules 单个动作的额外上限
type EndpointRules struct {
	ScanReject     Rule
	ContentReject  Rule
	AnalysisReject Rule
	Flag           Rule
}

// GlobalRules 按资源类别汇总的小时/天级上限
type GlobalRules struct {
	DBHourly     Rule
	DBDaily      Rule
	AIHourly     Rule
	AIDaily      Rule
	RejectHourly Rule
	RejectDaily  Rule
}

// AuthRules 认证相关规则
type AuthRules struct {
	LoginIP     Rule
	RegisterIP  Rule
	RefreshUser Rule
}

// HealthRules 健康检查规则
type HealthRules struct {
	CheckIP Rule
}

// Registry 启动时加载的规则表，加载后只读
type Registry struct {
	Pool     PoolRules
	Endpoint EndpointRules
	Global   GlobalRules
	Auth     AuthRules
	Health   HealthRules
}

type binding struct {
	category Category
	name     string
	rule     *Rule
}

// bindings 配置中的 category/name 与强类型字段的对应关系
func (r *Registry) bindings() []binding {
	return []binding{
		{CategoryPool, "scan_db", &r.Pool.ScanDB},
		{CategoryPool, "scan_ai", &r.Pool.ScanAI},
		{CategoryPool, "content_db", &r.Pool.ContentDB},
		{CategoryPool, "content_ai", &r.Pool.ContentAI},
		{CategoryPool, "analysis_db", &r.Pool.AnalysisDB},
		{CategoryPool, "analysis_ai", &r.Pool.AnalysisAI},
		{CategoryPool, "flag_db", &r.Pool.FlagDB},

		{CategoryEndpoint, "scan_reject", &r.Endpoint.ScanReject},
		{CategoryEndpoint, "content_reject", &r.Endpoint.ContentReject},
		{CategoryEndpoint, "analysis_reject", &r.Endpoint.AnalysisReject},
		{CategoryEndpoint, "flag", &r.Endpoint.Flag},

		{CategoryGlobal, "db_hourly", &r.Global.DBHourly},
		{CategoryGlobal, "db_daily", &r.Global.DBDaily},
		{CategoryGlobal, "ai_hourly", &r.Global.AIHourly},
		{CategoryGlobal, "ai_daily", &r.Global.AIDaily},
		{CategoryGlobal, "reject_hourly", &r.Global.RejectHourly},
		{CategoryGlobal, "reject_daily", &r.Global.RejectDaily},

		{CategoryAuth, "login_ip", &r.Auth.LoginIP},
		{CategoryAuth, "register_ip", &r.Auth.RegisterIP},
		{CategoryAuth, "refresh_user", &r.Auth.RefreshUser},

		{CategoryHealth, "check_ip", &r.Health.CheckIP},
	}
}

const (
	hour = 3600
	day  = 24 * hour
)

// DefaultRules 默认规则表，配置文件中的同名规则会覆盖这里的值
func DefaultRules() map[Category]map[string]Rule {
	return map[Category]map[string]Rule{
		CategoryPool: {
			"scan_db":     {Limit: 200, WindowSeconds: hour},
			"scan_ai":     {Limit: 30, WindowSeconds: hour},
			"content_db":  {Limit: 200, WindowSeconds: hour},
			"content_ai":  {Limit: 30, WindowSeconds: hour},
			"analysis_db": {Limit: 100, WindowSeconds: hour},
			"analysis_ai": {Limit: 20, WindowSeconds: hour},
			"flag_db":     {Limit: 50, WindowSeconds: hour},
		},
		CategoryEndpoint: {
			"scan_reject":     {Limit: 10, WindowSeconds: hour},
			"content_reject":  {Limit: 10, WindowSeconds: hour},
			"analysis_reject": {Limit: 10, WindowSeconds: hour},
			"flag":            {Limit: 10, WindowSeconds: hour},
		},
		CategoryGlobal: {
			"db_hourly":     {Limit: 500, WindowSeconds: hour},
			"db_daily":      {Limit: 3000, WindowSeconds: day},
			"ai_hourly":     {Limit: 60, WindowSeconds: hour},
			"ai_daily":      {Limit: 200, WindowSeconds: day},
			"reject_hourly": {Limit: 20, WindowSeconds: hour},
			"reject_daily":  {Limit: 60, WindowSeconds: day},
		},
		CategoryAuth: {
			"login_ip":     {Limit: 10, WindowSeconds: 15 * 60},
			"register_ip":  {Limit: 5, WindowSeconds: hour},
			"refresh_user": {Limit: 30, WindowSeconds: hour},
		},
		CategoryHealth: {
			"check_ip": {Limit: 6, WindowSeconds: 60},
		},
	}
}

// NewRegistry 以默认规则为底，叠加配置中的规则，未知的分类或规则名直接报错
func NewRegistry(rules RulesConfig) (*Registry, error) {
	r := &Registry{}
	defaults := DefaultRules()

	index := make(map[Category]map[string]*Rule)
	for _, b := range r.bindings() {
		*b.rule = defaults[b.category][b.name]
		if index[b.category] == nil {
			index[b.category] = make(map[string]*Rule)
		}
		index[b.category][b.name] = b.rule
	}

	for category, named := range rules {
		slots, ok := index[category]
		if !ok {
			return nil, fmt.Errorf("未知的规则分类: %s", category)
		}
		for name, rc := range named {
			slot, ok := slots[name]
			if !ok {
				return nil, fmt.Errorf("未知的规则: %s.%s", category, name)
			}
			rule, err := rc.ToRule()
			if err != nil {
				return nil, fmt.Errorf("规则 %s.%s: %w", category, name, err)
			}
			*slot = rule
		}
	}

	return r, nil
}

// Lookup 按分类和名称查询规则，仅用于诊断
func (r *Registry) Lookup(category Category, name string) (Rule, bool) {
	for _, b := range r.bindings() {
		if b.category == category && b.name == name {
			return *b.rule, true
		}
	}
	return Rule{}, false
}

// Prefix 规则在存储中的键前缀
func Prefix(category Category, name string) string {
	return string(category) + ":" + name
}
