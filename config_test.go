package quota

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	tmpfile, err := os.CreateTemp("", "quota_*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Remove(tmpfile.Name()) })

	if _, err := tmpfile.Write([]byte(content)); err != nil {
		t.Fatal(err)
	}
	if err := tmpfile.Close(); err != nil {
		t.Fatal(err)
	}
	return tmpfile.Name()
}

func TestLoadConfig_Success(t *testing.T) {
	configContent := `
redis:
  addr: redis:6379
  db: 2
  prefix: app
  connect:
    max_retries: 3
    initial_interval: 50ms
    max_interval: 1s

log:
  level: debug
  json: true

metrics:
  enabled: true

rules:
  pool:
    scan_ai:
      limit: 5
      window: 30m
  global:
    ai_daily:
      limit: 50
      window: 24h
`

	config, err := LoadConfig(writeTempConfig(t, configContent))
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	// 验证Redis配置
	if config.Redis.Addr != "redis:6379" {
		t.Errorf("Redis.Addr = %v, want redis:6379", config.Redis.Addr)
	}
	if config.Redis.DB != 2 {
		t.Errorf("Redis.DB = %v, want 2", config.Redis.DB)
	}
	if config.Redis.Connect.MaxRetries != 3 {
		t.Errorf("Connect.MaxRetries = %v, want 3", config.Redis.Connect.MaxRetries)
	}
	if Duration(config.Redis.Connect.InitialInterval).Milliseconds() != 50 {
		t.Errorf("Connect.InitialInterval = %v, want 50ms", config.Redis.Connect.InitialInterval)
	}

	// 未配置的字段使用默认值
	if config.Redis.DialTimeout != "2s" {
		t.Errorf("Redis.DialTimeout = %v, want 2s", config.Redis.DialTimeout)
	}
	if config.Server.Addr != ":8080" {
		t.Errorf("Server.Addr = %v, want :8080", config.Server.Addr)
	}
	if config.Metrics.Namespace != "quota" {
		t.Errorf("Metrics.Namespace = %v, want quota", config.Metrics.Namespace)
	}

	// 验证日志配置
	if config.Log.Level != "debug" || !config.Log.JSON {
		t.Errorf("Log = %+v", config.Log)
	}

	// 验证规则
	registry, err := config.Registry()
	if err != nil {
		t.Fatalf("Registry() error = %v", err)
	}
	if registry.Pool.ScanAI != (Rule{Limit: 5, WindowSeconds: 1800}) {
		t.Errorf("Pool.ScanAI = %+v", registry.Pool.ScanAI)
	}
	if registry.Global.AIDaily != (Rule{Limit: 50, WindowSeconds: 86400}) {
		t.Errorf("Global.AIDaily = %+v", registry.Global.AIDaily)
	}
	// 未覆盖的规则保持默认
	if registry.Pool.ScanDB != DefaultRules()[CategoryPool]["scan_db"] {
		t.Errorf("Pool.ScanDB = %+v, want default", registry.Pool.ScanDB)
	}
}

func TestLoadConfig_Empty(t *testing.T) {
	config, err := LoadConfig(writeTempConfig(t, ""))
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if config.Redis.Addr != "127.0.0.1:6379" || config.Redis.Prefix != "quota" {
		t.Errorf("Redis = %+v", config.Redis)
	}
	if config.Log.Level != "info" {
		t.Errorf("Log.Level = %v, want info", config.Log.Level)
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name: "未知的规则分类",
			content: `rules:
  burst:
    x: {limit: 1, window: 1s}
`,
			wantErr: "未知的规则分类",
		},
		{
			name: "未知的规则名",
			content: `rules:
  pool:
    scan_video: {limit: 1, window: 1s}
`,
			wantErr: "未知的规则",
		},
		{
			name: "阈值为0",
			content: `rules:
  pool:
    scan_db: {limit: 0, window: 1h}
`,
			wantErr: "限流阈值必须大于0",
		},
		{
			name: "窗口无法解析",
			content: `rules:
  pool:
    scan_db: {limit: 1, window: often}
`,
			wantErr: "无效的时间窗口",
		},
		{
			name: "窗口不足1秒",
			content: `rules:
  pool:
    scan_db: {limit: 1, window: 500ms}
`,
			wantErr: "整秒",
		},
		{
			name: "窗口不是整秒",
			content: `rules:
  pool:
    scan_db: {limit: 1, window: 1500ms}
`,
			wantErr: "整秒",
		},
		{
			name: "无效的重试间隔",
			content: `redis:
  connect:
    initial_interval: soon
`,
			wantErr: "redis.connect.initial_interval",
		},
		{
			name: "无效的日志级别",
			content: `log:
  level: loud
`,
			wantErr: "无效的日志级别",
		},
		{
			name:    "YAML格式错误",
			content: "rules: [",
			wantErr: "解析配置文件失败",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeTempConfig(t, tt.content))
			if err == nil {
				t.Fatal("期望错误")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want contains %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadConfig_FileNotFound(t *testing.T) {
	if _, err := LoadConfig("nonexistent.yaml"); err == nil {
		t.Error("期望文件不存在错误")
	}
}

func TestNewRegistry_Defaults(t *testing.T) {
	registry, err := NewRegistry(nil)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}

	// 每条默认规则都能查到，且与强类型字段一致
	for category, named := range DefaultRules() {
		for name, want := range named {
			got, ok := registry.Lookup(category, name)
			if !ok {
				t.Errorf("Lookup(%s, %s) 未找到", category, name)
				continue
			}
			if got != want {
				t.Errorf("Lookup(%s, %s) = %+v, want %+v", category, name, got, want)
			}
			if got.Limit < 1 || got.WindowSeconds < 1 {
				t.Errorf("默认规则 %s.%s 非法: %+v", category, name, got)
			}
		}
	}

	if registry.Health.CheckIP != (Rule{Limit: 6, WindowSeconds: 60}) {
		t.Errorf("Health.CheckIP = %+v", registry.Health.CheckIP)
	}

	if _, ok := registry.Lookup(CategoryPool, "missing"); ok {
		t.Error("不存在的规则不应找到")
	}
}

func TestNewRegistry_BindingsCoverDefaults(t *testing.T) {
	registry := &Registry{}
	seen := 0
	for _, b := range registry.bindings() {
		if _, ok := DefaultRules()[b.category][b.name]; !ok {
			t.Errorf("%s.%s 没有默认值", b.category, b.name)
		}
		seen++
	}

	total := 0
	for _, named := range DefaultRules() {
		total += len(named)
	}
	if seen != total {
		t.Errorf("bindings = %d, defaults = %d", seen, total)
	}
}

func TestRuleConfig_ToRule(t *testing.T) {
	tests := []struct {
		name    string
		rc      RuleConfig
		want    Rule
		wantErr bool
	}{
		{"秒", RuleConfig{Limit: 6, Window: "60s"}, Rule{Limit: 6, WindowSeconds: 60}, false},
		{"小时", RuleConfig{Limit: 100, Window: "1h"}, Rule{Limit: 100, WindowSeconds: 3600}, false},
		{"带空格", RuleConfig{Limit: 1, Window: " 2m "}, Rule{Limit: 1, WindowSeconds: 120}, false},
		{"负数阈值", RuleConfig{Limit: -1, Window: "1h"}, Rule{}, true},
		{"空窗口", RuleConfig{Limit: 1, Window: ""}, Rule{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.rc.ToRule()
			if (err != nil) != tt.wantErr {
				t.Fatalf("ToRule() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ToRule() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestGetConfigPath(t *testing.T) {
	// 绝对路径直接返回
	abs := filepath.Join(os.TempDir(), "quota.yaml")
	if got, err := GetConfigPath(abs); err != nil || got != abs {
		t.Errorf("GetConfigPath(%s) = %s, %v", abs, got, err)
	}

	// 当前目录下存在的相对路径
	dir := t.TempDir()
	wd, _ := os.Getwd()
	defer os.Chdir(wd)
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile("quota.yaml", []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}
	if got, err := GetConfigPath("quota.yaml"); err != nil || got != "quota.yaml" {
		t.Errorf("GetConfigPath(quota.yaml) = %s, %v", got, err)
	}

	// 不存在的文件
	if _, err := GetConfigPath("missing.yaml"); err == nil {
		t.Error("期望文件不存在错误")
	}
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	if err := validateConfig(config); err != nil {
		t.Errorf("默认配置应通过验证: %v", err)
	}
	if Duration(config.Redis.Connect.MaxInterval).Seconds() != 2 {
		t.Errorf("Connect.MaxInterval = %v, want 2s", config.Redis.Connect.MaxInterval)
	}
}
