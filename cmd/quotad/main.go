// Command quotad 配额服务示例：用配额策略保护一组数据库/AI双路径的接口
//
// 用法:
//
//	quotad serve --config quota.yaml
//	quotad validate --config quota.yaml
//	quotad rules --config quota.yaml
package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/Fischlvor/go-quota"
	"github.com/alecthomas/kong"
	"github.com/hashicorp/go-hclog"
	"github.com/joho/godotenv"
)

// CLI 命令行定义
type CLI struct {
	Serve    ServeCmd    `cmd:"" help:"Start the HTTP server."`
	Validate ValidateCmd `cmd:"" help:"Validate configuration file."`
	Rules    RulesCmd    `cmd:"" help:"Print the resolved rule plan of every action."`

	Config   string `short:"c" help:"Path to config file (empty = built-in defaults)." env:"QUOTA_CONFIG"`
	LogLevel string `help:"Log level (trace, debug, info, warn, error)." env:"QUOTA_LOG_LEVEL"`
}

// loadConfig 加载配置，命令行参数覆盖文件中的值
func (cli *CLI) loadConfig() (*quota.Config, error) {
	config := quota.DefaultConfig()
	if cli.Config != "" {
		configPath, err := quota.GetConfigPath(cli.Config)
		if err != nil {
			return nil, err
		}
		if config, err = quota.LoadConfig(configPath); err != nil {
			return nil, err
		}
	}

	if cli.LogLevel != "" {
		if hclog.LevelFromString(cli.LogLevel) == hclog.NoLevel {
			return nil, fmt.Errorf("无效的日志级别: %s", cli.LogLevel)
		}
		config.Log.Level = cli.LogLevel
	}
	return config, nil
}

func newLogger(config quota.LogConfig) hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{
		Name:       "quotad",
		Level:      hclog.LevelFromString(config.Level),
		JSONFormat: config.JSON,
		Output:     os.Stderr,
	})
}

// ValidateCmd 校验配置文件
type ValidateCmd struct{}

func (c *ValidateCmd) Run(cli *CLI) error {
	if _, err := cli.loadConfig(); err != nil {
		return err
	}
	fmt.Println("配置有效")
	return nil
}

// RulesCmd 打印每个动作解析后的规则组合
type RulesCmd struct{}

func (c *RulesCmd) Run(cli *CLI) error {
	config, err := cli.loadConfig()
	if err != nil {
		return err
	}
	registry, err := config.Registry()
	if err != nil {
		return err
	}
	// 只读取规则，不需要存储
	policy := quota.NewPolicy(quota.New(nil), registry)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ACTION\tSTAGE\tRULES")
	for _, action := range quota.Actions() {
		plan, _ := policy.Plan(action)
		stages := []struct {
			name  string
			rules []quota.NamedRule
		}{
			{"precheck", plan.PreCheck},
			{"attempt", plan.Attempt},
			{"db", plan.DB},
			{"ai", plan.AI},
		}
		for _, stage := range stages {
			if len(stage.rules) == 0 {
				continue
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n", action, stage.name, formatRules(stage.rules))
		}
	}
	return w.Flush()
}

func formatRules(rules []quota.NamedRule) string {
	parts := make([]string, 0, len(rules))
	for _, nr := range rules {
		parts = append(parts, fmt.Sprintf("%s(%d/%ds)", nr.Name, nr.Rule.Limit, nr.Rule.WindowSeconds))
	}
	return strings.Join(parts, " ")
}

func main() {
	// .env 不存在时忽略，已有的环境变量不会被覆盖
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "加载 .env 失败: %v\n", err)
		os.Exit(1)
	}

	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("quotad"),
		kong.Description("Multi-tier quota service backed by Redis."),
		kong.UsageOnError(),
	)
	ctx.FatalIfErrorf(ctx.Run(&cli))
}
