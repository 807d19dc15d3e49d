// xiezhi 安全动作治理核心的命令行入口：校验授权边界、评估风险、提交审批并核验审计链。
package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	_ "time/tzdata"

	"github.com/spf13/cobra"

	"xiezhi/internal/config"
)

var (
	cfgFile   string
	envFile   string
	verbose   bool
	output    string
	logFormat string
)

var rootCmd = &cobra.Command{
	Use:   "xiezhi",
	Short: "Security action governance core",
	Long: `xiezhi gates offensive-security actions before they reach a tool executor.

An action must pass the three-layer scope check (structural, deterministic,
network) and then be approved, automatically when its risk is at or below the
configured floor or by a qualified human otherwise. Every verdict and decision
is appended to a hash-chained audit trail.

Commands:
  validate   Check an action against the engagement scope
  assess     Score an action's risk
  submit     Validate, assess and await approval for an action
  audit      Verify the audit chain and anchored proofs
  config     Validate configuration`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $XIEZHI_CONFIG or ./config.yaml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before config; missing file is ignored")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "text", "output format (text, json)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format on stderr (text, json)")
}

// exitError 携带退出码；2 表示动作被拒绝或审计链损坏，1 为运行错误。
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }

func main() {
	if err := rootCmd.Execute(); err != nil {
		code := 1
		if ee, ok := err.(*exitError); ok {
			code = ee.code
		}
		if err.Error() != "" {
			fmt.Fprintf(os.Stderr, "[xiezhi] %v\n", err)
		}
		os.Exit(code)
	}
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(logFormat, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// loadConfig .env 先于 YAML 加载，覆盖敏感项；路径取 --config、XIEZHI_CONFIG、./config.yaml，最后回退 config.example.yaml。
func loadConfig() (*config.Config, string, error) {
	if envFile != "" {
		if err := config.LoadEnvFile(envFile, true); err == nil {
			fmt.Fprintf(os.Stderr, "[xiezhi] 配置: %s 已加载\n", envFile)
		}
	}
	path := cfgFile
	if path == "" {
		path = os.Getenv("XIEZHI_CONFIG")
	}
	if path == "" {
		path = "config.yaml"
		if _, err := os.Stat(path); err != nil {
			path = "config.example.yaml"
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, fmt.Errorf("config load: %w", err)
	}
	abs, _ := filepath.Abs(path)
	fmt.Fprintf(os.Stderr, "[xiezhi] 配置: YAML=%s\n", abs)
	return cfg, path, nil
}
