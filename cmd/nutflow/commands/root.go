package commands

import (
	"context"
	"fmt"

	"nutflow/pkg/app"
	"nutflow/pkg/config"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	// 全局应用实例，供子命令使用
	NF *app.App
)

var rootCmd = &cobra.Command{
	Use:   "nutflow",
	Short: "nutflow: content pipeline for static resources",
	Long: `nutflow resolves resources from disk or object storage into heaps,
runs them through cache / compress / aggregate workflows and serves the result.`,
	SilenceUsage: true,
	// 【关键】PersistentPreRunE 会在所有子命令执行前运行
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if NF != nil {
			// 测试里预先注入
			return nil
		}
		used, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		cfg, err := config.Decode()
		if err != nil {
			return err
		}
		a := app.New(cfg)
		if err := a.Init(cmd.Context()); err != nil {
			return fmt.Errorf("failed to initialize nutflow: %w", err)
		}
		if used == "" {
			fmt.Fprintln(cmd.ErrOrStderr(), "⚠️  No config file found, running with defaults")
		}
		NF = a
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if NF == nil {
			return nil
		}
		err := NF.Shutdown(context.Background())
		NF = nil
		return err
	},
}

// Execute 是入口
func Execute() error {
	return rootCmd.ExecuteContext(context.Background())
}

func init() {
	// 1. 定义全局参数 --config
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./nutflow.yaml or $HOME/.nutflow/nutflow.yaml)")

	// 2. 日志级别也可以用 --log-level 覆盖
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	cobra.CheckErr(viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level")))
}
