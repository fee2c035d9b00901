// Package config 负责读取和校验配置
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"nutflow/pkg/errs"

	"github.com/spf13/viper"
	"github.com/tidwall/jsonc"
)

// Load 初始化 Viper 配置
// cfgFile: 可选，用户显式指定的配置文件路径
// 返回实际使用的配置文件，没有找到时为空
func Load(cfgFile string) (string, error) {
	// 1. 设置默认值 (Defaults)
	setDefaults()

	// 2. 读取环境变量 (NUTFLOW_SERVER_ADDR 等)
	viper.SetEnvPrefix("NUTFLOW")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// 3. JSONC 需要先去掉注释，再交给 viper 按 JSON 解析
	if strings.EqualFold(filepath.Ext(cfgFile), ".jsonc") {
		raw, err := os.ReadFile(cfgFile)
		if err != nil {
			return "", errs.Configuration(cfgFile, err)
		}
		viper.SetConfigType("json")
		if err := viper.ReadConfig(bytes.NewReader(jsonc.ToJSON(raw))); err != nil {
			return "", errs.Configuration(cfgFile, fmt.Errorf("fatal error config file: %w", err))
		}
		return cfgFile, nil
	}

	// 4. 配置搜索路径
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		// 搜索顺序：当前目录 → ./.nutflow → ~/.nutflow
		viper.AddConfigPath(".")
		viper.AddConfigPath(".nutflow")
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(filepath.Join(home, ".nutflow"))
		}
		viper.SetConfigType("yaml")
		viper.SetConfigName("nutflow") // 找 nutflow.yaml
	}

	// 5. 读取配置文件
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			// 只有环境变量和默认值也可以运行
			return "", nil
		}
		return "", errs.Configuration(cfgFile, fmt.Errorf("fatal error config file: %w", err))
	}
	return viper.ConfigFileUsed(), nil
}

func setDefaults() {
	viper.SetDefault("defaults.polling_interval", 0)
	viper.SetDefault("defaults.cache_enabled", true)
	viper.SetDefault("defaults.provider_timeout", "10s")
	viper.SetDefault("defaults.concurrency", 8)

	viper.SetDefault("cache.type", "memory")
	viper.SetDefault("cache.sql.driver", "sqlite")

	viper.SetDefault("server.addr", ":8080")
	viper.SetDefault("server.grpc_addr", "")
	viper.SetDefault("server.shutdown_timeout", "10s")

	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "text")
}

// Decode 把 viper 中的配置解码成 Config 并校验
func Decode() (*Config, error) {
	var c Config
	if err := viper.Unmarshal(&c); err != nil {
		return nil, errs.Configuration("config", fmt.Errorf("unable to decode config: %w", err))
	}
	if err := Validate(&c); err != nil {
		return nil, err
	}
	return &c, nil
}
