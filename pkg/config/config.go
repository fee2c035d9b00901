package config

import "time"

// Config 是配置文件的内存形式
// 核心包 (heap / engine / pipeline) 不读 viper，只接收由它转换出来的结构
type Config struct {
	Defaults  Defaults         `mapstructure:"defaults"`
	Providers []ProviderConfig `mapstructure:"providers"`
	Heaps     []HeapConfig     `mapstructure:"heaps"`
	Workflows []WorkflowConfig `mapstructure:"workflows"`
	Cache     CacheConfig      `mapstructure:"cache"`
	Server    ServerConfig     `mapstructure:"server"`
	Log       LogConfig        `mapstructure:"log"`
}

type Defaults struct {
	// PollingInterval 单位秒，Heap 没有单独设置时使用；0 表示不轮询
	PollingInterval int           `mapstructure:"polling_interval"`
	CacheEnabled    bool          `mapstructure:"cache_enabled"`
	ProviderTimeout time.Duration `mapstructure:"provider_timeout"`
	Concurrency     int           `mapstructure:"concurrency"`
}

type ProviderConfig struct {
	ID       string            `mapstructure:"id"`
	Type     string            `mapstructure:"type"` // disk / s3 / gcs / memory
	Settings map[string]string `mapstructure:"settings"`

	Timeout   time.Duration `mapstructure:"timeout"`    // 0 时使用 defaults.provider_timeout
	RateLimit float64       `mapstructure:"rate_limit"` // 每秒调用数，0 表示不限制
	Burst     int           `mapstructure:"burst"`
}

type HeapConfig struct {
	ID       string   `mapstructure:"id"`
	Provider string   `mapstructure:"provider"`
	Paths    []string `mapstructure:"paths"`
	Exclude  []string `mapstructure:"exclude"`

	// PollingInterval 单位秒；未设置时继承 defaults.polling_interval
	PollingInterval *int     `mapstructure:"polling_interval"`
	Versioning      string   `mapstructure:"versioning"` // modtime / content
	Compose         []string `mapstructure:"compose"`
}

// Interval 返回生效的轮询间隔
func (h HeapConfig) Interval(d Defaults) time.Duration {
	secs := d.PollingInterval
	if h.PollingInterval != nil {
		secs = *h.PollingInterval
	}
	return time.Duration(secs) * time.Second
}

type TransformerConfig struct {
	Name   string            `mapstructure:"name"`
	Params map[string]string `mapstructure:"params"`
}

type WorkflowConfig struct {
	ID           string              `mapstructure:"id"`
	Heap         string              `mapstructure:"heap"`
	Stages       []string            `mapstructure:"stages"`
	Compressor   TransformerConfig   `mapstructure:"compressor"`
	Output       string              `mapstructure:"output"`
	Transformers []TransformerConfig `mapstructure:"transformers"`
	Charset      string              `mapstructure:"charset"`
	ProxyURI     string              `mapstructure:"proxy_uri"`
}

type CacheConfig struct {
	Type string        `mapstructure:"type"` // memory / redis / sql
	TTL  time.Duration `mapstructure:"ttl"`

	Redis struct {
		URL string `mapstructure:"url"`
	} `mapstructure:"redis"`

	SQL struct {
		Driver string `mapstructure:"driver"` // postgres / sqlite
		DSN    string `mapstructure:"dsn"`
	} `mapstructure:"sql"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	GRPCAddr        string        `mapstructure:"grpc_addr"` // 为空时不启动 gRPC
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug / info / warn / error
	Format string `mapstructure:"format"` // text / json
}
