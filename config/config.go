package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	OSS      OSSConfig      `mapstructure:"oss"`
	Graph    GraphConfig    `mapstructure:"graph"`
	Analyzer AnalyzerConfig `mapstructure:"analyzer"`
	Analysis AnalysisConfig `mapstructure:"analysis"`
	Queue    QueueConfig    `mapstructure:"queue"`
	CORS     CORSConfig     `mapstructure:"cors"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"` // mysql, sqlite
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Username     string `mapstructure:"username"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	Path         string `mapstructure:"path"` // sqlite 文件路径
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type JWTConfig struct {
	Secret      string `mapstructure:"secret"`
	ExpireHours int    `mapstructure:"expire_hours"`
}

type OSSConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	AccessKeySecret string `mapstructure:"access_key_secret"`
	BucketName      string `mapstructure:"bucket_name"`
	CDNDomain       string `mapstructure:"cdn_domain"`
}

// GraphConfig 图存储配置
type GraphConfig struct {
	Driver string       `mapstructure:"driver"` // badger, neo4j
	Badger BadgerConfig `mapstructure:"badger"`
	Neo4j  Neo4jConfig  `mapstructure:"neo4j"`
}

type BadgerConfig struct {
	Path              string `mapstructure:"path"`
	InMemory          bool   `mapstructure:"in_memory"`
	SyncWrites        bool   `mapstructure:"sync_writes"`
	GCIntervalMinutes int    `mapstructure:"gc_interval_minutes"`
}

type Neo4jConfig struct {
	URI      string `mapstructure:"uri"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
}

// AnalyzerConfig 外部分析工具（MCP）配置
type AnalyzerConfig struct {
	Endpoint       string   `mapstructure:"endpoint"` // streamable HTTP 地址
	Command        string   `mapstructure:"command"`  // stdio 模式下的可执行文件
	Args           []string `mapstructure:"args"`
	ToolName       string   `mapstructure:"tool_name"`
	TimeoutSeconds int      `mapstructure:"timeout_seconds"`
}

// AnalysisConfig 分析任务编排配置
type AnalysisConfig struct {
	BatchSize              int    `mapstructure:"batch_size"`
	CooldownMinutes        int    `mapstructure:"cooldown_minutes"`
	MaxConsecutiveFailures int    `mapstructure:"max_consecutive_failures"`
	MaxBatches             int    `mapstructure:"max_batches"`
	EntityConcurrency      int    `mapstructure:"entity_concurrency"`
	Dispatch               string `mapstructure:"dispatch"` // inline, queue
	SnapshotDir            string `mapstructure:"snapshot_dir"`
	StaleJobMinutes        int    `mapstructure:"stale_job_minutes"`
}

type QueueConfig struct {
	AnalysisQueue string `mapstructure:"analysis_queue"`
	MaxWorkers    int    `mapstructure:"max_workers"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers"`
}

const (
	DefaultBatchSize              = 50
	DefaultCooldownMinutes        = 5
	DefaultMaxConsecutiveFailures = 3
	DefaultMaxBatches             = 1000
	DefaultEntityConcurrency      = 8
	DefaultToolTimeoutSeconds     = 300
	DefaultToolName               = "analyze_repository"
	DefaultAnalysisQueue          = "analysis_jobs"
	DefaultStaleJobMinutes        = 60
	DefaultSnapshotDir            = "./data/snapshots"
	DefaultBadgerGCMinutes        = 30
)

func Load(configPath string) (*Config, error) {
	// 优先尝试读取 config.local.yaml（包含真实密钥，不提交到git）
	dir := filepath.Dir(configPath)
	localConfigPath := filepath.Join(dir, "config.local.yaml")

	if _, err := os.Stat(localConfigPath); err == nil {
		configPath = localConfigPath
	}

	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	// 环境变量覆盖
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	cfg.ApplyDefaults()
	return &cfg, nil
}

// ApplyDefaults 填充未配置项的默认值
func (c *Config) ApplyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = "mysql"
	}
	if c.Graph.Driver == "" {
		c.Graph.Driver = "badger"
	}
	if c.Analyzer.ToolName == "" {
		c.Analyzer.ToolName = DefaultToolName
	}
	if c.Analyzer.TimeoutSeconds <= 0 {
		c.Analyzer.TimeoutSeconds = DefaultToolTimeoutSeconds
	}
	if c.Analysis.BatchSize <= 0 {
		c.Analysis.BatchSize = DefaultBatchSize
	}
	if c.Analysis.CooldownMinutes <= 0 {
		c.Analysis.CooldownMinutes = DefaultCooldownMinutes
	}
	if c.Analysis.MaxConsecutiveFailures <= 0 {
		c.Analysis.MaxConsecutiveFailures = DefaultMaxConsecutiveFailures
	}
	if c.Analysis.MaxBatches <= 0 {
		c.Analysis.MaxBatches = DefaultMaxBatches
	}
	if c.Analysis.EntityConcurrency <= 0 {
		c.Analysis.EntityConcurrency = DefaultEntityConcurrency
	}
	if c.Analysis.StaleJobMinutes <= 0 {
		c.Analysis.StaleJobMinutes = DefaultStaleJobMinutes
	}
	if c.Analysis.SnapshotDir == "" {
		c.Analysis.SnapshotDir = DefaultSnapshotDir
	}
	if c.Graph.Badger.GCIntervalMinutes <= 0 {
		c.Graph.Badger.GCIntervalMinutes = DefaultBadgerGCMinutes
	}
	if c.Analysis.Dispatch == "" {
		c.Analysis.Dispatch = "inline"
	}
	if c.Queue.AnalysisQueue == "" {
		c.Queue.AnalysisQueue = DefaultAnalysisQueue
	}
	if c.Queue.MaxWorkers <= 0 {
		c.Queue.MaxWorkers = 1
	}
}

// Cooldown 同一仓库两次分析之间的最短间隔
func (c AnalysisConfig) Cooldown() time.Duration {
	return time.Duration(c.CooldownMinutes) * time.Minute
}

// StaleAfter 进行中任务超过该时长未更新即视为中断
func (c AnalysisConfig) StaleAfter() time.Duration {
	return time.Duration(c.StaleJobMinutes) * time.Minute
}

// ToolTimeout 单次调用外部分析工具的超时时间
func (c AnalyzerConfig) ToolTimeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return DefaultToolTimeoutSeconds * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}
