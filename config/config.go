package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	OSS      OSSConfig      `mapstructure:"oss"`
	OAuth    OAuthConfig    `mapstructure:"oauth"`
	Email    EmailConfig    `mapstructure:"email"`
	Queue    QueueConfig    `mapstructure:"queue"`
	CORS     CORSConfig     `mapstructure:"cors"`
	Credits  CreditsConfig  `mapstructure:"credits"`
	Models   []ModelConfig  `mapstructure:"models"`
	Upload   UploadConfig   `mapstructure:"upload"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

type DatabaseConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Username     string `mapstructure:"username"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
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

type OAuthConfig struct {
	Github GithubOAuthConfig `mapstructure:"github"`
}

type GithubOAuthConfig struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	RedirectURI  string `mapstructure:"redirect_uri"`
}

type EmailConfig struct {
	SMTPHost string `mapstructure:"smtp_host"`
	SMTPPort int    `mapstructure:"smtp_port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
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

// CreditsConfig 积分配置：每日赠送额度与各类分析的消耗
type CreditsConfig struct {
	DailyGrant int            `mapstructure:"daily_grant"`
	Costs      map[string]int `mapstructure:"costs"` // analysis_type -> 积分消耗
}

type ModelConfig struct {
	Name        string `mapstructure:"name"`
	DisplayName string `mapstructure:"display_name"`
	APIKey      string `mapstructure:"api_key"`
	APIBase     string `mapstructure:"api_base"`
	Description string `mapstructure:"description"`
}

type UploadConfig struct {
	MaxSize           int64    `mapstructure:"max_size"`           // 最大文件大小（字节）
	TempDir           string   `mapstructure:"temp_dir"`           // 临时目录
	ExpireHours       int      `mapstructure:"expire_hours"`       // 过期时间（小时）
	AllowedExtensions []string `mapstructure:"allowed_extensions"` // 允许的扩展名
}

// PipelineConfig 流水线配置：外部工具、参考基因组、统计阈值、重试策略
type PipelineConfig struct {
	WorkDir     string                    `mapstructure:"work_dir"`
	Tools       ToolsConfig               `mapstructure:"tools"`
	Organisms   map[string]OrganismConfig `mapstructure:"organisms"`
	Trimming    TrimmingConfig            `mapstructure:"trimming"`
	Stats       StatsConfig               `mapstructure:"stats"`
	SingleCell  SingleCellConfig          `mapstructure:"single_cell"`
	PathwayDBs  []PathwayDBConfig         `mapstructure:"pathway_dbs"`
	Signatures  map[string][]string       `mapstructure:"signatures"`
	Retry       RetryConfig               `mapstructure:"retry"`
	ToolTimeout int                       `mapstructure:"tool_timeout"` // 单次工具调用超时（秒）
}

type ToolsConfig struct {
	Fastp         string `mapstructure:"fastp"`
	Hisat2        string `mapstructure:"hisat2"`
	FeatureCounts string `mapstructure:"featurecounts"`
	Threads       int    `mapstructure:"threads"`
}

// OrganismConfig 物种对应的参考基因组配置
type OrganismConfig struct {
	References       []string `mapstructure:"references"`
	DefaultReference string   `mapstructure:"default_reference"`
	IndexDir         string   `mapstructure:"index_dir"`
	AnnotationGTF    string   `mapstructure:"annotation_gtf"`
}

type TrimmingConfig struct {
	LeadingQuality  int `mapstructure:"leading_quality"`
	TrailingQuality int `mapstructure:"trailing_quality"`
	WindowSize      int `mapstructure:"window_size"`
	WindowQuality   int `mapstructure:"window_quality"`
	MinLength       int `mapstructure:"min_length"`
}

type StatsConfig struct {
	FDRThreshold      float64 `mapstructure:"fdr_threshold"`
	Log2FCThreshold   float64 `mapstructure:"log2fc_threshold"`
	PathwayFDR        float64 `mapstructure:"pathway_fdr"`
	MinMeanExpression float64 `mapstructure:"min_mean_expression"`
	TopPathways       int     `mapstructure:"top_pathways"`
	RandomSeed        int64   `mapstructure:"random_seed"`
	// OnSingleCondition 只有单一实验条件时的处理方式：ask（暂停等待用户确认）或 bisect（按顺序对半拆分）
	OnSingleCondition string `mapstructure:"on_single_condition"`
}

type SingleCellConfig struct {
	MinGenesPerCell  int     `mapstructure:"min_genes_per_cell"`
	MinCountsPerCell float64 `mapstructure:"min_counts_per_cell"`
	MaxMitoPercent   float64 `mapstructure:"max_mito_percent"`
	TopHVGs          int     `mapstructure:"top_hvgs"`
	Neighbors        int     `mapstructure:"neighbors"`
	Resolution       float64 `mapstructure:"resolution"`
}

// PathwayDBConfig 通路数据库：GMT 基因集文件
type PathwayDBConfig struct {
	Name string `mapstructure:"name"`
	Path string `mapstructure:"path"`
}

type RetryConfig struct {
	MaxRetries     int    `mapstructure:"max_retries"`
	BackoffSeconds int    `mapstructure:"backoff_seconds"`
	BackoffMode    string `mapstructure:"backoff_mode"` // fixed 或 exponential
}

func Load(configPath string) (*Config, error) {
	// 优先尝试读取 config.local.yaml（包含真实密钥，不提交到git）
	dir := filepath.Dir(configPath)
	localConfigPath := filepath.Join(dir, "config.local.yaml")

	// 检查 config.local.yaml 是否存在
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

	cfg.applyPipelineDefaults()

	return &cfg, nil
}

// applyPipelineDefaults 填充流水线参数默认值
func (c *Config) applyPipelineDefaults() {
	p := &c.Pipeline
	if p.ToolTimeout <= 0 {
		p.ToolTimeout = 3600
	}
	if p.Tools.Threads <= 0 {
		p.Tools.Threads = 4
	}
	if p.Trimming.WindowSize <= 0 {
		p.Trimming.WindowSize = 4
	}
	if p.Trimming.WindowQuality <= 0 {
		p.Trimming.WindowQuality = 15
	}
	if p.Trimming.MinLength <= 0 {
		p.Trimming.MinLength = 20
	}
	if p.Stats.FDRThreshold <= 0 {
		p.Stats.FDRThreshold = 0.05
	}
	if p.Stats.Log2FCThreshold <= 0 {
		p.Stats.Log2FCThreshold = 1.0
	}
	if p.Stats.PathwayFDR <= 0 {
		p.Stats.PathwayFDR = 0.1
	}
	if p.Stats.MinMeanExpression <= 0 {
		p.Stats.MinMeanExpression = 1.0
	}
	if p.Stats.TopPathways <= 0 {
		p.Stats.TopPathways = 10
	}
	if p.Stats.RandomSeed == 0 {
		p.Stats.RandomSeed = 42
	}
	if p.Stats.OnSingleCondition == "" {
		p.Stats.OnSingleCondition = "ask"
	}
	if p.SingleCell.MinGenesPerCell <= 0 {
		p.SingleCell.MinGenesPerCell = 200
	}
	if p.SingleCell.MinCountsPerCell <= 0 {
		p.SingleCell.MinCountsPerCell = 500
	}
	if p.SingleCell.MaxMitoPercent <= 0 {
		p.SingleCell.MaxMitoPercent = 20
	}
	if p.SingleCell.TopHVGs <= 0 {
		p.SingleCell.TopHVGs = 2000
	}
	if p.SingleCell.Neighbors <= 0 {
		p.SingleCell.Neighbors = 15
	}
	if p.SingleCell.Resolution <= 0 {
		p.SingleCell.Resolution = 0.5
	}
	if p.Retry.MaxRetries == 0 {
		p.Retry.MaxRetries = 1
	} else if p.Retry.MaxRetries < 0 {
		p.Retry.MaxRetries = 0
	}
	if p.Retry.BackoffSeconds <= 0 {
		p.Retry.BackoffSeconds = 5
	}
	if p.Retry.BackoffMode == "" {
		p.Retry.BackoffMode = "exponential"
	}
}

// OrganismFor 返回指定物种的参考配置，未配置的物种返回错误
func (c *Config) OrganismFor(organism string) (*OrganismConfig, error) {
	org, ok := c.Pipeline.Organisms[organism]
	if !ok {
		return nil, fmt.Errorf("不支持的物种: %s", organism)
	}
	return &org, nil
}

// ValidateReference 校验物种与参考基因组组合是否在已知集合内
func (c *Config) ValidateReference(organism, reference string) error {
	org, err := c.OrganismFor(organism)
	if err != nil {
		return err
	}
	if reference == "" {
		return nil // 使用默认参考
	}
	for _, r := range org.References {
		if r == reference {
			return nil
		}
	}
	return fmt.Errorf("物种 %s 不支持参考基因组 %s", organism, reference)
}

// ModelFor 按名称查找 LLM 模型配置
func (c *Config) ModelFor(name string) (*ModelConfig, bool) {
	for i := range c.Models {
		if c.Models[i].Name == name {
			return &c.Models[i], true
		}
	}
	return nil, false
}
