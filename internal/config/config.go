// Package config loads runtime configuration from file and environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"sslmode"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

type QueueConfig struct {
	Backend   string `mapstructure:"backend"` // memory | redis
	RedisAddr string `mapstructure:"redis_addr"`
	RedisDB   int    `mapstructure:"redis_db"`
	Workers   int    `mapstructure:"workers"`
}

type ToolsConfig struct {
	Discovery      string        `mapstructure:"discovery"`
	Resolver       string        `mapstructure:"resolver"`
	Classifier     string        `mapstructure:"classifier"`
	URLEnumerator  string        `mapstructure:"url_enumerator"`
	PortScanner    string        `mapstructure:"port_scanner"`
	VulnScanner    string        `mapstructure:"vuln_scanner"`
	StageTimeout   time.Duration `mapstructure:"stage_timeout"`
	ProcessTimeout time.Duration `mapstructure:"process_timeout"`
}

type ClassifyConfig struct {
	ChunkSize int `mapstructure:"chunk_size"`
	Workers   int `mapstructure:"workers"`
}

type FetchConfig struct {
	Retries        int           `mapstructure:"retries"`
	RetryBackoff   time.Duration `mapstructure:"retry_backoff"`
	Timeout        time.Duration `mapstructure:"timeout"`
	FallbackURL    string        `mapstructure:"fallback_url"`
	FallbackMaxMS  int           `mapstructure:"fallback_max_ms"`
	ShellSizeLimit int           `mapstructure:"shell_size_limit"`
}

type SchedulerConfig struct {
	Interval  time.Duration `mapstructure:"interval"`
	BatchSize int           `mapstructure:"batch_size"`
}

type AnalysisConfig struct {
	SignatureFile string `mapstructure:"signature_file"`
}

type NotifyConfig struct {
	DiscordToken   string `mapstructure:"discord_token"`
	DiscordChannel string `mapstructure:"discord_channel"`
}

type Config struct {
	ListenAddr string          `mapstructure:"listen_addr"`
	LogLevel   string          `mapstructure:"log_level"`
	Database   DatabaseConfig  `mapstructure:"database"`
	Queue      QueueConfig     `mapstructure:"queue"`
	Tools      ToolsConfig     `mapstructure:"tools"`
	Classify   ClassifyConfig  `mapstructure:"classify"`
	Fetch      FetchConfig     `mapstructure:"fetch"`
	Scheduler  SchedulerConfig `mapstructure:"scheduler"`
	Analysis   AnalysisConfig  `mapstructure:"analysis"`
	Notify     NotifyConfig    `mapstructure:"notify"`
}

// Load reads configuration from the given path (or the default search
// paths when empty), layering RECONPIPE_* environment variables on top.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigName("reconpipe")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/reconpipe")
		v.AddConfigPath("$HOME/.reconpipe")
	}

	v.SetEnvPrefix("RECONPIPE")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// Missing config file is fine, defaults + env carry the load.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && configPath != "" {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("log_level", "info")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "reconpipe")
	v.SetDefault("database.password", "reconpipe")
	v.SetDefault("database.name", "reconpipe")
	v.SetDefault("database.sslmode", "disable")

	v.SetDefault("queue.backend", "memory")
	v.SetDefault("queue.redis_addr", "localhost:6379")
	v.SetDefault("queue.redis_db", 0)
	v.SetDefault("queue.workers", 8)

	v.SetDefault("tools.discovery", "subfinder")
	v.SetDefault("tools.resolver", "dnsx")
	v.SetDefault("tools.classifier", "cdncheck")
	v.SetDefault("tools.url_enumerator", "gau")
	v.SetDefault("tools.port_scanner", "nmap")
	v.SetDefault("tools.vuln_scanner", "nuclei")
	v.SetDefault("tools.stage_timeout", "10m")
	v.SetDefault("tools.process_timeout", "30m")

	v.SetDefault("classify.chunk_size", 100)
	v.SetDefault("classify.workers", 20)

	v.SetDefault("fetch.retries", 3)
	v.SetDefault("fetch.retry_backoff", "2s")
	v.SetDefault("fetch.timeout", "30s")
	v.SetDefault("fetch.fallback_url", "")
	v.SetDefault("fetch.fallback_max_ms", 60000)
	v.SetDefault("fetch.shell_size_limit", 16384)

	v.SetDefault("scheduler.interval", "5m")
	v.SetDefault("scheduler.batch_size", 50)

	v.SetDefault("analysis.signature_file", "config/signatures.yaml")
}

func validate(cfg *Config) error {
	switch cfg.Queue.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("invalid queue backend %q (want memory or redis)", cfg.Queue.Backend)
	}
	if cfg.Classify.ChunkSize < 1 {
		return fmt.Errorf("classify.chunk_size must be positive")
	}
	if cfg.Classify.Workers < 1 {
		return fmt.Errorf("classify.workers must be positive")
	}
	if cfg.Scheduler.BatchSize < 1 {
		return fmt.Errorf("scheduler.batch_size must be positive")
	}
	return nil
}
