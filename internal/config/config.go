package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Port       int              `mapstructure:"port"`
	LogConfig  LogConfig        `mapstructure:"log_config"`
	OpenAI     OpenAIConfig     `mapstructure:"openai"`
	Generation GenerationConfig `mapstructure:"generation"`
	FineTune   FineTuneConfig   `mapstructure:"fine_tune"`
	Dataset    DatasetConfig    `mapstructure:"dataset"`
	Archive    ArchiveConfig    `mapstructure:"archive"`
	CORS       CORSConfig       `mapstructure:"cors"`
}

type LogConfig struct {
	Level    string `mapstructure:"level"`
	Console  bool   `mapstructure:"console"`
	Colorize bool   `mapstructure:"colorize"`
	File     string `mapstructure:"file"`
	// rotation, only used when File is set
	MaxSizeMB  int `mapstructure:"max_size_mb"`
	MaxBackups int `mapstructure:"max_backups"`
	KeepDays   int `mapstructure:"keep_days"`
}

type OpenAIConfig struct {
	APIKey       string `mapstructure:"api_key"`
	BaseURL      string `mapstructure:"base_url"`
	Organization string `mapstructure:"organization"`
	Timeout      int    `mapstructure:"timeout"`
}

// GeneratorConfig selects one streaming provider. Data is handed to the
// provider factory as is.
type GeneratorConfig struct {
	Name     string                 `mapstructure:"name"`
	Provider string                 `mapstructure:"provider"`
	Model    string                 `mapstructure:"model"`
	Data     map[string]interface{} `mapstructure:"data"`
}

type GenerationConfig struct {
	Providers  []GeneratorConfig `mapstructure:"providers"`
	MaxCount   int               `mapstructure:"max_count"`
	DebugBatch int               `mapstructure:"debug_batch"`
	MaxDepth   int               `mapstructure:"max_depth"`
	Timeout    int               `mapstructure:"timeout"`
}

type WatchConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Spec    string `mapstructure:"spec"`
	Limit   int    `mapstructure:"limit"`
}

type FineTuneConfig struct {
	SupportedModels []string    `mapstructure:"supported_models"`
	Watch           WatchConfig `mapstructure:"watch"`
}

type DatasetConfig struct {
	MinSelection    int   `mapstructure:"min_selection"`
	DraftTTLMinutes int   `mapstructure:"draft_ttl_minutes"`
	MaxDrafts       int   `mapstructure:"max_drafts"`
	MaxUploadSize   int64 `mapstructure:"max_upload_size"`
}

// ArchiveConfig keeps a copy of every uploaded corpus. An empty Type
// disables archiving.
type ArchiveConfig struct {
	Type string                 `mapstructure:"type"`
	Data map[string]interface{} `mapstructure:"data"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

const (
	DefaultGenerationModel = "gpt-4o-2024-08-06"
	defaultWatchSpec       = "@every 30s"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", 8080)
	v.SetDefault("log_config.level", "info")
	v.SetDefault("log_config.console", true)
	v.SetDefault("log_config.colorize", false)
	v.SetDefault("log_config.max_size_mb", 100)
	v.SetDefault("log_config.max_backups", 7)
	v.SetDefault("log_config.keep_days", 30)
	v.SetDefault("openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("openai.timeout", 60)
	v.SetDefault("generation.max_count", 100)
	v.SetDefault("generation.debug_batch", 5)
	v.SetDefault("generation.max_depth", 1)
	v.SetDefault("generation.timeout", 300)
	v.SetDefault("fine_tune.supported_models", []string{"gpt-4o-mini-2024-07-18", "gpt-4o-2024-08-06"})
	v.SetDefault("fine_tune.watch.enabled", false)
	v.SetDefault("fine_tune.watch.spec", defaultWatchSpec)
	v.SetDefault("fine_tune.watch.limit", 20)
	v.SetDefault("dataset.min_selection", 10)
	v.SetDefault("dataset.draft_ttl_minutes", 120)
	v.SetDefault("dataset.max_drafts", 1000)
	v.SetDefault("dataset.max_upload_size", 16<<20)
}

// Load reads the config file (json, yaml or toml by extension) plus the
// environment. An empty path looks for config.* in ./configs and the working
// directory and tolerates its absence.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}
	v.SetEnvPrefix("tuneforge")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	_ = v.BindEnv("openai.api_key", "OPENAI_API_KEY")
	_ = v.BindEnv("openai.base_url", "OPENAI_BASE_URL")
	_ = v.BindEnv("openai.organization", "OPENAI_ORGANIZATION")
	_ = v.BindEnv("port", "TUNEFORGE_PORT")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}
	c.LogConfig.Level = strings.ToLower(strings.TrimSpace(c.LogConfig.Level))
	if c.LogConfig.Level == "" {
		c.LogConfig.Level = "info"
	}
	if len(c.Generation.Providers) == 0 {
		c.Generation.Providers = []GeneratorConfig{{Name: "openai", Provider: "openai", Model: DefaultGenerationModel}}
	}
	for i := range c.Generation.Providers {
		p := &c.Generation.Providers[i]
		p.Provider = strings.ToLower(strings.TrimSpace(p.Provider))
		if p.Provider == "" {
			return fmt.Errorf("generation.providers[%d].provider is required", i)
		}
		if p.Name == "" {
			p.Name = p.Provider
		}
		if strings.TrimSpace(p.Model) == "" {
			return fmt.Errorf("generation.providers[%d].model is required", i)
		}
		if p.Data == nil && p.Provider == "openai" {
			p.Data = c.OpenAI.ProviderData()
		}
	}
	if c.Generation.MaxCount <= 0 {
		return fmt.Errorf("generation.max_count must be positive")
	}
	if c.FineTune.Watch.Spec == "" {
		c.FineTune.Watch.Spec = defaultWatchSpec
	}
	if c.Dataset.MinSelection <= 0 {
		c.Dataset.MinSelection = 10
	}
	c.Archive.Type = strings.ToLower(strings.TrimSpace(c.Archive.Type))
	switch c.Archive.Type {
	case "":
	case "local":
		if dir, _ := c.Archive.Data["dir"].(string); dir == "" {
			return fmt.Errorf("archive.data.dir is required for local archive")
		}
	case "s3":
		for _, key := range []string{"endpoint", "bucket", "secret_id", "secret_key"} {
			if val, _ := c.Archive.Data[key].(string); val == "" {
				return fmt.Errorf("archive.data.%s is required for s3 archive", key)
			}
		}
	default:
		return fmt.Errorf("archive.type must be local or s3")
	}
	return nil
}

// ProviderData renders the OpenAI section in the shape the provider
// factories decode.
func (o OpenAIConfig) ProviderData() map[string]interface{} {
	return map[string]interface{}{
		"api_key":      o.APIKey,
		"base_url":     o.BaseURL,
		"organization": o.Organization,
		"timeout":      o.Timeout,
	}
}
