package surveygen

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config stores all settings of the application. Values are read by viper
// from environment variables (SURVEYGEN_ prefix) with defaults below; the
// API key additionally honors the conventional GEMINI_API_KEY.
type Config struct {
	APIKey          string        `mapstructure:"api_key"`
	Model           string        `mapstructure:"model"`
	CacheDir        string        `mapstructure:"cache_dir"`
	OutputDir       string        `mapstructure:"output_dir"`
	ExamplesDir     string        `mapstructure:"examples_dir"`
	DefaultPagesDir string        `mapstructure:"default_pages_dir"`
	Concurrency     int           `mapstructure:"concurrency"`
	CallTimeout     time.Duration `mapstructure:"call_timeout"`
}

// LoadConfig builds the configuration from environment variables over
// defaults.
func LoadConfig() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SURVEYGEN")
	v.AutomaticEnv()

	v.SetDefault("model", "gemini-2.5-flash")
	v.SetDefault("cache_dir", "cache")
	v.SetDefault("output_dir", "output")
	v.SetDefault("examples_dir", "examples")
	v.SetDefault("default_pages_dir", "default_pages")
	v.SetDefault("concurrency", 4)
	v.SetDefault("call_timeout", 5*time.Minute)

	if err := v.BindEnv("api_key", "SURVEYGEN_API_KEY", "GEMINI_API_KEY"); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Validate checks the setup-level preconditions the batch driver fails fast
// on.
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return ErrMissingAPIKey
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1, got %d", c.Concurrency)
	}
	return nil
}
