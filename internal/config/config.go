package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Provider selection modes for the LLM gateway.
const (
	ProviderLocal  = "local"
	ProviderOpenAI = "openai-compatible"
	ProviderHybrid = "hybrid"
)

// Config is the full orchestrator configuration. The schema is closed:
// unknown keys in the config file fail Load.
type Config struct {
	Server ServerConfig `mapstructure:"server"`
	LLM    LLMConfig    `mapstructure:"llm"`
	Search SearchConfig `mapstructure:"search"`
	Engine EngineConfig `mapstructure:"engine"`
	Store  StoreConfig  `mapstructure:"store"`
	CORS   CORSConfig   `mapstructure:"cors"`
	Log    LogConfig    `mapstructure:"log"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

type LLMConfig struct {
	Provider         string            `mapstructure:"provider"`
	Endpoints        map[string]string `mapstructure:"endpoints"`
	Model            string            `mapstructure:"model"`
	APIKey           string            `mapstructure:"api_key"`
	PerStage         map[string]string `mapstructure:"per_stage"`
	RequestTimeoutMS int               `mapstructure:"request_timeout_ms"`
	StreamEnabled    bool              `mapstructure:"stream_enabled"`
}

// RequestTimeout returns the per-request timeout as a duration.
func (c LLMConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMS) * time.Millisecond
}

type SearchConfig struct {
	APIKey     string `mapstructure:"api_key"`
	Endpoint   string `mapstructure:"endpoint"`
	MaxResults int    `mapstructure:"max_results"`
}

type EngineConfig struct {
	MaxIterations     int `mapstructure:"max_iterations"`
	SlotTimeoutMS     int `mapstructure:"slot_timeout_ms"`
	ContentTruncation int `mapstructure:"content_truncation"`
}

// SlotTimeout returns the per-researcher budget as a duration.
func (c EngineConfig) SlotTimeout() time.Duration {
	return time.Duration(c.SlotTimeoutMS) * time.Millisecond
}

type StoreConfig struct {
	URL string `mapstructure:"url"`
}

type CORSConfig struct {
	Origins []string `mapstructure:"origins"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// knownKeys is the closed set of recognised configuration keys. Map-valued
// keys (llm.endpoints.*, llm.per_stage.*) are matched by prefix.
var knownKeys = []string{
	"server.addr",
	"llm.provider",
	"llm.endpoints",
	"llm.model",
	"llm.api_key",
	"llm.per_stage",
	"llm.request_timeout_ms",
	"llm.stream_enabled",
	"search.api_key",
	"search.endpoint",
	"search.max_results",
	"engine.max_iterations",
	"engine.slot_timeout_ms",
	"engine.content_truncation",
	"store.url",
	"cors.origins",
	"log.level",
}

var llmStages = map[string]bool{
	"summarization": true,
	"research":      true,
	"compression":   true,
	"final_report":  true,
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("llm.provider", ProviderLocal)
	v.SetDefault("llm.endpoints", map[string]string{"local": "http://localhost:11434"})
	v.SetDefault("llm.model", "")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.request_timeout_ms", 300_000)
	v.SetDefault("llm.stream_enabled", false)
	v.SetDefault("search.api_key", "")
	v.SetDefault("search.endpoint", "https://api.tavily.com/search")
	v.SetDefault("search.max_results", 5)
	v.SetDefault("engine.max_iterations", 6)
	v.SetDefault("engine.slot_timeout_ms", 120_000)
	v.SetDefault("engine.content_truncation", 500)
	v.SetDefault("store.url", "file:deepresearch.db")
	v.SetDefault("cors.origins", []string{"*"})
	v.SetDefault("log.level", "info")
}

// Load reads the config file at path (optional; defaults apply without one),
// applies DEEPRESEARCH_* environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("DEEPRESEARCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := rejectUnknownKeys(v); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func rejectUnknownKeys(v *viper.Viper) error {
	var unknown []string
	for _, key := range v.AllKeys() {
		if !keyKnown(key) {
			unknown = append(unknown, key)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return fmt.Errorf("unknown config keys: %s", strings.Join(unknown, ", "))
	}
	return nil
}

func keyKnown(key string) bool {
	for _, k := range knownKeys {
		if key == k {
			return true
		}
		// endpoints and per_stage are open maps under a known prefix
		if (k == "llm.endpoints" || k == "llm.per_stage") && strings.HasPrefix(key, k+".") {
			return true
		}
	}
	return false
}

// Validate checks enumerated values and ranges.
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case ProviderLocal, ProviderOpenAI, ProviderHybrid:
	default:
		return fmt.Errorf("llm.provider must be one of local, openai-compatible, hybrid; got %q", c.LLM.Provider)
	}
	if len(c.LLM.Endpoints) == 0 {
		return fmt.Errorf("llm.endpoints must configure at least one provider URL")
	}
	for stage, provider := range c.LLM.PerStage {
		if !llmStages[stage] {
			return fmt.Errorf("llm.per_stage: unknown stage %q", stage)
		}
		if _, ok := c.LLM.Endpoints[provider]; !ok {
			return fmt.Errorf("llm.per_stage: stage %q routed to unconfigured endpoint %q", stage, provider)
		}
	}
	if c.LLM.RequestTimeoutMS <= 0 {
		return fmt.Errorf("llm.request_timeout_ms must be positive")
	}
	if c.Search.MaxResults <= 0 {
		return fmt.Errorf("search.max_results must be positive")
	}
	if c.Engine.MaxIterations <= 0 {
		return fmt.Errorf("engine.max_iterations must be positive")
	}
	if c.Engine.SlotTimeoutMS <= 0 {
		return fmt.Errorf("engine.slot_timeout_ms must be positive")
	}
	if c.Engine.ContentTruncation <= 0 {
		return fmt.Errorf("engine.content_truncation must be positive")
	}
	if c.Store.URL == "" {
		return fmt.Errorf("store.url is required")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error; got %q", c.Log.Level)
	}
	return nil
}
