package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration for the copilot-core service.
type Config struct {
	Logger    LoggerConfig    `mapstructure:"logger" yaml:"logger"`
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Database  DatabaseConfig  `mapstructure:"database" yaml:"database"`
	LLM       LLMRouterConfig `mapstructure:"llm" yaml:"llm"`
	Knowledge KnowledgeConfig `mapstructure:"knowledge" yaml:"knowledge"`
	Agent     AgentConfig     `mapstructure:"agent" yaml:"agent"`
}

// LoggerConfig controls the global zap logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr" yaml:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// DatabaseConfig selects and configures the backing store.
type DatabaseConfig struct {
	// Driver is "postgres" or "memory".
	Driver string `mapstructure:"driver" yaml:"driver"`
	URL    string `mapstructure:"url" yaml:"url"`
}

// LLMProvider defines the supported language model providers.
type LLMProvider string

const (
	// ProviderGemini talks to the Gemini REST API directly.
	ProviderGemini LLMProvider = "gemini"
	// ProviderGenAI uses the official google.golang.org/genai SDK.
	ProviderGenAI LLMProvider = "genai"
)

// LLMModelConfig defines the configuration for a single model.
type LLMModelConfig struct {
	Provider      LLMProvider       `mapstructure:"provider" yaml:"provider"`
	Model         string            `mapstructure:"model" yaml:"model"`
	APIKey        string            `mapstructure:"api_key" yaml:"api_key"`
	Endpoint      string            `mapstructure:"endpoint" yaml:"endpoint"`
	APITimeout    time.Duration     `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature   float32           `mapstructure:"temperature" yaml:"temperature"`
	TopP          float32           `mapstructure:"top_p" yaml:"top_p"`
	TopK          int               `mapstructure:"top_k" yaml:"top_k"`
	MaxTokens     int               `mapstructure:"max_tokens" yaml:"max_tokens"`
	SafetyFilters map[string]string `mapstructure:"safety_filters" yaml:"safety_filters"`
}

// LLMRouterConfig configures the tiered model routing.
type LLMRouterConfig struct {
	Fast     LLMModelConfig `mapstructure:"fast" yaml:"fast"`
	Powerful LLMModelConfig `mapstructure:"powerful" yaml:"powerful"`
	// RequestsPerSecond bounds outbound LLM traffic across both tiers.
	// Zero disables the limiter.
	RequestsPerSecond float64 `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	Burst             int     `mapstructure:"burst" yaml:"burst"`
}

// KnowledgeConfig points at the external retrieval service. An empty endpoint
// selects the static no-knowledge retriever.
type KnowledgeConfig struct {
	Endpoint string        `mapstructure:"endpoint" yaml:"endpoint"`
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// AgentConfig holds the task-execution policy knobs.
type AgentConfig struct {
	// MaxSteps is the hard ceiling on actions per task, guarding against
	// runaway loops when the agent never calls finish or fail.
	MaxSteps int `mapstructure:"max_steps" yaml:"max_steps"`
	// MaxRetriesPerStep bounds correction attempts for a single step.
	MaxRetriesPerStep int `mapstructure:"max_retries_per_step" yaml:"max_retries_per_step"`
	// MaxConsecutiveFailures bounds verification failures across any steps
	// without an intervening success.
	MaxConsecutiveFailures int `mapstructure:"max_consecutive_failures" yaml:"max_consecutive_failures"`
	// PlanningEnabled allows disabling the planning engine entirely, falling
	// back to pure LLM-driven single-step generation.
	PlanningEnabled bool `mapstructure:"planning_enabled" yaml:"planning_enabled"`
	// PredictionEnabled allows disabling outcome prediction (and therefore
	// verification and self-correction).
	PredictionEnabled bool `mapstructure:"prediction_enabled" yaml:"prediction_enabled"`
	// DOMPromptMaxChars truncates the snapshot rendered into prompts.
	DOMPromptMaxChars int `mapstructure:"dom_prompt_max_chars" yaml:"dom_prompt_max_chars"`
}

// SetDefaults initializes default values on the given viper instance.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.service_name", "copilot-core")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 28)

	// -- Server --
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 120*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	// -- Database --
	v.SetDefault("database.driver", "memory")

	// -- LLM --
	v.SetDefault("llm.fast.provider", string(ProviderGemini))
	v.SetDefault("llm.fast.model", "gemini-2.0-flash")
	v.SetDefault("llm.fast.api_timeout", 30*time.Second)
	v.SetDefault("llm.fast.temperature", 0.1)
	v.SetDefault("llm.fast.max_tokens", 2048)
	v.SetDefault("llm.powerful.provider", string(ProviderGemini))
	v.SetDefault("llm.powerful.model", "gemini-2.5-pro")
	v.SetDefault("llm.powerful.api_timeout", 60*time.Second)
	v.SetDefault("llm.powerful.temperature", 0.2)
	v.SetDefault("llm.powerful.max_tokens", 8192)
	v.SetDefault("llm.requests_per_second", 2.0)
	v.SetDefault("llm.burst", 4)

	// -- Knowledge --
	v.SetDefault("knowledge.timeout", 10*time.Second)

	// -- Agent --
	v.SetDefault("agent.max_steps", 50)
	v.SetDefault("agent.max_retries_per_step", 3)
	v.SetDefault("agent.max_consecutive_failures", 3)
	v.SetDefault("agent.planning_enabled", true)
	v.SetDefault("agent.prediction_enabled", true)
	v.SetDefault("agent.dom_prompt_max_chars", 30000)
}

// NewDefaultConfig creates a configuration struct populated with defaults.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// Cannot happen with static defaults, but fail fast if it does.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// Validate checks cross-field constraints the zero value cannot express.
func (c *Config) Validate() error {
	if c.Database.Driver != "memory" && c.Database.Driver != "postgres" {
		return fmt.Errorf("database.driver must be \"memory\" or \"postgres\", got %q", c.Database.Driver)
	}
	if c.Database.Driver == "postgres" && c.Database.URL == "" {
		return fmt.Errorf("database.url is required for the postgres driver")
	}
	if c.Agent.MaxSteps <= 0 {
		return fmt.Errorf("agent.max_steps must be positive, got %d", c.Agent.MaxSteps)
	}
	if c.Agent.MaxRetriesPerStep <= 0 {
		return fmt.Errorf("agent.max_retries_per_step must be positive, got %d", c.Agent.MaxRetriesPerStep)
	}
	if c.Agent.MaxConsecutiveFailures <= 0 {
		return fmt.Errorf("agent.max_consecutive_failures must be positive, got %d", c.Agent.MaxConsecutiveFailures)
	}
	for tier, m := range map[string]LLMModelConfig{"llm.fast": c.LLM.Fast, "llm.powerful": c.LLM.Powerful} {
		switch m.Provider {
		case ProviderGemini, ProviderGenAI:
		default:
			return fmt.Errorf("%s.provider %q is not supported", tier, m.Provider)
		}
	}
	return nil
}
