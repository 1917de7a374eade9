package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

const (
	DefaultGatewayURL          = "http://localhost:8080"
	DefaultGatewayTimeoutMs    = 60000
	DefaultInferenceHealthURL  = "http://localhost:5050/health"
	DefaultHealthTimeoutMs     = 3000
	DefaultHealthSchedule      = "@every 30s"
	DefaultStartupTimeoutMs    = 60000
	DefaultStartupInitialMs    = 250
	DefaultStartupMaxMs        = 5000
	DefaultSettleDelayMs       = 2000
	DefaultChatModel           = "dolphin-mistral"
	DefaultChatMemoryLimit     = 5
	DefaultLogLevel            = "info"
	DefaultLogMaxSizeMb        = 10
	DefaultLogMaxBackups       = 3
	ServiceInference           = "inference"
	ServiceGateway             = "gateway"
	configFileName             = "config.json"
	envFileName                = ".env"
	defaultConfigDirName       = ".companion"
	defaultDataDirName         = "data"
	defaultInferenceScriptPath = "app.py"
)

type Config struct {
	DataRoot  string          `json:"dataRoot" env:"COMPANION_DATA_ROOT"`
	Gateway   GatewayConfig   `json:"gateway"`
	Inference InferenceConfig `json:"inference"`
	Health    HealthConfig    `json:"health"`
	Startup   StartupConfig   `json:"startup"`
	Services  ServicesConfig  `json:"services"`
	Chat      ChatConfig      `json:"chat"`
	Log       LogConfig       `json:"log"`
	Metrics   MetricsConfig   `json:"metrics"`
}

type GatewayConfig struct {
	BaseURL   string `json:"baseUrl" env:"COMPANION_GATEWAY_URL"`
	TimeoutMs int    `json:"timeoutMs" env:"COMPANION_GATEWAY_TIMEOUT_MS"`
}

type InferenceConfig struct {
	HealthURL string `json:"healthUrl" env:"COMPANION_INFERENCE_URL"`
}

type HealthConfig struct {
	TimeoutMs int    `json:"timeoutMs" env:"COMPANION_HEALTH_TIMEOUT_MS"`
	Schedule  string `json:"schedule" env:"COMPANION_HEALTH_SCHEDULE"`
}

// StartupConfig bounds the readiness polling done after each service spawn.
type StartupConfig struct {
	TimeoutMs         int `json:"timeoutMs" env:"COMPANION_STARTUP_TIMEOUT_MS"`
	InitialIntervalMs int `json:"initialIntervalMs" env:"COMPANION_STARTUP_INITIAL_MS"`
	MaxIntervalMs     int `json:"maxIntervalMs" env:"COMPANION_STARTUP_MAX_MS"`
	// SettleDelayMs is only used for services without a readiness probe.
	SettleDelayMs int `json:"settleDelayMs" env:"COMPANION_STARTUP_SETTLE_MS"`
}

type ServicesConfig struct {
	Inference ServiceConfig `json:"inference"`
	Gateway   ServiceConfig `json:"gateway"`
}

type ServiceConfig struct {
	Disabled    bool     `json:"disabled,omitempty"`
	Candidates  []string `json:"candidates"`
	VersionArgs []string `json:"versionArgs,omitempty"`
	Args        []string `json:"args"`
	Dir         string   `json:"dir,omitempty"`
	Env         []string `json:"env,omitempty"`
}

type ChatConfig struct {
	Model       string `json:"model" env:"COMPANION_CHAT_MODEL"`
	MemoryLimit int    `json:"memoryLimit" env:"COMPANION_CHAT_MEMORY_LIMIT"`
}

type LogConfig struct {
	Level      string `json:"level" env:"COMPANION_LOG_LEVEL"`
	Pretty     bool   `json:"pretty" env:"COMPANION_LOG_PRETTY"`
	File       string `json:"file,omitempty" env:"COMPANION_LOG_FILE"`
	MaxSizeMb  int    `json:"maxSizeMb,omitempty"`
	MaxBackups int    `json:"maxBackups,omitempty"`
}

type MetricsConfig struct {
	Addr string `json:"addr,omitempty" env:"COMPANION_METRICS_ADDR"`
}

func DefaultConfig() *Config {
	return &Config{
		DataRoot: filepath.Join(ConfigDir(), defaultDataDirName),
		Gateway: GatewayConfig{
			BaseURL:   DefaultGatewayURL,
			TimeoutMs: DefaultGatewayTimeoutMs,
		},
		Inference: InferenceConfig{
			HealthURL: DefaultInferenceHealthURL,
		},
		Health: HealthConfig{
			TimeoutMs: DefaultHealthTimeoutMs,
			Schedule:  DefaultHealthSchedule,
		},
		Startup: StartupConfig{
			TimeoutMs:         DefaultStartupTimeoutMs,
			InitialIntervalMs: DefaultStartupInitialMs,
			MaxIntervalMs:     DefaultStartupMaxMs,
			SettleDelayMs:     DefaultSettleDelayMs,
		},
		Services: ServicesConfig{
			Inference: ServiceConfig{
				Candidates:  []string{"python3", "python"},
				VersionArgs: []string{"--version"},
				Args:        []string{defaultInferenceScriptPath},
				Dir:         "python-llm",
			},
			Gateway: ServiceConfig{
				Candidates:  []string{"go"},
				VersionArgs: []string{"version"},
				Args:        []string{"run", "."},
				Dir:         "go-api",
			},
		},
		Chat: ChatConfig{
			Model:       DefaultChatModel,
			MemoryLimit: DefaultChatMemoryLimit,
		},
		Log: LogConfig{
			Level:      DefaultLogLevel,
			MaxSizeMb:  DefaultLogMaxSizeMb,
			MaxBackups: DefaultLogMaxBackups,
		},
	}
}

// ConfigDir is $COMPANION_HOME, or ~/.companion.
func ConfigDir() string {
	if dir := strings.TrimSpace(os.Getenv("COMPANION_HOME")); dir != "" {
		return dir
	}
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, defaultConfigDirName)
}

func ConfigPath() string {
	return filepath.Join(ConfigDir(), configFileName)
}

func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(ConfigPath())
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Variables already present in the environment win over the .env file.
	envPath := filepath.Join(ConfigDir(), envFileName)
	if _, err := os.Stat(envPath); err == nil {
		if err := godotenv.Load(envPath); err != nil {
			return nil, fmt.Errorf("load %s: %w", envPath, err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()

	if strings.TrimSpace(c.DataRoot) == "" {
		c.DataRoot = def.DataRoot
	}
	c.DataRoot = expandHome(c.DataRoot)
	c.Gateway.BaseURL = strings.TrimRight(strings.TrimSpace(c.Gateway.BaseURL), "/")
	if c.Gateway.BaseURL == "" {
		c.Gateway.BaseURL = DefaultGatewayURL
	}
	if c.Gateway.TimeoutMs <= 0 {
		c.Gateway.TimeoutMs = DefaultGatewayTimeoutMs
	}
	if strings.TrimSpace(c.Inference.HealthURL) == "" {
		c.Inference.HealthURL = DefaultInferenceHealthURL
	}
	if c.Health.TimeoutMs <= 0 {
		c.Health.TimeoutMs = DefaultHealthTimeoutMs
	}
	if strings.TrimSpace(c.Health.Schedule) == "" {
		c.Health.Schedule = DefaultHealthSchedule
	}
	if c.Startup.TimeoutMs <= 0 {
		c.Startup.TimeoutMs = DefaultStartupTimeoutMs
	}
	if c.Startup.InitialIntervalMs <= 0 {
		c.Startup.InitialIntervalMs = DefaultStartupInitialMs
	}
	if c.Startup.MaxIntervalMs <= 0 {
		c.Startup.MaxIntervalMs = DefaultStartupMaxMs
	}
	if c.Startup.SettleDelayMs < 0 {
		c.Startup.SettleDelayMs = DefaultSettleDelayMs
	}
	if len(c.Services.Inference.Candidates) == 0 {
		c.Services.Inference.Candidates = def.Services.Inference.Candidates
	}
	if len(c.Services.Gateway.Candidates) == 0 {
		c.Services.Gateway.Candidates = def.Services.Gateway.Candidates
	}
	if strings.TrimSpace(c.Chat.Model) == "" {
		c.Chat.Model = DefaultChatModel
	}
	if c.Chat.MemoryLimit <= 0 {
		c.Chat.MemoryLimit = DefaultChatMemoryLimit
	}
	if strings.TrimSpace(c.Log.Level) == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.MaxSizeMb <= 0 {
		c.Log.MaxSizeMb = DefaultLogMaxSizeMb
	}
	if c.Log.MaxBackups <= 0 {
		c.Log.MaxBackups = DefaultLogMaxBackups
	}
}

func SaveConfig(cfg *Config) error {
	dir := ConfigDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(ConfigPath(), data, 0644)
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
