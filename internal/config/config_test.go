package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func isolate(t *testing.T) string {
	t.Helper()
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	t.Setenv("COMPANION_HOME", "")
	for _, key := range []string{
		"COMPANION_DATA_ROOT",
		"COMPANION_GATEWAY_URL",
		"COMPANION_GATEWAY_TIMEOUT_MS",
		"COMPANION_INFERENCE_URL",
		"COMPANION_CHAT_MODEL",
		"COMPANION_CHAT_MEMORY_LIMIT",
		"COMPANION_LOG_LEVEL",
		"COMPANION_METRICS_ADDR",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
	return tmpDir
}

func TestDefaultConfig(t *testing.T) {
	isolate(t)

	cfg := DefaultConfig()
	if cfg == nil {
		t.Fatal("DefaultConfig returned nil")
	}
	if cfg.Gateway.BaseURL != DefaultGatewayURL {
		t.Errorf("gateway url = %q, want %q", cfg.Gateway.BaseURL, DefaultGatewayURL)
	}
	if cfg.Inference.HealthURL != DefaultInferenceHealthURL {
		t.Errorf("inference url = %q, want %q", cfg.Inference.HealthURL, DefaultInferenceHealthURL)
	}
	if cfg.Chat.Model != DefaultChatModel {
		t.Errorf("chat model = %q, want %q", cfg.Chat.Model, DefaultChatModel)
	}
	if cfg.Chat.MemoryLimit != DefaultChatMemoryLimit {
		t.Errorf("memory limit = %d, want %d", cfg.Chat.MemoryLimit, DefaultChatMemoryLimit)
	}
	if len(cfg.Services.Inference.Candidates) != 2 {
		t.Errorf("inference candidates = %v, want python3 and python", cfg.Services.Inference.Candidates)
	}
	if cfg.DataRoot == "" {
		t.Error("data root should not be empty")
	}
}

func TestConfigDir_Override(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("COMPANION_HOME", tmpDir)

	if got := ConfigDir(); got != tmpDir {
		t.Errorf("ConfigDir() = %q, want %q", got, tmpDir)
	}
	if got := ConfigPath(); got != filepath.Join(tmpDir, "config.json") {
		t.Errorf("ConfigPath() = %q", got)
	}
}

func TestLoadConfig_NoFile(t *testing.T) {
	tmpDir := isolate(t)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if cfg.Gateway.BaseURL != DefaultGatewayURL {
		t.Errorf("expected default gateway url, got %q", cfg.Gateway.BaseURL)
	}
	want := filepath.Join(tmpDir, ".companion", "data")
	if cfg.DataRoot != want {
		t.Errorf("data root = %q, want %q", cfg.DataRoot, want)
	}
}

func TestLoadConfig_FromFile(t *testing.T) {
	tmpDir := isolate(t)

	cfgDir := filepath.Join(tmpDir, ".companion")
	os.MkdirAll(cfgDir, 0755)

	testCfg := map[string]any{
		"dataRoot": filepath.Join(tmpDir, "store"),
		"gateway": map[string]any{
			"baseUrl": "http://127.0.0.1:9090/",
		},
		"chat": map[string]any{
			"model":       "llama3",
			"memoryLimit": 12,
		},
	}
	data, _ := json.Marshal(testCfg)
	os.WriteFile(filepath.Join(cfgDir, "config.json"), data, 0644)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if cfg.Gateway.BaseURL != "http://127.0.0.1:9090" {
		t.Errorf("gateway url = %q, trailing slash should be trimmed", cfg.Gateway.BaseURL)
	}
	if cfg.Chat.Model != "llama3" {
		t.Errorf("chat model = %q, want llama3", cfg.Chat.Model)
	}
	if cfg.Chat.MemoryLimit != 12 {
		t.Errorf("memory limit = %d, want 12", cfg.Chat.MemoryLimit)
	}
	if cfg.DataRoot != filepath.Join(tmpDir, "store") {
		t.Errorf("data root = %q", cfg.DataRoot)
	}
	// untouched sections keep their defaults
	if cfg.Inference.HealthURL != DefaultInferenceHealthURL {
		t.Errorf("inference url = %q", cfg.Inference.HealthURL)
	}
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	isolate(t)

	t.Setenv("COMPANION_GATEWAY_URL", "http://gateway.local:8081")
	t.Setenv("COMPANION_CHAT_MEMORY_LIMIT", "3")
	t.Setenv("COMPANION_METRICS_ADDR", "127.0.0.1:9464")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if cfg.Gateway.BaseURL != "http://gateway.local:8081" {
		t.Errorf("gateway url = %q", cfg.Gateway.BaseURL)
	}
	if cfg.Chat.MemoryLimit != 3 {
		t.Errorf("memory limit = %d, want 3", cfg.Chat.MemoryLimit)
	}
	if cfg.Metrics.Addr != "127.0.0.1:9464" {
		t.Errorf("metrics addr = %q", cfg.Metrics.Addr)
	}
}

func TestLoadConfig_DotEnv(t *testing.T) {
	tmpDir := isolate(t)

	cfgDir := filepath.Join(tmpDir, ".companion")
	os.MkdirAll(cfgDir, 0755)
	os.WriteFile(filepath.Join(cfgDir, ".env"), []byte("COMPANION_CHAT_MODEL=mistral-nemo\n"), 0644)
	t.Cleanup(func() { os.Unsetenv("COMPANION_CHAT_MODEL") })

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if cfg.Chat.Model != "mistral-nemo" {
		t.Errorf("chat model = %q, want mistral-nemo", cfg.Chat.Model)
	}
}

func TestLoadConfig_InvalidJSON(t *testing.T) {
	tmpDir := isolate(t)

	cfgDir := filepath.Join(tmpDir, ".companion")
	os.MkdirAll(cfgDir, 0755)
	os.WriteFile(filepath.Join(cfgDir, "config.json"), []byte("{invalid"), 0644)

	if _, err := LoadConfig(); err == nil {
		t.Error("expected error for invalid JSON")
	}
}

func TestLoadConfig_DefaultsFillGaps(t *testing.T) {
	tmpDir := isolate(t)

	cfgDir := filepath.Join(tmpDir, ".companion")
	os.MkdirAll(cfgDir, 0755)
	data := []byte(`{"gateway":{"baseUrl":"","timeoutMs":-1},"services":{"inference":{"candidates":[]}},"chat":{"memoryLimit":0}}`)
	os.WriteFile(filepath.Join(cfgDir, "config.json"), data, 0644)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if cfg.Gateway.BaseURL != DefaultGatewayURL {
		t.Errorf("gateway url = %q", cfg.Gateway.BaseURL)
	}
	if cfg.Gateway.TimeoutMs != DefaultGatewayTimeoutMs {
		t.Errorf("gateway timeout = %d", cfg.Gateway.TimeoutMs)
	}
	if len(cfg.Services.Inference.Candidates) == 0 {
		t.Error("inference candidates should fall back to defaults")
	}
	if cfg.Chat.MemoryLimit != DefaultChatMemoryLimit {
		t.Errorf("memory limit = %d", cfg.Chat.MemoryLimit)
	}
}

func TestSaveConfig(t *testing.T) {
	tmpDir := isolate(t)

	cfg := DefaultConfig()
	cfg.Chat.Model = "saved-model"

	if err := SaveConfig(cfg); err != nil {
		t.Fatalf("SaveConfig error: %v", err)
	}

	path := filepath.Join(tmpDir, ".companion", "config.json")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read saved config: %v", err)
	}

	var loaded Config
	if err := json.Unmarshal(data, &loaded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if loaded.Chat.Model != "saved-model" {
		t.Errorf("saved model = %q", loaded.Chat.Model)
	}
}
