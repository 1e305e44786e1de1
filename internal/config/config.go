package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the PromptForge control plane.
type Config struct {
	API         APIConfig
	Backend     BackendConfig
	ObjectStore ObjectStoreConfig
	Experiments ExperimentsConfig
	LLM         LLMConfig
	Paths       PathsConfig
	Telemetry   TelemetryConfig
	Debug       bool
	Version     string
}

// APIConfig configures the client-facing HTTP surface.
type APIConfig struct {
	Host string
	Port int
}

// BackendConfig points at the ComfyUI-compatible diffusion backend.
type BackendConfig struct {
	Host         string
	Port         int
	Timeout      time.Duration // await_completion bound
	PollInterval time.Duration
}

// URL returns the backend's HTTP origin.
func (c BackendConfig) URL() string {
	return fmt.Sprintf("http://%s:%d", c.Host, c.Port)
}

// WebsocketURL returns the backend's websocket origin.
func (c BackendConfig) WebsocketURL() string {
	return fmt.Sprintf("ws://%s:%d/ws", c.Host, c.Port)
}

// ObjectStoreConfig configures the artifact store.
type ObjectStoreConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
}

// ExperimentsConfig configures the provenance experiment store.
type ExperimentsConfig struct {
	URI            string // postgres://… enables the pgx-backed store
	ExperimentName string
}

// LLMConfig enables the optional NLU intent parser when Endpoint is set.
type LLMConfig struct {
	Endpoint string
	Model    string
	Timeout  time.Duration
}

// PathsConfig holds the filesystem roots loaded at startup.
type PathsConfig struct {
	CategoriesDir string
	WorkflowsDir  string
}

// TelemetryConfig configures OpenTelemetry tracing.
type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		API: APIConfig{
			Host: envStr("PROMPTFORGE_API_HOST", "0.0.0.0"),
			Port: envInt("PROMPTFORGE_API_PORT", 8080),
		},
		Backend: BackendConfig{
			Host:         envStr("PROMPTFORGE_BACKEND_HOST", "localhost"),
			Port:         envInt("PROMPTFORGE_BACKEND_PORT", 8188),
			Timeout:      envDur("PROMPTFORGE_BACKEND_TIMEOUT", 10*time.Minute),
			PollInterval: envDur("PROMPTFORGE_BACKEND_POLL_INTERVAL", time.Second),
		},
		ObjectStore: ObjectStoreConfig{
			Endpoint:  envStr("PROMPTFORGE_OBJECT_STORE_ENDPOINT", ""),
			AccessKey: envStr("PROMPTFORGE_OBJECT_STORE_ACCESS_KEY", ""),
			SecretKey: envStr("PROMPTFORGE_OBJECT_STORE_SECRET_KEY", ""),
			Bucket:    envStr("PROMPTFORGE_OBJECT_STORE_BUCKET", "promptforge"),
		},
		Experiments: ExperimentsConfig{
			URI:            envStr("PROMPTFORGE_EXPERIMENT_STORE_URI", ""),
			ExperimentName: envStr("PROMPTFORGE_EXPERIMENT_NAME", "promptforge-generations"),
		},
		LLM: LLMConfig{
			Endpoint: envStr("PROMPTFORGE_LLM_ENDPOINT", ""),
			Model:    envStr("PROMPTFORGE_LLM_MODEL", "llama3.1"),
			Timeout:  envDur("PROMPTFORGE_LLM_TIMEOUT", 20*time.Second),
		},
		Paths: PathsConfig{
			CategoriesDir: envStr("PROMPTFORGE_CATEGORIES_DIR", "categories"),
			WorkflowsDir:  envStr("PROMPTFORGE_WORKFLOWS_DIR", "workflows"),
		},
		Telemetry: TelemetryConfig{
			Enabled:      envBool("OTEL_ENABLED", false),
			OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			ServiceName:  envStr("OTEL_SERVICE_NAME", "promptforge-control-plane"),
		},
		Debug:   envBool("PROMPTFORGE_DEBUG", false),
		Version: envStr("PROMPTFORGE_VERSION", "0.4.0"),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDur(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
