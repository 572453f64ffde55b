// Package config provides configuration loading for the voxgov daemon.
//
// Configuration is read from an optional YAML file and overridden by
// environment variables. Tenant governance files are not loaded here; see
// internal/governance for the per-tenant loader.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the complete daemon configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	NATS          NATSConfig          `koanf:"nats"`
	Store         StoreConfig         `koanf:"store"`
	Archive       ArchiveConfig       `koanf:"archive"`
	Governance    GovernanceConfig    `koanf:"governance"`
	Cascade       CascadeConfig       `koanf:"cascade"`
	Interpreter   InterpreterConfig   `koanf:"interpreter"`
	Knowledge     KnowledgeConfig     `koanf:"knowledge"`
	Redaction     RedactionConfig     `koanf:"redaction"`
	Observability ObservabilityConfig `koanf:"observability"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"http_port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
	TurnTimeout     Duration `koanf:"turn_timeout"`
}

// NATSConfig configures the NATS connection shared by the session store and
// the alert emitter.
type NATSConfig struct {
	URL           string   `koanf:"url"`
	Token         Secret   `koanf:"token"`
	MaxReconnects int      `koanf:"max_reconnects"`
	ReconnectWait Duration `koanf:"reconnect_wait"`
	EventSubject  string   `koanf:"event_subject"`
}

// StoreConfig configures the transient session store.
type StoreConfig struct {
	// Backend is "nats" or "memory".
	Backend string   `koanf:"backend"`
	Bucket  string   `koanf:"bucket"`
	TTL     Duration `koanf:"ttl"`
}

// ArchiveConfig configures the permanent call archive.
type ArchiveConfig struct {
	Enabled bool   `koanf:"enabled"`
	Path    string `koanf:"path"`
}

// GovernanceConfig locates tenant governance files.
type GovernanceConfig struct {
	Dir      string   `koanf:"dir"`
	CacheTTL Duration `koanf:"cache_ttl"`
	Watch    bool     `koanf:"watch"`
}

// CascadeConfig sizes the cascade caches and the default source timeout.
type CascadeConfig struct {
	SourceTimeout     Duration `koanf:"source_timeout"`
	SourceCacheTTL    Duration `koanf:"source_cache_ttl"`
	KeywordIndexTTL   Duration `koanf:"keyword_index_ttl"`
	QueryCacheTTL     Duration `koanf:"query_cache_ttl"`
	QueryCacheEntries int      `koanf:"query_cache_entries"`
	CacheShards       int      `koanf:"cache_shards"`
	SafeResponse      string   `koanf:"safe_response"`
}

// InterpreterConfig configures the fallback interpreter model.
type InterpreterConfig struct {
	Enabled    bool     `koanf:"enabled"`
	Provider   string   `koanf:"provider"`
	Model      string   `koanf:"model"`
	BaseURL    string   `koanf:"base_url"`
	APIKey     Secret   `koanf:"api_key"`
	Timeout    Duration `koanf:"timeout"`
	MaxRetries int      `koanf:"max_retries"`
	MaxBackoff Duration `koanf:"max_backoff"`
	RateLimit  float64  `koanf:"rate_limit"`
	Burst      int      `koanf:"burst"`
}

// KnowledgeConfig locates the knowledge sources.
type KnowledgeConfig struct {
	Dir              string `koanf:"dir"`
	ChromemPath      string `koanf:"chromem_path"`
	EmbeddingModel   string `koanf:"embedding_model"`
	EmbeddingBaseURL string `koanf:"embedding_base_url"`
	EmbeddingAPIKey  Secret `koanf:"embedding_api_key"`
	QdrantEnabled    bool   `koanf:"qdrant_enabled"`
	QdrantHost       string `koanf:"qdrant_host"`
	QdrantPort       int    `koanf:"qdrant_port"`
	QdrantTLS        bool   `koanf:"qdrant_tls"`
	QdrantAPIKey     Secret `koanf:"qdrant_api_key"`
	QdrantCollection string `koanf:"qdrant_collection"`
	Watch            bool   `koanf:"watch"`
}

// RedactionConfig controls transcript redaction before archival.
type RedactionConfig struct {
	Enabled       bool   `koanf:"enabled"`
	AllowlistPath string `koanf:"allowlist_path"`
}

// ObservabilityConfig holds logging and OpenTelemetry switches.
type ObservabilityConfig struct {
	LogLevel        string `koanf:"log_level"`
	LogFormat       string `koanf:"log_format"`
	EnableTelemetry bool   `koanf:"enable_telemetry"`
	OTLPEndpoint    string `koanf:"otlp_endpoint"`
	ServiceName     string `koanf:"service_name"`
}

// Default returns the configuration used when neither file nor environment
// supply a value.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            9090,
			ShutdownTimeout: Duration(10 * time.Second),
			TurnTimeout:     Duration(800 * time.Millisecond),
		},
		NATS: NATSConfig{
			URL:           "nats://localhost:4222",
			MaxReconnects: 5,
			ReconnectWait: Duration(time.Second),
			EventSubject:  "voxgov.events",
		},
		Store: StoreConfig{
			Backend: "nats",
			Bucket:  "voxgov_sessions",
			TTL:     Duration(5 * time.Minute),
		},
		Archive: ArchiveConfig{
			Enabled: true,
			Path:    "/var/lib/voxgov/archive.db",
		},
		Governance: GovernanceConfig{
			Dir:      "/etc/voxgov/tenants",
			CacheTTL: Duration(10 * time.Minute),
			Watch:    true,
		},
		Cascade: CascadeConfig{
			SourceTimeout:     Duration(300 * time.Millisecond),
			SourceCacheTTL:    Duration(10 * time.Minute),
			KeywordIndexTTL:   Duration(30 * time.Minute),
			QueryCacheTTL:     Duration(2 * time.Minute),
			QueryCacheEntries: 10000,
			CacheShards:       16,
			SafeResponse:      "I'm sorry, could you say that one more time?",
		},
		Interpreter: InterpreterConfig{
			Enabled:    true,
			Provider:   "openai",
			Model:      "gpt-4o-mini",
			Timeout:    Duration(1500 * time.Millisecond),
			MaxRetries: 2,
			MaxBackoff: Duration(400 * time.Millisecond),
			RateLimit:  20,
			Burst:      40,
		},
		Knowledge: KnowledgeConfig{
			Dir:              "/etc/voxgov/knowledge",
			EmbeddingModel:   "nomic-embed-text",
			EmbeddingBaseURL: "http://localhost:11434/api",
			QdrantHost:       "localhost",
			QdrantPort:       6334,
			QdrantCollection: "voxgov_knowledge",
			Watch:            true,
		},
		Redaction: RedactionConfig{
			Enabled: true,
		},
		Observability: ObservabilityConfig{
			LogLevel:    "info",
			LogFormat:   "json",
			ServiceName: "voxgov",
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout.Duration() <= 0 {
		return errors.New("shutdown timeout must be positive")
	}
	if c.Server.TurnTimeout.Duration() <= 0 {
		return errors.New("turn timeout must be positive")
	}

	switch c.Store.Backend {
	case "nats":
		if c.NATS.URL == "" {
			return errors.New("nats url required for nats store backend")
		}
		if c.Store.Bucket == "" {
			return errors.New("store bucket required for nats store backend")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown store backend %q (want nats or memory)", c.Store.Backend)
	}
	if c.Store.TTL.Duration() <= 0 {
		return errors.New("store ttl must be positive")
	}

	if c.Archive.Enabled && c.Archive.Path == "" {
		return errors.New("archive path required when archive is enabled")
	}
	if c.Governance.Dir == "" {
		return errors.New("governance dir is required")
	}

	if c.Cascade.SourceTimeout.Duration() <= 0 {
		return errors.New("cascade source timeout must be positive")
	}
	if c.Cascade.QueryCacheEntries <= 0 {
		return errors.New("cascade query cache entries must be positive")
	}
	if c.Cascade.CacheShards <= 0 {
		return errors.New("cascade cache shards must be positive")
	}
	if c.Cascade.SafeResponse == "" {
		return errors.New("cascade safe response must not be empty")
	}

	if c.Interpreter.Enabled {
		if c.Interpreter.Timeout.Duration() <= 0 {
			return errors.New("interpreter timeout must be positive")
		}
		if c.Interpreter.MaxRetries < 0 {
			return fmt.Errorf("interpreter max retries must be >= 0, got %d", c.Interpreter.MaxRetries)
		}
		if c.Interpreter.RateLimit <= 0 || c.Interpreter.Burst <= 0 {
			return errors.New("interpreter rate limit and burst must be positive")
		}
	}

	if c.Knowledge.QdrantEnabled && (c.Knowledge.QdrantPort <= 0 || c.Knowledge.QdrantPort > 65535) {
		return fmt.Errorf("invalid qdrant port: %d", c.Knowledge.QdrantPort)
	}

	if c.Observability.EnableTelemetry && c.Observability.ServiceName == "" {
		return errors.New("service name required when telemetry is enabled")
	}
	return nil
}
