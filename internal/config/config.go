package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/nidhogg/nuka-mind/internal/maintenance"
	"github.com/nidhogg/nuka-mind/internal/telemetry"
)

// Config is the top-level configuration structure.
type Config struct {
	Server      ServerConfig      `json:"server"`
	Providers   []ProviderConfig  `json:"providers"`
	Routing     RoutingConfig     `json:"routing"`
	Database    DatabaseConfig    `json:"database"`
	Embedding   EmbeddingConfig   `json:"embedding"`
	Cognition   CognitionConfig   `json:"cognition"`
	Maintenance MaintenanceConfig `json:"maintenance"`
	Perception  PerceptionConfig  `json:"perception"`
	Telemetry   telemetry.Config  `json:"telemetry"`
}

type ServerConfig struct {
	Port     int    `json:"port"`
	LogLevel string `json:"log_level"`
}

type ProviderConfig struct {
	ID             string            `json:"id"`
	Type           string            `json:"type"`
	Name           string            `json:"name"`
	Endpoint       string            `json:"endpoint"`
	APIKey         string            `json:"api_key"`
	Model          string            `json:"model"`
	Extra          map[string]string `json:"extra,omitempty"`
	TimeoutSeconds int               `json:"timeout_seconds,omitempty"`
}

// RoutingConfig binds LLM purposes to provider ids.
type RoutingConfig struct {
	Default    string              `json:"default"`
	Extraction string              `json:"extraction"`
	Planning   string              `json:"planning"`
	Fallbacks  map[string][]string `json:"fallbacks,omitempty"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig `json:"postgres"`
	Neo4j    Neo4jConfig    `json:"neo4j"`
	Redis    RedisConfig    `json:"redis"`
	Qdrant   QdrantConfig   `json:"qdrant"`
}

type PostgresConfig struct {
	DSN        string `json:"dsn"`
	Migrations string `json:"migrations"`
}

type Neo4jConfig struct {
	URI      string `json:"uri"`
	User     string `json:"user"`
	Password string `json:"password"`
}

type RedisConfig struct {
	URL string `json:"url"`
	// WorkingMemory keeps working memory in Redis instead of Postgres.
	WorkingMemory bool  `json:"working_memory"`
	RetentionSecs int   `json:"retention_seconds"`
	StreamMaxLen  int64 `json:"stream_max_len"`
}

type QdrantConfig struct {
	Host   string `json:"host"`
	Port   int    `json:"port"`
	Prefix string `json:"prefix"`
}

type EmbeddingConfig struct {
	Provider       string `json:"provider"`
	Endpoint       string `json:"endpoint"`
	Model          string `json:"model"`
	APIKey         string `json:"api_key"`
	Dimension      int    `json:"dimension"`
	BatchSize      int    `json:"batch_size"`
	TimeoutSeconds int    `json:"timeout_seconds"`
	CacheSize      int64  `json:"cache_size"`
}

type CognitionConfig struct {
	WorkingMemoryCapacity   int     `json:"working_memory_capacity"`
	WorkingMemoryTTLSeconds int     `json:"working_memory_ttl_seconds"`
	BeliefDecayRate         float64 `json:"belief_decay_rate"`
}

type MaintenanceConfig struct {
	IntervalSeconds int                `json:"interval_seconds"`
	BackfillLimit   int                `json:"backfill_limit"`
	Policy          maintenance.Policy `json:"policy"`
}

// PerceptionConfig lists the agents whose observation streams are consumed.
type PerceptionConfig struct {
	Agents []AgentScope `json:"agents"`
	// StartID is the stream position to start from: "$" for new entries,
	// "0" to replay the backlog.
	StartID string `json:"start_id"`
}

type AgentScope struct {
	TenantID string `json:"tenant_id"`
	AgentID  string `json:"agent_id"`
}

// Default returns the configuration used for any field a file leaves out.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Port: 8080, LogLevel: "info"},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{Migrations: "migrations"},
			Redis:    RedisConfig{StreamMaxLen: 10000},
			Qdrant:   QdrantConfig{Port: 6334, Prefix: "nuka"},
		},
		Embedding: EmbeddingConfig{CacheSize: 10000},
		Cognition: CognitionConfig{
			WorkingMemoryCapacity:   7,
			WorkingMemoryTTLSeconds: 3600,
			BeliefDecayRate:         0.1,
		},
		Maintenance: MaintenanceConfig{
			IntervalSeconds: 3600,
			BackfillLimit:   100,
			Policy:          maintenance.DefaultPolicy(),
		},
		Perception: PerceptionConfig{StartID: "$"},
	}
}

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// Expand substitutes ${VAR} and ${VAR:default} with environment values.
func Expand(s string) string {
	return envVarRe.ReplaceAllStringFunc(s, func(match string) string {
		parts := envVarRe.FindStringSubmatch(match)
		if v := os.Getenv(parts[1]); v != "" {
			return v
		}
		return parts[2]
	})
}

// Load reads a JSON or YAML config file over Default, substituting
// environment variable references first.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	resolved := []byte(Expand(string(data)))

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if resolved, err = yamlToJSON(resolved); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg := Default()
	if err := json.Unmarshal(resolved, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// yamlToJSON re-encodes a YAML document as JSON so that one set of json
// tags describes both formats.
func yamlToJSON(data []byte) ([]byte, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(doc)
}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	switch c.Server.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("server.log_level %q is not one of debug, info, warn, error", c.Server.LogLevel))
	}

	ids := make(map[string]bool)
	for i, p := range c.Providers {
		if p.ID == "" {
			errs = append(errs, fmt.Errorf("providers[%d]: id is required", i))
			continue
		}
		if ids[p.ID] {
			errs = append(errs, fmt.Errorf("providers[%d]: duplicate id %q", i, p.ID))
		}
		ids[p.ID] = true
		switch p.Type {
		case "", "openai", "anthropic":
		default:
			errs = append(errs, fmt.Errorf("providers[%d]: unknown type %q", i, p.Type))
		}
	}
	for purpose, id := range map[string]string{"default": c.Routing.Default, "extraction": c.Routing.Extraction, "planning": c.Routing.Planning} {
		if id != "" && !ids[id] {
			errs = append(errs, fmt.Errorf("routing.%s: unknown provider %q", purpose, id))
		}
	}
	for purpose, chain := range c.Routing.Fallbacks {
		for _, id := range chain {
			if !ids[id] {
				errs = append(errs, fmt.Errorf("routing.fallbacks.%s: unknown provider %q", purpose, id))
			}
		}
	}

	if c.Database.Redis.WorkingMemory && c.Database.Redis.URL == "" {
		errs = append(errs, errors.New("database.redis.working_memory requires database.redis.url"))
	}
	if len(c.Perception.Agents) > 0 && c.Database.Redis.URL == "" {
		errs = append(errs, errors.New("perception.agents requires database.redis.url"))
	}
	for i, a := range c.Perception.Agents {
		if a.TenantID == "" || a.AgentID == "" {
			errs = append(errs, fmt.Errorf("perception.agents[%d]: tenant_id and agent_id are required", i))
		}
	}

	if c.Cognition.WorkingMemoryCapacity < 0 {
		errs = append(errs, errors.New("cognition.working_memory_capacity must not be negative"))
	}
	if c.Cognition.WorkingMemoryTTLSeconds < 0 {
		errs = append(errs, errors.New("cognition.working_memory_ttl_seconds must not be negative"))
	}
	if c.Cognition.BeliefDecayRate < 0 || c.Cognition.BeliefDecayRate > 1 {
		errs = append(errs, fmt.Errorf("cognition.belief_decay_rate %v outside [0, 1]", c.Cognition.BeliefDecayRate))
	}
	if c.Maintenance.IntervalSeconds < 0 {
		errs = append(errs, errors.New("maintenance.interval_seconds must not be negative"))
	}
	return errors.Join(errs...)
}
