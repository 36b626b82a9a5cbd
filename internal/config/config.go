// Package config loads service settings from an optional YAML file and KGQA_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	LLM           LLMConfig           `mapstructure:"llm"`
	Neo4j         Neo4jConfig         `mapstructure:"neo4j"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Executor      ExecutorConfig      `mapstructure:"executor"`
	Server        ServerConfig        `mapstructure:"server"`
	Session       SessionConfig       `mapstructure:"session"`
}

// LLMConfig points at an OpenAI-compatible chat completion endpoint.
type LLMConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
	Model   string `mapstructure:"model"`
}

type Neo4jConfig struct {
	URI      string `mapstructure:"uri"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
}

// ElasticsearchConfig is optional. Without addresses, semantic retrieval is disabled
// and events and metrics are not mirrored.
type ElasticsearchConfig struct {
	Addresses   []string `mapstructure:"addresses"`
	Username    string   `mapstructure:"username"`
	Password    string   `mapstructure:"password"`
	Index       string   `mapstructure:"index"`
	EventsIndex string   `mapstructure:"events_index"`
}

type ExecutorConfig struct {
	MaxErrors       int `mapstructure:"max_errors"`
	FanoutLimit     int `mapstructure:"fanout_limit"`
	MaxResultTokens int `mapstructure:"max_result_tokens"`
	MaxVariants     int `mapstructure:"max_variants"`
	TopK            int `mapstructure:"top_k"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// SessionConfig locates the round store. History above MaxHistoryTokens is condensed
// before planning, keeping RecentHistoryTokens of the newest rounds verbatim.
type SessionConfig struct {
	DBPath              string `mapstructure:"db_path"`
	MaxHistoryTokens    int    `mapstructure:"max_history_tokens"`
	RecentHistoryTokens int    `mapstructure:"recent_history_tokens"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("neo4j.uri", "neo4j://localhost:7687")
	v.SetDefault("neo4j.user", "neo4j")
	v.SetDefault("neo4j.password", "")
	v.SetDefault("neo4j.database", "neo4j")
	v.SetDefault("elasticsearch.addresses", []string{})
	v.SetDefault("elasticsearch.username", "")
	v.SetDefault("elasticsearch.password", "")
	v.SetDefault("elasticsearch.index", "kgqa_chunks")
	v.SetDefault("elasticsearch.events_index", "kgqa_events")
	v.SetDefault("executor.max_errors", 3)
	v.SetDefault("executor.fanout_limit", 8)
	v.SetDefault("executor.max_result_tokens", 5000)
	v.SetDefault("executor.max_variants", 3)
	v.SetDefault("executor.top_k", 5)
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("session.db_path", "kgqa.db")
	v.SetDefault("session.max_history_tokens", 8192)
	v.SetDefault("session.recent_history_tokens", 2048)
}

// Load reads path when it is not empty, then applies environment overrides such as
// KGQA_NEO4J_PASSWORD. Load does not validate.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	v.SetEnvPrefix("KGQA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

// Validate reports every missing required setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.LLM.APIKey == "" {
		errs = append(errs, errors.New("llm.api_key is required"))
	}
	if c.LLM.Model == "" {
		errs = append(errs, errors.New("llm.model is required"))
	}
	if c.Neo4j.URI == "" {
		errs = append(errs, errors.New("neo4j.uri is required"))
	}
	if c.Executor.MaxErrors < 0 {
		errs = append(errs, fmt.Errorf("executor.max_errors must not be negative, got %d", c.Executor.MaxErrors))
	}
	if c.Executor.FanoutLimit < 0 {
		errs = append(errs, fmt.Errorf("executor.fanout_limit must not be negative, got %d", c.Executor.FanoutLimit))
	}
	return errors.Join(errs...)
}

// SearchEnabled reports whether an Elasticsearch cluster is configured.
func (c *Config) SearchEnabled() bool {
	return len(c.Elasticsearch.Addresses) > 0
}
