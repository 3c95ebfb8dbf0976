// Package config loads the conversation engine's configuration from a file,
// environment variables (CONVERSE_ prefix), and defaults, via spf13/viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration object.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Routing     RoutingConfig     `mapstructure:"routing"`
	Context     ContextConfig     `mapstructure:"context"`
	NATS        NATSConfig        `mapstructure:"nats"`
	Persistence PersistenceConfig `mapstructure:"persistence"`
	Sandbox     SandboxConfig     `mapstructure:"sandbox"`
}

// ServerConfig configures the ambient HTTP/WS status surface.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// LoggingConfig mirrors logger.LoggingConfig's mapstructure shape so viper
// can unmarshal directly into it.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// RoutingConfig tunes the C4 routing queue's limits.
type RoutingConfig struct {
	MaxQueueSize   int           `mapstructure:"max_queue_size"`
	MaxBranchSize  int           `mapstructure:"max_branch_size"`
	MaxLocalSeq    int           `mapstructure:"max_local_seq"`
	TurnTimeout    time.Duration `mapstructure:"turn_timeout"`
	MaxTurnTimeout time.Duration `mapstructure:"max_turn_timeout"`
}

// ContextConfig tunes the C5 context manager's window.
type ContextConfig struct {
	WindowSize      int `mapstructure:"window_size"`
	TeamTaskMaxRune int `mapstructure:"team_task_max_rune"`
}

// NATSConfig configures the optional distributed event bus transport.
type NATSConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	URL           string `mapstructure:"url"`
	ClientID      string `mapstructure:"client_id"`
	MaxReconnects int    `mapstructure:"max_reconnects"`
}

// PersistenceConfig configures where session snapshot storage writes to.
// EventLogDir is loaded but not read anywhere; the collector keeps its
// buffers in memory only.
type PersistenceConfig struct {
	Backend         string `mapstructure:"backend"` // "memory" | "postgres"
	PostgresDSN     string `mapstructure:"postgres_dsn"`
	EventLogDir     string `mapstructure:"event_log_dir"`
}

// SandboxConfig configures the optional Docker-backed execution environment.
type SandboxConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	DockerHost     string `mapstructure:"docker_host"`
	DefaultImage   string `mapstructure:"default_image"`
}

// Load reads configuration from (in order of increasing precedence) compiled
// defaults, an optional config file, and CONVERSE_-prefixed environment
// variables, the way the teacher's internal/common/config.Load does.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("CONVERSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %q: %w", configPath, err)
		}
	} else {
		v.SetConfigName("converse")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/converse")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("reading config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.output_path", "stdout")

	v.SetDefault("routing.max_queue_size", 200)
	v.SetDefault("routing.max_branch_size", 20)
	v.SetDefault("routing.max_local_seq", 3)
	v.SetDefault("routing.turn_timeout", 5*time.Minute)
	v.SetDefault("routing.max_turn_timeout", 30*time.Minute)

	v.SetDefault("context.window_size", 5)
	v.SetDefault("context.team_task_max_rune", 4000)

	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.client_id", "converse-engine")
	v.SetDefault("nats.max_reconnects", 10)

	v.SetDefault("persistence.backend", "memory")
	v.SetDefault("persistence.event_log_dir", "./data/events")

	v.SetDefault("sandbox.enabled", false)
	v.SetDefault("sandbox.docker_host", "unix:///var/run/docker.sock")
	v.SetDefault("sandbox.default_image", "converse/agent-sandbox:latest")
}
