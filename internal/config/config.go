// Package config loads control-plane configuration from environment
// variables and an optional config file via viper, the way the original
// ROCK admin service reads ROCK_* environment variables but generalized
// to a typed struct instead of ad-hoc os.Getenv calls scattered through
// the codebase.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Role is which half of the control plane a process is serving.
type Role string

const (
	RoleWrite Role = "write"
	RoleRead  Role = "read"
)

// PoolConfig mirrors internal/pool.Config in primitive, viper-friendly
// form (durations as seconds).
type PoolConfig struct {
	TargetSize             int
	MaxConcurrentBuilds    int64
	MaxIdleSeconds         int
	MaintainIntervalSecond int
	MaxBackoffSeconds      int
}

// Config is the fully resolved control-plane configuration.
type Config struct {
	Role            Role
	ListenAddr      string
	APIKey          string
	DriverName      string
	AgentBinaryPath string
	StatusDir       string
	BaseURL         string
	RedisAddr       string
	RequestTimeout  time.Duration
	Pool            PoolConfig
}

// Load reads configuration from environment variables (prefixed ROCK_)
// and, if present, a config file named by ROCK_CONFIG_DIR_NAME/config.yaml.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("rock")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("admin_role", "write")
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("driver", "docker")
	v.SetDefault("service_status_dir", "/var/run/boxed/status")
	v.SetDefault("request_timeout_seconds", 180)
	v.SetDefault("pool.target_size", 2)
	v.SetDefault("pool.max_concurrent_builds", 4)
	v.SetDefault("pool.max_idle_seconds", 600)
	v.SetDefault("pool.maintain_interval_seconds", 2)
	v.SetDefault("pool.max_backoff_seconds", 30)

	if dir := v.GetString("config_dir_name"); dir != "" {
		v.AddConfigPath(dir)
		v.SetConfigName("config")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	role := Role(v.GetString("admin_role"))
	if role != RoleWrite && role != RoleRead {
		return nil, fmt.Errorf("invalid ROCK_ADMIN_ROLE: %q", role)
	}

	return &Config{
		Role:            role,
		ListenAddr:      v.GetString("listen_addr"),
		APIKey:          v.GetString("api_key"),
		DriverName:      v.GetString("driver"),
		AgentBinaryPath: v.GetString("agent_path"),
		StatusDir:       v.GetString("service_status_dir"),
		BaseURL:         v.GetString("base_url"),
		RedisAddr:       v.GetString("redis_addr"),
		RequestTimeout:  time.Duration(v.GetInt("request_timeout_seconds")) * time.Second,
		Pool: PoolConfig{
			TargetSize:             v.GetInt("pool.target_size"),
			MaxConcurrentBuilds:    int64(v.GetInt("pool.max_concurrent_builds")),
			MaxIdleSeconds:         v.GetInt("pool.max_idle_seconds"),
			MaintainIntervalSecond: v.GetInt("pool.maintain_interval_seconds"),
			MaxBackoffSeconds:      v.GetInt("pool.max_backoff_seconds"),
		},
	}, nil
}
