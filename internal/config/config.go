// Package config loads shard process configuration from YAML.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Shard holds all configuration for one game shard process.
type Shard struct {
	// Network — wire session layer (net.*)
	BindAddress string `yaml:"bind_address"`
	Port        int    `yaml:"port"`
	MaxMsgSize  int    `yaml:"max_msg_size"` // net.maxMsgSize — fatal close above this

	// This shard's identity in the shard table.
	ShardID string `yaml:"shard_id"`

	// net.gameServers — the full shard table (id -> host/port), including self.
	GameServers []ShardEntry `yaml:"game_servers"`

	// net.rpc.*
	RPC RPCConfig `yaml:"rpc"`

	// pers.*
	Persistence PersistenceConfig `yaml:"persistence"`

	// gsjs.config — opaque pass-through bundle for the scripting layer.
	GsjsConfig map[string]string `yaml:"gsjs_config"`

	// auth.module — pluggable token validator selector.
	AuthModule string `yaml:"auth_module"`

	// Logging
	LogLevel string `yaml:"log_level"` // debug, info, warn, error (default: info)

	// Session write queue / timeouts, per-client tunables mirroring the
	// async write architecture.
	WriteTimeout  time.Duration `yaml:"write_timeout"`
	ReadTimeout   time.Duration `yaml:"read_timeout"`
	SendQueueSize int           `yaml:"send_queue_size"`

	// net.frameCipher — optional post-framing wire cipher (off by default).
	FrameCipher    bool   `yaml:"frame_cipher"`
	FrameCipherKey string `yaml:"frame_cipher_key"`

	Database DatabaseConfig `yaml:"database"`
}

// ShardEntry is one row of the shard table (net.gameServers).
type ShardEntry struct {
	ID      string `yaml:"id"`
	Host    string `yaml:"host"`
	RPCPort int    `yaml:"rpc_port"`
}

// RPCConfig holds net.rpc.basePort / net.rpc.timeout.
type RPCConfig struct {
	BasePort          int           `yaml:"base_port"`
	Timeout           time.Duration `yaml:"timeout"`
	ReconnectBuffer   time.Duration `yaml:"reconnect_buffer"`   // buffering window after disconnect
	PendingSweepEvery time.Duration `yaml:"pending_sweep_every"`
}

// PersistenceConfig holds pers.backEnd.module / .config / pers.locUnloadInt.
type PersistenceConfig struct {
	BackEndModule string            `yaml:"back_end_module"` // "pgstore" | "memory"
	BackEndConfig map[string]string `yaml:"back_end_config"`
	LocUnloadInt  time.Duration     `yaml:"loc_unload_interval"`
}

// DatabaseConfig holds PostgreSQL connection parameters for the pgstore
// persistence backend.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`

	MaxConns          int32  `yaml:"max_conns"`
	MinConns          int32  `yaml:"min_conns"`
	MaxConnLifetime   string `yaml:"max_conn_lifetime"`
	MaxConnIdleTime   string `yaml:"max_conn_idle_time"`
	HealthCheckPeriod string `yaml:"health_check_period"`
}

// PlainDSN returns the PostgreSQL connection string without pgxpool's
// pool_* query parameters, for callers (like the goose migration
// runner) that open a single connection rather than a pool.
func (d DatabaseConfig) PlainDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	base := fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)

	var params []string
	if d.MaxConns > 0 {
		params = append(params, fmt.Sprintf("pool_max_conns=%d", d.MaxConns))
	}
	if d.MinConns > 0 {
		params = append(params, fmt.Sprintf("pool_min_conns=%d", d.MinConns))
	}
	if d.MaxConnLifetime != "" {
		params = append(params, fmt.Sprintf("pool_max_conn_lifetime=%s", d.MaxConnLifetime))
	}
	if d.MaxConnIdleTime != "" {
		params = append(params, fmt.Sprintf("pool_max_conn_idle_time=%s", d.MaxConnIdleTime))
	}
	if d.HealthCheckPeriod != "" {
		params = append(params, fmt.Sprintf("pool_health_check_period=%s", d.HealthCheckPeriod))
	}

	if len(params) > 0 {
		return base + "&" + strings.Join(params, "&")
	}
	return base
}

// DefaultShard returns a Shard config with sensible defaults.
func DefaultShard() Shard {
	return Shard{
		BindAddress:   "0.0.0.0",
		Port:          7777,
		MaxMsgSize:    64 * 1024,
		ShardID:       "shard-1",
		LogLevel:      "info",
		WriteTimeout:  5 * time.Second,
		ReadTimeout:   120 * time.Second,
		SendQueueSize: 256,
		GameServers: []ShardEntry{
			{ID: "shard-1", Host: "127.0.0.1", RPCPort: 9100},
		},
		RPC: RPCConfig{
			BasePort:          9100,
			Timeout:           5 * time.Second,
			ReconnectBuffer:   30 * time.Second,
			PendingSweepEvery: 1 * time.Second,
		},
		Persistence: PersistenceConfig{
			BackEndModule: "pgstore",
			LocUnloadInt:  5 * time.Minute,
		},
		AuthModule: "static",
		Database: DatabaseConfig{
			Host:     "127.0.0.1",
			Port:     5432,
			User:     "shardrealm",
			Password: "shardrealm",
			DBName:   "shardrealm",
			SSLMode:  "disable",
		},
	}
}

// Load loads shard config from a YAML file.
// If the file doesn't exist, returns defaults.
func Load(path string) (Shard, error) {
	cfg := DefaultShard()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}

	return cfg, nil
}
