package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds process-wide settings for the sync/query/verify tools.
type Config struct {
	// Store holds the columnar engine pool settings (spec.md §4.2).
	Store StoreConfig `yaml:"store"`

	// Hub holds the central hub's well-known location (spec.md §4.7).
	Hub HubConfig `yaml:"hub"`

	// Sync holds sync-orchestrator timeouts and behavior (spec.md §4.9).
	Sync SyncConfig `yaml:"sync"`

	// Resolver holds the semantic resolver's toggles (spec.md §4.5).
	Resolver ResolverConfig `yaml:"resolver"`

	// QueryCache holds the hub's cached-query TTL default (spec.md §4.7).
	QueryCache QueryCacheConfig `yaml:"query_cache"`
}

// StoreConfig configures the columnar store pool.
type StoreConfig struct {
	MemoryLimitBytes int64         // DEVAC_DUCKDB_MEMORY, default 512MiB
	TempDir          string        // DEVAC_DUCKDB_TEMP, default os.TempDir()
	MaxConnections   int           // default 4
	AcquireTimeout   time.Duration // default 30s
	IdleTimeout      time.Duration // default 30s (reaper period and idle cutoff)
	Threads          int           // default runtime.NumCPU()/2
}

// HubConfig locates the central hub file and its presence socket.
type HubConfig struct {
	Dir        string // directory holding central.db and mcp.sock
	DBFileName string // default "central.db"
	SockName   string // default "mcp.sock"
}

// SyncConfig configures the sync orchestrator's pipeline.
type SyncConfig struct {
	WriteDomainEffectsParquet bool // not read by syncx; step 3 keeps domain effects in its report only
}

// ResolverConfig toggles the semantic resolver.
type ResolverConfig struct {
	Enabled bool
	Budget  time.Duration // per-package resolve budget; not read by the resolver or syncx, so no ResolveTimeout is raised
}

// QueryCacheConfig sets the default TTL for hubQuery result caching and,
// optionally, a Redis backend for deployments sharing one hub across
// multiple machines. RedisAddr empty means use the hub's local sqlite
// query_cache table.
type QueryCacheConfig struct {
	DefaultTTL    time.Duration
	RedisAddr     string // DEVAC_REDIS_ADDR, e.g. "localhost:6379"; empty disables
	RedisPassword string // DEVAC_REDIS_PASSWORD
}

// Default returns the built-in configuration before env/file overrides.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	return &Config{
		Store: StoreConfig{
			MemoryLimitBytes: 512 * 1024 * 1024,
			TempDir:          os.TempDir(),
			MaxConnections:   4,
			AcquireTimeout:   30 * time.Second,
			IdleTimeout:      30 * time.Second,
			Threads:          max(1, runtime.NumCPU()/2),
		},
		Hub: HubConfig{
			Dir:        filepath.Join(homeDir, ".devac", "hub"),
			DBFileName: "central.db",
			SockName:   "mcp.sock",
		},
		Sync: SyncConfig{
			WriteDomainEffectsParquet: true,
		},
		Resolver: ResolverConfig{
			Enabled: true,
			Budget:  10 * time.Second,
		},
		QueryCache: QueryCacheConfig{
			DefaultTTL: 5 * time.Minute,
		},
	}
}

// Load reads configuration from a YAML file (if present) layered over
// .env files and environment variables, following the teacher's
// viper+godotenv precedence: env var > config file > built-in default.
func Load(path string) (*Config, error) {
	loadEnvFiles()

	v := viper.New()
	v.SetConfigType("yaml")

	cfg := Default()
	v.SetDefault("store", cfg.Store)
	v.SetDefault("hub", cfg.Hub)
	v.SetDefault("sync", cfg.Sync)
	v.SetDefault("resolver", cfg.Resolver)
	v.SetDefault("query_cache", cfg.QueryCache)

	v.SetEnvPrefix("DEVAC")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".devac")
		v.AddConfigPath(".")
		homeDir, _ := os.UserHomeDir()
		v.AddConfigPath(filepath.Join(homeDir, ".devac"))
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

func loadEnvFiles() {
	for _, file := range []string{".env.local", ".env"} {
		if _, err := os.Stat(file); err == nil {
			godotenv.Load(file)
		}
	}
	homeDir, _ := os.UserHomeDir()
	homeEnv := filepath.Join(homeDir, ".devac", ".env")
	if _, err := os.Stat(homeEnv); err == nil {
		godotenv.Load(homeEnv)
	}
}

// applyEnvOverrides applies the spec's two named environment variables
// plus a handful of operationally necessary ones viper's automatic
// binding doesn't reach because of nested struct paths.
func applyEnvOverrides(cfg *Config) {
	if mem := os.Getenv("DEVAC_DUCKDB_MEMORY"); mem != "" {
		if bytes, err := parseByteSize(mem); err == nil {
			cfg.Store.MemoryLimitBytes = bytes
		}
	}
	if tmp := os.Getenv("DEVAC_DUCKDB_TEMP"); tmp != "" {
		cfg.Store.TempDir = tmp
	}
	if hubDir := os.Getenv("DEVAC_HUB_DIR"); hubDir != "" {
		cfg.Hub.Dir = expandPath(hubDir)
	}
	if maxConn := os.Getenv("DEVAC_STORE_MAX_CONNECTIONS"); maxConn != "" {
		if n, err := strconv.Atoi(maxConn); err == nil {
			cfg.Store.MaxConnections = n
		}
	}
	if addr := os.Getenv("DEVAC_REDIS_ADDR"); addr != "" {
		cfg.QueryCache.RedisAddr = addr
	}
	if pass := os.Getenv("DEVAC_REDIS_PASSWORD"); pass != "" {
		cfg.QueryCache.RedisPassword = pass
	}
}

// parseByteSize parses sizes like "512MB", "1GB", or a bare integer of bytes.
func parseByteSize(s string) (int64, error) {
	multipliers := map[string]int64{
		"KB": 1024,
		"MB": 1024 * 1024,
		"GB": 1024 * 1024 * 1024,
	}
	for suffix, mult := range multipliers {
		if len(s) > len(suffix) && s[len(s)-len(suffix):] == suffix {
			n, err := strconv.ParseInt(s[:len(s)-len(suffix)], 10, 64)
			if err != nil {
				return 0, err
			}
			return n * mult, nil
		}
	}
	return strconv.ParseInt(s, 10, 64)
}

func expandPath(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, path[1:])
}

// Save writes the configuration to path as YAML.
func (c *Config) Save(path string) error {
	v := viper.New()
	v.SetConfigType("yaml")
	v.Set("store", c.Store)
	v.Set("hub", c.Hub)
	v.Set("sync", c.Sync)
	v.Set("resolver", c.Resolver)
	v.Set("query_cache", c.QueryCache)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
