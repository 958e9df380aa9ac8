// Package config provides configuration for the git-as-svn daemon.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds server configuration.
type Config struct {
	// Listen is the svn:// address to listen on (e.g., ":3690").
	Listen string `yaml:"listen"`
	// AdminListen is the address of the admin HTTP API.
	AdminListen string `yaml:"admin_listen"`
	// ReposDir holds the Git repositories, one per directory.
	ReposDir string `yaml:"repos"`
	// DataDir is the root directory for index databases.
	DataDir string `yaml:"data"`
	// Branch is the branch exposed as revision history.
	Branch string `yaml:"branch"`
	// Realm is announced to clients during authentication.
	Realm string `yaml:"realm"`
	// MaxOpenRepos is the maximum number of repos to keep open (LRU cache size).
	MaxOpenRepos int `yaml:"max_open"`
	// IdleTTL is how long to keep idle repos open before closing.
	IdleTTL time.Duration `yaml:"idle_ttl"`
	// IndexInterval is the period of background index synchronisation.
	IndexInterval time.Duration `yaml:"index_interval"`
	// SnapshotCache is the number of revision snapshots cached per repo.
	SnapshotCache int `yaml:"snapshot_cache"`
	// AcceptRate limits new svn connections per second.
	AcceptRate  float64 `yaml:"accept_rate"`
	AcceptBurst int     `yaml:"accept_burst"`
	// MaxStringSize is the largest string item accepted from a client.
	MaxStringSize int64 `yaml:"max_string"`
	// Version is the server version string.
	Version string `yaml:"version"`
	// Debug enables debug logging.
	Debug bool `yaml:"debug"`
}

// FromEnv creates a Config from environment variables.
func FromEnv() *Config {
	return &Config{
		Listen:        getEnv("GITSVN_LISTEN", ":3690"),
		AdminListen:   getEnv("GITSVN_ADMIN_LISTEN", ":7448"),
		ReposDir:      getEnv("GITSVN_REPOS", "./repos"),
		DataDir:       getEnv("GITSVN_DATA", "./data"),
		Branch:        getEnv("GITSVN_BRANCH", "master"),
		Realm:         getEnv("GITSVN_REALM", "git-as-svn"),
		MaxOpenRepos:  getEnvInt("GITSVN_MAX_OPEN", 64),
		IdleTTL:       getEnvDuration("GITSVN_IDLE_TTL", 10*time.Minute),
		IndexInterval: getEnvDuration("GITSVN_INDEX_INTERVAL", 30*time.Second),
		SnapshotCache: getEnvInt("GITSVN_SNAPSHOT_CACHE", 1024),
		AcceptRate:    getEnvFloat("GITSVN_ACCEPT_RATE", 50),
		AcceptBurst:   getEnvInt("GITSVN_ACCEPT_BURST", 100),
		MaxStringSize: getEnvInt64("GITSVN_MAX_STRING", 64*1024*1024), // 64MB default
		Version:       getEnv("GITSVN_VERSION", "0.1.0"),
		Debug:         getEnvBool("GITSVN_DEBUG", false),
	}
}

// LoadFile overlays the YAML file at path onto cfg. Keys missing from the
// file keep their current values.
func LoadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config %s: %w", path, err)
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt64(key string, defaultVal int64) int64 {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.ParseInt(val, 10, 64); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
