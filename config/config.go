package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds everything the planit server reads from its environment.
type Config struct {
	StorageConnectionString string
	TodosTable              string
	ProjectsTable           string
	NotificationsQueue      string

	Redis            *redis.Options
	SnapshotCacheTTL time.Duration
	ArchiveTTL       time.Duration

	RetryAttempts int
	RetryDelay    time.Duration
	ToastTTL      time.Duration

	WorkspaceIdleTimeout time.Duration

	Auth0Domain   string
	Auth0Audience string
	TestMode      bool
	TestSecret    string

	ListenAddr string
	Debug      bool
}

// Load reads the configuration from the process environment.
func Load() (Config, error) {
	return load(os.Getenv)
}

func load(getenv func(string) string) (Config, error) {
	cfg := Config{
		StorageConnectionString: getenv("STORAGE_CONNECTION_STRING"),
		TodosTable:              envString(getenv, "TODOS_TABLE", "todos"),
		ProjectsTable:           envString(getenv, "PROJECTS_TABLE", "projects"),
		NotificationsQueue:      getenv("NOTIFICATIONS_QUEUE"),
		Auth0Domain:             getenv("AUTH0_DOMAIN"),
		Auth0Audience:           getenv("AUTH0_AUDIENCE"),
		TestMode:                getenv("AUTH0_TEST_MODE") == "1",
		TestSecret:              getenv("TEST_JWT_SECRET"),
		ListenAddr:              ":" + envString(getenv, "PLANIT_PORT", "8080"),
	}
	if dbg, err := strconv.ParseBool(getenv("DEBUG")); err == nil && dbg {
		cfg.Debug = true
	}
	if cfg.StorageConnectionString == "" {
		return Config{}, errors.New("missing storage config")
	}

	redisConn := getenv("REDIS_CONNECTION_STRING")
	if redisConn == "" {
		return Config{}, errors.New("missing redis config")
	}
	cfg.Redis = RedisOptions(redisConn)

	if cfg.TestMode {
		if cfg.TestSecret == "" {
			return Config{}, errors.New("TEST_JWT_SECRET must be set when AUTH0_TEST_MODE=1")
		}
	} else if cfg.Auth0Domain == "" || cfg.Auth0Audience == "" {
		return Config{}, errors.New("missing Auth0 config")
	}

	var err error
	if cfg.SnapshotCacheTTL, err = envDur(getenv, "SNAPSHOT_CACHE_TTL", 30*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.ArchiveTTL, err = envDur(getenv, "NOTIFICATION_ARCHIVE_TTL", 7*24*time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.RetryDelay, err = envDur(getenv, "POSITION_RETRY_DELAY", time.Second); err != nil {
		return Config{}, err
	}
	if cfg.ToastTTL, err = envDur(getenv, "NOTIFICATION_TOAST_TTL", 5*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.WorkspaceIdleTimeout, err = envDur(getenv, "WORKSPACE_IDLE_TIMEOUT", 30*time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.RetryAttempts, err = envInt(getenv, "POSITION_RETRY_ATTEMPTS", 2); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// JWKSURL is the key set endpoint of the configured Auth0 tenant.
func (c Config) JWKSURL() string {
	return fmt.Sprintf("https://%s/.well-known/jwks.json", c.Auth0Domain)
}

// Issuer is the expected token issuer.
func (c Config) Issuer() string {
	return "https://" + c.Auth0Domain + "/"
}

// RedisOptions accepts either a redis:// URL or the Azure Cache form
// "host:port,password=...,ssl=True".
func RedisOptions(conn string) *redis.Options {
	opts, err := redis.ParseURL(conn)
	if err == nil {
		return opts
	}
	parts := strings.Split(conn, ",")
	opts = &redis.Options{Addr: parts[0]}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(kv[0]) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.ToLower(kv[1]) == "true" {
				opts.TLSConfig = &tls.Config{}
			}
		}
	}
	return opts
}

func envString(getenv func(string) string, key, def string) string {
	if v := getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(getenv func(string) string, key string, def int) (int, error) {
	v := getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("invalid %s: must be greater than zero", key)
	}
	return n, nil
}

func envDur(getenv func(string) string, key string, def time.Duration) (time.Duration, error) {
	v := getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be greater than zero", key)
	}
	return d, nil
}
