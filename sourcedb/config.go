package sourcedb

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultMaxConns     = 3
	DefaultMaxAttempts  = 3
	DefaultRetryDelay   = 2 * time.Second
	DefaultKeepAlive    = 30 * time.Second
	defaultDialTimeout  = 30 * time.Second
	defaultSSLMode      = "require"
	defaultDatabaseName = "postgres"
	defaultPort         = "5432"
)

// Config describes how to reach the shared analytical replica holding the POS data.
type Config struct {
	Host     string
	Port     string
	Database string
	User     string
	Password string
	SSLMode  string

	MaxConns    int
	MaxAttempts int
	RetryDelay  time.Duration
	KeepAlive   time.Duration
}

// ConfigFromEnv reads SOURCE_DB_* variables. TIPSEE_DB_* names are accepted as
// fallbacks since existing deployments were provisioned with them.
func ConfigFromEnv() Config {
	return Config{
		Host:        envFirst("SOURCE_DB_HOST", "TIPSEE_DB_HOST"),
		Port:        orDefault(envFirst("SOURCE_DB_PORT", "TIPSEE_DB_PORT"), defaultPort),
		Database:    orDefault(envFirst("SOURCE_DB_NAME", "TIPSEE_DB_NAME"), defaultDatabaseName),
		User:        envFirst("SOURCE_DB_USER", "TIPSEE_DB_USER"),
		Password:    envFirst("SOURCE_DB_PASSWORD", "TIPSEE_DB_PASSWORD"),
		SSLMode:     orDefault(envFirst("SOURCE_DB_SSLMODE"), defaultSSLMode),
		MaxConns:    intFromEnv("SOURCE_DB_MAX_CONNS", DefaultMaxConns),
		MaxAttempts: intFromEnv("SOURCE_DB_MAX_ATTEMPTS", DefaultMaxAttempts),
		RetryDelay:  time.Duration(intFromEnv("SOURCE_DB_RETRY_DELAY_MS", int(DefaultRetryDelay/time.Millisecond))) * time.Millisecond,
		KeepAlive:   DefaultKeepAlive,
	}
}

// DSN renders the config as a postgres URL understood by pgx.
func (c Config) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.Password),
		Host:   net.JoinHostPort(c.Host, orDefault(c.Port, defaultPort)),
		Path:   "/" + orDefault(c.Database, defaultDatabaseName),
	}
	q := u.Query()
	q.Set("sslmode", orDefault(c.SSLMode, defaultSSLMode))
	q.Set("connect_timeout", strconv.Itoa(int(defaultDialTimeout/time.Second)))
	u.RawQuery = q.Encode()
	return u.String()
}

func (c Config) validate() error {
	if strings.TrimSpace(c.Host) == "" {
		return fmt.Errorf("source db host is empty (set SOURCE_DB_HOST)")
	}
	if strings.TrimSpace(c.User) == "" {
		return fmt.Errorf("source db user is empty (set SOURCE_DB_USER)")
	}
	return nil
}

func (c Config) withDefaults() Config {
	if c.MaxConns <= 0 {
		c.MaxConns = DefaultMaxConns
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.RetryDelay < 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	if c.KeepAlive <= 0 {
		c.KeepAlive = DefaultKeepAlive
	}
	return c
}

func envFirst(keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v
		}
	}
	return ""
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func intFromEnv(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
