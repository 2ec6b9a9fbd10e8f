package profile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Profile is the configuration to start main server.
type Profile struct {
	// Mode can be "prod" or "dev" or "demo"
	Mode string
	// Addr is the binding address for server
	Addr string
	// Port is the binding port for server
	Port int
	// Data is the data directory
	Data string
	// DSN points to where tps stores its own data
	DSN string
	// Driver is the database driver (sqlite or postgres)
	Driver string
	// Version is the current version of server
	Version string

	// Secret signs and verifies bearer tokens (HMAC).
	Secret string
	// Timezone is the IANA zone dashboard days and weeks are computed in.
	Timezone string // TPS_TIMEZONE (default: UTC)

	// Shared cache. Empty RedisAddr selects the in-process LRU.
	RedisAddr     string // TPS_REDIS_ADDR
	RedisPassword string // TPS_REDIS_PASSWORD
	RedisDB       int    // TPS_REDIS_DB (default: 0)
	CacheMaxItems int    // TPS_CACHE_MAX_ITEMS (default: 10000)

	// Group broker. Empty NATSURL keeps fan-out inside this process.
	NATSURL     string // TPS_NATS_URL
	NATSSubject string // TPS_NATS_SUBJECT (default: tps.groups)

	// Cache lifetimes per aggregate.
	DashboardTTL time.Duration // TPS_DASHBOARD_TTL (default: 180s)
	SystemTTL    time.Duration // TPS_SYSTEM_STATS_TTL (default: 120s)
	TeamsTTL     time.Duration // TPS_TEAMS_TTL (default: 600s)
	WorkloadTTL  time.Duration // TPS_WORKLOAD_TTL (default: 300s)

	PublishTimeout   time.Duration // TPS_PUBLISH_TIMEOUT (default: 2s)
	HandshakeTimeout time.Duration // TPS_HANDSHAKE_TIMEOUT (default: 10s)
	DispatchTimeout  time.Duration // TPS_DISPATCH_TIMEOUT (default: 5s)
	IdleTimeout      time.Duration // TPS_IDLE_TIMEOUT (default: 60s)

	// How often the system status is broadcast to the global feed.
	StatusInterval time.Duration // TPS_STATUS_INTERVAL (default: 60s)

	// Inbound frames per second allowed on a single connection.
	InboundRate  float64 // TPS_INBOUND_RATE (default: 20)
	InboundBurst int     // TPS_INBOUND_BURST (default: 40)
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// UseRedis reports whether the shared redis cache backend is configured.
func (p *Profile) UseRedis() bool {
	return p.RedisAddr != ""
}

// UseNATS reports whether group fan-out should go through the broker.
func (p *Profile) UseNATS() bool {
	return p.NATSURL != ""
}

// getEnvOrDefault returns the environment variable value or the default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnvOrDefault(key string, defaultValue int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return v
}

func getFloatEnvOrDefault(key string, defaultValue float64) float64 {
	v, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil {
		return defaultValue
	}
	return v
}

// getDurationEnvOrDefault accepts Go durations ("2s") and bare seconds ("2").
func getDurationEnvOrDefault(key string, defaultValue time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second
	}
	slog.Warn("ignoring malformed duration", slog.String("key", key), slog.String("value", raw))
	return defaultValue
}

// FromEnv loads configuration from TPS_* environment variables.
// Values already set on the profile (for example from flags) are kept.
func (p *Profile) FromEnv() {
	setString := func(dst *string, key, defaultValue string) {
		if *dst == "" {
			*dst = getEnvOrDefault(key, defaultValue)
		}
	}
	setDuration := func(dst *time.Duration, key string, defaultValue time.Duration) {
		if *dst == 0 {
			*dst = getDurationEnvOrDefault(key, defaultValue)
		}
	}

	setString(&p.Secret, "TPS_SECRET", "")
	setString(&p.Timezone, "TPS_TIMEZONE", "UTC")
	setString(&p.RedisAddr, "TPS_REDIS_ADDR", "")
	setString(&p.RedisPassword, "TPS_REDIS_PASSWORD", "")
	setString(&p.NATSURL, "TPS_NATS_URL", "")
	setString(&p.NATSSubject, "TPS_NATS_SUBJECT", "tps.groups")
	if p.RedisDB == 0 {
		p.RedisDB = getIntEnvOrDefault("TPS_REDIS_DB", 0)
	}
	if p.CacheMaxItems == 0 {
		p.CacheMaxItems = getIntEnvOrDefault("TPS_CACHE_MAX_ITEMS", 10000)
	}

	setDuration(&p.DashboardTTL, "TPS_DASHBOARD_TTL", 180*time.Second)
	setDuration(&p.SystemTTL, "TPS_SYSTEM_STATS_TTL", 120*time.Second)
	setDuration(&p.TeamsTTL, "TPS_TEAMS_TTL", 600*time.Second)
	setDuration(&p.WorkloadTTL, "TPS_WORKLOAD_TTL", 300*time.Second)
	setDuration(&p.PublishTimeout, "TPS_PUBLISH_TIMEOUT", 2*time.Second)
	setDuration(&p.HandshakeTimeout, "TPS_HANDSHAKE_TIMEOUT", 10*time.Second)
	setDuration(&p.DispatchTimeout, "TPS_DISPATCH_TIMEOUT", 5*time.Second)
	setDuration(&p.IdleTimeout, "TPS_IDLE_TIMEOUT", 60*time.Second)
	setDuration(&p.StatusInterval, "TPS_STATUS_INTERVAL", 60*time.Second)

	if p.InboundRate == 0 {
		p.InboundRate = getFloatEnvOrDefault("TPS_INBOUND_RATE", 20)
	}
	if p.InboundBurst == 0 {
		p.InboundBurst = getIntEnvOrDefault("TPS_INBOUND_BURST", 40)
	}
}

func checkDataDir(dataDir string) (string, error) {
	// Convert to absolute path if relative path is supplied.
	if !filepath.IsAbs(dataDir) {
		absDir, err := filepath.Abs(dataDir)
		if err != nil {
			return "", err
		}
		dataDir = absDir
	}

	// Trim trailing \ or / in case user supplies
	dataDir = strings.TrimRight(dataDir, "\\/")
	if _, err := os.Stat(dataDir); err != nil {
		return "", errors.Wrapf(err, "unable to access data folder %s", dataDir)
	}
	return dataDir, nil
}

func (p *Profile) Validate() error {
	if p.Mode != "demo" && p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "demo"
	}

	if p.Driver != "sqlite" && p.Driver != "postgres" {
		return errors.Errorf("unsupported driver %q", p.Driver)
	}

	if p.Mode == "prod" && p.Secret == "" {
		return errors.New("secret is required in prod mode")
	}

	if p.Driver == "sqlite" && p.DSN == "" {
		if p.Data == "" {
			p.Data = "."
		}
		dataDir, err := checkDataDir(p.Data)
		if err != nil {
			slog.Error("failed to check dsn", slog.String("data", p.Data), slog.String("error", err.Error()))
			return err
		}
		p.Data = dataDir
		p.DSN = filepath.Join(dataDir, fmt.Sprintf("tps_%s.db", p.Mode))
	}
	if p.Driver == "postgres" && p.DSN == "" {
		return errors.New("dsn is required for postgres")
	}

	if _, err := time.LoadLocation(p.Timezone); err != nil {
		return errors.Wrapf(err, "invalid timezone %q", p.Timezone)
	}

	if p.PublishTimeout <= 0 || p.HandshakeTimeout <= 0 || p.DispatchTimeout <= 0 {
		return errors.New("timeouts must be positive")
	}
	return nil
}
