package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the base server configuration.
type Config struct {
	Host         string
	Port         string
	SQLiteDBPath string

	// HubSecret signs license keys and admin JWTs. Required, >= 32 chars.
	HubSecret string

	// AdminPassword gates POST /v1/auth/login. Empty disables admin login.
	AdminPassword string

	JWTAccessTokenExpirySec  int
	JWTRefreshTokenExpirySec int

	// ServerBaseURL resolves relative playlist item URLs on devices.
	ServerBaseURL string

	// Session timing. The idle window is derived as 3x health interval + grace.
	HealthIntervalSec int
	IdleGraceSec      int
	WriteTimeoutSec   int
	ControlQueueSize  int
	StreamQueueSize   int
	ScreencastMaxFPS  int

	// License enforcement.
	LicenseGraceDays   int
	FreeTierMaxDevices int

	// Device client cadences.
	ScreenshotIntervalSec int

	// Retention.
	AuditRetentionDays      int
	ScreenshotKeepPerDevice int
}

// fileConfig mirrors the env keys for the optional YAML overlay file.
type fileConfig struct {
	Host                    *string `yaml:"host"`
	Port                    *string `yaml:"port"`
	SQLiteDBPath            *string `yaml:"sqlite_db_path"`
	HubSecret               *string `yaml:"hub_secret"`
	AdminPassword           *string `yaml:"admin_password"`
	ServerBaseURL           *string `yaml:"server_base_url"`
	HealthIntervalSec       *int    `yaml:"health_interval_seconds"`
	LicenseGraceDays        *int    `yaml:"license_grace_days"`
	FreeTierMaxDevices      *int    `yaml:"free_tier_max_devices"`
	ScreenshotIntervalSec   *int    `yaml:"screenshot_interval_seconds"`
	AuditRetentionDays      *int    `yaml:"audit_retention_days"`
	ScreenshotKeepPerDevice *int    `yaml:"screenshot_keep_per_device"`
}

// Load reads configuration from the optional YAML file named by
// SIGNAGE_CONFIG, then environment variables, then defaults. Env wins.
func Load() (Config, error) {
	var overlay fileConfig
	if path := os.Getenv("SIGNAGE_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &overlay); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg := Config{
		Host:                     envString("HOST", strDefault(overlay.Host, "0.0.0.0")),
		Port:                     envString("PORT", strDefault(overlay.Port, "9000")),
		SQLiteDBPath:             envString("SQLITE_DB_PATH", strDefault(overlay.SQLiteDBPath, "./data/signage-hub.db")),
		HubSecret:                envString("HUB_SECRET", strDefault(overlay.HubSecret, "")),
		AdminPassword:            envString("ADMIN_PASSWORD", strDefault(overlay.AdminPassword, "")),
		JWTAccessTokenExpirySec:  envInt("JWT_ACCESS_TOKEN_EXPIRY", 3600),
		JWTRefreshTokenExpirySec: envInt("JWT_REFRESH_TOKEN_EXPIRY", 2592000),
		ServerBaseURL:            envString("SERVER_BASE_URL", strDefault(overlay.ServerBaseURL, "http://localhost:9000")),
		HealthIntervalSec:        envInt("HEALTH_INTERVAL_SECONDS", intDefault(overlay.HealthIntervalSec, 60)),
		IdleGraceSec:             envInt("IDLE_GRACE_SECONDS", 30),
		WriteTimeoutSec:          envInt("WRITE_TIMEOUT_SECONDS", 10),
		ControlQueueSize:         envInt("CONTROL_QUEUE_SIZE", 32),
		StreamQueueSize:          envInt("STREAM_QUEUE_SIZE", 256),
		ScreencastMaxFPS:         envInt("SCREENCAST_MAX_FPS", 15),
		LicenseGraceDays:         envInt("LICENSE_GRACE_DAYS", intDefault(overlay.LicenseGraceDays, 7)),
		FreeTierMaxDevices:       envInt("FREE_TIER_MAX_DEVICES", intDefault(overlay.FreeTierMaxDevices, 3)),
		ScreenshotIntervalSec:    envInt("SCREENSHOT_INTERVAL_SECONDS", intDefault(overlay.ScreenshotIntervalSec, 30)),
		AuditRetentionDays:       envInt("AUDIT_RETENTION_DAYS", intDefault(overlay.AuditRetentionDays, 30)),
		ScreenshotKeepPerDevice:  envInt("SCREENSHOT_KEEP_PER_DEVICE", intDefault(overlay.ScreenshotKeepPerDevice, 20)),
	}

	if len(strings.TrimSpace(cfg.HubSecret)) < 32 {
		return Config{}, fmt.Errorf("HUB_SECRET must be at least 32 characters")
	}

	return cfg, nil
}

func strDefault(override *string, fallback string) string {
	if override != nil {
		return *override
	}
	return fallback
}

func intDefault(override *int, fallback int) int {
	if override != nil {
		return *override
	}
	return fallback
}

func envString(key, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func envInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}
