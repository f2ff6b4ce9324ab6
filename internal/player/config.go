package player

import (
	"errors"
	"os"
	"strconv"
	"time"
)

// Config is the device client's environment configuration.
type Config struct {
	// ServerURL is the hub's HTTP base URL; the websocket and relative
	// playlist URLs derive from it.
	ServerURL string
	// Token is the opaque device token issued at registration.
	Token string
	// DebuggerURL is the kiosk browser's DevTools HTTP endpoint.
	DebuggerURL string

	HealthInterval     time.Duration
	ScreenshotInterval time.Duration
	ScreencastFPS      int
}

// LoadConfig reads the player configuration from the environment.
func LoadConfig() (Config, error) {
	cfg := Config{
		ServerURL:          envString("SIGNAGE_SERVER_URL", "http://localhost:8080"),
		Token:              os.Getenv("SIGNAGE_DEVICE_TOKEN"),
		DebuggerURL:        envString("SIGNAGE_DEBUGGER_URL", "http://127.0.0.1:9222"),
		HealthInterval:     time.Duration(envInt("SIGNAGE_HEALTH_INTERVAL_SEC", 60)) * time.Second,
		ScreenshotInterval: time.Duration(envInt("SIGNAGE_SCREENSHOT_INTERVAL_SEC", 30)) * time.Second,
		ScreencastFPS:      envInt("SIGNAGE_SCREENCAST_FPS", 10),
	}
	if cfg.Token == "" {
		return Config{}, errors.New("SIGNAGE_DEVICE_TOKEN is required")
	}
	return cfg, nil
}

func envString(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}
