package config

import (
	"errors"
	"io/fs"
	"net/url"
	"os"

	"github.com/joho/godotenv"
)

// Environment overrides.
const (
	EnvCollectorURL = "PROCTOR_COLLECTOR_URL"
	EnvLogLevel     = "PROCTOR_LOG_LEVEL"
	EnvBridgeAddr   = "PROCTOR_BRIDGE_ADDR"
)

// LoadDotEnv loads .env from the working directory into the process
// environment. A missing file is not an error.
func LoadDotEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// ApplyEnv overrides cfg with any PROCTOR_* variables that are set.
func ApplyEnv(cfg *Config) {
	if v := os.Getenv(EnvCollectorURL); v != "" {
		cfg.CollectorURL = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv(EnvBridgeAddr); v != "" {
		cfg.BridgeAddr = v
	}
}

// Validate checks that cfg can drive a monitoring session.
func (c Config) Validate() error {
	u, err := url.Parse(c.CollectorURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return &ValidationError{Field: "collector_url", Msg: "must be an absolute URL"}
	}
	if c.MinPasteLength < 0 {
		return &ValidationError{Field: "min_paste_length", Msg: "must not be negative"}
	}
	if c.MinAddedLines < 0 {
		return &ValidationError{Field: "min_added_lines", Msg: "must not be negative"}
	}
	intervals := map[string]Duration{
		"heartbeat_interval":   c.HeartbeatInterval,
		"block_check_interval": c.BlockCheckInterval,
		"code_sample_interval": c.CodeSampleInterval,
		"self_heal_interval":   c.SelfHealInterval,
	}
	for field, d := range intervals {
		if d <= 0 {
			return &ValidationError{Field: field, Msg: "must be positive"}
		}
	}
	for k, d := range c.Cooldowns {
		if d < 0 {
			return &ValidationError{Field: "cooldowns." + k, Msg: "must not be negative"}
		}
	}
	switch c.Screenshots {
	case ScreenshotsAll, ScreenshotsHigh, ScreenshotsOff:
	default:
		return &ValidationError{Field: "screenshots", Msg: "must be all, high or off"}
	}
	return nil
}

// ValidationError reports an out-of-range config value.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return "invalid config " + e.Field + ": " + e.Msg
}
