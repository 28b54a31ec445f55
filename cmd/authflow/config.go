package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rendis/authflow/internal/retention"
)

// Config holds all authflow configuration.
// Priority: flags > env vars > settings.json > defaults.
type Config struct {
	ListenAddr string `json:"listen_addr"`
	DBPath     string `json:"db_path"`
	LogLevel   string `json:"log_level"`
	LogFormat  string `json:"log_format"`
	FlowsDir   string `json:"flows_dir,omitempty"`
	FPS        int    `json:"fps"`
	Record     bool   `json:"record"`
	Panel      bool   `json:"panel"`

	// Closed sessions older than RetentionMaxAge (a Go duration) are pruned
	// on RetentionSchedule while serving. An empty max age disables pruning.
	RetentionMaxAge   string `json:"retention_max_age"`
	RetentionSchedule string `json:"retention_schedule"`
}

func defaultConfig() Config {
	return Config{
		ListenAddr: ":4200",
		DBPath:     filepath.Join(authflowDir(), "authflow.db"),
		LogLevel:   "info",
		LogFormat:  "text",
		FPS:        60,
		Panel:      true,

		RetentionMaxAge:   "720h",
		RetentionSchedule: retention.DefaultSchedule,
	}
}

func authflowDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".authflow"
	}
	return filepath.Join(home, ".authflow")
}

func settingsPath() string {
	return filepath.Join(authflowDir(), "settings.json")
}

func binDir() string {
	return filepath.Join(authflowDir(), "bin")
}

func pidPath() string {
	return filepath.Join(authflowDir(), "authflow.pid")
}

func loadConfig() Config {
	return loadConfigFrom(settingsPath(), os.Getenv)
}

func loadConfigFrom(path string, getenv func(string) string) Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(path); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := getenv("AUTHFLOW_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := getenv("AUTHFLOW_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := getenv("AUTHFLOW_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := getenv("AUTHFLOW_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := getenv("AUTHFLOW_FLOWS_DIR"); v != "" {
		cfg.FlowsDir = v
	}
	if v := getenv("AUTHFLOW_FPS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.FPS = n
		}
	}
	if v := getenv("AUTHFLOW_RECORD"); v != "" {
		cfg.Record = v == "true" || v == "1"
	}
	if v := getenv("AUTHFLOW_PANEL"); v != "" {
		cfg.Panel = v == "true" || v == "1"
	}
	if v, ok := lookup(getenv, "AUTHFLOW_RETENTION_MAX_AGE"); ok {
		cfg.RetentionMaxAge = v
	}
	if v := getenv("AUTHFLOW_RETENTION_SCHEDULE"); v != "" {
		cfg.RetentionSchedule = v
	}

	return cfg
}

// configDiff describes what changed between two configurations.
type configDiff struct {
	PanelChanged    bool
	LogLevelChanged bool
	RestartNeeded   []string // fields that require a server restart
}

func diffConfigs(old, new Config) configDiff {
	var d configDiff
	if old.Panel != new.Panel {
		d.PanelChanged = true
	}
	if old.LogLevel != new.LogLevel {
		d.LogLevelChanged = true
	}
	if old.ListenAddr != new.ListenAddr {
		d.RestartNeeded = append(d.RestartNeeded, "listen_addr")
	}
	if old.DBPath != new.DBPath {
		d.RestartNeeded = append(d.RestartNeeded, "db_path")
	}
	if old.LogFormat != new.LogFormat {
		d.RestartNeeded = append(d.RestartNeeded, "log_format")
	}
	if old.FlowsDir != new.FlowsDir {
		d.RestartNeeded = append(d.RestartNeeded, "flows_dir")
	}
	if old.FPS != new.FPS {
		d.RestartNeeded = append(d.RestartNeeded, "fps")
	}
	if old.RetentionMaxAge != new.RetentionMaxAge || old.RetentionSchedule != new.RetentionSchedule {
		d.RestartNeeded = append(d.RestartNeeded, "retention")
	}
	return d
}

// lookup treats "off" as an explicit empty value so env can disable a
// setting the file enables.
func lookup(getenv func(string) string, key string) (string, bool) {
	switch v := getenv(key); v {
	case "":
		return "", false
	case "off":
		return "", true
	default:
		return v, true
	}
}

// retentionPolicy converts the retention settings. ok is false when pruning
// is disabled.
func (c Config) retentionPolicy() (p retention.Policy, ok bool, err error) {
	if c.RetentionMaxAge == "" {
		return retention.Policy{}, false, nil
	}
	age, err := time.ParseDuration(c.RetentionMaxAge)
	if err != nil {
		return retention.Policy{}, false, fmt.Errorf("retention_max_age: %w", err)
	}
	return retention.Policy{Schedule: c.RetentionSchedule, MaxAge: age, Vacuum: true}, true, nil
}
