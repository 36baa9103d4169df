// cmd/hookbot/config.go
package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v2"
)

// Config holds process configuration read from the environment
type Config struct {
	BotToken       string
	OwnerIDs       []string // overrides the application owner as escalation target
	DatabaseDriver string
	DatabaseURL    string
	SettingsPath   string
	LogLevel       string
	LogFormat      string
	LogPath        string
	StatusPort     int
	AuditChannelID string
	OwnerRefresh   string
}

// LoadEnvConfig loads configuration from environment variables
func LoadEnvConfig() *Config {
	return &Config{
		BotToken:       GetEnvString("BOT_TOKEN", ""),
		OwnerIDs:       GetEnvStringSlice("OWNER_IDS", nil),
		DatabaseDriver: GetEnvString("DATABASE_DRIVER", "sqlite3"),
		DatabaseURL:    GetEnvString("DATABASE_URL", DefaultDatabasePath),
		SettingsPath:   GetEnvString("SETTINGS_PATH", DefaultSettingsPath),
		LogLevel:       GetEnvString("LOG_LEVEL", "info"),
		LogFormat:      GetEnvString("LOG_FORMAT", "json"),
		LogPath:        GetEnvString("LOG_PATH", DefaultLogPath),
		StatusPort:     GetEnvInt("STATUS_PORT", DefaultStatusPort),
		AuditChannelID: GetEnvString("AUDIT_CHANNEL_ID", ""),
		OwnerRefresh:   GetEnvString("OWNER_REFRESH_SCHEDULE", DefaultOwnerRefresh),
	}
}

// ValidateEnvConfig validates the environment configuration
func ValidateEnvConfig(cfg *Config) error {
	if cfg.BotToken == "" {
		return fmt.Errorf("BOT_TOKEN is required")
	}
	switch cfg.DatabaseDriver {
	case "sqlite3", "postgres":
	default:
		return fmt.Errorf("DATABASE_DRIVER must be sqlite3 or postgres, got %q", cfg.DatabaseDriver)
	}
	if cfg.StatusPort < 0 || cfg.StatusPort > 65535 {
		return fmt.Errorf("STATUS_PORT %d out of range", cfg.StatusPort)
	}
	return nil
}

// Settings is the reloadable settings file
type Settings struct {
	Permissions PermissionGroups `yaml:"permissions"`
	// GlobalPermissions must be held in a guild channel before any command
	// runs; empty means every name in Permissions.
	GlobalPermissions []string `yaml:"global_permissions"`
	IncidentBuffer    int      `yaml:"incident_buffer"`
	// LogLevel, when set, overrides LOG_LEVEL and is applied on reload
	LogLevel string `yaml:"log_level"`
}

// DefaultSettings is used when no settings file exists
func DefaultSettings() *Settings {
	return &Settings{
		Permissions:    DefaultPermissionGroups(),
		IncidentBuffer: DefaultIncidentBuffer,
	}
}

// Baseline returns the permissions the global check requires
func (s *Settings) Baseline() []string {
	if len(s.GlobalPermissions) > 0 {
		return s.GlobalPermissions
	}
	out := make([]string, 0, len(s.Permissions.Plain)+len(s.Permissions.Rich))
	out = append(out, s.Permissions.Plain...)
	return append(out, s.Permissions.Rich...)
}

// Validate rejects unknown permission names and overlapping groups
func (s *Settings) Validate() error {
	plain := make(map[string]bool, len(s.Permissions.Plain))
	for _, name := range s.Permissions.Plain {
		if !KnownPermission(name) {
			return fmt.Errorf("permissions.plain: unknown permission %q", name)
		}
		plain[name] = true
	}
	for _, name := range s.Permissions.Rich {
		if !KnownPermission(name) {
			return fmt.Errorf("permissions.rich: unknown permission %q", name)
		}
		if plain[name] {
			return fmt.Errorf("permission %q is in both plain and rich groups", name)
		}
	}
	for _, name := range s.GlobalPermissions {
		if !KnownPermission(name) {
			return fmt.Errorf("global_permissions: unknown permission %q", name)
		}
	}
	switch strings.ToLower(s.LogLevel) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("log_level: unknown level %q", s.LogLevel)
	}
	if s.IncidentBuffer < 0 {
		return fmt.Errorf("incident_buffer must not be negative")
	}
	return nil
}

// LoadSettings reads a settings file. A missing file yields the defaults;
// omitted keys keep their default values.
func LoadSettings(path string) (*Settings, error) {
	settings := DefaultSettings()

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return settings, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading settings %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, settings); err != nil {
		return nil, fmt.Errorf("parsing settings %s: %w", path, err)
	}
	if settings.IncidentBuffer == 0 {
		settings.IncidentBuffer = DefaultIncidentBuffer
	}
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings %s: %w", path, err)
	}
	return settings, nil
}
