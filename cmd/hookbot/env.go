// cmd/hookbot/env.go
package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// requiredEnv lists the variables the bot cannot start without
var requiredEnv = []string{"BOT_TOKEN"}

// optionalEnv lists the variables check-env reports on
var optionalEnv = []string{
	"OWNER_IDS",
	"DATABASE_DRIVER",
	"DATABASE_URL",
	"SETTINGS_PATH",
	"LOG_LEVEL",
	"LOG_FORMAT",
	"LOG_PATH",
	"STATUS_PORT",
	"AUDIT_CHANNEL_ID",
	"OWNER_REFRESH_SCHEDULE",
}

// GetEnvString gets a string from environment variables with a default value
func GetEnvString(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// GetEnvInt gets an integer from environment variables with a default value
func GetEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// GetEnvBool gets a boolean from environment variables with a default value
func GetEnvBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// GetEnvStringSlice gets a comma separated list with a default value
func GetEnvStringSlice(key string, defaultValue []string) []string {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// LoadDotEnv loads .env files into the process environment. A missing
// file is not an error.
func LoadDotEnv(files ...string) error {
	var existing []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	if err := godotenv.Load(existing...); err != nil {
		return fmt.Errorf("loading %s: %w", strings.Join(existing, ", "), err)
	}
	return nil
}

// EnvStatus reports which known variables are set
type EnvStatus struct {
	Name     string
	Set      bool
	Required bool
}

// CheckEnv lists required then optional variables with their status
func CheckEnv() []EnvStatus {
	out := make([]EnvStatus, 0, len(requiredEnv)+len(optionalEnv))
	for _, name := range requiredEnv {
		_, set := os.LookupEnv(name)
		out = append(out, EnvStatus{Name: name, Set: set, Required: true})
	}
	for _, name := range optionalEnv {
		_, set := os.LookupEnv(name)
		out = append(out, EnvStatus{Name: name, Set: set})
	}
	return out
}
