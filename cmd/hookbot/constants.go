// cmd/hookbot/constants.go
package main

import "time"

// Application constants
const (
	// Application information
	AppName        = "hookbot"
	AppVersion     = "1.0.0"
	AppDescription = "Discohook's official bot."
	AppWebsite     = "https://discohook.app"

	// Default configuration
	DefaultSettingsPath = "config/hookbot.yml"
	DefaultDatabasePath = "data/hookbot.db"
	DefaultLogPath      = "logs/hookbot.log"
	DefaultPrefix       = "d."

	// Time-related constants
	DefaultSendTimeout    = 10 * time.Second
	DefaultCommandTimeout = 30 * time.Second
	DefaultOwnerCacheTTL  = 1 * time.Hour
	DefaultOwnerRefresh   = "@every 30m"
	ConfigReloadInterval  = 1 * time.Minute
	DefaultIncidentBuffer = 100

	// Discord embed limits
	MaxEmbedTitle       = 256
	MaxEmbedDescription = 4096
	MaxEmbedFields      = 25
	MaxEmbedTotal       = 6000
	MaxFieldName        = 256
	MaxFieldValue       = 1024
	MaxFooterText       = 2048
	MaxMessageLength    = 2000
	EmbedColor          = 0x5865F2

	// Default status server port; 0 disables the server
	DefaultStatusPort = 8081
)
