// cmd/hookbot/guildstore.go
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Configurable option keys
const (
	ConfigPrefix  = "prefix"
	ConfigPrivate = "private"
)

var (
	ErrStoreNotInitialized = errors.New("guild store not initialized")
	ErrUnknownOption       = errors.New("unknown configuration option")
)

const (
	defaultQueryTimeout = 10 * time.Second
	prefixCacheTTL      = 10 * time.Minute
	prefixCacheSize     = 10000
)

const createGuildConfigTable = `
CREATE TABLE IF NOT EXISTS guild_config (
	guild_id         TEXT PRIMARY KEY,
	prefix           TEXT,
	commands_private BOOLEAN NOT NULL DEFAULT FALSE
)`

// Configurable describes one per guild option
type Configurable struct {
	Name        string
	Description string
	Column      string
	Type        ArgType
}

// Configurables lists every option the config command exposes
var Configurables = []Configurable{
	{
		Name:        ConfigPrefix,
		Description: "Prefix specific to server, mention prefix will always work.",
		Column:      "prefix",
		Type:        ArgString,
	},
	{
		Name:        ConfigPrivate,
		Description: "Make certain sensitive commands private to server moderators.",
		Column:      "commands_private",
		Type:        ArgBool,
	},
}

// LookupConfigurable finds an option by name
func LookupConfigurable(name string) (Configurable, bool) {
	for _, c := range Configurables {
		if c.Name == name {
			return c, true
		}
	}
	return Configurable{}, false
}

// Parse converts raw user input into the option's stored value
func (c Configurable) Parse(raw string) (interface{}, error) {
	switch c.Type {
	case ArgBool:
		return parseBool(raw)
	default:
		return raw, nil
	}
}

// Format renders a stored value for display
func (c Configurable) Format(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return "None"
	case bool:
		if v {
			return "yes"
		}
		return "no"
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

// GuildStore persists per guild configuration
type GuildStore struct {
	db       *sqlx.DB
	prefixes *Cache
}

// OpenGuildStore connects to driver ("sqlite3" or "postgres") and migrates
// the schema.
func OpenGuildStore(driver, dsn string) (*GuildStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("guild store: empty dsn")
	}
	if driver == "sqlite3" {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, fmt.Errorf("guild store: creating dir: %w", err)
		}
	}

	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("guild store: connect %s: %w", driver, err)
	}
	if driver == "sqlite3" {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	if _, err := db.Exec(createGuildConfigTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("guild store: migrate guild_config: %w", err)
	}

	return &GuildStore{
		db:       db,
		prefixes: NewCache(prefixCacheTTL, prefixCacheSize),
	}, nil
}

// Close releases the connection pool
func (s *GuildStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	s.prefixes.Close()
	return s.db.Close()
}

// Ensure creates the guild's row if it is missing
func (s *GuildStore) Ensure(ctx context.Context, guildID string) error {
	if s == nil || s.db == nil {
		return ErrStoreNotInitialized
	}
	ctx, cancel := context.WithTimeout(ctx, defaultQueryTimeout)
	defer cancel()

	query := s.db.Rebind(`INSERT INTO guild_config (guild_id) VALUES (?) ON CONFLICT (guild_id) DO NOTHING`)
	if _, err := s.db.ExecContext(ctx, query, guildID); err != nil {
		return fmt.Errorf("ensure guild %s: %w", guildID, err)
	}
	return nil
}

// Get returns an option's stored value: a string (or nil) for text
// options and a bool for boolean ones.
func (s *GuildStore) Get(ctx context.Context, guildID, option string) (interface{}, error) {
	if s == nil || s.db == nil {
		return nil, ErrStoreNotInitialized
	}
	c, ok := LookupConfigurable(option)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownOption, option)
	}
	ctx, cancel := context.WithTimeout(ctx, defaultQueryTimeout)
	defer cancel()

	// Column names come from Configurables, never from input.
	query := s.db.Rebind(fmt.Sprintf(`SELECT %s FROM guild_config WHERE guild_id = ?`, c.Column))

	switch c.Type {
	case ArgBool:
		var v bool
		err := s.db.GetContext(ctx, &v, query, guildID)
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		if err != nil {
			return nil, fmt.Errorf("get %s for guild %s: %w", option, guildID, err)
		}
		return v, nil
	default:
		var v sql.NullString
		err := s.db.GetContext(ctx, &v, query, guildID)
		if errors.Is(err, sql.ErrNoRows) || (err == nil && !v.Valid) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("get %s for guild %s: %w", option, guildID, err)
		}
		return v.String, nil
	}
}

// Set stores an already parsed value
func (s *GuildStore) Set(ctx context.Context, guildID, option string, value interface{}) error {
	if s == nil || s.db == nil {
		return ErrStoreNotInitialized
	}
	c, ok := LookupConfigurable(option)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownOption, option)
	}
	ctx, cancel := context.WithTimeout(ctx, defaultQueryTimeout)
	defer cancel()

	query := s.db.Rebind(fmt.Sprintf(
		`INSERT INTO guild_config (guild_id, %[1]s) VALUES (?, ?)
		ON CONFLICT (guild_id) DO UPDATE SET %[1]s = excluded.%[1]s`, c.Column))
	if _, err := s.db.ExecContext(ctx, query, guildID, value); err != nil {
		return fmt.Errorf("set %s for guild %s: %w", option, guildID, err)
	}

	if option == ConfigPrefix {
		s.prefixes.Delete(guildID)
	}
	return nil
}

// Bool reads a boolean option; it satisfies SettingsReader
func (s *GuildStore) Bool(ctx context.Context, guildID, key string) (bool, error) {
	v, err := s.Get(ctx, guildID, key)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("option %s is not a boolean", key)
	}
	return b, nil
}

// Prefix returns the guild's custom prefix, or "" when none is set.
// Lookups are cached; a failed read is not.
func (s *GuildStore) Prefix(ctx context.Context, guildID string) (string, error) {
	if guildID == "" {
		return "", nil
	}
	if v, ok := s.prefixes.Get(guildID); ok {
		return v.(string), nil
	}
	v, err := s.Get(ctx, guildID, ConfigPrefix)
	if err != nil {
		return "", err
	}
	prefix, _ := v.(string)
	s.prefixes.Set(guildID, prefix)
	return prefix, nil
}

// Delete removes everything stored for a guild
func (s *GuildStore) Delete(ctx context.Context, guildID string) error {
	if s == nil || s.db == nil {
		return ErrStoreNotInitialized
	}
	ctx, cancel := context.WithTimeout(ctx, defaultQueryTimeout)
	defer cancel()

	query := s.db.Rebind(`DELETE FROM guild_config WHERE guild_id = ?`)
	if _, err := s.db.ExecContext(ctx, query, guildID); err != nil {
		return fmt.Errorf("delete guild %s: %w", guildID, err)
	}
	s.prefixes.Delete(guildID)
	return nil
}

// HealthCheck pings the database
func (s *GuildStore) HealthCheck(ctx context.Context) error {
	if s == nil || s.db == nil {
		return ErrStoreNotInitialized
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.db.PingContext(ctx)
}
