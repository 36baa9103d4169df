package main

import (
	"bytes"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func writeSettings(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

// touchLater moves a file's mtime forward so reloads see it as changed
func touchLater(t *testing.T, path string, by time.Duration) {
	t.Helper()
	later := time.Now().Add(by)
	require.NoError(t, os.Chtimes(path, later, later))
}

func TestLoadSettingsMissingFileUsesDefaults(t *testing.T) {
	s, err := LoadSettings(filepath.Join(t.TempDir(), "absent.yml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultSettings(), s)
	assert.Equal(t, []string{"send_messages", "embed_links", "attach_files"}, s.Baseline())
}

func TestLoadSettingsPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hookbot.yml")
	writeSettings(t, path, "permissions:\n  rich: [embed_links]\n")

	s, err := LoadSettings(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"send_messages"}, s.Permissions.Plain)
	assert.Equal(t, []string{"embed_links"}, s.Permissions.Rich)
	assert.Equal(t, DefaultIncidentBuffer, s.IncidentBuffer)
}

func TestLoadSettingsGlobalPermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hookbot.yml")
	writeSettings(t, path, "global_permissions: [send_messages]\nincident_buffer: 10\n")

	s, err := LoadSettings(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"send_messages"}, s.Baseline())
	assert.Equal(t, 10, s.IncidentBuffer)
}

func TestLoadSettingsRejectsInvalidFiles(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"bad yaml", "permissions: [", "parsing settings"},
		{"unknown plain", "permissions:\n  plain: [shout]\n", `unknown permission "shout"`},
		{"unknown rich", "permissions:\n  rich: [glow]\n", `unknown permission "glow"`},
		{"overlap", "permissions:\n  plain: [embed_links]\n  rich: [embed_links]\n", "both plain and rich"},
		{"unknown global", "global_permissions: [fly]\n", "global_permissions"},
		{"negative buffer", "incident_buffer: -1\n", "must not be negative"},
		{"bad log level", "log_level: loud\n", "log_level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "hookbot.yml")
			writeSettings(t, path, tt.body)

			_, err := LoadSettings(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadEnvConfig(t *testing.T) {
	t.Setenv("BOT_TOKEN", "token")
	t.Setenv("OWNER_IDS", " 1, ,2 ")
	t.Setenv("STATUS_PORT", "not-a-port")
	t.Setenv("DATABASE_DRIVER", "postgres")

	cfg := LoadEnvConfig()
	assert.Equal(t, "token", cfg.BotToken)
	assert.Equal(t, []string{"1", "2"}, cfg.OwnerIDs)
	assert.Equal(t, DefaultStatusPort, cfg.StatusPort)
	assert.Equal(t, "postgres", cfg.DatabaseDriver)
	assert.NoError(t, ValidateEnvConfig(cfg))
}

func TestValidateEnvConfig(t *testing.T) {
	valid := func() *Config {
		return &Config{BotToken: "t", DatabaseDriver: "sqlite3", StatusPort: 8081}
	}

	cfg := valid()
	cfg.BotToken = ""
	assert.ErrorContains(t, ValidateEnvConfig(cfg), "BOT_TOKEN")

	cfg = valid()
	cfg.DatabaseDriver = "mysql"
	assert.ErrorContains(t, ValidateEnvConfig(cfg), "DATABASE_DRIVER")

	cfg = valid()
	cfg.StatusPort = 70000
	assert.ErrorContains(t, ValidateEnvConfig(cfg), "STATUS_PORT")

	cfg = valid()
	cfg.StatusPort = 0
	assert.NoError(t, ValidateEnvConfig(cfg))
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("HOOKBOT_TEST_INT", "42")
	t.Setenv("HOOKBOT_TEST_BOOL", "true")
	t.Setenv("HOOKBOT_TEST_BAD_BOOL", "sometimes")
	t.Setenv("HOOKBOT_TEST_EMPTY", "")

	assert.Equal(t, 42, GetEnvInt("HOOKBOT_TEST_INT", 1))
	assert.Equal(t, 1, GetEnvInt("HOOKBOT_TEST_UNSET", 1))
	assert.True(t, GetEnvBool("HOOKBOT_TEST_BOOL", false))
	assert.True(t, GetEnvBool("HOOKBOT_TEST_BAD_BOOL", true))
	assert.Equal(t, "", GetEnvString("HOOKBOT_TEST_EMPTY", "default"))
	assert.Equal(t, []string{"x"}, GetEnvStringSlice("HOOKBOT_TEST_EMPTY", []string{"x"}))
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("HOOKBOT_DOTENV_VALUE=from-file\n"), 0o644))
	t.Setenv("HOOKBOT_DOTENV_VALUE", "")
	os.Unsetenv("HOOKBOT_DOTENV_VALUE")

	require.NoError(t, LoadDotEnv(filepath.Join(dir, "missing.env"), path))
	assert.Equal(t, "from-file", os.Getenv("HOOKBOT_DOTENV_VALUE"))

	assert.NoError(t, LoadDotEnv(filepath.Join(dir, "missing.env")))
}

func TestCheckEnvAndReport(t *testing.T) {
	t.Setenv("BOT_TOKEN", "")
	os.Unsetenv("BOT_TOKEN")

	statuses := CheckEnv()
	require.NotEmpty(t, statuses)
	assert.Equal(t, EnvStatus{Name: "BOT_TOKEN", Required: true}, statuses[0])

	var out bytes.Buffer
	err := reportEnv(&out, statuses)
	assert.ErrorContains(t, err, "BOT_TOKEN")

	t.Setenv("BOT_TOKEN", "token")
	out.Reset()
	require.NoError(t, reportEnv(&out, CheckEnv()))
	assert.Contains(t, out.String(), "All required environment variables are set.")
}

func TestConfigManagerReload(t *testing.T) {
	defer goleak.VerifyNone(t)

	path := filepath.Join(t.TempDir(), "config", "hookbot.yml")
	writeSettings(t, path, "permissions:\n  plain: [send_messages]\n  rich: [embed_links]\n")

	cm, err := NewConfigManager(path, 0)
	require.NoError(t, err)
	defer cm.Stop()

	var reloads atomic.Int32
	cm.SetReloadHandler(func(*Settings) { reloads.Add(1) })
	assert.Equal(t, []string{"embed_links"}, cm.Permissions().Rich)

	writeSettings(t, path, "permissions:\n  plain: [send_messages]\n  rich: [attach_files]\n")
	touchLater(t, path, time.Second)
	cm.checkAndReload()
	assert.Equal(t, []string{"attach_files"}, cm.Permissions().Rich)
	assert.Equal(t, int32(1), reloads.Load())

	// unchanged mtime is a no-op
	cm.checkAndReload()
	assert.Equal(t, int32(1), reloads.Load())

	// a broken file keeps the previous settings
	writeSettings(t, path, "permissions:\n  rich: [glow]\n")
	touchLater(t, path, 2*time.Second)
	cm.checkAndReload()
	assert.Equal(t, []string{"attach_files"}, cm.Permissions().Rich)
	assert.Equal(t, []string{"send_messages", "attach_files"}, cm.Baseline())
	assert.Equal(t, int32(1), reloads.Load())
}

func TestConfigManagerWatchesFile(t *testing.T) {
	defer goleak.VerifyNone(t)

	path := filepath.Join(t.TempDir(), "hookbot.yml")
	cm, err := NewConfigManager(path, 50*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, DefaultPermissionGroups(), cm.Permissions())

	cm.StartWatching()
	writeSettings(t, path, "permissions:\n  plain: [send_messages, embed_links]\n  rich: []\n")
	touchLater(t, path, time.Second)

	assert.Eventually(t, func() bool {
		return len(cm.Permissions().Plain) == 2
	}, 5*time.Second, 20*time.Millisecond)

	cm.Stop()
	assert.NotPanics(t, cm.Stop)
}
