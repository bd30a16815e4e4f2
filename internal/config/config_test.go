package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prilive-com/ezsticker/internal/config"
)

const minimalYAML = `
token: "123456:secret"
admins: [42, 43]
cooldown:
  max_uses: 3
  window: 90s
broadcast:
  batch_size: 10
  interval: 15s
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func validConfig() *config.Config {
	return &config.Config{
		Token: "123456:secret",
		Telegram: config.Telegram{
			BaseURL:        "https://api.telegram.org",
			PollingTimeout: 30,
			RequestTimeout: time.Minute,
			GlobalRPS:      30,
			PerChatRPS:     1,
		},
		Cooldown: config.Cooldown{MaxUses: 5, Window: 10 * time.Minute},
		Media: config.Media{
			MaxFileSize:     5 << 20,
			HeadTimeout:     3 * time.Second,
			FetchTimeout:    15 * time.Second,
			DeliveryTimeout: 30 * time.Second,
			FFmpegPath:      "ffmpeg",
			FFprobePath:     "ffprobe",
		},
		Broadcast: config.Broadcast{BatchSize: 20, Interval: 15 * time.Second},
		Storage:   config.Storage{Driver: "file", FilePath: "/tmp/users.json.zst", SaveInterval: time.Minute},
		Handler:   config.Handler{Workers: 10},
		Log:       config.Log{Level: "info", Format: "text"},
	}
}

func TestLoad_AppliesFileAndDefaults(t *testing.T) {
	conf, err := config.Load(writeConfig(t, minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, "123456:secret", conf.Token.Value())
	assert.Equal(t, []int64{42, 43}, conf.Admins)
	assert.Equal(t, 3, conf.Cooldown.MaxUses)
	assert.Equal(t, 90*time.Second, conf.Cooldown.Window)
	assert.Equal(t, 10, conf.Broadcast.BatchSize)

	assert.Equal(t, "https://api.telegram.org", conf.Telegram.BaseURL)
	assert.Equal(t, 3*time.Second, conf.Media.HeadTimeout)
	assert.Equal(t, "file", conf.Storage.Driver)
	assert.Equal(t, 10, conf.Handler.Workers)
	assert.True(t, conf.Broadcast.SendOptOutMessage)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, config.ErrConfigMissing)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("EZSTICKER_TOKEN", "777:fromenv")
	t.Setenv("EZSTICKER_LOG_LEVEL", "debug")
	t.Setenv("EZSTICKER_WORKERS", "4")

	conf, err := config.Load(writeConfig(t, minimalYAML))
	require.NoError(t, err)
	assert.Equal(t, "777:fromenv", conf.Token.Value())
	assert.Equal(t, "debug", conf.Log.Level)
	assert.Equal(t, 4, conf.Handler.Workers)
}

func TestLoad_DotenvNextToConfig(t *testing.T) {
	path := writeConfig(t, minimalYAML)
	envFile := filepath.Join(filepath.Dir(path), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("EZSTICKER_STORAGE_FILE_PATH=/data/state.zst\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("EZSTICKER_STORAGE_FILE_PATH") })

	conf, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/data/state.zst", conf.Storage.FilePath)
}

func TestLoad_InvalidToken(t *testing.T) {
	_, err := config.Load(writeConfig(t, "token: \"not-a-token\"\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestValidate_ValidConfig(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"empty token", func(c *config.Config) { c.Token = "" }},
		{"zero max uses", func(c *config.Config) { c.Cooldown.MaxUses = 0 }},
		{"zero batch size", func(c *config.Config) { c.Broadcast.BatchSize = 0 }},
		{"unknown driver", func(c *config.Config) { c.Storage.Driver = "redis" }},
		{"bad log level", func(c *config.Config) { c.Log.Level = "verbose" }},
		{"postgres without dsn", func(c *config.Config) { c.Storage.Driver = "postgres" }},
		{"file driver without path", func(c *config.Config) { c.Storage.FilePath = "" }},
		{"metrics without listen", func(c *config.Config) { c.Metrics.Enabled = true }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestConfig_IsAdmin(t *testing.T) {
	c := validConfig()
	c.Admins = []int64{1, 2}
	assert.True(t, c.IsAdmin(2))
	assert.False(t, c.IsAdmin(3))
}

func TestConfig_ChatAllowed(t *testing.T) {
	c := validConfig()
	assert.True(t, c.ChatAllowed(99), "empty list allows all")

	c.AllowedChatIDs = []int64{5}
	assert.True(t, c.ChatAllowed(5))
	assert.False(t, c.ChatAllowed(99))
}
