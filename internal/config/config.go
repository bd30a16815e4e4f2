// Package config loads the bot configuration from a YAML file with
// environment overrides, the way the rest of the stack expects it:
// viper for reading, godotenv for .env files, gookit/validate for checks.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gookit/validate"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	botvalidate "github.com/prilive-com/ezsticker/internal/validate"
	"github.com/prilive-com/ezsticker/tg"
)

// ErrConfigMissing is returned when the configuration file does not exist.
// The bot must not start without it.
var ErrConfigMissing = errors.New("ezsticker: configuration file missing")

// Telegram holds Bot API transport settings.
type Telegram struct {
	BaseURL        string        `mapstructure:"base_url" validate:"required"`
	PollingTimeout int           `mapstructure:"polling_timeout" validate:"min:0|max:60"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" validate:"required|min:1"`
	GlobalRPS      float64       `mapstructure:"global_rps" validate:"required"`
	PerChatRPS     float64       `mapstructure:"per_chat_rps" validate:"required"`
}

// Cooldown holds the per-user rate limit.
type Cooldown struct {
	MaxUses int           `mapstructure:"max_uses" validate:"required|min:1"`
	Window  time.Duration `mapstructure:"window" validate:"required|min:1"`
}

// Media holds limits for incoming files and URL fetching.
type Media struct {
	MaxFileSize     int64         `mapstructure:"max_file_size" validate:"required|min:1"`
	HeadTimeout     time.Duration `mapstructure:"head_timeout" validate:"required|min:1"`
	FetchTimeout    time.Duration `mapstructure:"fetch_timeout" validate:"required|min:1"`
	DeliveryTimeout time.Duration `mapstructure:"delivery_timeout" validate:"required|min:1"`
	TempDir         string        `mapstructure:"temp_dir"`
	FFmpegPath      string        `mapstructure:"ffmpeg_path" validate:"required"`
	FFprobePath     string        `mapstructure:"ffprobe_path" validate:"required"`
	CacheSizeMB     int           `mapstructure:"cache_size_mb"`
	CacheTTL        time.Duration `mapstructure:"cache_ttl"`
}

// Broadcast holds the admin broadcast throttling.
type Broadcast struct {
	BatchSize         int           `mapstructure:"batch_size" validate:"required|min:1"`
	Interval          time.Duration `mapstructure:"interval" validate:"required|min:1"`
	StartDelay        time.Duration `mapstructure:"start_delay"`
	OverrideOptOut    bool          `mapstructure:"override_opt_out"`
	SendOptOutMessage bool          `mapstructure:"send_opt_out_message"`
}

// Donate holds donation settings shown by /donate.
type Donate struct {
	SuggestInterval int    `mapstructure:"suggest_interval" validate:"min:0"`
	PayPal          string `mapstructure:"paypal"`
	CashApp         string `mapstructure:"cashapp"`
	BTC             string `mapstructure:"btc"`
	ETH             string `mapstructure:"eth"`
}

// Links holds the URLs behind the /info buttons and the share result.
type Links struct {
	ContactDev string `mapstructure:"contact_dev"`
	Source     string `mapstructure:"source"`
	Rate       string `mapstructure:"rate"`
	ShareThumb string `mapstructure:"share_thumb"`
}

// Storage selects and configures the user store backend.
type Storage struct {
	Driver       string        `mapstructure:"driver" validate:"required|in:file,postgres"`
	FilePath     string        `mapstructure:"file_path"`
	SaveInterval time.Duration `mapstructure:"save_interval" validate:"required|min:1"`
	DatabaseDSN  string        `mapstructure:"database_dsn"`
}

// Handler configures update dispatch.
type Handler struct {
	Workers int `mapstructure:"workers" validate:"required|min:1"`
}

// Log configures the slog handler.
type Log struct {
	Level  string `mapstructure:"level" validate:"required|in:debug,info,warn,error"`
	Format string `mapstructure:"format" validate:"required|in:text,json"`
	File   string `mapstructure:"file"`
}

// Metrics configures the Prometheus listener.
type Metrics struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

// Config is the full bot configuration.
type Config struct {
	Token          tg.SecretToken `mapstructure:"token" validate:"required|botToken"`
	Admins         []int64        `mapstructure:"admins"`
	AllowedChatIDs []int64        `mapstructure:"allowed_chat_ids"`

	Telegram  Telegram  `mapstructure:"telegram"`
	Cooldown  Cooldown  `mapstructure:"cooldown"`
	Media     Media     `mapstructure:"media"`
	Broadcast Broadcast `mapstructure:"broadcast"`
	Donate    Donate    `mapstructure:"donate"`
	Links     Links     `mapstructure:"links"`
	Storage   Storage   `mapstructure:"storage"`
	Handler   Handler   `mapstructure:"handler"`
	Log       Log       `mapstructure:"log"`
	Metrics   Metrics   `mapstructure:"metrics"`

	Path string `mapstructure:"-"`
}

// IsAdmin reports whether userID may run admin commands.
func (c *Config) IsAdmin(userID int64) bool {
	for _, id := range c.Admins {
		if id == userID {
			return true
		}
	}
	return false
}

// ChatAllowed reports whether the bot may answer in chatID. An empty
// allow-list admits every chat.
func (c *Config) ChatAllowed(chatID int64) bool {
	if len(c.AllowedChatIDs) == 0 {
		return true
	}
	for _, id := range c.AllowedChatIDs {
		if id == chatID {
			return true
		}
	}
	return false
}

var envBindings = map[string]string{
	"token":                  "EZSTICKER_TOKEN",
	"admins":                 "EZSTICKER_ADMINS",
	"telegram.base_url":      "EZSTICKER_TELEGRAM_BASE_URL",
	"storage.driver":         "EZSTICKER_STORAGE_DRIVER",
	"storage.file_path":      "EZSTICKER_STORAGE_FILE_PATH",
	"storage.database_dsn":   "EZSTICKER_DATABASE_DSN",
	"log.level":              "EZSTICKER_LOG_LEVEL",
	"log.format":             "EZSTICKER_LOG_FORMAT",
	"log.file":               "EZSTICKER_LOG_FILE",
	"metrics.enabled":        "EZSTICKER_METRICS_ENABLED",
	"metrics.listen":         "EZSTICKER_METRICS_LISTEN",
	"handler.workers":        "EZSTICKER_WORKERS",
	"media.ffmpeg_path":      "EZSTICKER_FFMPEG_PATH",
	"media.ffprobe_path":     "EZSTICKER_FFPROBE_PATH",
	"broadcast.batch_size":   "EZSTICKER_BROADCAST_BATCH_SIZE",
	"broadcast.interval":     "EZSTICKER_BROADCAST_INTERVAL",
	"cooldown.max_uses":      "EZSTICKER_COOLDOWN_MAX_USES",
	"cooldown.window":        "EZSTICKER_COOLDOWN_WINDOW",
	"media.delivery_timeout": "EZSTICKER_DELIVERY_TIMEOUT",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("telegram.base_url", "https://api.telegram.org")
	v.SetDefault("telegram.polling_timeout", 30)
	v.SetDefault("telegram.request_timeout", "60s")
	v.SetDefault("telegram.global_rps", 30)
	v.SetDefault("telegram.per_chat_rps", 1)

	v.SetDefault("cooldown.max_uses", 5)
	v.SetDefault("cooldown.window", "10m")

	v.SetDefault("media.max_file_size", 5<<20)
	v.SetDefault("media.head_timeout", "3s")
	v.SetDefault("media.fetch_timeout", "15s")
	v.SetDefault("media.delivery_timeout", "30s")
	v.SetDefault("media.ffmpeg_path", "ffmpeg")
	v.SetDefault("media.ffprobe_path", "ffprobe")
	v.SetDefault("media.cache_size_mb", 16)
	v.SetDefault("media.cache_ttl", "24h")

	v.SetDefault("broadcast.batch_size", 20)
	v.SetDefault("broadcast.interval", "15s")
	v.SetDefault("broadcast.start_delay", "2s")
	v.SetDefault("broadcast.send_opt_out_message", true)

	v.SetDefault("donate.suggest_interval", 50)

	v.SetDefault("storage.driver", "file")
	v.SetDefault("storage.file_path", "users.json.zst")
	v.SetDefault("storage.save_interval", "60s")

	v.SetDefault("handler.workers", 10)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("metrics.listen", ":9090")
}

// Load reads the configuration at path. A .env file next to it, or in the
// working directory, is loaded first so its variables can override the file.
func Load(path string) (*Config, error) {
	if err := loadDotenv(filepath.Join(filepath.Dir(path), ".env")); err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrConfigMissing, path)
		}
		return nil, fmt.Errorf("ezsticker: stat config: %w", err)
	}

	v := viper.New()
	filename := filepath.Base(path)
	v.AddConfigPath(filepath.Dir(path))
	v.SetConfigName(strings.TrimSuffix(filename, filepath.Ext(filename)))
	v.SetConfigType("yaml")
	setDefaults(v)

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("ezsticker: bind %s: %w", env, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("%w: %s", ErrConfigMissing, path)
		}
		return nil, fmt.Errorf("ezsticker: read config: %w", err)
	}

	var conf Config
	if err := v.Unmarshal(&conf); err != nil {
		return nil, fmt.Errorf("ezsticker: unable to decode into config struct: %w", err)
	}
	conf.Path = path

	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return &conf, nil
}

func loadDotenv(path string) error {
	for _, p := range []string{path, ".env"} {
		err := godotenv.Load(p)
		if err == nil || errors.Is(err, fs.ErrNotExist) {
			continue
		}
		return fmt.Errorf("ezsticker: load %s: %w", p, err)
	}
	return nil
}

// Validate checks the struct tags plus the cross-field rules tags cannot
// express.
func (c *Config) Validate() error {
	v := validate.Struct(c)
	v.AddValidator("botToken", func(val any) bool {
		switch t := val.(type) {
		case tg.SecretToken:
			return botvalidate.Token(t.Value()) == nil
		case string:
			return botvalidate.Token(t) == nil
		}
		return false
	})
	if !v.Validate() {
		return fmt.Errorf("ezsticker: invalid configuration: %s", v.Errors.One())
	}

	switch c.Storage.Driver {
	case "file":
		if c.Storage.FilePath == "" {
			return errors.New("ezsticker: invalid configuration: storage.file_path is required for the file driver")
		}
	case "postgres":
		if c.Storage.DatabaseDSN == "" {
			return errors.New("ezsticker: invalid configuration: storage.database_dsn is required for the postgres driver")
		}
	}
	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		return errors.New("ezsticker: invalid configuration: metrics.listen is required when metrics are enabled")
	}
	return nil
}
