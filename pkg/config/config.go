package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Debug        bool               `mapstructure:"debug"`
	Telegram     TelegramConfig     `mapstructure:"telegram"`
	Conversation ConversationConfig `mapstructure:"conversation"`
	Watch        WatchConfig        `mapstructure:"watch"`
	Database     DatabaseConfig     `mapstructure:"database"`
	OpenAI       OpenAIConfig       `mapstructure:"openai"`
	Notify       NotifyConfig       `mapstructure:"notify"`
}

type TelegramConfig struct {
	Token string `mapstructure:"token"`
	// AllowedIDsRaw is the comma-separated allow-list as configured.
	AllowedIDsRaw string  `mapstructure:"allowed_ids"`
	AllowedIDs    []int64 `mapstructure:"-"`
}

type ConversationConfig struct {
	StateRequestURL int `mapstructure:"state_request_url"`
}

type WatchConfig struct {
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	MaxPerUser     int           `mapstructure:"max_per_user"`
	FetchTimeout   time.Duration `mapstructure:"fetch_timeout"`
	CancelGrace    time.Duration `mapstructure:"cancel_grace"`
	RestoreOnStart bool          `mapstructure:"restore_on_start"`
}

type DatabaseConfig struct {
	// Driver is one of "sqlite", "postgres" or "memory".
	Driver     string `mapstructure:"driver"`
	SQLitePath string `mapstructure:"sqlite_path"`
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	User       string `mapstructure:"user"`
	Password   string `mapstructure:"password"`
	DBName     string `mapstructure:"dbname"`
	SSLMode    string `mapstructure:"sslmode"`
}

type OpenAIConfig struct {
	APIKey      string  `mapstructure:"api_key"`
	Model       string  `mapstructure:"model"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	Temperature float64 `mapstructure:"temperature"`
}

type NotifyConfig struct {
	RatePerSecond float64 `mapstructure:"rate_per_second"`
	Burst         int     `mapstructure:"burst"`
}

// envBindings maps config keys onto the environment variables that override them.
var envBindings = map[string]string{
	"debug":                          "DEBUG",
	"telegram.token":                 "TOKEN_API",
	"telegram.allowed_ids":           "ALLOWED_IDS",
	"conversation.state_request_url": "STATE_REQUEST_URL",
	"watch.poll_interval":            "POLL_INTERVAL",
	"watch.max_per_user":             "MAX_WATCHES_PER_USER",
	"watch.fetch_timeout":            "FETCH_TIMEOUT",
	"watch.cancel_grace":             "CANCEL_GRACE",
	"watch.restore_on_start":         "RESTORE_ON_START",
	"database.driver":                "DATABASE_DRIVER",
	"database.sqlite_path":           "SQLITE_PATH",
	"openai.api_key":                 "OPENAI_API_KEY",
	"openai.model":                   "OPENAI_MODEL",
	"notify.rate_per_second":         "NOTIFY_RATE",
}

func parseDatabaseURL(dbURL string) (DatabaseConfig, error) {
	u, err := url.Parse(dbURL)
	if err != nil {
		return DatabaseConfig{}, err
	}

	password, _ := u.User.Password()
	port := 5432 // default PostgreSQL port
	if u.Port() != "" {
		if port, err = strconv.Atoi(u.Port()); err != nil {
			return DatabaseConfig{}, fmt.Errorf("invalid port %q: %w", u.Port(), err)
		}
	}

	sslMode := u.Query().Get("sslmode")
	if sslMode == "" {
		sslMode = "disable"
	}

	// Remove leading slash from path to get database name
	dbName := strings.TrimPrefix(u.Path, "/")

	return DatabaseConfig{
		Driver:   "postgres",
		Host:     u.Hostname(),
		Port:     port,
		User:     u.User.Username(),
		Password: password,
		DBName:   dbName,
		SSLMode:  sslMode,
	}, nil
}

// ParseAllowedIDs parses a comma-separated list of user ids. Spaces are ignored.
func ParseAllowedIDs(raw string) ([]int64, error) {
	raw = strings.ReplaceAll(raw, " ", "")
	if raw == "" {
		return nil, nil
	}

	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid user id %q: %w", part, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// LoadConfig reads path when it exists (YAML, .env or any format viper knows
// by extension) and overlays environment variables. path may be empty.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	// Set default values
	v.SetDefault("debug", false)
	v.SetDefault("conversation.state_request_url", 1)
	v.SetDefault("watch.poll_interval", "60s")
	v.SetDefault("watch.max_per_user", 5)
	v.SetDefault("watch.fetch_timeout", "10s")
	v.SetDefault("watch.cancel_grace", "300ms")
	v.SetDefault("watch.restore_on_start", true)
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.sqlite_path", "pagewatch.sqlite3")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("openai.model", "gpt-3.5-turbo")
	v.SetDefault("openai.max_tokens", 150)
	v.SetDefault("openai.temperature", 0.2)
	v.SetDefault("notify.rate_per_second", 25)
	v.SetDefault("notify.burst", 5)

	// Enable environment variable support
	v.AutomaticEnv()
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config %s: %w", path, err)
			}
			// A .env file carries flat variable names; lift them onto the
			// nested keys at default priority so real env vars still win.
			for key, env := range envBindings {
				if flat := strings.ToLower(env); v.InConfig(flat) {
					v.SetDefault(key, v.Get(flat))
				}
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to stat config %s: %w", path, err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	// Check for DATABASE_URL environment variable
	if dbURL := v.GetString("DATABASE_URL"); dbURL != "" {
		dbConfig, err := parseDatabaseURL(dbURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse DATABASE_URL: %w", err)
		}
		dbConfig.SQLitePath = config.Database.SQLitePath
		config.Database = dbConfig
	}

	ids, err := ParseAllowedIDs(config.Telegram.AllowedIDsRaw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse ALLOWED_IDS: %w", err)
	}
	config.Telegram.AllowedIDs = ids

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate checks the settings the bot cannot start without.
func (c *Config) Validate() error {
	var errs []error
	if c.Telegram.Token == "" {
		errs = append(errs, errors.New("TOKEN_API is required"))
	}
	if c.Conversation.StateRequestURL <= 0 {
		errs = append(errs, fmt.Errorf("STATE_REQUEST_URL must be a positive integer distinct from the idle state 0, got %d", c.Conversation.StateRequestURL))
	}
	if c.Watch.PollInterval <= 0 {
		errs = append(errs, errors.New("poll interval must be positive"))
	}
	if c.Watch.FetchTimeout <= 0 {
		errs = append(errs, errors.New("fetch timeout must be positive"))
	}
	if c.Watch.CancelGrace <= 0 {
		errs = append(errs, errors.New("cancel grace must be positive"))
	}
	if c.Watch.MaxPerUser < 1 {
		errs = append(errs, errors.New("max watches per user must be at least 1"))
	}
	switch c.Database.Driver {
	case "sqlite", "postgres", "memory":
	default:
		errs = append(errs, fmt.Errorf("unknown database driver %q", c.Database.Driver))
	}
	if c.Notify.RatePerSecond <= 0 || c.Notify.Burst < 1 {
		errs = append(errs, errors.New("notify rate and burst must be positive"))
	}
	return errors.Join(errs...)
}
