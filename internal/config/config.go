package config

import (
	"errors"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds application configuration loaded from environment variables.
type Config struct {
	BotToken       string `envconfig:"BOT_TOKEN" required:"true"`
	DatabaseURI    string `envconfig:"TIMEKEEPER_DATABASE_URI" default:"sqlite:///data/timekeeper.db"` // sqlite:// or postgres://
	DefaultTZ      string `envconfig:"TIMEKEEPER_DEFAULT_TIMEZONE" default:"Asia/Tokyo"`
	Debug          string `envconfig:"TIMEKEEPER_DEBUG"` // non-empty and not "0" enables the SQL console
	LockFile       string `envconfig:"TIMEKEEPER_LOCK_FILE" default:"./data/timekeeper.lock"`
	TimesheetLimit int    `envconfig:"TIMESHEET_LIMIT" default:"30"`
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`  // debug|info|warn|error
	HTTPAddr       string `envconfig:"HTTP_ADDR" default:":8080"` // healthz
}

// DebugEnabled reports whether the insecure debug console is on.
func (c Config) DebugEnabled() bool {
	return c.Debug != "" && c.Debug != "0"
}

// Load reads an optional .env file, then environment variables, into Config.
// Variables already set in the environment win over the file.
func Load(files ...string) (Config, error) {
	var cfg Config
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return cfg, err
	}
	if err := envconfig.Process("", &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
