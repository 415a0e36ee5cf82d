package config

// Config is the full bot configuration. Secrets come from the environment;
// the optional file carries everything else.
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Commands CommandsConfig `json:"commands"`
	Report   ReportConfig   `json:"report"`
}

type TelegramConfig struct {
	Token   string `json:"token" validate:"required"`
	AdminID int64  `json:"admin_id" validate:"required,gt=0"`
	// PollTimeout is a Go duration string (e.g. "10s").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string       `json:"level" validate:"omitempty,oneof=trace debug info warn warning error"`
	Console bool         `json:"console"`
	File    LoggingFile  `json:"file"`
	Admin   LoggingAdmin `json:"admin"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingAdmin forwards WARN+ log lines to the admin's private chat.
type LoggingAdmin struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level" validate:"omitempty,oneof=trace debug info warn warning error"`
	RatePerSec int    `json:"rate_per_sec" validate:"gte=0"`
}

type CommandsConfig struct {
	Workers   int `json:"workers" validate:"gte=0"`
	QueueSize int `json:"queue_size" validate:"gte=0"`
	// BroadcastTimeout bounds one /broadcast; "0s" or empty disables it.
	BroadcastTimeout string `json:"broadcast_timeout,omitempty"`
}

// ReportConfig schedules the periodic registry summary log line.
type ReportConfig struct {
	// Schedule is a cron spec ("@hourly", "0 */6 * * *"). Empty disables it.
	Schedule string `json:"schedule"`
}

// Defaults returns the values used for fields the file and the environment
// leave unset.
func Defaults() Config {
	return Config{
		Telegram: TelegramConfig{PollTimeout: "10s"},
		Logging: LoggingConfig{
			Level:   "info",
			Console: true,
			Admin:   LoggingAdmin{MinLevel: "warn", RatePerSec: 1},
		},
		Commands: CommandsConfig{QueueSize: 256},
	}
}
