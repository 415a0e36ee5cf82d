package config

import (
	"strings"

	logx "modbot/pkg/logx"
)

// Change summarises the difference between two configs. Fields never carry
// the token itself.
type Change struct {
	Sections []string
	Fields   []logx.Field
	// RestartRequired is set when credentials changed; those are read once
	// at startup.
	RestartRequired bool
}

func Diff(oldCfg, newCfg *Config) Change {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var c Change

	if oldCfg.Telegram.Token != newCfg.Telegram.Token ||
		oldCfg.Telegram.AdminID != newCfg.Telegram.AdminID ||
		strings.TrimSpace(oldCfg.Telegram.PollTimeout) != strings.TrimSpace(newCfg.Telegram.PollTimeout) {
		c.Sections = append(c.Sections, "telegram")
		c.RestartRequired = true
		c.Fields = append(c.Fields,
			logx.Bool("telegram.token_changed", oldCfg.Telegram.Token != newCfg.Telegram.Token),
			logx.Bool("telegram.admin_changed", oldCfg.Telegram.AdminID != newCfg.Telegram.AdminID),
		)
	}
	if oldCfg.Logging != newCfg.Logging {
		c.Sections = append(c.Sections, "logging")
		c.Fields = append(c.Fields,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
			logx.Bool("logging.admin", newCfg.Logging.Admin.Enabled),
		)
	}
	if oldCfg.Commands != newCfg.Commands {
		c.Sections = append(c.Sections, "commands")
		c.RestartRequired = true
	}
	if strings.TrimSpace(oldCfg.Report.Schedule) != strings.TrimSpace(newCfg.Report.Schedule) {
		c.Sections = append(c.Sections, "report")
		c.Fields = append(c.Fields, logx.String("report.schedule", newCfg.Report.Schedule))
	}
	return c
}

// LogConfig maps the logging section onto logx.
func (l LoggingConfig) LogConfig() logx.Config {
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
		Admin: logx.AdminConfig{
			Enabled:    l.Admin.Enabled,
			MinLevel:   l.Admin.MinLevel,
			RatePerSec: l.Admin.RatePerSec,
		},
	}
}
