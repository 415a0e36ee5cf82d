package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	yaml "go.yaml.in/yaml/v3"

	"modbot/internal/scheduler"
)

var (
	ErrMissingToken = errors.New("config: bot token is not set (BOT_TOKEN)")
	ErrMissingAdmin = errors.New("config: admin id is not set (ADMIN_ID)")
	ErrInvalidAdmin = errors.New("config: admin id must be an integer")
)

var validate = validator.New()

// envOverlay lists the variables that override the file. ADMIN_ID is read
// as text so a malformed value gets a clear error.
type envOverlay struct {
	BotToken       string `envconfig:"BOT_TOKEN"`
	AdminID        string `envconfig:"ADMIN_ID"`
	LogLevel       string `envconfig:"LOG_LEVEL"`
	LogFile        string `envconfig:"LOG_FILE"`
	ReportSchedule string `envconfig:"REPORT_SCHEDULE"`
}

// loadDotEnv reads path into the process environment. Variables already set
// win over the file. A missing file is not an error.
func loadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// decodeFile reads a JSON or YAML file into cfg, rejecting unknown fields.
// Fields absent from the file keep their current value.
func decodeFile(path string, cfg *Config) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if ext := strings.ToLower(filepath.Ext(path)); ext == ".yaml" || ext == ".yml" {
		if b, err = yamlToJSON(b); err != nil {
			return err
		}
	}

	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return fmt.Errorf("decode %s: trailing data", path)
		}
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// yamlToJSON lets YAML configs go through the same strict JSON decoder.
func yamlToJSON(data []byte) ([]byte, error) {
	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("yaml unmarshal: %w", err)
	}
	j, err := json.Marshal(stringKeys(v))
	if err != nil {
		return nil, fmt.Errorf("yaml to json: %w", err)
	}
	return j, nil
}

func stringKeys(in any) any {
	switch x := in.(type) {
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[fmt.Sprint(k)] = stringKeys(v)
		}
		return m
	case map[string]any:
		for k, v := range x {
			x[k] = stringKeys(v)
		}
		return x
	case []any:
		for i := range x {
			x[i] = stringKeys(x[i])
		}
		return x
	default:
		return in
	}
}

func applyEnv(cfg *Config) error {
	var env envOverlay
	if err := envconfig.Process("", &env); err != nil {
		return fmt.Errorf("read environment: %w", err)
	}
	if v := strings.TrimSpace(env.BotToken); v != "" {
		cfg.Telegram.Token = v
	}
	if v := strings.TrimSpace(env.AdminID); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: ADMIN_ID=%q", ErrInvalidAdmin, v)
		}
		cfg.Telegram.AdminID = id
	}
	if v := strings.TrimSpace(env.LogLevel); v != "" {
		cfg.Logging.Level = v
	}
	if v := strings.TrimSpace(env.LogFile); v != "" {
		cfg.Logging.File = LoggingFile{Enabled: true, Path: v}
	}
	if v := strings.TrimSpace(env.ReportSchedule); v != "" {
		cfg.Report.Schedule = v
	}
	return nil
}

// Validate checks cfg after normalisation. Missing credentials map to
// ErrMissingToken and ErrMissingAdmin.
func Validate(cfg *Config) error {
	cfg.Logging.Level = strings.ToLower(strings.TrimSpace(cfg.Logging.Level))
	cfg.Logging.Admin.MinLevel = strings.ToLower(strings.TrimSpace(cfg.Logging.Admin.MinLevel))

	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				switch fe.StructNamespace() {
				case "Config.Telegram.Token":
					return ErrMissingToken
				case "Config.Telegram.AdminID":
					if fe.Tag() == "required" {
						return ErrMissingAdmin
					}
					return fmt.Errorf("%w: admin id must be positive", ErrInvalidAdmin)
				}
			}
		}
		return fmt.Errorf("config: %w", err)
	}
	if _, err := ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout); err != nil {
		return err
	}
	if _, err := ParseDurationField("commands.broadcast_timeout", cfg.Commands.BroadcastTimeout); err != nil {
		return err
	}
	if s := strings.TrimSpace(cfg.Report.Schedule); s != "" {
		if err := scheduler.ValidateSpec(s); err != nil {
			return fmt.Errorf("report.schedule: %w", err)
		}
	}
	return nil
}
