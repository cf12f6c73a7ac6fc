package config

import (
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		APIPort int `yaml:"api_port"`
	} `yaml:"server"`

	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`

	Backup struct {
		Enabled       bool   `yaml:"enabled"`
		IntervalHours int    `yaml:"interval_hours"`
		Path          string `yaml:"path"`
		RetentionDays int    `yaml:"retention_days"`
	} `yaml:"backup"`

	Redis struct {
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`

	Auth struct {
		AdminUsername     string `yaml:"admin_username"`
		AdminPassword     string `yaml:"admin_password"`
		RememberDays      int    `yaml:"remember_days"`
		LoginRatePerMin   int    `yaml:"login_rate_per_min"`
		LoginBurst        int    `yaml:"login_burst"`
		CodeExpiryMinutes int    `yaml:"code_expiry_minutes"`
	} `yaml:"auth"`

	Reminders struct {
		Language        string `yaml:"language"`
		SnoozeMinutes   int    `yaml:"snooze_minutes"`
		EscalateMinutes int    `yaml:"escalate_minutes"`
	} `yaml:"reminders"`

	Telegram struct {
		BotToken        string `yaml:"bot_token"`
		CaregiverChatID int64  `yaml:"caregiver_chat_id"`
	} `yaml:"telegram"`

	Monitoring struct {
		HealthCheckPort   int  `yaml:"health_check_port"`
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
		PrometheusPort    int  `yaml:"prometheus_port"`
	} `yaml:"monitoring"`

	Audit struct {
		Enabled       bool   `yaml:"enabled"`
		ExportPath    string `yaml:"export_path"`
		RetentionDays int    `yaml:"retention_days"`
	} `yaml:"audit"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		path = "configs/config.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Support ${ENV_VAR} placeholders in YAML config.
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	if cfg.Database.Path == "" {
		cfg.Database.Path = "data/careplus.db"
	}

	if err = os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		return nil, err
	}

	if cfg.Server.APIPort == 0 {
		cfg.Server.APIPort = 8080
	}
	if cfg.Auth.RememberDays <= 0 {
		cfg.Auth.RememberDays = 30
	}
	if cfg.Auth.LoginRatePerMin <= 0 {
		cfg.Auth.LoginRatePerMin = 10
	}
	if cfg.Auth.LoginBurst <= 0 {
		cfg.Auth.LoginBurst = 5
	}
	if cfg.Auth.CodeExpiryMinutes <= 0 {
		cfg.Auth.CodeExpiryMinutes = 10
	}
	if cfg.Reminders.Language == "" {
		cfg.Reminders.Language = "en"
	}
	if cfg.Reminders.SnoozeMinutes <= 0 {
		cfg.Reminders.SnoozeMinutes = 5
	}
	if cfg.Reminders.EscalateMinutes <= 0 {
		cfg.Reminders.EscalateMinutes = 10
	}

	return &cfg, nil
}

func (c *Config) SnoozeDelay() time.Duration {
	return time.Duration(c.Reminders.SnoozeMinutes) * time.Minute
}

func (c *Config) EscalateAfter() time.Duration {
	return time.Duration(c.Reminders.EscalateMinutes) * time.Minute
}

func (c *Config) RememberTokenTTL() time.Duration {
	return time.Duration(c.Auth.RememberDays) * 24 * time.Hour
}
