package main

import (
	"os"
	"strconv"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

type Config struct {
	RedmineURL    string `yaml:"redmine_url"`
	RedmineAPIKey string `yaml:"redmine_api_key"`

	DifyAPIURL string `yaml:"dify_api_url"`
	DifyAPIKey string `yaml:"dify_api_key"`

	TeamsWebhookURL          string `yaml:"teams_webhook_url"`
	TeamsWebhookSecondaryURL string `yaml:"teams_webhook_secondary_url"`

	PollIntervalSeconds int    `yaml:"poll_interval_seconds"`
	FetchLimit          int    `yaml:"fetch_limit"`
	DBPath              string `yaml:"db_path"`

	LogLevel      string `yaml:"log_level"`
	LogFile       string `yaml:"log_file"`
	LogMaxSizeMB  int    `yaml:"log_max_size_mb"`
	LogMaxBackups int    `yaml:"log_max_backups"`

	FetchTimeoutSeconds    int `yaml:"fetch_timeout_seconds"`
	WorkflowTimeoutSeconds int `yaml:"workflow_timeout_seconds"`
	WebhookTimeoutSeconds  int `yaml:"webhook_timeout_seconds"`

	CaseRoot        string `yaml:"case_root"`
	PruneSchedule   string `yaml:"prune_schedule"`
	PruneMaxAgeDays int    `yaml:"prune_max_age_days"`

	// Status to push back to Redmine when a review is rejected. 0 disables
	// the push-back entirely.
	RedmineRejectStatusID int `yaml:"redmine_reject_status_id"`
}

func LoadConfig() Config {
	var cfg Config

	// Load from config.yaml if it exists
	configPath := "config.yaml"
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		configPath = envPath
	}
	if data, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			logrus.Fatalf("Error parsing %s: %v", configPath, err)
		}
		logrus.Infof("Loaded config from %s", configPath)
	}

	// Env vars override YAML values
	envOverride(&cfg.RedmineURL, "REDMINE_URL")
	envOverride(&cfg.RedmineAPIKey, "REDMINE_API_KEY")
	envOverride(&cfg.DifyAPIURL, "DIFY_API_URL")
	envOverride(&cfg.DifyAPIKey, "DIFY_API_KEY")
	envOverride(&cfg.TeamsWebhookURL, "TEAMS_WEBHOOK_URL")
	envOverride(&cfg.TeamsWebhookSecondaryURL, "TEAMS_WEBHOOK_SECONDARY_URL")
	envOverrideInt(&cfg.PollIntervalSeconds, "POLL_INTERVAL")
	envOverrideInt(&cfg.FetchLimit, "FETCH_LIMIT")
	envOverride(&cfg.DBPath, "DB_PATH")
	envOverride(&cfg.LogLevel, "LOG_LEVEL")
	envOverride(&cfg.LogFile, "LOG_FILE")
	envOverrideInt(&cfg.LogMaxSizeMB, "LOG_MAX_SIZE_MB")
	envOverrideInt(&cfg.LogMaxBackups, "LOG_MAX_BACKUPS")
	envOverrideInt(&cfg.FetchTimeoutSeconds, "FETCH_TIMEOUT_SECONDS")
	envOverrideInt(&cfg.WorkflowTimeoutSeconds, "WORKFLOW_TIMEOUT_SECONDS")
	envOverrideInt(&cfg.WebhookTimeoutSeconds, "WEBHOOK_TIMEOUT_SECONDS")
	envOverride(&cfg.CaseRoot, "CASE_ROOT")
	envOverride(&cfg.PruneSchedule, "PRUNE_SCHEDULE")
	envOverrideInt(&cfg.PruneMaxAgeDays, "PRUNE_MAX_AGE_DAYS")
	envOverrideInt(&cfg.RedmineRejectStatusID, "REDMINE_REJECT_STATUS_ID")

	// Defaults
	if cfg.PollIntervalSeconds == 0 {
		cfg.PollIntervalSeconds = 60
	}
	if cfg.FetchLimit == 0 {
		cfg.FetchLimit = 10
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "./reviewmon.db"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.LogMaxSizeMB == 0 {
		cfg.LogMaxSizeMB = 5
	}
	if cfg.LogMaxBackups == 0 {
		cfg.LogMaxBackups = 3
	}
	if cfg.FetchTimeoutSeconds == 0 {
		cfg.FetchTimeoutSeconds = 30
	}
	if cfg.WorkflowTimeoutSeconds == 0 {
		cfg.WorkflowTimeoutSeconds = 360
	}
	if cfg.WebhookTimeoutSeconds == 0 {
		cfg.WebhookTimeoutSeconds = 10
	}
	if cfg.PruneMaxAgeDays == 0 {
		cfg.PruneMaxAgeDays = 180
	}

	// Validate required fields
	required := map[string]string{
		"redmine_url":       cfg.RedmineURL,
		"redmine_api_key":   cfg.RedmineAPIKey,
		"dify_api_url":      cfg.DifyAPIURL,
		"dify_api_key":      cfg.DifyAPIKey,
		"teams_webhook_url": cfg.TeamsWebhookURL,
	}
	for name, val := range required {
		if val == "" {
			logrus.Fatalf("Required config '%s' is not set (via config.yaml or env var)", name)
		}
	}

	if cfg.PollIntervalSeconds < 1 {
		logrus.Fatalf("invalid poll_interval_seconds '%d': must be >= 1", cfg.PollIntervalSeconds)
	}
	if cfg.FetchLimit < 1 {
		logrus.Fatalf("invalid fetch_limit '%d': must be >= 1", cfg.FetchLimit)
	}
	if cfg.PruneMaxAgeDays < 1 {
		logrus.Fatalf("invalid prune_max_age_days '%d': must be >= 1", cfg.PruneMaxAgeDays)
	}
	if _, err := logrus.ParseLevel(cfg.LogLevel); err != nil {
		logrus.Fatalf("invalid log_level '%s': %v", cfg.LogLevel, err)
	}
	if cfg.PruneSchedule != "" {
		parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
		if _, err := parser.Parse(cfg.PruneSchedule); err != nil {
			logrus.Fatalf("invalid prune_schedule '%s': %v", cfg.PruneSchedule, err)
		}
	}

	return cfg
}

// SecondaryConfigured reports whether the secondary webhook target is set.
// Absence disables the secondary dispatch paths without error.
func (c Config) SecondaryConfigured() bool {
	return c.TeamsWebhookSecondaryURL != ""
}

func envOverride(field *string, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		*field = val
	}
}

func envOverrideInt(field *int, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.Atoi(val)
		if err != nil {
			logrus.Fatalf("invalid %s '%s': %v", envKey, val, err)
		}
		*field = parsed
	}
}
