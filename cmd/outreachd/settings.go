package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Settings is the daemon configuration. The [outreach] table is passed
// through to core.Config untouched.
type Settings struct {
	Outreach  map[string]any   `toml:"outreach"`
	Database  DatabaseSettings `toml:"database"`
	Server    ServerSettings   `toml:"server"`
	Log       LogSettings      `toml:"log"`
	Schedules ScheduleSettings `toml:"schedules"`
	Actions   ActionSettings   `toml:"actions"`
	Webhooks  WebhookSettings  `toml:"webhooks"`
	Gmail     GmailSettings    `toml:"gmail"`
	Graph     GraphSettings    `toml:"graph"`
	Dispatch  DispatchSettings `toml:"dispatch"`
	Renewal   RenewalSettings  `toml:"renewal"`
}

type DatabaseSettings struct {
	Driver      string        `toml:"driver"`
	DSN         string        `toml:"dsn"`
	Debug       bool          `toml:"debug"`
	PingTimeout time.Duration `toml:"ping_timeout"`

	// ThreadCache fronts thread lookups with an in-process cache.
	ThreadCache    bool          `toml:"thread_cache"`
	ThreadCacheTTL time.Duration `toml:"thread_cache_ttl"`
}

func (d DatabaseSettings) GetDebug() bool    { return d.Debug }
func (d DatabaseSettings) GetDriver() string { return d.Driver }
func (d DatabaseSettings) GetServer() string { return d.DSN }
func (d DatabaseSettings) GetPingTimeout() time.Duration {
	if d.PingTimeout <= 0 {
		return 5 * time.Second
	}
	return d.PingTimeout
}
func (DatabaseSettings) GetOtelIdentifier() string { return "outreachd" }

type ServerSettings struct {
	Addr            string        `toml:"addr"`
	ShutdownTimeout time.Duration `toml:"shutdown_timeout"`
	MaxBodyBytes    int64         `toml:"max_body_bytes"`
}

type LogSettings struct {
	Level string `toml:"level"`
}

type ScheduleSettings struct {
	Dispatch     string `toml:"dispatch"`
	ReleaseStale string `toml:"release_stale"`
	Renew        string `toml:"renew"`
}

type ActionSettings struct {
	// ForwardURL receives every due action as JSON.
	ForwardURL string `toml:"forward_url"`
	Token      string `toml:"token"`
}

type WebhookSettings struct {
	MIMESecret string `toml:"mime_secret"`
	JSONToken  string `toml:"json_token"`
}

// GmailSettings uses the service account key when KeyFile is set and falls
// back to a static bearer token otherwise.
type GmailSettings struct {
	TopicName           string   `toml:"topic_name"`
	LabelIDs            []string `toml:"label_ids"`
	Token               string   `toml:"token"`
	ServiceAccountEmail string   `toml:"service_account_email"`
	KeyFile             string   `toml:"key_file"`
	KeyID               string   `toml:"key_id"`
}

// GraphSettings uses client credentials when ClientID is set.
type GraphSettings struct {
	Enabled      bool   `toml:"enabled"`
	Token        string `toml:"token"`
	TokenURL     string `toml:"token_url"`
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
}

type DispatchSettings struct {
	BatchSize   int `toml:"batch_size"`
	Workers     int `toml:"workers"`
	MaxAttempts int `toml:"max_attempts"`
}

type RenewalSettings struct {
	LeadTime     time.Duration `toml:"lead_time"`
	Workers      int           `toml:"workers"`
	ErroredRetry time.Duration `toml:"errored_retry"`
}

func defaultSettings() Settings {
	return Settings{
		Database: DatabaseSettings{Driver: "sqlite3", DSN: "file:outreach.db?_foreign_keys=on"},
		Server:   ServerSettings{Addr: ":8080", ShutdownTimeout: 15 * time.Second},
		Log:      LogSettings{Level: "info"},
	}
}

// loadSettings reads an optional .env file, then the TOML file, then applies
// OUTREACH_* environment overrides.
func loadSettings(path string, envFile string) (Settings, error) {
	if envFile = strings.TrimSpace(envFile); envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return Settings{}, fmt.Errorf("load env file %s: %w", envFile, err)
		}
	}

	settings := defaultSettings()
	if path = strings.TrimSpace(path); path != "" {
		if _, err := toml.DecodeFile(path, &settings); err != nil {
			return Settings{}, fmt.Errorf("load config %s: %w", path, err)
		}
	}
	applyEnv(&settings)
	return settings, nil
}

func applyEnv(settings *Settings) {
	overrides := map[string]*string{
		"OUTREACH_DATABASE_DRIVER": &settings.Database.Driver,
		"OUTREACH_DATABASE_DSN":    &settings.Database.DSN,
		"OUTREACH_SERVER_ADDR":     &settings.Server.Addr,
		"OUTREACH_LOG_LEVEL":       &settings.Log.Level,
		"OUTREACH_ACTIONS_URL":     &settings.Actions.ForwardURL,
		"OUTREACH_ACTIONS_TOKEN":   &settings.Actions.Token,
		"OUTREACH_MIME_SECRET":     &settings.Webhooks.MIMESecret,
		"OUTREACH_JSON_TOKEN":      &settings.Webhooks.JSONToken,
		"OUTREACH_GMAIL_TOKEN":     &settings.Gmail.Token,
		"OUTREACH_GRAPH_TOKEN":     &settings.Graph.Token,
		"OUTREACH_GRAPH_SECRET":    &settings.Graph.ClientSecret,
	}
	for key, target := range overrides {
		if value, ok := os.LookupEnv(key); ok && strings.TrimSpace(value) != "" {
			*target = strings.TrimSpace(value)
		}
	}
}
