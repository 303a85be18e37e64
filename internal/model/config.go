package model

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// SheetConfig identifies the spreadsheet and its worksheets.
type SheetConfig struct {
	// SpreadsheetID is the id from the spreadsheet URL.
	SpreadsheetID string `mapstructure:"spreadsheet_id" yaml:"spreadsheet_id"`

	// Worksheet names. The defaults match the conventional layout.
	TicketSheet      string `mapstructure:"ticket_sheet" yaml:"ticket_sheet"`
	AdminSheet       string `mapstructure:"admin_sheet" yaml:"admin_sheet"`
	ConfigSheet      string `mapstructure:"config_sheet" yaml:"config_sheet"`
	SyncStateSheet   string `mapstructure:"sync_state_sheet" yaml:"sync_state_sheet"`
	ThreadStateSheet string `mapstructure:"thread_state_sheet" yaml:"thread_state_sheet"`
	KnownSenderSheet string `mapstructure:"known_sender_sheet" yaml:"known_sender_sheet"`
}

// SyncConfig controls the reconciliation cadence and cache refresh policy.
type SyncConfig struct {
	// PollIntervalSec is the fixed period between cycles.
	PollIntervalSec int `mapstructure:"poll_interval_sec" yaml:"poll_interval_sec"`

	// MisfireGraceSec is how late a tick may fire before it is logged as missed.
	MisfireGraceSec int `mapstructure:"misfire_grace_sec" yaml:"misfire_grace_sec"`

	// LookbackDays bounds the very first mailbox query, before a cursor exists.
	LookbackDays int `mapstructure:"lookback_days" yaml:"lookback_days"`

	// CursorSkewSec is subtracted from "now" when advancing the sync cursor,
	// to tolerate provider indexing latency.
	CursorSkewSec int `mapstructure:"cursor_skew_sec" yaml:"cursor_skew_sec"`

	// MapRefreshEvery is the cycle cadence for wholesale thread-map reloads.
	MapRefreshEvery int `mapstructure:"map_refresh_every" yaml:"map_refresh_every"`

	// StateBackupEvery is the cycle cadence for snapshotting watermarks and
	// the cursor into the spreadsheet.
	StateBackupEvery int `mapstructure:"state_backup_every" yaml:"state_backup_every"`
}

// AutoCloseAction selects what the auto-closer does with a stale ticket.
type AutoCloseAction string

const (
	AutoCloseActionClose  AutoCloseAction = "close"
	AutoCloseActionDelete AutoCloseAction = "delete"
)

// AutoCloseConfig controls the stale-ticket sweeper.
type AutoCloseConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// EveryCycles is the reconciliation-cycle cadence for sweeps.
	EveryCycles int `mapstructure:"every_cycles" yaml:"every_cycles"`

	// AfterHours is the idle threshold for tickets awaiting a customer reply.
	AfterHours int `mapstructure:"after_hours" yaml:"after_hours"`

	// Action is "close" (terminal status) or "delete" (row removed, thread
	// trashed). The two are mutually exclusive.
	Action AutoCloseAction `mapstructure:"action" yaml:"action"`
}

// AutoReplyConfig controls the acknowledgement responder.
type AutoReplyConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// WebConfig controls the status HTTP server.
type WebConfig struct {
	ListenAddr string `mapstructure:"listen_addr" yaml:"listen_addr"`
}

// AppConfig is the top-level daemon configuration.
type AppConfig struct {
	// CredentialDir holds client_secret.json and the keyring file backend.
	CredentialDir string `mapstructure:"credential_dir" yaml:"credential_dir"`

	// StateDBPath is the local SQLite database for watermarks and the cursor.
	StateDBPath string `mapstructure:"state_db_path" yaml:"state_db_path"`

	// AdminEmails seeds the admin set; the admin worksheet is merged in each
	// cycle, and the authenticated address is always appended.
	AdminEmails []string `mapstructure:"admin_emails" yaml:"admin_emails"`

	Sheet     SheetConfig     `mapstructure:"sheet" yaml:"sheet"`
	Sync      SyncConfig      `mapstructure:"sync" yaml:"sync"`
	AutoClose AutoCloseConfig `mapstructure:"auto_close" yaml:"auto_close"`
	AutoReply AutoReplyConfig `mapstructure:"auto_reply" yaml:"auto_reply"`
	Web       WebConfig       `mapstructure:"web" yaml:"web"`
}

// PollInterval returns the cycle period as a duration.
func (c *AppConfig) PollInterval() time.Duration {
	return time.Duration(c.Sync.PollIntervalSec) * time.Second
}

// MisfireGrace returns the misfire grace window as a duration.
func (c *AppConfig) MisfireGrace() time.Duration {
	return time.Duration(c.Sync.MisfireGraceSec) * time.Second
}

// DefaultConfigPath returns the default configuration file location,
// ~/.config/ticketwatch/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "ticketwatch", "config.yaml")
}

func defaultAppConfig() *AppConfig {
	home, _ := os.UserHomeDir()
	base := filepath.Join(home, ".config", "ticketwatch")

	return &AppConfig{
		CredentialDir: base,
		StateDBPath:   filepath.Join(base, "state.db"),
		Sheet: SheetConfig{
			TicketSheet:      "Email log",
			AdminSheet:       "Admin emails",
			ConfigSheet:      "Ticket_Config",
			SyncStateSheet:   "Sync_State",
			ThreadStateSheet: "Thread_State",
			KnownSenderSheet: "Known Senders",
		},
		Sync: SyncConfig{
			PollIntervalSec:  30,
			MisfireGraceSec:  900,
			LookbackDays:     7,
			CursorSkewSec:    10,
			MapRefreshEvery:  20,
			StateBackupEvery: 50,
		},
		AutoClose: AutoCloseConfig{
			Enabled:     true,
			EveryCycles: 20,
			AfterHours:  6,
			Action:      AutoCloseActionClose,
		},
		Web: WebConfig{
			ListenAddr: ":8080",
		},
	}
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// If the file does not exist, defaults are returned; a present-but-invalid
// file is an error.
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	def := defaultAppConfig()
	v.SetDefault("credential_dir", def.CredentialDir)
	v.SetDefault("state_db_path", def.StateDBPath)
	v.SetDefault("sheet.ticket_sheet", def.Sheet.TicketSheet)
	v.SetDefault("sheet.admin_sheet", def.Sheet.AdminSheet)
	v.SetDefault("sheet.config_sheet", def.Sheet.ConfigSheet)
	v.SetDefault("sheet.sync_state_sheet", def.Sheet.SyncStateSheet)
	v.SetDefault("sheet.thread_state_sheet", def.Sheet.ThreadStateSheet)
	v.SetDefault("sheet.known_sender_sheet", def.Sheet.KnownSenderSheet)
	v.SetDefault("sync.poll_interval_sec", def.Sync.PollIntervalSec)
	v.SetDefault("sync.misfire_grace_sec", def.Sync.MisfireGraceSec)
	v.SetDefault("sync.lookback_days", def.Sync.LookbackDays)
	v.SetDefault("sync.cursor_skew_sec", def.Sync.CursorSkewSec)
	v.SetDefault("sync.map_refresh_every", def.Sync.MapRefreshEvery)
	v.SetDefault("sync.state_backup_every", def.Sync.StateBackupEvery)
	v.SetDefault("auto_close.enabled", def.AutoClose.Enabled)
	v.SetDefault("auto_close.every_cycles", def.AutoClose.EveryCycles)
	v.SetDefault("auto_close.after_hours", def.AutoClose.AfterHours)
	v.SetDefault("auto_close.action", string(def.AutoClose.Action))
	v.SetDefault("web.listen_addr", def.Web.ListenAddr)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(*os.PathError); ok {
			return def, nil
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return def, nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := defaultAppConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	return cfg, nil
}

// Validate checks the constraints that cannot be defaulted away.
// Called at startup; failures are fatal.
func (c *AppConfig) Validate() error {
	if c.Sheet.SpreadsheetID == "" {
		return fmt.Errorf("sheet.spreadsheet_id is required")
	}
	if c.Sync.PollIntervalSec <= 0 {
		return fmt.Errorf("sync.poll_interval_sec must be positive")
	}
	switch c.AutoClose.Action {
	case AutoCloseActionClose, AutoCloseActionDelete:
	default:
		return fmt.Errorf("auto_close.action must be %q or %q",
			AutoCloseActionClose, AutoCloseActionDelete)
	}
	return nil
}
