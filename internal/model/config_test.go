package model

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "Email log", cfg.Sheet.TicketSheet)
	assert.Equal(t, 30, cfg.Sync.PollIntervalSec)
	assert.Equal(t, 7, cfg.Sync.LookbackDays)
	assert.Equal(t, 20, cfg.Sync.MapRefreshEvery)
	assert.Equal(t, 50, cfg.Sync.StateBackupEvery)
	assert.True(t, cfg.AutoClose.Enabled)
	assert.Equal(t, AutoCloseActionClose, cfg.AutoClose.Action)
	assert.Equal(t, ":8080", cfg.Web.ListenAddr)
}

func TestLoadConfigOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
sheet:
  spreadsheet_id: sheet-123
  ticket_sheet: Tickets
sync:
  poll_interval_sec: 60
admin_emails:
  - boss@example.com
auto_close:
  action: delete
auto_reply:
  enabled: true
`), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "sheet-123", cfg.Sheet.SpreadsheetID)
	assert.Equal(t, "Tickets", cfg.Sheet.TicketSheet)
	assert.Equal(t, "Admin emails", cfg.Sheet.AdminSheet, "unset keys keep defaults")
	assert.Equal(t, 60, cfg.Sync.PollIntervalSec)
	assert.Equal(t, []string{"boss@example.com"}, cfg.AdminEmails)
	assert.Equal(t, AutoCloseActionDelete, cfg.AutoClose.Action)
	assert.True(t, cfg.AutoReply.Enabled)
}

func TestLoadConfigMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sheet: [broken"), 0o600))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *AppConfig {
		cfg := defaultAppConfig()
		cfg.Sheet.SpreadsheetID = "sheet-123"
		return cfg
	}

	assert.NoError(t, valid().Validate())

	cfg := valid()
	cfg.Sheet.SpreadsheetID = ""
	assert.Error(t, cfg.Validate())

	cfg = valid()
	cfg.Sync.PollIntervalSec = 0
	assert.Error(t, cfg.Validate())

	cfg = valid()
	cfg.AutoClose.Action = "archive"
	assert.Error(t, cfg.Validate())
}

func TestFormatTicketID(t *testing.T) {
	assert.Equal(t, "TCK-000001", FormatTicketID(1))
	assert.Equal(t, "TCK-001234", FormatTicketID(1234))
	assert.Equal(t, "TCK-1000000", FormatTicketID(1000000), "ids wider than six digits still render")
}

func TestThreadLink(t *testing.T) {
	link := ThreadLink("abc123")
	assert.Contains(t, link, `=HYPERLINK(`)
	assert.Contains(t, link, "abc123")
}
