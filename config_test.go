package fieldcall

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fieldcall.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfigAppliesDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "relay_url: ws://relay.example:9000\n"))
	require.NoError(t, err)
	assert.Equal(t, "ws://relay.example:9000", cfg.RelayURL)
	assert.Equal(t, DefaultSessionID, cfg.SessionID)
	assert.Equal(t, DefaultPageSize, cfg.PageSize)
	assert.Equal(t, "fieldcall.log", cfg.Log.File)
	assert.Equal(t, 10, cfg.Log.MaxSizeMB)
}

func TestLoadConfigFull(t *testing.T) {
	body := `
session_id: plant-7
relay_url: ws://relay.internal:8787
ice_servers:
  - stun:stun.l.google.com:19302
site_service_url: https://sites.internal/api
page_size: 3
sites:
  - label: Site 1
    reference: r1
    display_name: North Substation
log:
  file: /var/log/fieldcall.log
  max_size_mb: 25
`
	cfg, err := LoadConfig(writeConfig(t, body))
	require.NoError(t, err)
	assert.Equal(t, "plant-7", cfg.SessionID)
	assert.Equal(t, 3, cfg.PageSize)
	require.Len(t, cfg.Sites, 1)
	assert.Equal(t, "r1", cfg.Sites[0].Reference)
	assert.Equal(t, 25, cfg.Log.MaxSizeMB)
	assert.Equal(t, 2, cfg.Log.MaxBackups, "unset log fields still default")
}

func TestLoadConfigPageSizeCappedAtOrdinalRange(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "page_size: 9\n"))
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.PageSize)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
