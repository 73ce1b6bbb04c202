package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearConfigEnv blanks every variable Load reads so tests see only what
// they set themselves. Load treats an empty value as unset.
func clearConfigEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"CONFIG_FILE", "PORT", "DATABASE_URL", "STORAGE_PATH", "MAX_FILE_SIZE",
		"SESSION_TTL_HOURS", "SESSION_SWEEP_MINUTES", "ENABLE_PUBLIC_SHARING",
		"ADMIN_USERNAME", "ADMIN_PASSWORD", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
		"ALLOWED_EXTENSIONS",
	} {
		t.Setenv(key, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearConfigEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, int64(5*1024*1024*1024), cfg.MaxFileSize)
	assert.Equal(t, 24*time.Hour, cfg.SessionTTL)
	assert.Equal(t, 15*time.Minute, cfg.SessionSweep)
	assert.True(t, cfg.EnablePublicSharing)
	assert.Equal(t, "admin", cfg.AdminUsername)
	assert.Empty(t, cfg.AdminPassword)
	assert.Empty(t, cfg.AllowedExtensions)
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("PORT", "9999")
	t.Setenv("MAX_FILE_SIZE", "1048576")
	t.Setenv("SESSION_TTL_HOURS", "2.5")
	t.Setenv("ENABLE_PUBLIC_SHARING", "false")
	t.Setenv("ALLOWED_EXTENSIONS", " .PDF, txt ,,JPG")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9999", cfg.Port)
	assert.Equal(t, int64(1048576), cfg.MaxFileSize)
	assert.Equal(t, 150*time.Minute, cfg.SessionTTL)
	assert.False(t, cfg.EnablePublicSharing)
	assert.Equal(t, []string{"pdf", "txt", "jpg"}, cfg.AllowedExtensions)
}

func TestLoad_ConfigFile(t *testing.T) {
	clearConfigEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: "7070"
max_file_size: 2048
session_ttl_hours: 1
allowed_extensions: [".png", "GIF"]
admin_password: file-secret
`), 0o600))
	t.Setenv("CONFIG_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "7070", cfg.Port)
	assert.Equal(t, int64(2048), cfg.MaxFileSize)
	assert.Equal(t, time.Hour, cfg.SessionTTL)
	assert.Equal(t, []string{"png", "gif"}, cfg.AllowedExtensions)
	assert.Equal(t, "file-secret", cfg.AdminPassword)

	// Untouched keys keep their defaults.
	assert.Equal(t, 15*time.Minute, cfg.SessionSweep)
}

func TestLoad_EnvBeatsFile(t *testing.T) {
	clearConfigEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: \"7070\"\nadmin_username: from-file\n"), 0o600))
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("PORT", "9999")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9999", cfg.Port, "environment must win over the file")
	assert.Equal(t, "from-file", cfg.AdminUsername, "file still applies where env is silent")
}

func TestLoad_MissingConfigFile(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "nope.yaml"))

	_, err := Load()
	assert.Error(t, err)
}

func TestNormalizeExtensions(t *testing.T) {
	tests := []struct {
		name string
		in   []string
		want []string
	}{
		{"lowercases", []string{"PDF", "Txt"}, []string{"pdf", "txt"}},
		{"strips dots and spaces", []string{" .jpg ", ".PNG"}, []string{"jpg", "png"}},
		{"drops empties", []string{"", " ", ".", "zip"}, []string{"zip"}},
		{"nil stays nil", nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeExtensions(tt.in))
		})
	}
}
