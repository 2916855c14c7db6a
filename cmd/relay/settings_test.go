package main

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadSettings_Defaults(t *testing.T) {
	s, err := loadSettings()
	require.NoError(t, err)

	assert.Equal(t, 22, s.Port)
	assert.Equal(t, 10*time.Second, s.Timeout)
	assert.Equal(t, "~/.ssh/known_hosts", s.KnownHosts)
	assert.Equal(t, "warn", s.LogLevel)
}

func TestLoadSettings_Environment(t *testing.T) {
	t.Setenv("RELAY_HOST", "web1")
	t.Setenv("RELAY_PORT", "2222")
	t.Setenv("RELAY_STRICT", "true")
	t.Setenv("RELAY_KNOWN_HOSTS", "/etc/ssh/known_hosts")
	t.Setenv("RELAY_LOG_LEVEL", "debug")

	s, err := loadSettings()
	require.NoError(t, err)

	assert.Equal(t, "web1", s.Host)
	assert.Equal(t, 2222, s.Port)
	assert.True(t, s.Strict)
	assert.Equal(t, "/etc/ssh/known_hosts", s.KnownHosts)

	level, err := s.logLevel()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)
}

func TestLoadSettings_BadValue(t *testing.T) {
	t.Setenv("RELAY_PORT", "twenty-two")

	_, err := loadSettings()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load settings")
}

func TestSettings_LogLevel(t *testing.T) {
	_, err := Settings{LogLevel: "loud"}.logLevel()
	require.Error(t, err)
}

func TestSettings_Transport(t *testing.T) {
	t.Run("NoHost", func(t *testing.T) {
		_, err := Settings{Port: 22}.transport()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no host")
	})

	t.Run("Overrides", func(t *testing.T) {
		s := Settings{Host: "web1", Port: 2200, User: "deploy", Password: "secret", Insecure: true, Timeout: time.Second}

		tr, err := s.transport()
		require.NoError(t, err)

		cfg := tr.Config()
		assert.Equal(t, "web1", cfg.Host)
		assert.Equal(t, 2200, cfg.Port)
		assert.Equal(t, "deploy", cfg.User)
		assert.True(t, cfg.InsecureSkipVerify)
	})

	t.Run("MissingKnownHosts", func(t *testing.T) {
		s := Settings{Host: "web1", Port: 22, User: "deploy", Password: "secret", KnownHosts: t.TempDir() + "/missing"}

		_, err := s.transport()
		require.Error(t, err)
	})
}

func TestSettings_Target(t *testing.T) {
	assert.Equal(t, "web1", Settings{Host: "web1", SSHConfig: "prod"}.target())
	assert.Equal(t, "prod", Settings{SSHConfig: "prod"}.target())
}

func TestParseMode(t *testing.T) {
	mode, err := parseMode("755")
	require.NoError(t, err)
	assert.Equal(t, uint32(0o755), mode)

	mode, err = parseMode("")
	require.NoError(t, err)
	assert.Zero(t, mode)

	_, err = parseMode("9")
	require.Error(t, err)
}

func TestEnvOptions(t *testing.T) {
	opts, err := envOptions([]string{"A=1", "B="})
	require.NoError(t, err)
	assert.Len(t, opts, 2)

	_, err = envOptions([]string{"=1"})
	require.Error(t, err)

	_, err = envOptions([]string{"NOVALUE"})
	require.Error(t, err)
}
