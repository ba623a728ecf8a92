package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	"github.com/alem-hub/botcore/config"
	"github.com/alem-hub/botcore/internal/infrastructure/persistence/memory"
)

func TestMain(m *testing.M) {
	keyring.MockInit()
	os.Exit(m.Run())
}

func setEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"CONFIG_FILE", "APP_ENV", "TELEGRAM_MODE", "TELEGRAM_WEBHOOK_URL", "SESSION_BACKEND", "LOG_LEVEL"} {
		t.Setenv(key, "")
	}
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, parseLevel(in), in)
	}
}

func TestLoadConfig_Overrides(t *testing.T) {
	setEnv(t)

	cfg, err := loadConfig(&rootOptions{LogLevel: "error"})
	require.NoError(t, err)
	assert.Equal(t, config.ModePolling, cfg.Telegram.Mode)
	assert.Equal(t, "error", cfg.Observability.LogLevel)

	// Switching to webhook mode without a URL fails validation.
	_, err = loadConfig(&rootOptions{Mode: "webhook"})
	assert.Error(t, err)

	t.Setenv("TELEGRAM_WEBHOOK_URL", "https://bot.example.com/hook")
	cfg, err = loadConfig(&rootOptions{Mode: "webhook"})
	require.NoError(t, err)
	assert.Equal(t, config.ModeWebhook, cfg.Telegram.Mode)
	assert.Equal(t, "/hook", cfg.WebhookPath())
}

func TestOpenSessionStore_DefaultsToMemory(t *testing.T) {
	setEnv(t)
	cfg, err := loadConfig(&rootOptions{})
	require.NoError(t, err)

	backend, err := openSessionStore(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	defer backend.Close()

	assert.IsType(t, &memory.SessionStore{}, backend.Store)
	assert.Empty(t, backend.Checks)
}

func TestTokenCommand_SetFromStdin(t *testing.T) {
	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetIn(strings.NewReader("  456:def \n"))
	root.SetArgs([]string{"token", "set", "--account", "testbot"})

	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), `token stored for "testbot"`)

	token, err := config.TokenFromKeychain("testbot")
	require.NoError(t, err)
	assert.Equal(t, "456:def", token)

	root.SetArgs([]string{"token", "delete", "--account", "testbot"})
	require.NoError(t, root.Execute())
	_, err = config.TokenFromKeychain("testbot")
	assert.Error(t, err)
}

func TestTokenCommand_RejectsEmpty(t *testing.T) {
	root := newRootCommand()
	root.SetOut(io.Discard)
	root.SetIn(strings.NewReader("\n"))
	root.SetArgs([]string{"token", "set"})

	assert.Error(t, root.Execute())
}
