package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// clearEnv blanks every variable the loader reads.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"BOT_TOKEN", "ADMIN_ID", "LOG_LEVEL", "LOG_FILE", "REPORT_SCHEDULE"} {
		t.Setenv(k, "")
	}
}

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoadFromEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("BOT_TOKEN", "123:abc")
	t.Setenv("ADMIN_ID", "42")
	t.Setenv("LOG_LEVEL", "DEBUG")

	cfg, err := NewManager("", "").Load()

	require.NoError(t, err)
	require.Equal(t, "123:abc", cfg.Telegram.Token)
	require.Equal(t, int64(42), cfg.Telegram.AdminID)
	require.Equal(t, "debug", cfg.Logging.Level)
	require.True(t, cfg.Logging.Console)
	require.Equal(t, "10s", cfg.Telegram.PollTimeout)
}

func TestLoadFailsWithoutAdmin(t *testing.T) {
	clearEnv(t)
	t.Setenv("BOT_TOKEN", "t")

	_, err := NewManager("", "").Load()
	require.ErrorIs(t, err, ErrMissingAdmin)
}

func TestLoadFailsOnMalformedAdmin(t *testing.T) {
	clearEnv(t)
	t.Setenv("BOT_TOKEN", "t")
	t.Setenv("ADMIN_ID", "abc")

	_, err := NewManager("", "").Load()
	require.ErrorIs(t, err, ErrInvalidAdmin)
}

func TestLoadFailsOnNegativeAdmin(t *testing.T) {
	clearEnv(t)
	t.Setenv("BOT_TOKEN", "t")
	t.Setenv("ADMIN_ID", "-5")

	_, err := NewManager("", "").Load()
	require.ErrorIs(t, err, ErrInvalidAdmin)
}

func TestLoadFailsWithoutToken(t *testing.T) {
	clearEnv(t)
	t.Setenv("ADMIN_ID", "1")

	_, err := NewManager("", "").Load()
	require.ErrorIs(t, err, ErrMissingToken)
}

func TestYAMLFileWithEnvOverride(t *testing.T) {
	clearEnv(t)
	t.Setenv("BOT_TOKEN", "from-env")
	dir := t.TempDir()
	path := writeFile(t, dir, "modbot.yaml", `
telegram:
  token: from-file
  admin_id: 7
logging:
  level: warn
  console: false
commands:
  broadcast_timeout: 2m
report:
  schedule: "@hourly"
`)

	cfg, err := NewManager(path, "").Load()

	require.NoError(t, err)
	require.Equal(t, "from-env", cfg.Telegram.Token)
	require.Equal(t, int64(7), cfg.Telegram.AdminID)
	require.Equal(t, "warn", cfg.Logging.Level)
	require.False(t, cfg.Logging.Console)
	require.Equal(t, "@hourly", cfg.Report.Schedule)
	require.Equal(t, 2*time.Minute, DurationOr(cfg.Commands.BroadcastTimeout, 0))
	require.Equal(t, 256, cfg.Commands.QueueSize)
}

func TestUnknownFieldRejected(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, t.TempDir(), "modbot.json", `{"telegram":{"token":"t","admin_id":1,"owner":2}}`)

	_, err := NewManager(path, "").Load()
	require.ErrorContains(t, err, "unknown field")
}

func TestTrailingDataRejected(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, t.TempDir(), "modbot.json", `{"telegram":{"token":"t","admin_id":1}}{}`)

	_, err := NewManager(path, "").Load()
	require.ErrorContains(t, err, "trailing data")
}

func TestInvalidValuesRejected(t *testing.T) {
	cases := map[string]string{
		"level":    `{"telegram":{"token":"t","admin_id":1},"logging":{"level":"loud"}}`,
		"duration": `{"telegram":{"token":"t","admin_id":1},"commands":{"broadcast_timeout":"soon"}}`,
		"cron":     `{"telegram":{"token":"t","admin_id":1},"report":{"schedule":"every day"}}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			clearEnv(t)
			path := writeFile(t, t.TempDir(), "modbot.json", body)
			_, err := NewManager(path, "").Load()
			require.Error(t, err)
		})
	}
}

func TestDotEnvLoaded(t *testing.T) {
	clearEnv(t)
	for _, k := range []string{"BOT_TOKEN", "ADMIN_ID"} {
		require.NoError(t, os.Unsetenv(k))
	}
	envFile := writeFile(t, t.TempDir(), ".env", "BOT_TOKEN=dot\nADMIN_ID=9\n")

	cfg, err := NewManager("", envFile).Load()

	require.NoError(t, err)
	require.Equal(t, "dot", cfg.Telegram.Token)
	require.Equal(t, int64(9), cfg.Telegram.AdminID)
}

func TestMissingDotEnvIgnored(t *testing.T) {
	clearEnv(t)
	t.Setenv("BOT_TOKEN", "t")
	t.Setenv("ADMIN_ID", "1")

	_, err := NewManager("", filepath.Join(t.TempDir(), ".env")).Load()
	require.NoError(t, err)
}

func TestDiff(t *testing.T) {
	a := Defaults()
	a.Telegram.Token, a.Telegram.AdminID = "t", 1
	b := a
	b.Logging.Level = "debug"

	c := Diff(&a, &b)
	require.Equal(t, []string{"logging"}, c.Sections)
	require.False(t, c.RestartRequired)

	b.Telegram.AdminID = 2
	c = Diff(&a, &b)
	require.Equal(t, []string{"telegram", "logging"}, c.Sections)
	require.True(t, c.RestartRequired)
}

func TestWatchPublishesReload(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := writeFile(t, dir, "modbot.json", `{"telegram":{"token":"t","admin_id":1},"logging":{"level":"info"}}`)

	m := NewManager(path, "")
	_, err := m.Load()
	require.NoError(t, err)
	updates := m.Subscribe(1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Watch(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	// Give the watcher a moment to register before writing.
	time.Sleep(100 * time.Millisecond)
	writeFile(t, dir, "modbot.json", `{"telegram":{"token":"t","admin_id":1},"logging":{"level":"debug"}}`)

	select {
	case cfg := <-updates:
		require.Equal(t, "debug", cfg.Logging.Level)
		require.Equal(t, "debug", m.Get().Logging.Level)
	case <-time.After(3 * time.Second):
		t.Fatal("no reload published")
	}
}

func TestWatchRejectsInvalidReload(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := writeFile(t, dir, "modbot.json", `{"telegram":{"token":"t","admin_id":1}}`)

	m := NewManager(path, "")
	_, err := m.Load()
	require.NoError(t, err)

	writeFile(t, dir, "modbot.json", `{"telegram":{"token":"t","admin_id":0}}`)
	m.reload(context.Background())

	require.Equal(t, int64(1), m.Get().Telegram.AdminID)
}
