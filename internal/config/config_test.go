package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestParseJSON(t *testing.T) {
	path := writeConfig(t, "config.json", `{
	  "bridge": {
	    "enabled": true,
	    "dialect": "queued_onebot",
	    "forward_url": "http://127.0.0.1:3000/send_private_msg",
	    "user_id": "12345",
	    "access_token": "secret",
	    "enabled_categories": ["download", "organize"],
	    "dedup_window_seconds": 20,
	    "min_send_interval_seconds": 3
	  },
	  "intake": {"enabled": true, "address": "127.0.0.1:9000"}
	}`)

	cfg, err := NewManager(path).Load()
	require.NoError(t, err)

	assert.True(t, cfg.Bridge.Enabled)
	assert.Equal(t, "queued_onebot", cfg.Bridge.Dialect)
	assert.Equal(t, "12345", cfg.Bridge.UserID)
	assert.Equal(t, []string{"download", "organize"}, cfg.Bridge.EnabledCategories)
	assert.Equal(t, 20*time.Second, cfg.Bridge.DedupWindow())
	assert.Equal(t, 3*time.Second, cfg.Bridge.MinSendInterval())
	assert.Equal(t, "127.0.0.1:9000", cfg.Intake.Addr())
}

func TestParseYAML(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
bridge:
  enabled: true
  dialect: simple_text
  forward_url: http://127.0.0.1:8080/send
  user_id: abc
logging:
  level: debug
`)

	cfg, err := NewManager(path).Load()
	require.NoError(t, err)

	assert.Equal(t, "simple_text", cfg.Bridge.Dialect)
	assert.Equal(t, "abc", cfg.Bridge.UserID)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestParseDefaults(t *testing.T) {
	path := writeConfig(t, "config.json", `{"bridge": {"enabled": false}}`)
	cfg, err := NewManager(path).Load()
	require.NoError(t, err)

	assert.Equal(t, 10*time.Second, cfg.Bridge.DedupWindow())
	assert.Equal(t, 5*time.Second, cfg.Bridge.MinSendInterval())
	assert.Equal(t, "127.0.0.1:8700", cfg.Intake.Addr())
}

func TestParseRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, "config.json", `{"bridge": {"enabled": true, "frequency": 3}}`)
	_, err := NewManager(path).Load()
	require.Error(t, err)
}

func TestParseRejectsTrailingData(t *testing.T) {
	path := writeConfig(t, "config.json", `{"bridge": {"enabled": true}}{"extra": 1}`)
	_, err := NewManager(path).Load()
	require.Error(t, err)
}

func TestManagerGetAfterCommit(t *testing.T) {
	path := writeConfig(t, "config.json", `{"bridge": {"enabled": true, "dialect": "onebot_v11"}}`)
	m := NewManager(path)
	require.Nil(t, m.Get())

	cfg, err := m.Load()
	require.NoError(t, err)
	assert.Same(t, cfg, m.Get())
}

func TestSubscribePublish(t *testing.T) {
	m := NewManager("unused")
	ch := m.Subscribe(1)
	t.Cleanup(func() { m.Unsubscribe(ch) })

	cfg := &Config{}
	m.publish(cfg)

	select {
	case got := <-ch:
		assert.Same(t, cfg, got)
	case <-time.After(time.Second):
		t.Fatal("subscriber never received config")
	}
}

func TestPublishDropsOldestWhenSlow(t *testing.T) {
	m := NewManager("unused")
	ch := m.Subscribe(1)
	t.Cleanup(func() { m.Unsubscribe(ch) })

	first, second := &Config{}, &Config{}
	m.publish(first)
	m.publish(second)

	// The newest snapshot wins.
	select {
	case got := <-ch:
		assert.Same(t, second, got)
	case <-time.After(time.Second):
		t.Fatal("subscriber never received config")
	}
}
