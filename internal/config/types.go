package config

import "time"

type Config struct {
	Bridge    BridgeConfig     `json:"bridge"`
	Intake    IntakeConfig     `json:"intake,omitempty"`
	Logging   LoggingConfig    `json:"logging,omitempty"`
	Storage   *StorageConfig   `json:"storage,omitempty"`
	Heartbeat *HeartbeatConfig `json:"heartbeat,omitempty"`
}

// BridgeConfig is the forwarding target. The key names match the upstream
// plugin settings so existing deployments translate one to one.
type BridgeConfig struct {
	Enabled     bool   `json:"enabled"`
	Dialect     string `json:"dialect"`
	ForwardURL  string `json:"forward_url"`
	UserID      string `json:"user_id"`
	AccessToken string `json:"access_token,omitempty"`

	// EnabledCategories limits forwarding to the listed notification
	// categories. Empty means forward everything.
	EnabledCategories []string `json:"enabled_categories,omitempty"`

	// TitleStyle is "plain" or "bracket". Empty picks the dialect default.
	TitleStyle string `json:"title_style,omitempty"`

	DedupWindowSeconds     int `json:"dedup_window_seconds,omitempty"`
	MinSendIntervalSeconds int `json:"min_send_interval_seconds,omitempty"`
}

// DedupWindow returns the duplicate-suppression window (default 10s).
func (c BridgeConfig) DedupWindow() time.Duration {
	if c.DedupWindowSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.DedupWindowSeconds) * time.Second
}

// MinSendInterval returns the queued-path pacing interval (default 5s).
func (c BridgeConfig) MinSendInterval() time.Duration {
	if c.MinSendIntervalSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.MinSendIntervalSeconds) * time.Second
}

// IntakeConfig controls the inbound HTTP event endpoint.
type IntakeConfig struct {
	Enabled bool   `json:"enabled"`
	Address string `json:"address,omitempty"` // default 127.0.0.1:8700

	// AuthToken, when set, is required as "Authorization: Bearer <token>"
	// on event submissions.
	AuthToken string `json:"auth_token,omitempty"`

	// RatePerSec caps inbound requests (token bucket). 0 means default (20).
	RatePerSec int `json:"rate_per_sec,omitempty"`
}

func (c IntakeConfig) Addr() string {
	if c.Address == "" {
		return "127.0.0.1:8700"
	}
	return c.Address
}

func (c IntakeConfig) Rate() int {
	if c.RatePerSec <= 0 {
		return 20
	}
	return c.RatePerSec
}

type LoggingConfig struct {
	Level   string        `json:"level,omitempty"`
	Console *bool         `json:"console,omitempty"` // nil means true
	File    FileLogConfig `json:"file,omitempty"`
}

type FileLogConfig struct {
	Enabled bool   `json:"enabled,omitempty"`
	Path    string `json:"path,omitempty"`
}

// StorageConfig controls the optional delivery-history store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./qqbridge.db" }
type StorageConfig struct {
	Driver   string `json:"driver"`
	Path     string `json:"path"`
	KeepLast int    `json:"keep_last,omitempty"`
}

// HeartbeatConfig schedules a periodic self-test send.
// Schedule is a cron expression (e.g. "0 9 * * *").
type HeartbeatConfig struct {
	Enabled  bool   `json:"enabled"`
	Schedule string `json:"schedule"`
}
