// Package storage keeps an optional on-disk history of delivery outcomes.
//
// This is an inspection aid, not a durability mechanism: the dispatch queue
// and the dedup cache are in-memory only, and a crash loses whatever was
// queued. History rows are written after the fact, one per terminal outcome.
package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"qqbridge/pkg/logx"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	KeepLast    int           // rows retained per prune; 0 means default
	BusyTimeout time.Duration // sqlite; 0 means default
}

// Delivery records one terminal dispatch outcome.
// Keep it compact and schema-stable.
type Delivery struct {
	At         time.Time
	Status     string
	Dialect    string
	Title      string
	Category   string
	HTTPStatus int
	Detail     string
}

// Store is the minimal persistence API used by the dispatch path.
type Store interface {
	AppendDelivery(ctx context.Context, d Delivery) error
	RecentDeliveries(ctx context.Context, limit int) ([]Delivery, error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
