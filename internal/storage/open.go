package storage

import (
	"context"
	"errors"
	"strings"

	"notifyd/internal/notify"
	"notifyd/pkg/logx"
)

// Store is the minimal persistence API used by the dispatcher and the
// registry.
type Store interface {
	SavePending(ctx context.Context, rec PendingRecord) error
	DeletePending(ctx context.Context, id int32) error
	ListPending(ctx context.Context) ([]PendingRecord, error)

	PutChannel(ctx context.Context, c notify.Channel) error
	DeleteChannel(ctx context.Context, id string) error
	ListChannels(ctx context.Context) ([]notify.Channel, error)

	PutActionType(ctx context.Context, t notify.ActionType) error
	ListActionTypes(ctx context.Context) ([]notify.ActionType, error)

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
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
