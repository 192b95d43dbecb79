package storage

import (
	"errors"
	"strings"

	"bongobot/internal/birthday"
	logx "bongobot/pkg/logx"
)

// Store is a birthday.Repository that owns resources.
type Store interface {
	birthday.Repository
	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "file", "json":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
