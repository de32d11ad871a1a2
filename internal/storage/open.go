package storage

import (
	"errors"
	"strings"

	logx "mintwatch/pkg/logx"
)

// Open builds the configured store. Callers must Load it before use.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("storage: path is required")
	}
	if cfg.Capacity < 0 {
		return nil, errors.New("storage: capacity must be >= 0")
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "file", "json":
		return newFileStore(cfg, log), nil
	case "sqlite", "sqlite3":
		return newSQLiteStore(cfg, log), nil
	default:
		return nil, errors.New("unknown storage driver: " + cfg.Driver)
	}
}
