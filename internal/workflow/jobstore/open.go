package jobstore

import (
	"fmt"
	"strings"

	logx "mailagent/pkg/logx"
)

// Open initializes the configured store.
//
// Unknown drivers are an error; a durable driver that fails to open degrades
// to the volatile store with a warning (the engine still runs, triggers just
// won't survive a restart).
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "memory":
		return NewMemory(), nil
	case "sqlite", "sqlite3":
		st, err := openSQLite(cfg, log)
		if err != nil {
			log.Warn("durable job store unavailable; using in-memory store",
				logx.String("path", cfg.Path), logx.Err(err))
			return NewMemory(), nil
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown jobstore driver: %q", cfg.Driver)
	}
}
