package config

import (
	"fmt"
	"strings"
	"time"
)

// Duration-valued fields (jobstore.busy_timeout, engine.resync_interval,
// docstore.connect_timeout, smtp.timeout) are written as Go duration strings
// in the YAML: "30s", "1m30s". Empty means unset.

// ParseDurationField parses one such field. path names the field in error
// messages. Negative durations are rejected; empty parses to zero.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with def substituted for an
// unset field.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}
