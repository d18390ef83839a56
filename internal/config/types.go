package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config is the top-level agent configuration.
//
// The file on disk is YAML (or JSON); both are decoded strictly, so unknown
// keys are rejected instead of silently ignored.
type Config struct {
	Logging  LoggingConfig  `json:"logging"`
	DocStore DocStoreConfig `json:"docstore"`
	JobStore JobStoreConfig `json:"jobstore"`
	Engine   EngineConfig   `json:"engine"`
	SMTP     SMTPConfig     `json:"smtp"`
	Content  ContentConfig  `json:"content,omitempty"`
	Debug    DebugConfig    `json:"debug,omitempty"`
}

type LoggingConfig struct {
	Level   string            `json:"level,omitempty"`
	Console bool              `json:"console"`
	File    LoggingFileConfig `json:"file,omitempty"`
}

type LoggingFileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// DocStoreConfig points at the MongoDB deployment holding campaigns,
// email logs and contacts.
type DocStoreConfig struct {
	URI      string `json:"uri"`
	Database string `json:"database"`

	// ConnectTimeout is a Go duration string (e.g. "5s").
	ConnectTimeout string `json:"connect_timeout,omitempty"`
}

// JobStoreConfig selects the scheduler's job persistence driver.
//
// Supported drivers:
//   - "sqlite": durable store; scheduled triggers survive a restart.
//   - "memory": volatile in-process store.
//
// The driver is chosen here, deterministically, at construction time. There is
// no exception-driven fallback between the two at runtime.
type JobStoreConfig struct {
	Driver string `json:"driver,omitempty"`
	Path   string `json:"path,omitempty"`

	// BusyTimeout is a Go duration string (sqlite only).
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// EngineConfig controls the workflow scheduler engine.
//
// Defaults (when fields are omitted/zero):
//   - workers: 16
//   - queue_size: 256
//   - resync_interval: "1m"
type EngineConfig struct {
	Workers   int `json:"workers,omitempty"`
	QueueSize int `json:"queue_size,omitempty"`

	// ResyncInterval is how often the engine sweeps the job store for
	// entries that lost their timer (host suspend, clock jumps).
	ResyncInterval string `json:"resync_interval,omitempty"`

	// Timezone is an IANA TZ name used when logging trigger times.
	Timezone string `json:"timezone,omitempty"`
}

type SMTPConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"` // do not log
	From     string `json:"from"`

	// RatePerSec caps outbound messages per second (0 = unlimited).
	RatePerSec int `json:"rate_per_sec,omitempty"`
}

type ContentConfig struct {
	// Tone is passed to the content generator ("professional" by default).
	Tone string `json:"tone,omitempty"`
}

// DebugConfig controls the optional local debug HTTP server (health, engine
// status, dashboard, pprof).
//
// Binding to a non-loopback address requires Token: the endpoints expose
// campaign internals and profiling data.
type DebugConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default 127.0.0.1:6060
	Token   string `json:"token,omitempty"`
}

// Validate checks cross-field constraints and normalizes defaults in place.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}

	if strings.TrimSpace(c.Logging.Level) == "" {
		c.Logging.Level = "info"
	}

	switch strings.ToLower(strings.TrimSpace(c.JobStore.Driver)) {
	case "", "memory":
		c.JobStore.Driver = "memory"
	case "sqlite", "sqlite3":
		c.JobStore.Driver = "sqlite"
		if strings.TrimSpace(c.JobStore.Path) == "" {
			return errors.New("jobstore.path is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("jobstore.driver: unknown driver %q", c.JobStore.Driver)
	}
	if _, err := ParseDurationField("jobstore.busy_timeout", c.JobStore.BusyTimeout); err != nil {
		return err
	}

	if c.Engine.Workers < 0 {
		return errors.New("engine.workers must be >= 0")
	}
	if c.Engine.QueueSize < 0 {
		return errors.New("engine.queue_size must be >= 0")
	}
	if _, err := ParseDurationField("engine.resync_interval", c.Engine.ResyncInterval); err != nil {
		return err
	}
	if tz := strings.TrimSpace(c.Engine.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("engine.timezone: invalid timezone %q: %w", tz, err)
		}
	}

	if _, err := ParseDurationField("docstore.connect_timeout", c.DocStore.ConnectTimeout); err != nil {
		return err
	}

	if c.SMTP.Port < 0 || c.SMTP.Port > 65535 {
		return fmt.Errorf("smtp.port: out of range: %d", c.SMTP.Port)
	}
	if c.SMTP.RatePerSec < 0 {
		return errors.New("smtp.rate_per_sec must be >= 0")
	}

	if strings.TrimSpace(c.Content.Tone) == "" {
		c.Content.Tone = "professional"
	}

	if c.Debug.Enabled && strings.TrimSpace(c.Debug.Addr) == "" {
		c.Debug.Addr = "127.0.0.1:6060"
	}

	return nil
}
