package jobstore

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"mailagent/internal/campaign"
	logx "mailagent/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Upsert(ctx context.Context, j Job) error {
	segs, err := json.Marshal(j.Segments)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO jobs(id, campaign, stage, trigger_at, paused, segments, updated_at)
		 VALUES(?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   campaign=excluded.campaign,
		   stage=excluded.stage,
		   trigger_at=excluded.trigger_at,
		   paused=excluded.paused,
		   segments=excluded.segments,
		   updated_at=excluded.updated_at`,
		j.ID, j.Campaign, string(j.Stage),
		j.TriggerTime.UTC().Format(time.RFC3339Nano),
		boolInt(j.Paused), string(segs),
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqliteStore) List(ctx context.Context) ([]Job, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, campaign, stage, trigger_at, paused, segments FROM jobs`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Job
	for rows.Next() {
		var (
			j       Job
			stage   string
			trigger string
			paused  int
			segs    string
		)
		if err := rows.Scan(&j.ID, &j.Campaign, &stage, &trigger, &paused, &segs); err != nil {
			return nil, err
		}
		j.Stage = campaign.Stage(stage)
		j.Paused = paused != 0
		t, err := time.Parse(time.RFC3339Nano, trigger)
		if err != nil {
			// A corrupt row should not take down the whole schedule.
			s.log.Warn("skipping job with unparseable trigger time", logx.String("job", j.ID), logx.Err(err))
			continue
		}
		j.TriggerTime = t
		if err := json.Unmarshal([]byte(segs), &j.Segments); err != nil {
			j.Segments = nil
		}
		out = append(out, j)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, k int) bool {
		if out[i].TriggerTime.Equal(out[k].TriggerTime) {
			return out[i].ID < out[k].ID
		}
		return out[i].TriggerTime.Before(out[k].TriggerTime)
	})
	return out, nil
}

func (s *sqliteStore) Remove(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
