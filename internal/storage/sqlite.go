//go:build sqlite
// +build sqlite

package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"notifyd/internal/notify"
	"notifyd/pkg/logx"
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
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

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

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) SavePending(ctx context.Context, rec PendingRecord) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if rec.ID() == 0 {
		return errors.New("pending record without id")
	}
	payload, err := json.Marshal(rec.Notification)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO pending(id, payload, pattern, next_fire) VALUES(?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET payload=excluded.payload,
		   pattern=excluded.pattern, next_fire=excluded.next_fire`,
		rec.ID(), string(payload), nullStr(rec.Pattern), rec.NextFire,
	)
	return err
}

func (s *sqliteStore) DeletePending(ctx context.Context, id int32) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM pending WHERE id = ?`, id)
	return err
}

func (s *sqliteStore) ListPending(ctx context.Context) ([]PendingRecord, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload, pattern, next_fire FROM pending ORDER BY next_fire`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PendingRecord
	for rows.Next() {
		var payload string
		var pattern sql.NullString
		var rec PendingRecord
		if err := rows.Scan(&payload, &pattern, &rec.NextFire); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(payload), &rec.Notification); err != nil {
			s.log.Warn("skipping undecodable pending row", logx.Err(err))
			continue
		}
		rec.Pattern = pattern.String
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *sqliteStore) PutChannel(ctx context.Context, c notify.Channel) error {
	return s.putJSON(ctx, "channels", c.ID, c)
}

func (s *sqliteStore) DeleteChannel(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM channels WHERE id = ?`, id)
	return err
}

func (s *sqliteStore) ListChannels(ctx context.Context) ([]notify.Channel, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	var out []notify.Channel
	err := s.listJSON(ctx, "channels", func(payload []byte) {
		var c notify.Channel
		if json.Unmarshal(payload, &c) == nil {
			out = append(out, c)
		}
	})
	return out, err
}

func (s *sqliteStore) PutActionType(ctx context.Context, t notify.ActionType) error {
	return s.putJSON(ctx, "action_types", t.ID, t)
}

func (s *sqliteStore) ListActionTypes(ctx context.Context) ([]notify.ActionType, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	var out []notify.ActionType
	err := s.listJSON(ctx, "action_types", func(payload []byte) {
		var t notify.ActionType
		if json.Unmarshal(payload, &t) == nil {
			out = append(out, t)
		}
	})
	return out, err
}

func (s *sqliteStore) putJSON(ctx context.Context, table, id string, v any) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if strings.TrimSpace(id) == "" {
		return errors.New(table + ": id required")
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO `+table+`(id, payload) VALUES(?,?)
		 ON CONFLICT(id) DO UPDATE SET payload=excluded.payload`,
		id, string(payload),
	)
	return err
}

func (s *sqliteStore) listJSON(ctx context.Context, table string, visit func(payload []byte)) error {
	rows, err := s.db.QueryContext(ctx, `SELECT payload FROM `+table+` ORDER BY id`)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return err
		}
		visit([]byte(payload))
	}
	return rows.Err()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
