package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/haneulab/deepresearch/internal/metrics"
	"github.com/haneulab/deepresearch/internal/research"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	id         TEXT PRIMARY KEY,
	meta       TEXT NOT NULL,
	state      TEXT NOT NULL,
	stage      TEXT NOT NULL,
	progress   INTEGER NOT NULL DEFAULT 0,
	last_error TEXT NOT NULL DEFAULT '',
	error_kind TEXT NOT NULL DEFAULT '',
	version    INTEGER NOT NULL DEFAULT 1,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	report     TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_sessions_stage ON sessions(stage);
CREATE INDEX IF NOT EXISTS idx_sessions_created ON sessions(created_at);
`

// sqliteStore keeps sessions in an embedded database in WAL mode, so every
// committed update is durable before it becomes observable.
type sqliteStore struct {
	db     *sqlx.DB
	locks  *idLocks
	logger *zap.Logger
}

type sessionRow struct {
	ID        string    `db:"id"`
	Meta      string    `db:"meta"`
	State     string    `db:"state"`
	Stage     string    `db:"stage"`
	Progress  int       `db:"progress"`
	LastError string    `db:"last_error"`
	ErrorKind string    `db:"error_kind"`
	Version   int64     `db:"version"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
	Report    string    `db:"report"`
}

func newSQLiteStore(path string, logger *zap.Logger) (*sqliteStore, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_fk=1", path)
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("session: open sqlite: %w", err)
	}
	// sqlite tolerates exactly one writer
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("session: migrate: %w", err)
	}
	logger.Info("session store ready", zap.String("backend", "sqlite"), zap.String("path", path))
	return &sqliteStore{db: db, locks: newIDLocks(), logger: logger}, nil
}

func (s *sqliteStore) Create(ctx context.Context, spec research.Spec) (*research.Session, error) {
	sess := newSession(spec)
	row, err := toRow(sess)
	if err != nil {
		return nil, err
	}
	_, err = s.db.NamedExecContext(ctx, `
		INSERT INTO sessions (id, meta, state, stage, progress, last_error, error_kind, version, created_at, updated_at, report)
		VALUES (:id, :meta, :state, :stage, :progress, :last_error, :error_kind, :version, :created_at, :updated_at, :report)`,
		row)
	if err != nil {
		return nil, fmt.Errorf("session: insert: %w", err)
	}
	return sess, nil
}

func (s *sqliteStore) Load(ctx context.Context, id string) (*research.Session, error) {
	var row sessionRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM sessions WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, research.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("session: load: %w", err)
	}
	return fromRow(&row)
}

func (s *sqliteStore) Update(ctx context.Context, id string, mutate func(*research.Session) error) (*research.Session, error) {
	unlock := s.locks.lock(id)
	defer unlock()

	for attempt := 0; attempt < updateRetries; attempt++ {
		sess, err := s.Load(ctx, id)
		if err != nil {
			return nil, err
		}
		oldVersion := sess.Version
		if err := mutate(sess); err != nil {
			return nil, err
		}
		sess.Version = oldVersion + 1
		sess.UpdatedAt = time.Now().UTC()

		row, err := toRow(sess)
		if err != nil {
			return nil, err
		}
		res, err := s.db.ExecContext(ctx, `
			UPDATE sessions
			SET state = ?, stage = ?, progress = ?, last_error = ?, error_kind = ?, version = ?, updated_at = ?
			WHERE id = ? AND version = ?`,
			row.State, row.Stage, row.Progress, row.LastError, row.ErrorKind, row.Version, row.UpdatedAt,
			id, oldVersion)
		if err != nil {
			return nil, fmt.Errorf("session: update: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 1 {
			return sess, nil
		}
		metrics.StoreUpdateConflicts.Inc()
	}
	return nil, conflictErr(id)
}

func (s *sqliteStore) List(ctx context.Context, f Filter) ([]*research.Session, int, error) {
	where := ""
	args := []interface{}{}
	if f.Stage != "" {
		where = " WHERE stage = ?"
		args = append(args, string(f.Stage))
	}
	var total int
	if err := s.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM sessions`+where, args...); err != nil {
		return nil, 0, fmt.Errorf("session: count: %w", err)
	}

	q := `SELECT * FROM sessions` + where + ` ORDER BY created_at DESC`
	if f.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d OFFSET %d", f.Limit, f.Offset)
	}
	var rows []sessionRow
	if err := s.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, 0, fmt.Errorf("session: list: %w", err)
	}
	out := make([]*research.Session, 0, len(rows))
	for i := range rows {
		sess, err := fromRow(&rows[i])
		if err != nil {
			s.logger.Warn("skipping corrupt session row", zap.String("id", rows[i].ID), zap.Error(err))
			continue
		}
		out = append(out, sess)
	}
	return out, total, nil
}

func (s *sqliteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("session: delete: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return research.ErrNotFound
	}
	s.locks.forget(id)
	return nil
}

func (s *sqliteStore) SaveReport(ctx context.Context, id string, markdown string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE sessions SET report = ? WHERE id = ?`, markdown, id)
	if err != nil {
		return fmt.Errorf("session: save report: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return research.ErrNotFound
	}
	return nil
}

func (s *sqliteStore) Close() error { return s.db.Close() }

func toRow(sess *research.Session) (*sessionRow, error) {
	meta, err := json.Marshal(sess.Spec)
	if err != nil {
		return nil, fmt.Errorf("session: marshal meta: %w", err)
	}
	state, err := json.Marshal(sess.State)
	if err != nil {
		return nil, fmt.Errorf("session: marshal state: %w", err)
	}
	return &sessionRow{
		ID:        sess.ID,
		Meta:      string(meta),
		State:     string(state),
		Stage:     string(sess.Stage),
		Progress:  sess.Progress,
		LastError: sess.LastError,
		ErrorKind: string(sess.ErrorKind),
		Version:   sess.Version,
		CreatedAt: sess.Spec.CreatedAt,
		UpdatedAt: sess.UpdatedAt,
	}, nil
}

func fromRow(row *sessionRow) (*research.Session, error) {
	sess := &research.Session{
		ID:        row.ID,
		Stage:     research.Stage(row.Stage),
		Progress:  row.Progress,
		LastError: row.LastError,
		ErrorKind: research.Kind(row.ErrorKind),
		Version:   row.Version,
		UpdatedAt: row.UpdatedAt,
	}
	if err := json.Unmarshal([]byte(row.Meta), &sess.Spec); err != nil {
		return nil, fmt.Errorf("session: unmarshal meta: %w", err)
	}
	if err := json.Unmarshal([]byte(row.State), &sess.State); err != nil {
		return nil, fmt.Errorf("session: unmarshal state: %w", err)
	}
	return sess, nil
}
