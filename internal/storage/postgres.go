package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"remindbot/internal/reminder"
	logx "remindbot/pkg/logx"
)

type postgresStore struct {
	pool *pgxpool.Pool
	log  logx.Logger
}

func openPostgres(cfg Config, log logx.Logger) (Backend, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("storage.dsn is required for postgres driver")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	st := &postgresStore{pool: pool, log: log}
	if err := st.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return st, nil
}

func (s *postgresStore) migrate(ctx context.Context) error {
	b, err := schemaFS.ReadFile("schema/postgres.sql")
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, string(b))
	return err
}

func (s *postgresStore) Load(ctx context.Context) (Snapshot, error) {
	rows, err := s.pool.Query(ctx, `SELECT user_id, id, task, dt, tz FROM reminders ORDER BY user_id, pos`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	snap := Snapshot{}
	for rows.Next() {
		var userID, id, task, dt, tz string
		if err := rows.Scan(&userID, &id, &task, &dt, &tz); err != nil {
			return nil, err
		}
		due, err := reminder.ParseDue(dt, tz)
		if err != nil {
			s.log.Warn("skip unreadable reminder", logx.String("user", userID), logx.String("id", id), logx.Err(err))
			continue
		}
		snap[userID] = append(snap[userID], reminder.Reminder{ID: id, UserID: userID, Task: task, DueAt: due})
	}
	return snap, rows.Err()
}

// Save replaces the table contents in one transaction using COPY.
func (s *postgresStore) Save(ctx context.Context, snap Snapshot) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM reminders`); err != nil {
		return err
	}
	rows := make([][]any, 0, snap.Len())
	for userID, list := range snap {
		for i, r := range list {
			rows = append(rows, []any{userID, r.ID, r.Task, r.DueAt, r.DT(), r.Zone(), int32(i)})
		}
	}
	if len(rows) > 0 {
		_, err = tx.CopyFrom(ctx,
			pgx.Identifier{"reminders"},
			[]string{"user_id", "id", "task", "due_at", "dt", "tz", "pos"},
			pgx.CopyFromRows(rows),
		)
		if err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (s *postgresStore) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}
