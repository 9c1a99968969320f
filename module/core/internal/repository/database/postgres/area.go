package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/Mattboss10/ProjectCleanFlow/module/core/domain"
	"github.com/Mattboss10/ProjectCleanFlow/module/core/internal/repository/database"
)

var _ database.AreaStore = (*AreaRepo)(nil)

const (
	notifyChannel = "reported_areas"
	pingInterval  = 90 * time.Second
)

const schema = `CREATE TABLE IF NOT EXISTS reported_areas (
	id         TEXT PRIMARY KEY,
	record     JSONB NOT NULL,
	created_at BIGINT NOT NULL
)`

type listener interface {
	Listen(channel string) error
	NotificationChannel() <-chan *pq.Notification
	Ping() error
	Close() error
}

type AreaRepo struct {
	db          *sql.DB
	newListener func() listener
}

// NewAreaRepo builds a store over db. dsn is used to open the dedicated
// LISTEN connection that Watch needs.
func NewAreaRepo(db *sql.DB, dsn string) *AreaRepo {
	return &AreaRepo{
		db: db,
		newListener: func() listener {
			return pq.NewListener(dsn, 10*time.Second, time.Minute, nil)
		},
	}
}

func (r *AreaRepo) EnsureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, schema)
	return err
}

func (r *AreaRepo) Put(ctx context.Context, id string, rec domain.AreaRecord) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal area: %w", err)
	}

	return r.withNotify(ctx, id, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO reported_areas (id, record, created_at) VALUES ($1, $2, $3) ON CONFLICT (id) DO UPDATE SET record = EXCLUDED.record`,
			id, string(body), rec.Timestamp,
		)
		return err
	})
}

func (r *AreaRepo) Remove(ctx context.Context, id string) error {
	return r.withNotify(ctx, id, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM reported_areas WHERE id = $1`, id)
		return err
	})
}

// withNotify runs write and pg_notify in one transaction so listeners only
// hear about committed changes.
func (r *AreaRepo) withNotify(ctx context.Context, id string, write func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := write(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if _, err := tx.ExecContext(ctx, `SELECT pg_notify($1, $2)`, notifyChannel, id); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (r *AreaRepo) Get(ctx context.Context, id string) (*domain.AreaRecord, error) {
	row := r.db.QueryRowContext(ctx, `SELECT record FROM reported_areas WHERE id = $1`, id)

	var body []byte
	if err := row.Scan(&body); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrAreaNotFound
		}
		return nil, err
	}

	var rec domain.AreaRecord
	if err := json.Unmarshal(body, &rec); err != nil {
		return nil, fmt.Errorf("decode area %s: %w", id, err)
	}
	return &rec, nil
}

// List skips rows whose record does not decode; other clients share the table.
func (r *AreaRepo) List(ctx context.Context) (map[string]domain.AreaRecord, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, record FROM reported_areas ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	results := make(map[string]domain.AreaRecord)
	for rows.Next() {
		var (
			id   string
			body []byte
		)
		if err := rows.Scan(&id, &body); err != nil {
			return nil, err
		}
		var rec domain.AreaRecord
		if err := json.Unmarshal(body, &rec); err != nil {
			continue
		}
		results[id] = rec
	}
	return results, rows.Err()
}

func (r *AreaRepo) Watch(ctx context.Context, onChange func()) error {
	l := r.newListener()
	defer func() { _ = l.Close() }()

	if err := l.Listen(notifyChannel); err != nil {
		return fmt.Errorf("listen %s: %w", notifyChannel, err)
	}
	onChange()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-l.NotificationChannel():
			// a nil notification means the listener reconnected and may have
			// missed events, which a full re-read covers as well
			onChange()
		case <-ticker.C:
			if err := l.Ping(); err != nil {
				return fmt.Errorf("listener ping: %w", err)
			}
		}
	}
}
