package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/dunamismax/pixelgate/internal/domain"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS renders (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	request JSONB NOT NULL,
	callback_url TEXT NOT NULL DEFAULT '',
	url TEXT NOT NULL DEFAULT '',
	error TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS usage_logs (
	id BIGSERIAL PRIMARY KEY,
	user_id TEXT NOT NULL,
	render_id TEXT NOT NULL,
	backend TEXT NOT NULL,
	pixels_rendered BIGINT NOT NULL,
	bytes_written BIGINT NOT NULL,
	compute_time_ms BIGINT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
`

const renderColumns = `id, user_id, status, request, callback_url, url, error, created_at, updated_at`

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	store := &PostgresStore{db: db}
	if err := store.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure renders schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) Create(ctx context.Context, render domain.Render) error {
	requestJSON, err := json.Marshal(render.Request)
	if err != nil {
		return fmt.Errorf("marshal render request: %w", err)
	}

	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO renders (`+renderColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		render.ID,
		render.UserID,
		render.Status,
		requestJSON,
		render.CallbackURL,
		render.URL,
		render.Error,
		render.CreatedAt,
		render.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert render: %w", err)
	}

	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (domain.Render, bool, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+renderColumns+`
		 FROM renders
		 WHERE id = $1`,
		id,
	)

	var (
		render      domain.Render
		requestJSON []byte
	)
	if err := row.Scan(
		&render.ID,
		&render.UserID,
		&render.Status,
		&requestJSON,
		&render.CallbackURL,
		&render.URL,
		&render.Error,
		&render.CreatedAt,
		&render.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Render{}, false, nil
		}
		return domain.Render{}, false, fmt.Errorf("query render: %w", err)
	}

	if err := json.Unmarshal(requestJSON, &render.Request); err != nil {
		return domain.Render{}, false, fmt.Errorf("unmarshal render request: %w", err)
	}

	return render, true, nil
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, id, status string) (domain.Render, error) {
	return s.exec(ctx, id,
		`UPDATE renders
		 SET status = $1, updated_at = $2
		 WHERE id = $3`,
		status, time.Now().UTC(), id,
	)
}

func (s *PostgresStore) Finish(ctx context.Context, id, status, url, errMsg string) (domain.Render, error) {
	return s.exec(ctx, id,
		`UPDATE renders
		 SET status = $1, url = $2, error = $3, updated_at = $4
		 WHERE id = $5`,
		status, url, errMsg, time.Now().UTC(), id,
	)
}

func (s *PostgresStore) CreateUsageLog(ctx context.Context, usage domain.UsageLog) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO usage_logs (user_id, render_id, backend, pixels_rendered, bytes_written, compute_time_ms, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		usage.UserID,
		usage.RenderID,
		usage.Backend,
		usage.PixelsRendered,
		usage.BytesWritten,
		usage.ComputeTimeMS,
		usage.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert usage log: %w", err)
	}
	return nil
}

func (s *PostgresStore) exec(ctx context.Context, id, query string, args ...any) (domain.Render, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return domain.Render{}, fmt.Errorf("update render: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.Render{}, ErrRenderNotFound
	}

	render, ok, err := s.Get(ctx, id)
	if err != nil {
		return domain.Render{}, err
	}
	if !ok {
		return domain.Render{}, ErrRenderNotFound
	}
	return render, nil
}
