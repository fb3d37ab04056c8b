package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS urls (
	id BIGSERIAL PRIMARY KEY,
	target_url TEXT NOT NULL,
	short_id TEXT NOT NULL UNIQUE,
	custom_alias TEXT UNIQUE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_urls_target_url ON urls (target_url);

CREATE TABLE IF NOT EXISTS clicks (
	id BIGSERIAL PRIMARY KEY,
	url_id BIGINT NOT NULL REFERENCES urls (id),
	clicked_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	referrer TEXT,
	user_agent TEXT
);
CREATE INDEX IF NOT EXISTS idx_clicks_url_id ON clicks (url_id, id);
`

// pgUniqueViolation is the SQLSTATE for unique_violation.
const pgUniqueViolation = "23505"

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Session(ctx context.Context, fn func(Session) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) // Rollback if not committed

	if err := fn(&postgresSession{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

type postgresSession struct {
	tx pgx.Tx
}

func (s *postgresSession) InsertLinkIfAbsent(ctx context.Context, link *ShortLink) error {
	query := `INSERT INTO urls (target_url, short_id, custom_alias) VALUES ($1, $2, $3)
		ON CONFLICT DO NOTHING RETURNING id, created_at`
	err := s.tx.QueryRow(ctx, query, link.TargetURL, link.ShortID, link.CustomAlias).Scan(&link.ID, &link.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isPgUniqueViolation(err) {
			return ErrConflict
		}
		return err
	}
	return nil
}

func (s *postgresSession) GetLink(ctx context.Context, shortID string) (*ShortLink, error) {
	query := `SELECT id, target_url, short_id, custom_alias, created_at FROM urls WHERE short_id = $1`
	var link ShortLink
	err := s.tx.QueryRow(ctx, query, shortID).Scan(&link.ID, &link.TargetURL, &link.ShortID, &link.CustomAlias, &link.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &link, nil
}

func (s *postgresSession) AppendClick(ctx context.Context, link *ShortLink, click *ClickEvent) error {
	query := `INSERT INTO clicks (url_id, referrer, user_agent) VALUES ($1, $2, $3) RETURNING id, clicked_at`
	click.LinkID = link.ID
	return s.tx.QueryRow(ctx, query, link.ID, click.Referrer, click.UserAgent).Scan(&click.ID, &click.ClickedAt)
}

func (s *postgresSession) CountClicks(ctx context.Context, link *ShortLink) (int64, error) {
	var count int64
	err := s.tx.QueryRow(ctx, `SELECT COUNT(*) FROM clicks WHERE url_id = $1`, link.ID).Scan(&count)
	return count, err
}

func (s *postgresSession) RecentClicks(ctx context.Context, link *ShortLink, limit int) ([]ClickEvent, error) {
	// newest first, reversed below
	query := `SELECT id, url_id, clicked_at, referrer, user_agent FROM clicks
		WHERE url_id = $1 ORDER BY id DESC LIMIT $2`
	rows, err := s.tx.Query(ctx, query, link.ID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	clicks := make([]ClickEvent, 0, limit)
	for rows.Next() {
		var c ClickEvent
		if err := rows.Scan(&c.ID, &c.LinkID, &c.ClickedAt, &c.Referrer, &c.UserAgent); err != nil {
			return nil, err
		}
		clicks = append(clicks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	reverseClicks(clicks)
	return clicks, nil
}

func isPgUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

func reverseClicks(clicks []ClickEvent) {
	for i, j := 0, len(clicks)-1; i < j; i, j = i+1, j-1 {
		clicks[i], clicks[j] = clicks[j], clicks[i]
	}
}
