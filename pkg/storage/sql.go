package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/tursodatabase/libsql-client-go/libsql" // Turso driver
	_ "modernc.org/sqlite"                               // Local SQLite driver
)

const sqlSchema = `
CREATE TABLE IF NOT EXISTS urls (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	target_url TEXT NOT NULL,
	short_id TEXT NOT NULL UNIQUE,
	custom_alias TEXT UNIQUE,
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_urls_target_url ON urls(target_url);

CREATE TABLE IF NOT EXISTS clicks (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	url_id INTEGER NOT NULL,
	clicked_at DATETIME NOT NULL,
	referrer TEXT,
	user_agent TEXT,
	FOREIGN KEY(url_id) REFERENCES urls(id)
);
CREATE INDEX IF NOT EXISTS idx_clicks_url_id ON clicks(url_id, id);
`

// SQLStore backs the service with SQLite, locally through modernc.org/sqlite
// or remotely through libSQL (Turso).
type SQLStore struct {
	db *sql.DB
	qb sq.StatementBuilderType
}

func NewSQLStore(ctx context.Context, dsn string) (*SQLStore, error) {
	driverName := "sqlite"
	if isLibSQL(dsn) {
		driverName = "libsql"
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, err
	}
	// SQLite allows a single writer; one connection keeps sessions serialized.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, sqlSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	return &SQLStore{
		db: db,
		qb: sq.StatementBuilder.PlaceholderFormat(sq.Question),
	}, nil
}

func isLibSQL(dsn string) bool {
	return strings.HasPrefix(dsn, "libsql://") || strings.HasPrefix(dsn, "wss://") || strings.HasPrefix(dsn, "https://")
}

func (s *SQLStore) Session(ctx context.Context, fn func(Session) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&sqlSession{tx: tx, qb: s.qb}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

type sqlSession struct {
	tx *sql.Tx
	qb sq.StatementBuilderType
}

func (s *sqlSession) InsertLinkIfAbsent(ctx context.Context, link *ShortLink) error {
	createdAt := time.Now().UTC()
	query, args, err := s.qb.Insert("urls").
		Columns("target_url", "short_id", "custom_alias", "created_at").
		Values(link.TargetURL, link.ShortID, link.CustomAlias, createdAt).
		Suffix("ON CONFLICT DO NOTHING").
		ToSql()
	if err != nil {
		return err
	}

	res, err := s.tx.ExecContext(ctx, query, args...)
	if err != nil {
		if isSQLiteUniqueConstraint(err) {
			return ErrConflict
		}
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrConflict
	}

	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	link.ID = id
	link.CreatedAt = createdAt
	return nil
}

func (s *sqlSession) GetLink(ctx context.Context, shortID string) (*ShortLink, error) {
	query, args, err := s.qb.Select("id", "target_url", "short_id", "custom_alias", "created_at").
		From("urls").
		Where(sq.Eq{"short_id": shortID}).
		ToSql()
	if err != nil {
		return nil, err
	}

	var link ShortLink
	var alias sql.NullString
	err = s.tx.QueryRowContext(ctx, query, args...).Scan(&link.ID, &link.TargetURL, &link.ShortID, &alias, &link.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if alias.Valid {
		link.CustomAlias = &alias.String
	}
	link.CreatedAt = link.CreatedAt.UTC()
	return &link, nil
}

func (s *sqlSession) AppendClick(ctx context.Context, link *ShortLink, click *ClickEvent) error {
	clickedAt := time.Now().UTC()
	query, args, err := s.qb.Insert("clicks").
		Columns("url_id", "clicked_at", "referrer", "user_agent").
		Values(link.ID, clickedAt, click.Referrer, click.UserAgent).
		ToSql()
	if err != nil {
		return err
	}

	res, err := s.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}

	click.ID = id
	click.LinkID = link.ID
	click.ClickedAt = clickedAt
	return nil
}

func (s *sqlSession) CountClicks(ctx context.Context, link *ShortLink) (int64, error) {
	query, args, err := s.qb.Select("COUNT(*)").
		From("clicks").
		Where(sq.Eq{"url_id": link.ID}).
		ToSql()
	if err != nil {
		return 0, err
	}

	var count int64
	err = s.tx.QueryRowContext(ctx, query, args...).Scan(&count)
	return count, err
}

func (s *sqlSession) RecentClicks(ctx context.Context, link *ShortLink, limit int) ([]ClickEvent, error) {
	query, args, err := s.qb.Select("id", "url_id", "clicked_at", "referrer", "user_agent").
		From("clicks").
		Where(sq.Eq{"url_id": link.ID}).
		OrderBy("id DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := s.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	clicks := make([]ClickEvent, 0, limit)
	for rows.Next() {
		var c ClickEvent
		var referrer, userAgent sql.NullString
		if err := rows.Scan(&c.ID, &c.LinkID, &c.ClickedAt, &referrer, &userAgent); err != nil {
			return nil, err
		}
		if referrer.Valid {
			c.Referrer = &referrer.String
		}
		if userAgent.Valid {
			c.UserAgent = &userAgent.String
		}
		c.ClickedAt = c.ClickedAt.UTC()
		clicks = append(clicks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	reverseClicks(clicks)
	return clicks, nil
}

func isSQLiteUniqueConstraint(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
