package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	linkSeqKey  = "links:seq"
	clickSeqKey = "clicks:seq"
)

func linkKey(shortID string) string   { return "link:" + shortID }
func clicksKey(shortID string) string { return "clicks:" + shortID }

// RedisStore keeps links as JSON strings and each link's clicks as an
// append-only list. Persistence depends on the server's AOF/RDB settings.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return NewRedisStoreFromClient(ctx, redis.NewClient(opt))
}

func NewRedisStoreFromClient(ctx context.Context, client *redis.Client) (*RedisStore, error) {
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return &RedisStore{client: client}, nil
}

// Session checks a single connection out of the pool for the duration of fn.
func (s *RedisStore) Session(ctx context.Context, fn func(Session) error) error {
	conn := s.client.Conn()
	defer conn.Close()
	return fn(&redisSession{conn: conn})
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

type redisSession struct {
	conn *redis.Conn
}

func (s *redisSession) InsertLinkIfAbsent(ctx context.Context, link *ShortLink) error {
	if link.CustomAlias != nil && *link.CustomAlias != link.ShortID {
		return fmt.Errorf("custom alias %q must equal short id %q", *link.CustomAlias, link.ShortID)
	}

	id, err := s.conn.Incr(ctx, linkSeqKey).Result()
	if err != nil {
		return err
	}

	stored := *link
	stored.ID = id
	stored.CreatedAt = time.Now().UTC()
	data, err := json.Marshal(&stored)
	if err != nil {
		return err
	}

	ok, err := s.conn.SetNX(ctx, linkKey(link.ShortID), data, 0).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrConflict
	}

	link.ID = stored.ID
	link.CreatedAt = stored.CreatedAt
	return nil
}

func (s *redisSession) GetLink(ctx context.Context, shortID string) (*ShortLink, error) {
	val, err := s.conn.Get(ctx, linkKey(shortID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var link ShortLink
	if err := json.Unmarshal([]byte(val), &link); err != nil {
		return nil, err
	}
	return &link, nil
}

func (s *redisSession) AppendClick(ctx context.Context, link *ShortLink, click *ClickEvent) error {
	id, err := s.conn.Incr(ctx, clickSeqKey).Result()
	if err != nil {
		return err
	}

	click.ID = id
	click.LinkID = link.ID
	click.ClickedAt = time.Now().UTC()
	data, err := json.Marshal(click)
	if err != nil {
		return err
	}
	return s.conn.RPush(ctx, clicksKey(link.ShortID), data).Err()
}

func (s *redisSession) CountClicks(ctx context.Context, link *ShortLink) (int64, error) {
	return s.conn.LLen(ctx, clicksKey(link.ShortID)).Result()
}

func (s *redisSession) RecentClicks(ctx context.Context, link *ShortLink, limit int) ([]ClickEvent, error) {
	if limit <= 0 {
		return []ClickEvent{}, nil
	}
	vals, err := s.conn.LRange(ctx, clicksKey(link.ShortID), int64(-limit), -1).Result()
	if err != nil {
		return nil, err
	}

	clicks := make([]ClickEvent, 0, len(vals))
	for _, val := range vals {
		var c ClickEvent
		if err := json.Unmarshal([]byte(val), &c); err != nil {
			return nil, err
		}
		clicks = append(clicks, c)
	}
	return clicks, nil
}
