package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"shortlink/pkg/logging"
	"shortlink/pkg/storage"
)

var (
	ErrInvalidURL          = errors.New("invalid URL")
	ErrInvalidAlias        = errors.New("invalid custom alias")
	ErrAliasTaken          = errors.New("custom alias already taken")
	ErrNotFound            = errors.New("url not found")
	ErrAllocationExhausted = errors.New("short id allocation exhausted")
)

// RecentClicksLimit caps Stats.RecentClicks.
const RecentClicksLimit = 5

const defaultAllocationAttempts = 5

type Options struct {
	AllocationAttempts int
	AllowedSchemes     []string
}

type LinkService struct {
	store          storage.Store
	logger         *logging.Logger
	attempts       int
	allowedSchemes []string
	generate       func() (string, error)
}

func NewLinkService(store storage.Store, logger *logging.Logger, opts Options) *LinkService {
	attempts := opts.AllocationAttempts
	if attempts <= 0 {
		attempts = defaultAllocationAttempts
	}
	schemes := opts.AllowedSchemes
	if len(schemes) == 0 {
		schemes = []string{"http", "https"}
	}
	return &LinkService{
		store:          store,
		logger:         logger,
		attempts:       attempts,
		allowedSchemes: schemes,
		generate:       GenerateShortID,
	}
}

type ShortenRequest struct {
	TargetURL   string  `json:"target_url"`
	CustomAlias *string `json:"custom_alias,omitempty"`
}

type ClickSummary struct {
	ClickedAt time.Time `json:"clicked_at"`
	Referrer  *string   `json:"referrer"`
	UserAgent *string   `json:"user_agent"`
}

type Stats struct {
	URL          string         `json:"url"`
	ShortID      string         `json:"short_id"`
	CreatedAt    time.Time      `json:"created_at"`
	Clicks       int64          `json:"clicks"`
	RecentClicks []ClickSummary `json:"recent_clicks"`
}

// Shorten validates the target and allocates a short id for it. A custom
// alias is used verbatim; otherwise random ids are tried until one inserts.
func (s *LinkService) Shorten(ctx context.Context, req *ShortenRequest) (*storage.ShortLink, error) {
	target := req.TargetURL
	parsed, err := ValidateTargetURL(target, s.allowedSchemes)
	scheme := ""
	if parsed != nil {
		scheme = parsed.Scheme
	}
	s.logger.LogURLValidation(ctx, err == nil, scheme)
	if err != nil {
		return nil, err
	}

	if req.CustomAlias != nil && *req.CustomAlias != "" {
		return s.shortenWithAlias(ctx, target, *req.CustomAlias)
	}
	return s.shortenRandom(ctx, target)
}

func (s *LinkService) shortenWithAlias(ctx context.Context, target, alias string) (*storage.ShortLink, error) {
	if !ValidateAlias(alias) {
		s.logger.LogLinkOperation(ctx, "create", alias, false)
		return nil, ErrInvalidAlias
	}

	link := &storage.ShortLink{
		TargetURL:   target,
		ShortID:     alias,
		CustomAlias: &alias,
	}
	err := s.store.Session(ctx, func(sess storage.Session) error {
		existing, err := sess.GetLink(ctx, alias)
		if err != nil {
			return err
		}
		if existing != nil {
			return ErrAliasTaken
		}
		return sess.InsertLinkIfAbsent(ctx, link)
	})
	if errors.Is(err, storage.ErrConflict) {
		// lost a race with a concurrent insert of the same alias
		err = ErrAliasTaken
	}
	if err != nil {
		s.logger.LogLinkOperation(ctx, "create", alias, false)
		if errors.Is(err, ErrAliasTaken) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to store link: %w", err)
	}

	s.logger.LogLinkOperation(ctx, "create", alias, true)
	return link, nil
}

func (s *LinkService) shortenRandom(ctx context.Context, target string) (*storage.ShortLink, error) {
	for attempt := 1; attempt <= s.attempts; attempt++ {
		shortID, err := s.generate()
		if err != nil {
			return nil, err
		}
		link := &storage.ShortLink{TargetURL: target, ShortID: shortID}
		err = s.store.Session(ctx, func(sess storage.Session) error {
			return sess.InsertLinkIfAbsent(ctx, link)
		})
		if errors.Is(err, storage.ErrConflict) {
			s.logger.Warn(ctx, "short id collision, retrying", "short_id", shortID, "attempt", attempt)
			continue
		}
		if err != nil {
			s.logger.LogLinkOperation(ctx, "create", shortID, false)
			return nil, fmt.Errorf("failed to store link: %w", err)
		}

		s.logger.LogLinkOperation(ctx, "create", shortID, true)
		return link, nil
	}

	s.logger.Error(ctx, "short id allocation exhausted", "attempts", s.attempts)
	return nil, ErrAllocationExhausted
}

// RecordClick appends a click for shortID and returns its target. The click
// is committed before the target is returned.
func (s *LinkService) RecordClick(ctx context.Context, shortID string, referrer, userAgent *string) (string, error) {
	var target string
	err := s.store.Session(ctx, func(sess storage.Session) error {
		link, err := sess.GetLink(ctx, shortID)
		if err != nil {
			return err
		}
		if link == nil {
			return ErrNotFound
		}
		if err := sess.AppendClick(ctx, link, &storage.ClickEvent{Referrer: referrer, UserAgent: userAgent}); err != nil {
			return err
		}
		target = link.TargetURL
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", err
		}
		s.logger.Error(ctx, "failed to record click", "short_id", shortID, "error", err)
		return "", fmt.Errorf("failed to record click: %w", err)
	}

	s.logger.LogClick(ctx, shortID, referrer != nil)
	return target, nil
}

func (s *LinkService) GetStats(ctx context.Context, shortID string) (*Stats, error) {
	var stats *Stats
	err := s.store.Session(ctx, func(sess storage.Session) error {
		link, err := sess.GetLink(ctx, shortID)
		if err != nil {
			return err
		}
		if link == nil {
			return ErrNotFound
		}

		count, err := sess.CountClicks(ctx, link)
		if err != nil {
			return err
		}
		recent, err := sess.RecentClicks(ctx, link, RecentClicksLimit)
		if err != nil {
			return err
		}

		stats = &Stats{
			URL:          link.TargetURL,
			ShortID:      link.ShortID,
			CreatedAt:    link.CreatedAt,
			Clicks:       count,
			RecentClicks: make([]ClickSummary, 0, len(recent)),
		}
		for _, c := range recent {
			stats.RecentClicks = append(stats.RecentClicks, ClickSummary{
				ClickedAt: c.ClickedAt,
				Referrer:  c.Referrer,
				UserAgent: c.UserAgent,
			})
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to load stats: %w", err)
	}
	return stats, nil
}
