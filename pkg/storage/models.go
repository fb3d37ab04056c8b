package storage

import (
	"time"
)

// ShortLink maps a short identifier to its target URL.
type ShortLink struct {
	ID          int64     `json:"id" db:"id"`
	TargetURL   string    `json:"target_url" db:"target_url"`
	ShortID     string    `json:"short_id" db:"short_id"`
	CustomAlias *string   `json:"custom_alias,omitempty" db:"custom_alias"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// ClickEvent is one recorded visit to a short link.
type ClickEvent struct {
	ID        int64     `json:"id" db:"id"`
	LinkID    int64     `json:"link_id" db:"link_id"`
	ClickedAt time.Time `json:"clicked_at" db:"clicked_at"`
	Referrer  *string   `json:"referrer" db:"referrer"`
	UserAgent *string   `json:"user_agent" db:"user_agent"`
}
