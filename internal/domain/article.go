package domain

import "time"

// Article is a stored feed article belonging to a registered domain.
type Article struct {
	ID          int64     `json:"id"`
	DomainID    int64     `json:"domain_id"`
	Title       string    `json:"title"`
	Slug        string    `json:"slug"`
	Body        string    `json:"body"`
	PublishedAt time.Time `json:"published_at"`
}
