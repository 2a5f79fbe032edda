package repository

import (
	"context"

	"github.com/frl/feed-api/internal/domain"
)

// FeedRepository provides persistence for the feed surface.
type FeedRepository interface {
	// GetDomainID resolves a registered domain name to its identifier.
	GetDomainID(ctx context.Context, domainName string) (int64, error)
	// ListArticles returns published articles for a domain, newest first.
	ListArticles(ctx context.Context, domainID int64, limit int) ([]domain.Article, error)
	// ValidateAPIClient checks an api id/key pair and returns the owning
	// user id when valid.
	ValidateAPIClient(ctx context.Context, apiID, apiKey string) (int64, error)
}
