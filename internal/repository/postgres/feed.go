package postgres

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/frl/feed-api/internal/db"
	"github.com/frl/feed-api/internal/domain"
	"github.com/frl/feed-api/internal/repository"
)

// Repository implements persistence interfaces on PostgreSQL. Queries run
// through the connection manager so a dropped connection is retried once
// before the error surfaces.
type Repository struct {
	mgr *db.Manager
}

// New constructs a Repository.
func New(mgr *db.Manager) *Repository {
	return &Repository{mgr: mgr}
}

var _ repository.FeedRepository = (*Repository)(nil)

// GetDomainID resolves a registered domain name to its identifier.
func (r *Repository) GetDomainID(ctx context.Context, domainName string) (int64, error) {
	const query = `SELECT id FROM feed_domains WHERE domain_name = $1 AND active`
	var id int64
	err := r.mgr.Execute(ctx, func(ctx context.Context, conn db.Conn) error {
		return conn.QueryRow(ctx, query, strings.ToLower(strings.TrimSpace(domainName))).Scan(&id)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, repository.ErrNotFound
		}
		return 0, err
	}
	return id, nil
}

// ListArticles returns published articles for a domain, newest first.
func (r *Repository) ListArticles(ctx context.Context, domainID int64, limit int) ([]domain.Article, error) {
	if limit <= 0 {
		limit = 20
	}
	const query = `SELECT id, domain_id, title, slug, body, published_at
		FROM feed_articles WHERE domain_id = $1
		ORDER BY published_at DESC LIMIT $2`
	articles := make([]domain.Article, 0)
	err := r.mgr.Execute(ctx, func(ctx context.Context, conn db.Conn) error {
		rows, err := conn.Query(ctx, query, domainID, limit)
		if err != nil {
			return err
		}
		defer rows.Close()

		articles = articles[:0]
		for rows.Next() {
			var a domain.Article
			if err := rows.Scan(&a.ID, &a.DomainID, &a.Title, &a.Slug, &a.Body, &a.PublishedAt); err != nil {
				return err
			}
			articles = append(articles, a)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return articles, nil
}

// ValidateAPIClient checks an api id/key pair and returns the owning user id.
func (r *Repository) ValidateAPIClient(ctx context.Context, apiID, apiKey string) (int64, error) {
	const query = `SELECT user_id FROM api_clients WHERE api_id = $1 AND api_key = $2 AND active`
	var userID int64
	err := r.mgr.Execute(ctx, func(ctx context.Context, conn db.Conn) error {
		return conn.QueryRow(ctx, query, strings.TrimSpace(apiID), strings.TrimSpace(apiKey)).Scan(&userID)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, repository.ErrNotFound
		}
		return 0, err
	}
	return userID, nil
}
