package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/frl/feed-api/internal/repository"
)

// ErrInvalidCredentials indicates the api id/key pair did not match an
// active client.
var ErrInvalidCredentials = errors.New("auth: invalid credentials")

// Service validates feed API credentials against the client registry.
type Service struct {
	clients repository.FeedRepository
	logger  *slog.Logger
}

// New constructs a Service.
func New(clients repository.FeedRepository, logger *slog.Logger) Service {
	return Service{clients: clients, logger: logger}
}

// Validate checks an api id/key pair and returns the owning user id.
// Storage failures pass through untouched so callers can distinguish an
// unavailable database from a bad credential.
func (s Service) Validate(ctx context.Context, apiID, apiKey string) (int64, error) {
	apiID = strings.TrimSpace(apiID)
	apiKey = strings.TrimSpace(apiKey)
	if apiID == "" || apiKey == "" {
		return 0, ErrInvalidCredentials
	}
	userID, err := s.clients.ValidateAPIClient(ctx, apiID, apiKey)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.logger.Warn("credential rejected", "api_id", apiID)
			return 0, ErrInvalidCredentials
		}
		return 0, err
	}
	return userID, nil
}
