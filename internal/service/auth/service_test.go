package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/frl/feed-api/internal/db"
	"github.com/frl/feed-api/internal/domain"
	"github.com/frl/feed-api/internal/repository"
)

type fakeClients struct {
	userID int64
	err    error
}

func (f *fakeClients) GetDomainID(context.Context, string) (int64, error) { return 0, nil }
func (f *fakeClients) ListArticles(context.Context, int64, int) ([]domain.Article, error) {
	return nil, nil
}
func (f *fakeClients) ValidateAPIClient(context.Context, string, string) (int64, error) {
	return f.userID, f.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

func TestValidateAcceptsKnownClient(t *testing.T) {
	svc := New(&fakeClients{userID: 42}, testLogger())

	userID, err := svc.Validate(context.Background(), "client-1", "key-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if userID != 42 {
		t.Fatalf("expected user 42, got %d", userID)
	}
}

func TestValidateRejectsUnknownClient(t *testing.T) {
	svc := New(&fakeClients{err: repository.ErrNotFound}, testLogger())

	if _, err := svc.Validate(context.Background(), "client-1", "bad"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestValidateRejectsEmptyCredentials(t *testing.T) {
	svc := New(&fakeClients{userID: 42}, testLogger())

	if _, err := svc.Validate(context.Background(), "", ""); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestValidatePassesStorageErrorsThrough(t *testing.T) {
	svc := New(&fakeClients{err: db.ErrUnavailable}, testLogger())

	_, err := svc.Validate(context.Background(), "client-1", "key-1")
	if !errors.Is(err, db.ErrUnavailable) {
		t.Fatalf("expected unavailable error to pass through, got %v", err)
	}
}
