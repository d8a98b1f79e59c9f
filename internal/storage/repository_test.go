package storage

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/micro-ha/hive-bridge/internal/model"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	repo, err := New(context.Background(), filepath.Join(t.TempDir(), "test.db"), slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestTokensRoundTrip(t *testing.T) {
	t.Helper()
	repo := newTestRepo(t)
	ctx := context.Background()

	loaded, err := repo.LoadTokens(ctx)
	if err != nil {
		t.Fatalf("LoadTokens() error = %v", err)
	}
	if loaded != nil {
		t.Fatalf("expected no tokens on empty store, got %+v", loaded)
	}

	expiry := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tokens := model.TokenSet{AccessToken: "a", RefreshToken: "r", IDToken: "i", Expiry: expiry}
	if err := repo.SaveTokens(ctx, tokens); err != nil {
		t.Fatalf("SaveTokens() error = %v", err)
	}

	loaded, err = repo.LoadTokens(ctx)
	if err != nil {
		t.Fatalf("LoadTokens() error = %v", err)
	}
	if loaded == nil || loaded.AccessToken != "a" || loaded.RefreshToken != "r" || !loaded.Expiry.Equal(expiry) {
		t.Fatalf("unexpected tokens %+v", loaded)
	}

	if err := repo.ClearTokens(ctx); err != nil {
		t.Fatalf("ClearTokens() error = %v", err)
	}
	if loaded, _ = repo.LoadTokens(ctx); loaded != nil {
		t.Fatalf("expected tokens cleared")
	}
}

func TestSaveTokensRejectsPendingChallenge(t *testing.T) {
	t.Helper()
	repo := newTestRepo(t)

	pending := model.TokenSet{Challenge: model.ChallengeSMSMFA, ChallengeSession: "blob"}
	if err := repo.SaveTokens(context.Background(), pending); !errors.Is(err, ErrTokensNotAuthenticated) {
		t.Fatalf("expected ErrTokensNotAuthenticated, got %v", err)
	}
	if loaded, _ := repo.LoadTokens(context.Background()); loaded != nil {
		t.Fatalf("pending token set must not be stored")
	}
}

func TestCredentialsKeepDeviceForSameUser(t *testing.T) {
	t.Helper()
	repo := newTestRepo(t)
	ctx := context.Background()

	if _, err := repo.LoadCredentials(ctx); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := repo.SaveDevice(ctx, model.DeviceMetadata{GroupKey: "g"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("SaveDevice without credentials should fail, got %v", err)
	}

	if err := repo.SaveCredentials(ctx, model.Credentials{Username: "alice", Password: "pw1"}); err != nil {
		t.Fatalf("SaveCredentials() error = %v", err)
	}
	device := model.DeviceMetadata{GroupKey: "g", Key: "k", Password: "p", Name: "Home Assistant"}
	if err := repo.SaveDevice(ctx, device); err != nil {
		t.Fatalf("SaveDevice() error = %v", err)
	}

	if err := repo.SaveCredentials(ctx, model.Credentials{Username: "alice", Password: "pw2"}); err != nil {
		t.Fatalf("SaveCredentials() error = %v", err)
	}
	creds, err := repo.LoadCredentials(ctx)
	if err != nil {
		t.Fatalf("LoadCredentials() error = %v", err)
	}
	if creds.Password != "pw2" || creds.Device == nil || *creds.Device != device {
		t.Fatalf("unexpected credentials %+v", creds)
	}

	if err := repo.SaveCredentials(ctx, model.Credentials{Username: "bob", Password: "pw"}); err != nil {
		t.Fatalf("SaveCredentials() error = %v", err)
	}
	creds, _ = repo.LoadCredentials(ctx)
	if creds.Device != nil {
		t.Fatalf("device must be forgotten when the account changes")
	}
}

func TestOptionsRoundTrip(t *testing.T) {
	t.Helper()
	repo := newTestRepo(t)
	ctx := context.Background()

	opts, err := repo.LoadOptions(ctx)
	if err != nil || opts.ScanIntervalSec != 0 {
		t.Fatalf("unexpected empty options %+v err=%v", opts, err)
	}
	if err := repo.SaveOptions(ctx, model.IntegrationOptions{ScanIntervalSec: 300}); err != nil {
		t.Fatalf("SaveOptions() error = %v", err)
	}
	opts, err = repo.LoadOptions(ctx)
	if err != nil || opts.ScanIntervalSec != 300 {
		t.Fatalf("unexpected options %+v err=%v", opts, err)
	}
}
