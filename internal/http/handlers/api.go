package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/micro-ha/hive-bridge/internal/catalog"
	"github.com/micro-ha/hive-bridge/internal/command"
	"github.com/micro-ha/hive-bridge/internal/entity"
	"github.com/micro-ha/hive-bridge/internal/model"
	"github.com/micro-ha/hive-bridge/internal/session"
)

// Session is the session manager surface used by the API.
type Session interface {
	Start(ctx context.Context, creds model.Credentials, existing *model.TokenSet) (session.SetupResult, error)
	SubmitChallenge(ctx context.Context, code string) (session.SetupResult, error)
	RegisterDevice(ctx context.Context, deviceName string) (model.DeviceMetadata, error)
	RefreshAndNotify(ctx context.Context) error
	SetInterval(ctx context.Context, interval time.Duration) (time.Duration, error)
	Catalog() *catalog.Catalog
	Info() model.SessionInfo
}

// Entities exposes entity views.
type Entities interface {
	Views() []entity.View
	View(entityID string) (entity.View, error)
}

// Commands executes user commands.
type Commands interface {
	Execute(ctx context.Context, entityID, name string, params map[string]any) error
	BoostHeating(ctx context.Context, entityID string, minutes int, temperature *float64) error
	BoostHotWater(ctx context.Context, entityID string, minutes int, mode string) error
}

// CredentialStore returns what was saved by an earlier setup.
type CredentialStore interface {
	LoadCredentials(ctx context.Context) (model.Credentials, error)
}

// API groups HTTP handlers and dependencies.
type API struct {
	session    Session
	entities   Entities
	commands   Commands
	creds      CredentialStore
	deviceName string
	logger     *slog.Logger
}

// New creates HTTP handlers with explicit dependencies.
func New(
	sess Session,
	entities Entities,
	commands Commands,
	creds CredentialStore,
	deviceName string,
	logger *slog.Logger,
) *API {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &API{
		session:    sess,
		entities:   entities,
		commands:   commands,
		creds:      creds,
		deviceName: deviceName,
		logger:     logger,
	}
}

// Logger returns request logger used by HTTP middleware.
func (a *API) Logger() *slog.Logger {
	return a.logger
}

// Health reports liveness and the session state.
func (a *API) Health(w http.ResponseWriter, _ *http.Request) {
	info := a.session.Info()
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "session": info.State})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code string, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
	})
}

// writeServiceError maps the error taxonomy onto HTTP responses.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, model.ErrInvalidUsername):
		writeError(w, http.StatusBadRequest, "invalid_username", "Unknown account")
	case errors.Is(err, model.ErrInvalidPassword):
		writeError(w, http.StatusBadRequest, "invalid_password", "Password was rejected")
	case errors.Is(err, model.ErrInvalidChallengeCode):
		writeError(w, http.StatusBadRequest, "invalid_code", "Verification code was rejected")
	case errors.Is(err, command.ErrInvalidParams):
		writeError(w, http.StatusBadRequest, "invalid_params", err.Error())
	case errors.Is(err, model.ErrUnsupportedCommand):
		writeError(w, http.StatusBadRequest, "unsupported_command", err.Error())
	case errors.Is(err, model.ErrUnknownEntity):
		writeError(w, http.StatusNotFound, "unknown_entity", err.Error())
	case errors.Is(err, model.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, model.ErrReauthRequired):
		writeError(w, http.StatusConflict, "reauth_required", "Credentials must be entered again")
	case errors.Is(err, session.ErrNotAuthenticated):
		writeError(w, http.StatusConflict, "not_authenticated", "Session is not authenticated")
	case errors.Is(err, session.ErrNoChallengePending):
		writeError(w, http.StatusConflict, "no_challenge_pending", "No verification code was requested")
	case errors.Is(err, session.ErrSetupInProgress):
		writeError(w, http.StatusConflict, "setup_in_progress", "Another setup step is running")
	case errors.Is(err, session.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, "shutting_down", "Service is shutting down")
	case errors.Is(err, model.ErrAPIUnavailable), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusBadGateway, "api_unavailable", "Vendor API is unavailable")
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

// decodeBody decodes an optional JSON body into dst. An empty body is not
// an error.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Body == nil {
		return true
	}
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	writeError(w, http.StatusBadRequest, "invalid_payload", "Invalid JSON payload")
	return false
}
