package handlers

import (
	"net/http"
	"strings"

	"github.com/micro-ha/hive-bridge/internal/session"
)

type loginPayload struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type challengePayload struct {
	Code string `json:"code"`
}

type devicePayload struct {
	DeviceName string `json:"device_name"`
}

type setupResponse struct {
	State             session.State `json:"state"`
	ChallengeRequired bool          `json:"challenge_required"`
	Devices           int           `json:"devices"`
}

// SetupLogin starts a session from username and password. A device
// remembered for the same account is reused so the SMS step is skipped.
func (a *API) SetupLogin(w http.ResponseWriter, r *http.Request) {
	var payload loginPayload
	if !decodeBody(w, r, &payload) {
		return
	}
	payload.Username = strings.TrimSpace(payload.Username)
	if payload.Username == "" || payload.Password == "" {
		writeError(w, http.StatusBadRequest, "invalid_payload", "username and password are required")
		return
	}

	creds := credentialsFor(r, a.creds, payload.Username, payload.Password)
	result, err := a.session.Start(r.Context(), creds, nil)
	a.writeSetup(w, result, err)
}

// SetupChallenge answers the pending SMS challenge.
func (a *API) SetupChallenge(w http.ResponseWriter, r *http.Request) {
	var payload challengePayload
	if !decodeBody(w, r, &payload) {
		return
	}
	code := strings.TrimSpace(payload.Code)
	if code == "" {
		writeError(w, http.StatusBadRequest, "invalid_payload", "code is required")
		return
	}
	result, err := a.session.SubmitChallenge(r.Context(), code)
	a.writeSetup(w, result, err)
}

// SetupDevice remembers this install so later logins skip the SMS step.
func (a *API) SetupDevice(w http.ResponseWriter, r *http.Request) {
	var payload devicePayload
	if !decodeBody(w, r, &payload) {
		return
	}
	name := strings.TrimSpace(payload.DeviceName)
	if name == "" {
		name = a.deviceName
	}
	device, err := a.session.RegisterDevice(r.Context(), name)
	if err != nil {
		a.logger.Warn("device registration failed", "err", err)
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"device_name": device.Name, "remembered": true})
}

func (a *API) writeSetup(w http.ResponseWriter, result session.SetupResult, err error) {
	if err != nil && result.State != session.StateAuthenticated && result.State != session.StatePolling {
		writeServiceError(w, err)
		return
	}
	if err != nil {
		// Authenticated, only the first poll failed. The timer retries.
		a.logger.Warn("initial poll failed", "err", err)
	}
	writeJSON(w, http.StatusOK, setupResponse{
		State:             result.State,
		ChallengeRequired: result.ChallengeRequired,
		Devices:           a.session.Catalog().Len(),
	})
}
