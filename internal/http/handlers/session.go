package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/micro-ha/hive-bridge/internal/model"
)

type optionsPayload struct {
	ScanInterval *int `json:"scan_interval"`
}

// GetSession returns the session summary.
func (a *API) GetSession(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.session.Info())
}

// PutOptions changes the poll interval. Values below the floor are
// clamped; the effective value is returned.
func (a *API) PutOptions(w http.ResponseWriter, r *http.Request) {
	var payload optionsPayload
	if !decodeBody(w, r, &payload) {
		return
	}
	if payload.ScanInterval == nil || *payload.ScanInterval <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_payload", "scan_interval must be a positive number of seconds")
		return
	}
	effective, err := a.session.SetInterval(r.Context(), time.Duration(*payload.ScanInterval)*time.Second)
	if err != nil {
		a.logger.Error("failed to persist options", "err", err)
	}
	writeJSON(w, http.StatusOK, model.IntegrationOptions{ScanIntervalSec: int(effective / time.Second)})
}

// Refresh polls immediately and returns the new summary.
func (a *API) Refresh(w http.ResponseWriter, r *http.Request) {
	if err := a.session.RefreshAndNotify(r.Context()); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a.session.Info())
}

// credentialsFor attaches the remembered device when the stored account
// matches username.
func credentialsFor(r *http.Request, store CredentialStore, username, password string) model.Credentials {
	creds := model.Credentials{Username: username, Password: password}
	if store == nil {
		return creds
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	stored, err := store.LoadCredentials(ctx)
	if err == nil && stored.Username == username && stored.Device != nil && stored.Device.Valid() {
		creds.Device = stored.Device
	}
	return creds
}
