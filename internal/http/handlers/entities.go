package handlers

import (
	"net/http"
	"strings"
)

type boostHeatingPayload struct {
	EntityID    string   `json:"entity_id"`
	Minutes     int      `json:"minutes"`
	Temperature *float64 `json:"temperature"`
}

type boostHotWaterPayload struct {
	EntityID string `json:"entity_id"`
	Minutes  int    `json:"minutes"`
	Mode     string `json:"mode"`
}

// ListEntities returns every registered entity.
func (a *API) ListEntities(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"items": a.entities.Views()})
}

// GetEntity returns one entity view.
func (a *API) GetEntity(w http.ResponseWriter, _ *http.Request, entityID string) {
	view, err := a.entities.View(entityID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// ExecuteCommand runs a command; the JSON body holds its params.
func (a *API) ExecuteCommand(w http.ResponseWriter, r *http.Request, entityID, name string) {
	params := map[string]any{}
	if !decodeBody(w, r, &params) {
		return
	}
	if err := a.commands.Execute(r.Context(), entityID, name, params); err != nil {
		writeServiceError(w, err)
		return
	}
	a.writeEntity(w, entityID)
}

// BoostHeating handles the boost_heating service call.
func (a *API) BoostHeating(w http.ResponseWriter, r *http.Request) {
	var payload boostHeatingPayload
	if !decodeBody(w, r, &payload) {
		return
	}
	entityID := strings.TrimSpace(payload.EntityID)
	if entityID == "" {
		writeError(w, http.StatusBadRequest, "invalid_payload", "entity_id is required")
		return
	}
	if err := a.commands.BoostHeating(r.Context(), entityID, payload.Minutes, payload.Temperature); err != nil {
		writeServiceError(w, err)
		return
	}
	a.writeEntity(w, entityID)
}

// BoostHotWater handles the boost_hot_water service call.
func (a *API) BoostHotWater(w http.ResponseWriter, r *http.Request) {
	var payload boostHotWaterPayload
	if !decodeBody(w, r, &payload) {
		return
	}
	entityID := strings.TrimSpace(payload.EntityID)
	if entityID == "" {
		writeError(w, http.StatusBadRequest, "invalid_payload", "entity_id is required")
		return
	}
	if err := a.commands.BoostHotWater(r.Context(), entityID, payload.Minutes, payload.Mode); err != nil {
		writeServiceError(w, err)
		return
	}
	a.writeEntity(w, entityID)
}

func (a *API) writeEntity(w http.ResponseWriter, entityID string) {
	view, err := a.entities.View(entityID)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "entity": view})
}
