package handlers

import (
	"net/http"
	"strings"

	"github.com/micro-ha/hive-bridge/internal/model"
)

// ListDevices returns catalog records, optionally filtered by capability.
func (a *API) ListDevices(w http.ResponseWriter, r *http.Request) {
	cat := a.session.Catalog()
	items := cat.Records()
	if raw := strings.TrimSpace(r.URL.Query().Get("capability")); raw != "" {
		capability := model.Capability(raw)
		if !capability.Valid() {
			writeError(w, http.StatusBadRequest, "invalid_capability", "Unknown capability "+raw)
			return
		}
		items = cat.ByCapability(capability)
	}
	if items == nil {
		items = []model.DeviceRecord{}
	}
	resp := map[string]any{"items": items}
	if refreshed := cat.LastRefreshed(); !refreshed.IsZero() {
		resp["refreshed_at"] = refreshed
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetDevice returns one catalog record.
func (a *API) GetDevice(w http.ResponseWriter, _ *http.Request, id string) {
	record, err := a.session.Catalog().ByID(id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}
