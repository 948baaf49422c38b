package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/joshp123/gohome-skyport/internal/core"
	"github.com/joshp123/gohome-skyport/internal/manifest"
)

const maxBodyBytes = 1 << 20

// HealthHandler reports liveness plus the health of each plugin.
func HealthHandler(plugins []core.Plugin) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		status := make(map[string]any, len(plugins))
		for _, p := range plugins {
			entry := map[string]any{"status": string(p.Health())}
			if msg := p.HealthMessage(); msg != "" {
				entry["message"] = msg
			}
			status[p.ID()] = entry
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "plugins": status})
	}
}

type serviceAPI struct {
	plugins []core.Plugin
}

func (a *serviceAPI) list(w http.ResponseWriter, _ *http.Request) {
	out := make([]any, 0, len(a.plugins))
	for _, p := range a.plugins {
		caller, ok := p.(core.ServiceCaller)
		if !ok {
			continue
		}
		out = append(out, map[string]any{
			"plugin_id": p.ID(),
			"services":  caller.Services().Values(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"plugins": out})
}

func (a *serviceAPI) describe(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "plugin")
	caller, ok := core.FindCaller(a.plugins, id)
	if !ok {
		writeError(w, fmt.Errorf("%w: plugin %s", core.ErrNotFound, id))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"plugin_id": id,
		"services":  caller.Services().Values(),
	})
}

func (a *serviceAPI) call(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "plugin")
	caller, ok := core.FindCaller(a.plugins, id)
	if !ok {
		writeError(w, fmt.Errorf("%w: plugin %s", core.ErrNotFound, id))
		return
	}

	data, err := readData(r)
	if err != nil {
		writeError(w, err)
		return
	}
	out, err := caller.CallService(r.Context(), chi.URLParam(r, "service"), data)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// readData decodes the optional JSON object body of a service call.
func readData(r *http.Request) (map[string]any, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", core.ErrInvalidArgument, err)
	}
	data := map[string]any{}
	if len(body) == 0 {
		return data, nil
	}
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("%w: body must be a JSON object: %v", core.ErrInvalidArgument, err)
	}
	if data == nil {
		data = map[string]any{}
	}
	return data, nil
}

func writeError(w http.ResponseWriter, err error) {
	body := map[string]any{"error": err.Error()}
	var unknown *manifest.UnknownFieldsError
	if errors.As(err, &unknown) {
		body["unknown_fields"] = unknown.Fields
	}
	writeJSON(w, core.HTTPStatus(err), body)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
