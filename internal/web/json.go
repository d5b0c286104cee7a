package web

import (
	"encoding/json"
	"net/http"
)

// errorJSON is the body of every non-2xx API response.
type errorJSON struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// resultJSON answers command endpoints.
type resultJSON struct {
	Success bool   `json:"success"`
	Applied bool   `json:"applied"`
	Message string `json:"message,omitempty"`
}

// defrostJSON answers POST /api/defrost.
type defrostJSON struct {
	Success      bool   `json:"success"`
	DefrostMode  bool   `json:"defrost_mode"`
	CooldownMode bool   `json:"cooldown_mode"`
	Phase        string `json:"phase"`
}

// relayJSON is both the request and the response body of POST /api/relay.
type relayJSON struct {
	Success bool  `json:"success,omitempty"`
	State   *bool `json:"state"`
}

// configJSON answers POST /api/config.
type configJSON struct {
	Success bool `json:"success"`
	Config  any  `json:"config"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorJSON{Error: msg})
}
