package httpx

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
)

func NewRequestID() string { return "req_" + uuid.NewString() }

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func ReadJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// WriteError emits the failure envelope consumed by the signer-facing client:
// {"success":false,"error":...,"errorCode":...} plus any extra fields the
// caller supplies (providerState, providerComment).
func WriteError(w http.ResponseWriter, status int, code, message string, extra map[string]any) {
	resp := map[string]any{
		"success":   false,
		"error":     message,
		"errorCode": code,
	}
	for k, v := range extra {
		resp[k] = v
	}
	WriteJSON(w, status, resp)
}
