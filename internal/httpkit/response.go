package httpkit

import (
	"encoding/json"
	"net/http"

	v1 "slidecast/internal/contracts/render/v1"
)

// MaxBodyBytes caps JSON request bodies.
const MaxBodyBytes = 20 << 20

// DecodeJSON reads at most MaxBodyBytes. Unknown fields are ignored so
// clients may send extra slide metadata.
func DecodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	return dec.Decode(v)
}

func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// WriteErr writes {"error":label} or {"error":label,"detail":detail}.
func WriteErr(w http.ResponseWriter, status int, label, detail string) {
	WriteJSON(w, status, v1.ErrorResponse{Error: label, Detail: detail})
}
