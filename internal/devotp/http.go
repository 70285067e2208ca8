package devotp

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

const devOTPNote = "DEV MODE ONLY"

type otpResponse struct {
	ClaimID     string    `json:"claim_id"`
	ChallengeID string    `json:"challenge_id"`
	OTP         string    `json:"otp"`
	ExpiresAt   time.Time `json:"expires_at"`
	Note        string    `json:"note"`
}

// Handler serves GET /claims/{id}/otp from store. Mount it under /dev only when dev OTP mode is
// enabled and APP_ENV is not production.
func Handler(store Store) http.Handler {
	r := chi.NewRouter()
	r.Get("/claims/{id}/otp", func(w http.ResponseWriter, req *http.Request) {
		id := chi.URLParam(req, "id")
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		e, ok := store.Get(req.Context(), id)
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "OTP not found or expired"})
			return
		}
		_ = json.NewEncoder(w).Encode(otpResponse{
			ClaimID:     id,
			ChallengeID: e.ChallengeID,
			OTP:         e.Code,
			ExpiresAt:   e.ExpiresAt.UTC(),
			Note:        devOTPNote,
		})
	})
	return r
}
