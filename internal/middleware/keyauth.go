package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"canvas-api/internal/store"
)

// HashApiKey returns the hex sha256 digest used to look keys up in the store.
// Plaintext keys are never persisted.
func HashApiKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

func bearerToken(r *http.Request) string {
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if auth == "" {
		return ""
	}
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	return auth
}

func writeBearerUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]string{
			"message": message,
			"type":    "invalid_request_error",
			"code":    "invalid_api_key",
		},
	})
}

// ApiKeyAuth validates the caller's bearer key against the hashed key table.
// With required=false the check is skipped entirely, matching deployments
// that sit behind their own gateway.
func ApiKeyAuth(s *store.Store, required bool, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !required {
			next(w, r)
			return
		}

		token := bearerToken(r)
		if token == "" {
			writeBearerUnauthorized(w, "Missing API key")
			return
		}

		key, err := s.GetApiKeyByHash(r.Context(), HashApiKey(token))
		if errors.Is(err, store.ErrNoRows) {
			writeBearerUnauthorized(w, "Invalid API key")
			return
		}
		if err != nil {
			slog.Error("api key lookup failed", "error", err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
		if !key.Enabled {
			writeBearerUnauthorized(w, "API key is disabled")
			return
		}

		go func(id int64) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := s.UpdateApiKeyLastUsed(ctx, id); err != nil {
				slog.Debug("api key last_used update failed", "error", err)
			}
		}(key.ID)

		next(w, r)
	}
}
