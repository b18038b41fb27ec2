// Package identity exchanges a stored Canvas credential cookie for the
// short-lived JWT the feed and trigger endpoints require.
package identity

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	// DefaultBaseURL is the Canvas auth origin; overridable for tests and
	// self-hosted deployments.
	DefaultBaseURL = "https://auth.canvas.app"

	clientCookieName = "__canvas_client"
	requestTimeout   = 10 * time.Second
)

type sessionResponse struct {
	Session struct {
		ID   string `json:"id"`
		User struct {
			ID    string `json:"id"`
			Email string `json:"email"`
		} `json:"user"`
		Token struct {
			JWT string `json:"jwt"`
		} `json:"token"`
	} `json:"session"`
}

// AccountInfo is the resolved identity for one credential cookie.
type AccountInfo struct {
	SessionID    string
	ClientCookie string // possibly rotated by the auth server
	UserID       string
	Email        string
	JWT          string
}

// FetchAccountInfo resolves a credential cookie against the default auth
// origin.
func FetchAccountInfo(clientCookie string) (*AccountInfo, error) {
	return FetchAccountInfoFrom(DefaultBaseURL, clientCookie)
}

// FetchAccountInfoFrom resolves a credential cookie against the given auth
// origin and returns the account identity plus a fresh JWT.
func FetchAccountInfoFrom(baseURL, clientCookie string) (*AccountInfo, error) {
	req, err := http.NewRequest(http.MethodGet, strings.TrimRight(baseURL, "/")+"/v1/session", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.AddCookie(&http.Cookie{Name: clientCookieName, Value: clientCookie})

	client := &http.Client{Timeout: requestTimeout}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch session: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	// The auth server may rotate the credential cookie; the new value must
	// be captured or the consumed one stops working on the next refresh.
	effectiveCookie := clientCookie
	for _, c := range resp.Cookies() {
		if c.Name == clientCookieName && strings.TrimSpace(c.Value) != "" {
			effectiveCookie = c.Value
			break
		}
	}

	var sr sessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("failed to decode session response: %w", err)
	}
	if sr.Session.Token.JWT == "" {
		return nil, fmt.Errorf("no active session token")
	}

	return &AccountInfo{
		SessionID:    sr.Session.ID,
		ClientCookie: effectiveCookie,
		UserID:       sr.Session.User.ID,
		Email:        sr.Session.User.Email,
		JWT:          sr.Session.Token.JWT,
	}, nil
}

// ParseSessionInfoFromJWT decodes the JWT payload without verification and
// extracts the session and user ids. Verification belongs to Canvas; the
// relay only needs the identity claims for bookkeeping.
func ParseSessionInfoFromJWT(token string) (sessionID string, userID string) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return "", ""
	}
	payload := parts[1]
	payload = strings.ReplaceAll(payload, "-", "+")
	payload = strings.ReplaceAll(payload, "_", "/")
	switch len(payload) % 4 {
	case 2:
		payload += "=="
	case 3:
		payload += "="
	}
	decoded, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", ""
	}
	var claims struct {
		SID string `json:"sid"`
		Sub string `json:"sub"`
	}
	if err := json.Unmarshal(decoded, &claims); err != nil {
		return "", ""
	}
	return claims.SID, claims.Sub
}

// IsLikelyJWT reports whether a stored credential looks like a raw JWT
// rather than an opaque cookie value.
func IsLikelyJWT(value string) bool {
	parts := strings.Split(value, ".")
	return len(parts) == 3 && parts[0] != "" && parts[1] != "" && parts[2] != ""
}
