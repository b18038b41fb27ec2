package identity

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func jwtWithClaims(t *testing.T, claims map[string]string) string {
	t.Helper()
	payload, err := json.Marshal(claims)
	if err != nil {
		t.Fatalf("marshal claims: %v", err)
	}
	enc := base64.RawURLEncoding.EncodeToString
	return fmt.Sprintf("%s.%s.%s",
		enc([]byte(`{"alg":"RS256"}`)), enc(payload), enc([]byte("sig")))
}

func TestFetchAccountInfoFrom(t *testing.T) {
	t.Parallel()

	jwt := jwtWithClaims(t, map[string]string{"sid": "sess_1", "sub": "user_1"})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/session" {
			http.NotFound(w, r)
			return
		}
		cookie, err := r.Cookie("__canvas_client")
		if err != nil || cookie.Value != "cred-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "__canvas_client", Value: "cred-2"})
		json.NewEncoder(w).Encode(map[string]interface{}{
			"session": map[string]interface{}{
				"id":    "sess_1",
				"user":  map[string]string{"id": "user_1", "email": "a@b.test"},
				"token": map[string]string{"jwt": jwt},
			},
		})
	}))
	t.Cleanup(srv.Close)

	info, err := FetchAccountInfoFrom(srv.URL, "cred-1")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if info.JWT != jwt {
		t.Fatalf("expected jwt returned")
	}
	if info.ClientCookie != "cred-2" {
		t.Fatalf("expected rotated cookie captured, got %q", info.ClientCookie)
	}
	if info.UserID != "user_1" || info.Email != "a@b.test" || info.SessionID != "sess_1" {
		t.Fatalf("unexpected info %+v", info)
	}
}

func TestFetchAccountInfoFromRejectsNonOK(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	t.Cleanup(srv.Close)

	if _, err := FetchAccountInfoFrom(srv.URL, "cred"); err == nil {
		t.Fatalf("expected error on non-200 response")
	}
}

func TestParseSessionInfoFromJWT(t *testing.T) {
	t.Parallel()

	token := jwtWithClaims(t, map[string]string{"sid": "sess_9", "sub": "user_9"})
	sid, uid := ParseSessionInfoFromJWT(token)
	if sid != "sess_9" || uid != "user_9" {
		t.Fatalf("expected claims parsed, got sid=%q uid=%q", sid, uid)
	}
}

func TestParseSessionInfoFromJWTMalformed(t *testing.T) {
	t.Parallel()

	if sid, uid := ParseSessionInfoFromJWT("not-a-jwt"); sid != "" || uid != "" {
		t.Fatalf("malformed token must yield empty claims")
	}
}

func TestIsLikelyJWT(t *testing.T) {
	t.Parallel()

	if !IsLikelyJWT("aa.bb.cc") {
		t.Fatalf("expected three-part token accepted")
	}
	if IsLikelyJWT("opaque-cookie-value") {
		t.Fatalf("expected opaque value rejected")
	}
}
