package main

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"canvas-api/internal/identity"
	"canvas-api/internal/store"
)

type accountRefreshStore interface {
	GetEnabledAccounts(ctx context.Context) ([]*store.Account, error)
	UpdateAccount(ctx context.Context, acc *store.Account) error
	SetSetting(ctx context.Context, key, value string) error
}

// lastRefreshKey records when the pool was last re-resolved, for operators
// inspecting the store.
const lastRefreshKey = "last_token_refresh_at"

type fetchAccountInfoFunc func(baseURL, clientCookie string) (*identity.AccountInfo, error)

// refreshAccounts re-resolves every enabled credential against the auth
// origin, picking up rotated cookies and fresh JWTs.
func refreshAccounts(ctx context.Context, s accountRefreshStore, authBaseURL string, fetch fetchAccountInfoFunc) {
	accounts, err := s.GetEnabledAccounts(ctx)
	if err != nil {
		slog.Error("Token refresh: list accounts failed", "error", err)
		return
	}

	for _, acc := range accounts {
		if strings.TrimSpace(acc.ClientCookie) == "" {
			continue
		}
		info, err := fetch(authBaseURL, acc.ClientCookie)
		if err != nil {
			slog.Warn("Token refresh failed", "account", acc.Name, "error", err)
			continue
		}
		if info.ClientCookie != "" {
			acc.ClientCookie = info.ClientCookie
		}
		if info.UserID != "" {
			acc.UserID = info.UserID
		}
		if info.Email != "" {
			acc.Email = info.Email
		}
		if info.JWT != "" {
			acc.Token = info.JWT
		}
		if err := s.UpdateAccount(ctx, acc); err != nil {
			slog.Warn("Token refresh: update account failed", "account", acc.Name, "error", err)
		}
	}

	if err := s.SetSetting(ctx, lastRefreshKey, time.Now().Format(time.RFC3339)); err != nil {
		slog.Debug("Token refresh: record timestamp failed", "error", err)
	}
}

func runTokenRefresh(ctx context.Context, s *store.Store, authBaseURL string, interval time.Duration) {
	refreshAccounts(ctx, s, authBaseURL, identity.FetchAccountInfoFrom)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			refreshAccounts(ctx, s, authBaseURL, identity.FetchAccountInfoFrom)
		}
	}
}
