// Package handler exposes the OpenAI-compatible HTTP surface and wires each
// caller request to a Canvas session.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"canvas-api/internal/canvas"
	"canvas-api/internal/config"
	"canvas-api/internal/convstore"
	"canvas-api/internal/debug"
	"canvas-api/internal/identity"
	"canvas-api/internal/loadbalancer"
	"canvas-api/internal/store"
)

// CompletionClient is the slice of the canvas client the handler needs;
// tests substitute a fake.
type CompletionClient interface {
	Stream(ctx context.Context, sess *canvas.Session) <-chan []byte
	Complete(ctx context.Context, sess *canvas.Session) (string, error)
}

type Handler struct {
	config       *config.Config
	client       CompletionClient
	loadBalancer *loadbalancer.LoadBalancer
	store        *store.Store
	registry     convstore.Registry
}

func New(cfg *config.Config, client CompletionClient, lb *loadbalancer.LoadBalancer, s *store.Store, registry convstore.Registry) *Handler {
	return &Handler{
		config:       cfg,
		client:       client,
		loadBalancer: lb,
		store:        s,
		registry:     registry,
	}
}

func (h *Handler) writeErrorResponse(w http.ResponseWriter, errType, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]string{
			"message": message,
			"type":    errType,
		},
	})
}

func (h *Handler) HandleChatCompletions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeErrorResponse(w, "invalid_request_error", "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeErrorResponse(w, "invalid_request_error", "Invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.Messages) == 0 {
		h.writeErrorResponse(w, "invalid_request_error", "messages is required", http.StatusBadRequest)
		return
	}
	if lastUserContent(req.Messages) == "" {
		h.writeErrorResponse(w, "invalid_request_error", "at least one user message is required", http.StatusBadRequest)
		return
	}

	logger := debug.New(h.config.DebugEnabled)
	defer logger.Close()
	logger.LogIncomingRequest(req)

	sess, err := h.prepareSession(r, req, logger)
	if err != nil {
		if errors.Is(err, loadbalancer.ErrNoAccounts) {
			h.writeErrorResponse(w, "api_error", "No enabled accounts available", http.StatusServiceUnavailable)
			return
		}
		slog.Error("session preparation failed", "error", err)
		h.writeErrorResponse(w, "api_error", err.Error(), http.StatusBadGateway)
		return
	}
	defer sess.release()

	if req.Stream {
		h.serveStream(w, r, sess)
		return
	}
	h.serveAggregate(w, r, sess)
}

// preparedSession pairs the canvas session with the bookkeeping that must
// run when the request finishes.
type preparedSession struct {
	session *canvas.Session
	release func()
}

func (h *Handler) prepareSession(r *http.Request, req ChatRequest, logger *debug.Logger) (*preparedSession, error) {
	ctx := r.Context()
	adapter := mapModel(req.Model)

	parts := userParts(req.Messages)
	lookupKey := ""
	if len(parts) > 1 {
		lookupKey = convstore.Fingerprint(adapter, parts[:len(parts)-1])
	}

	var account *store.Account
	sessionID := ""
	prompt := ""

	if lookupKey != "" {
		if entry, ok := h.registry.Lookup(lookupKey); ok {
			sessionID = entry.SessionID
			if acc, err := h.store.GetAccount(ctx, entry.AccountID); err == nil && acc.Enabled {
				account = acc
			} else {
				// Account gone or disabled; fall back to a fresh session.
				sessionID = ""
			}
		}
	}

	if account == nil {
		acc, err := h.loadBalancer.Pick(ctx)
		if err != nil {
			return nil, err
		}
		account = acc
	}

	if sessionID == "" {
		sessionID = uuid.NewString()
		prompt = renderConversation(req.Messages)
	} else {
		prompt = lastUserContent(req.Messages)
	}

	token, err := h.resolveToken(ctx, account)
	if err != nil {
		return nil, err
	}

	sess := &canvas.Session{
		RequestID:     "chatcmpl-" + uuid.NewString(),
		Model:         adapter,
		SessionID:     sessionID,
		IdentityToken: token,
		AuthToken:     token,
		Prompt:        prompt,
		Headers:       r.Header,
		Trace:         logger,
	}

	// Register before the feed opens so an interleaved follow-up still finds
	// the session. Registration failure is invisible to the caller.
	h.registry.Register(convstore.Fingerprint(adapter, parts), convstore.Entry{
		SessionID: sessionID,
		AccountID: account.ID,
	})

	h.loadBalancer.AcquireConnection(account.ID)
	accountID := account.ID
	return &preparedSession{
		session: sess,
		release: func() { h.loadBalancer.ReleaseConnection(accountID) },
	}, nil
}

// resolveToken returns a usable JWT for the account, refreshing through the
// auth origin when the stored one is missing or stale.
func (h *Handler) resolveToken(ctx context.Context, account *store.Account) (string, error) {
	if identity.IsLikelyJWT(account.Token) {
		return account.Token, nil
	}

	info, err := identity.FetchAccountInfoFrom(h.config.AuthBaseURL, account.ClientCookie)
	if err != nil {
		return "", err
	}

	account.Token = info.JWT
	if info.ClientCookie != "" {
		account.ClientCookie = info.ClientCookie
	}
	if info.UserID != "" {
		account.UserID = info.UserID
	}
	if info.Email != "" {
		account.Email = info.Email
	}
	if err := h.store.UpdateAccount(ctx, account); err != nil {
		slog.Warn("failed to persist refreshed token", "account_id", account.ID, "error", err)
	}
	return info.JWT, nil
}

func (h *Handler) serveStream(w http.ResponseWriter, r *http.Request, sess *preparedSession) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		h.writeErrorResponse(w, "api_error", "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for frame := range h.client.Stream(r.Context(), sess.session) {
		if _, err := w.Write(frame); err != nil {
			slog.Debug("caller disconnected mid-stream", "request_id", sess.session.RequestID)
			return
		}
		flusher.Flush()
	}
}

func (h *Handler) serveAggregate(w http.ResponseWriter, r *http.Request, sess *preparedSession) {
	start := time.Now()
	text, err := h.client.Complete(r.Context(), sess.session)
	if err != nil {
		slog.Error("completion failed", "request_id", sess.session.RequestID, "error", err)
		h.writeErrorResponse(w, "api_error", "Upstream session failed: "+err.Error(), http.StatusBadGateway)
		return
	}

	resp := completionResponse{
		ID:      sess.session.RequestID,
		Object:  "chat.completion",
		Created: start.Unix(),
		Model:   sess.session.Model,
		Choices: []completionChoice{{
			Message:      completionMessage{Role: "assistant", Content: text},
			FinishReason: "stop",
		}},
		Usage: completionUsage{
			PromptTokens:     estimateTokens(sess.session.Prompt),
			CompletionTokens: estimateTokens(text),
			TotalTokens:      estimateTokens(sess.session.Prompt) + estimateTokens(text),
		},
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Debug("failed to write aggregate response", "error", err)
	}
}

// mapModel resolves the caller's model name to a Canvas adapter. Unknown
// names get the default agent so standard OpenAI client defaults still work.
func mapModel(requestModel string) string {
	lower := strings.ToLower(strings.TrimSpace(requestModel))
	switch {
	case strings.Contains(lower, "thinking"):
		return "canvas-agent-thinking"
	case strings.Contains(lower, "chat"):
		return "canvas-chat"
	default:
		return "canvas-agent"
	}
}
