package server

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/rakunlabs/at/internal/service"
	"github.com/worldline-go/types"
)

// ─── API Token Management ───

// createTokenRequest is the JSON body for POST /api/v1/api-tokens.
type createTokenRequest struct {
	Name            string   `json:"name"`
	AllowedWebhooks []string `json:"allowed_webhooks,omitempty"` // trigger IDs or aliases; nil = all webhooks
	ExpiresIn       *int     `json:"expires_in,omitempty"`       // seconds from now, nil = no expiry
}

// updateTokenRequest is the JSON body for PUT /api/v1/api-tokens/:id.
type updateTokenRequest struct {
	Name            string   `json:"name"`
	AllowedWebhooks []string `json:"allowed_webhooks,omitempty"`
	ExpiresIn       *int     `json:"expires_in,omitempty"`
}

// createTokenResponse is returned once on creation (the only time the full token is shown).
type createTokenResponse struct {
	Token string           `json:"token"` // full token — shown only once
	Info  service.APIToken `json:"info"`
}

// apiTokensResponse wraps a list of tokens for JSON output.
type apiTokensResponse struct {
	Tokens []service.APIToken `json:"tokens"`
}

// ListAPITokensAPI handles GET /api/v1/api-tokens.
func (s *Server) ListAPITokensAPI(w http.ResponseWriter, r *http.Request) {
	if s.tokenStore == nil {
		httpResponse(w, "store not configured", http.StatusServiceUnavailable)
		return
	}

	tokens, err := s.tokenStore.ListAPITokens(r.Context())
	if err != nil {
		slog.Error("list api tokens failed", "error", err)
		httpResponse(w, fmt.Sprintf("failed to list tokens: %v", err), http.StatusInternalServerError)
		return
	}

	if tokens == nil {
		tokens = []service.APIToken{}
	}

	httpResponseJSON(w, apiTokensResponse{Tokens: tokens}, http.StatusOK)
}

// CreateAPITokenAPI handles POST /api/v1/api-tokens.
// Returns the full token exactly once.
func (s *Server) CreateAPITokenAPI(w http.ResponseWriter, r *http.Request) {
	if s.tokenStore == nil {
		httpResponse(w, "store not configured", http.StatusServiceUnavailable)
		return
	}

	var req createTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpResponse(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	if req.Name == "" {
		httpResponse(w, "name is required", http.StatusBadRequest)
		return
	}

	fullToken, tokenHash, tokenPrefix, err := generateAPIToken()
	if err != nil {
		httpResponse(w, "failed to generate token", http.StatusInternalServerError)
		return
	}

	var expiresAt types.Null[types.Time]
	if req.ExpiresIn != nil && *req.ExpiresIn > 0 {
		t := time.Now().UTC().Add(time.Duration(*req.ExpiresIn) * time.Second)
		expiresAt = types.NewTimeNull(t)
	}

	token := service.APIToken{
		Name:            req.Name,
		TokenPrefix:     tokenPrefix,
		AllowedWebhooks: req.AllowedWebhooks,
		ExpiresAt:       expiresAt,
	}

	created, err := s.tokenStore.CreateAPIToken(r.Context(), token, tokenHash)
	if err != nil {
		slog.Error("create api token failed", "error", err)
		httpResponse(w, fmt.Sprintf("failed to create token: %v", err), http.StatusInternalServerError)
		return
	}

	httpResponseJSON(w, createTokenResponse{
		Token: fullToken,
		Info:  *created,
	}, http.StatusCreated)
}

// UpdateAPITokenAPI handles PUT /api/v1/api-tokens/:id.
// Only metadata (name, allowed webhooks, expiry) can be changed — the token
// value itself is immutable; issue a new token and delete this one to rotate it.
func (s *Server) UpdateAPITokenAPI(w http.ResponseWriter, r *http.Request) {
	if s.tokenStore == nil {
		httpResponse(w, "store not configured", http.StatusServiceUnavailable)
		return
	}

	id := extractAPITokenID(r)
	if id == "" {
		httpResponse(w, "token id is required", http.StatusBadRequest)
		return
	}

	var req updateTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpResponse(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	if req.Name == "" {
		httpResponse(w, "name is required", http.StatusBadRequest)
		return
	}

	var expiresAt types.Null[types.Time]
	if req.ExpiresIn != nil && *req.ExpiresIn > 0 {
		t := time.Now().UTC().Add(time.Duration(*req.ExpiresIn) * time.Second)
		expiresAt = types.NewTimeNull(t)
	}

	updated, err := s.tokenStore.UpdateAPIToken(r.Context(), id, service.APIToken{
		Name:            req.Name,
		AllowedWebhooks: req.AllowedWebhooks,
		ExpiresAt:       expiresAt,
	})
	if err != nil {
		slog.Error("update api token failed", "id", id, "error", err)
		httpResponse(w, fmt.Sprintf("failed to update token: %v", err), http.StatusInternalServerError)
		return
	}

	httpResponseJSON(w, updated, http.StatusOK)
}

// DeleteAPITokenAPI handles DELETE /api/v1/api-tokens/:id.
func (s *Server) DeleteAPITokenAPI(w http.ResponseWriter, r *http.Request) {
	if s.tokenStore == nil {
		httpResponse(w, "store not configured", http.StatusServiceUnavailable)
		return
	}

	id := extractAPITokenID(r)
	if id == "" {
		httpResponse(w, "token id is required", http.StatusBadRequest)
		return
	}

	if err := s.tokenStore.DeleteAPIToken(r.Context(), id); err != nil {
		slog.Error("delete api token failed", "id", id, "error", err)
		httpResponse(w, fmt.Sprintf("failed to delete token: %v", err), http.StatusInternalServerError)
		return
	}

	httpResponse(w, "deleted", http.StatusOK)
}

// ─── Helpers ───

// generateAPIToken creates a new random bearer token, returning the full
// token (shown to the caller once), its SHA-256 hash (for storage/lookup),
// and its display prefix.
func generateAPIToken() (fullToken, tokenHash, tokenPrefix string, err error) {
	rawBytes := make([]byte, 32)
	if _, err := rand.Read(rawBytes); err != nil {
		return "", "", "", err
	}
	fullToken = "at_" + hex.EncodeToString(rawBytes)

	hash := sha256.Sum256([]byte(fullToken))
	tokenHash = hex.EncodeToString(hash[:])
	tokenPrefix = fullToken[:8]

	return fullToken, tokenHash, tokenPrefix, nil
}

// extractAPITokenID extracts the token ID from the URL path.
// Expected path: /api/v1/api-tokens/{id}
func extractAPITokenID(r *http.Request) string {
	path := r.URL.Path
	const prefix = "/api/v1/api-tokens/"
	if !strings.HasPrefix(path, prefix) {
		return ""
	}

	id := strings.TrimPrefix(path, prefix)
	id = strings.TrimSuffix(id, "/")

	return id
}

// authenticateRequest validates the Authorization: Bearer <token> header
// against the stored token hashes. Returns the matching token record, or
// nil if authentication fails (missing header, unknown token, expired token).
func (s *Server) authenticateRequest(r *http.Request) *service.APIToken {
	if s.tokenStore == nil {
		return nil
	}

	auth := r.Header.Get("Authorization")
	if auth == "" {
		return nil
	}

	rawToken := strings.TrimPrefix(auth, "Bearer ")
	if rawToken == auth || rawToken == "" {
		return nil
	}

	hash := sha256.Sum256([]byte(rawToken))
	tokenHash := hex.EncodeToString(hash[:])

	token, err := s.tokenStore.GetAPITokenByHash(r.Context(), tokenHash)
	if err != nil || token == nil {
		return nil
	}

	if token.ExpiresAt.Valid && token.ExpiresAt.V.Time.Before(time.Now().UTC()) {
		return nil
	}

	// Throttle last_used_at writes to once per 5 minutes per token so every
	// webhook call doesn't turn into a write.
	if last, ok := s.tokenLastUsed.Load(token.ID); !ok || time.Since(last.(time.Time)) > 5*time.Minute {
		s.tokenLastUsed.Store(token.ID, time.Now())
		if err := s.tokenStore.UpdateLastUsed(r.Context(), token.ID); err != nil {
			slog.Warn("failed to update token last_used_at", "token_id", token.ID, "error", err)
		}
	}

	return token
}

// tokenAllowsWebhook reports whether the token's allow-list permits the
// given trigger. A nil/empty AllowedWebhooks list means all webhooks are allowed.
func tokenAllowsWebhook(token *service.APIToken, triggerID, alias string) bool {
	if len(token.AllowedWebhooks) == 0 {
		return true
	}

	for _, allowed := range token.AllowedWebhooks {
		if allowed == triggerID || (alias != "" && allowed == alias) {
			return true
		}
	}

	return false
}
