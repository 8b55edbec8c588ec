package gateway

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

const (
	headerAPIKey    = "X-API-Key"
	headerPrincipal = "X-Principal-Id"
	// #nosec G101 -- fallback principal label, not a credential.
	defaultPrincipal = "api-key"
)

var (
	errAPIKeyRequired = errors.New("api key required")
	errInvalidAPIKey  = errors.New("invalid api key")
)

// AuthContext captures the caller identity admitted by the auth gate.
type AuthContext struct {
	APIKey      string
	PrincipalID string
}

type authContextKey struct{}

// AuthProvider authenticates HTTP callers.
type AuthProvider interface {
	AuthenticateHTTP(r *http.Request) (*AuthContext, error)
}

type apiKeyEntry struct {
	key       string
	principal string
}

// APIKeyAuth admits callers presenting one of a fixed set of keys. Entries are
// either "key" or "principal:key"; the principal is recorded as the owner of
// submitted bots.
type APIKeyAuth struct {
	entries []apiKeyEntry
}

// NewAPIKeyAuth builds a provider from configured key entries.
func NewAPIKeyAuth(keys []string) (*APIKeyAuth, error) {
	out := &APIKeyAuth{}
	for _, raw := range keys {
		raw = normalizeAPIKey(raw)
		if raw == "" {
			continue
		}
		entry := apiKeyEntry{key: raw}
		if principal, key, ok := strings.Cut(raw, ":"); ok && principal != "" && key != "" {
			entry = apiKeyEntry{key: key, principal: principal}
		}
		out.entries = append(out.entries, entry)
	}
	if len(out.entries) == 0 {
		return nil, errors.New("no api keys configured")
	}
	return out, nil
}

func (a *APIKeyAuth) AuthenticateHTTP(r *http.Request) (*AuthContext, error) {
	if r == nil {
		return nil, errors.New("request required")
	}
	key := apiKeyFromRequest(r)
	if key == "" {
		return nil, errAPIKeyRequired
	}
	for _, e := range a.entries {
		if subtle.ConstantTimeCompare([]byte(e.key), []byte(key)) == 1 {
			principal := e.principal
			if principal == "" {
				principal = strings.TrimSpace(r.Header.Get(headerPrincipal))
			}
			if principal == "" {
				principal = defaultPrincipal
			}
			return &AuthContext{APIKey: key, PrincipalID: principal}, nil
		}
	}
	return nil, errInvalidAPIKey
}

func apiKeyFromRequest(r *http.Request) string {
	if key := normalizeAPIKey(r.Header.Get(headerAPIKey)); key != "" {
		return key
	}
	authz := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(authz) > len("bearer ") && strings.EqualFold(authz[:len("bearer ")], "bearer ") {
		return normalizeAPIKey(authz[len("bearer "):])
	}
	return ""
}

func normalizeAPIKey(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return ""
	}
	// Common .env mistake: quoting values (e.g. "super-secret-key").
	key = strings.Trim(key, "\"'")
	return strings.TrimSpace(key)
}

func authFromContext(ctx context.Context) *AuthContext {
	if ctx == nil {
		return nil
	}
	if auth, ok := ctx.Value(authContextKey{}).(*AuthContext); ok {
		return auth
	}
	return nil
}

// ownerFromRequest returns the admitted principal, or "" for public callers.
func ownerFromRequest(r *http.Request) string {
	if auth := authFromContext(r.Context()); auth != nil {
		return auth.PrincipalID
	}
	return ""
}

func isMutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	default:
		return false
	}
}

// apiKeyMiddleware gates mutating API routes when a provider is configured.
// Reads stay public.
func apiKeyMiddleware(auth AuthProvider, next http.Handler) http.Handler {
	if auth == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/api/") || !isMutating(r.Method) {
			next.ServeHTTP(w, r)
			return
		}
		authCtx, err := auth.AuthenticateHTTP(r)
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthorized", Kind: "unauthorized"})
			return
		}
		ctx := context.WithValue(r.Context(), authContextKey{}, authCtx)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
