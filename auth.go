package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

const sessionCookieName = "werewolf_session"

// Credentials locate and authorize the upstream model endpoint.
type Credentials struct {
	Provider string `json:"provider" db:"provider"`
	URL      string `json:"apiUrl" db:"api_url"`
	APIKey   string `json:"-" db:"api_key"`
}

// usable reports whether the credentials can plausibly reach a provider.
// The hosted SDK providers fall back to their own environment variables.
func (c Credentials) usable() bool {
	switch c.Provider {
	case "", providerOpenAICompatible:
		return c.URL != ""
	case providerGroq:
		return c.APIKey != ""
	}
	return true
}

var errNoCredentials = errors.New("no credentials for session")

// CredentialResolver maps a session key to the endpoint its players use.
type CredentialResolver interface {
	Resolve(ctx context.Context, sessionKey string) (Credentials, error)
}

type sessionLookup interface {
	LookupSession(ctx context.Context, token string) (Credentials, error)
}

// sessionResolver prefers the credentials a session registered with and
// falls back to the statically configured ones.
type sessionResolver struct {
	sessions sessionLookup
	static   Credentials
}

func (r *sessionResolver) Resolve(ctx context.Context, sessionKey string) (Credentials, error) {
	creds, err := r.sessions.LookupSession(ctx, sessionKey)
	switch {
	case err == nil && creds.usable():
		if creds.Provider == "" {
			creds.Provider = providerOpenAICompatible
		}
		return creds, nil
	case err != nil && !errors.Is(err, sql.ErrNoRows):
		return Credentials{}, err
	}
	if r.static.usable() {
		return r.static, nil
	}
	return Credentials{}, errNoCredentials
}

// getSessionKey reads the opaque token from the session cookie or a bearer
// header. It does not check that the token exists.
func getSessionKey(r *http.Request) string {
	if cookie, err := r.Cookie(sessionCookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	return ""
}

// resolveSession returns the caller's session key, or "" when the caller
// presented no token or an unknown one.
func (a *App) resolveSession(r *http.Request) string {
	key := getSessionKey(r)
	if key == "" {
		return ""
	}
	if _, err := a.store.LookupSession(r.Context(), key); err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			logError("resolveSession: LookupSession", err)
		}
		DebugLog("resolveSession", "Rejected unknown session %s", shortKey(key))
		return ""
	}
	return key
}

func setSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

type sessionRequest struct {
	APIURL   string `json:"apiUrl"`
	APIKey   string `json:"apiKey"`
	Provider string `json:"provider"`
}

func (a *App) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req sessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	creds := Credentials{
		Provider: strings.TrimSpace(req.Provider),
		URL:      strings.TrimSpace(req.APIURL),
		APIKey:   strings.TrimSpace(req.APIKey),
	}
	if creds.Provider == "" {
		creds.Provider = providerOpenAICompatible
	}
	if !knownProvider(creds.Provider) {
		writeError(w, http.StatusBadRequest, "unknown provider")
		return
	}
	if creds.Provider == providerOpenAICompatible && (creds.URL == "" || creds.APIKey == "") {
		writeError(w, http.StatusBadRequest, "apiUrl and apiKey are required")
		return
	}

	token := uuid.NewString()
	if err := a.store.CreateSession(r.Context(), token, creds); err != nil {
		logError("handleSession: CreateSession", err)
		writeError(w, http.StatusInternalServerError, "operation failed")
		return
	}

	log.Printf("New session created: provider=%s", creds.Provider)
	DebugLog("handleSession", "Session %s uses %s", shortKey(token), creds.URL)
	LogDBState("after session created")

	setSessionCookie(w, token)
	writeOK(w, map[string]string{"token": token})
}

func (a *App) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	key := a.resolveSession(r)
	if key == "" {
		writeError(w, http.StatusUnauthorized, ErrNotAuthenticated.Error())
		return
	}

	if err := a.store.DeleteSession(r.Context(), key); err != nil {
		logError("handleLogout: DeleteSession", err)
		writeError(w, http.StatusInternalServerError, "operation failed")
		return
	}
	a.controller.forget(key)

	log.Printf("Session logged out")
	DebugLog("handleLogout", "Session %s removed", shortKey(key))

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
	writeOK(w, nil)
}
