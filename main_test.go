package main

import (
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestFullGameOverHTTP(t *testing.T) {
	ctx := newTestContextWithSeed(t, 11)
	key := ctx.newSession()

	// Roles are accepted wrapped or as a bare array
	resp, env := ctx.call(nil, http.MethodPost, "/game/roles", key, map[string]any{"roles": standardRoles()})
	if resp.StatusCode != http.StatusOK || env.Code != 0 {
		t.Fatalf("POST /game/roles = %d %+v", resp.StatusCode, env)
	}
	resp, env = ctx.call(nil, http.MethodPost, "/game/roles", key, standardRoles())
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST /game/roles (array) = %d %+v", resp.StatusCode, env)
	}

	resp, env = ctx.call(nil, http.MethodGet, "/game/roles", key, nil)
	var roles []Assignment
	if err := json.Unmarshal(env.Data, &roles); err != nil || len(roles) != 6 || roles[3].AIModel != "model-d" {
		t.Fatalf("GET /game/roles = %d %s", resp.StatusCode, env.Data)
	}

	resp, env = ctx.call(nil, http.MethodPost, "/game/start", key, nil)
	var state GameState
	if err := json.Unmarshal(env.Data, &state); err != nil || state.Day != 1 || len(state.Players) != 6 {
		t.Fatalf("POST /game/start = %d %s", resp.StatusCode, env.Data)
	}

	for phase := 0; phase < 20; phase++ {
		path := "/game/night"
		if phase%2 == 1 {
			path = "/game/day"
		}
		resp, env = ctx.call(nil, http.MethodPost, path, key, nil)
		if resp.StatusCode == http.StatusConflict {
			break
		}
		if resp.StatusCode != http.StatusOK || env.Code != 0 {
			ctx.logger.LogDB("phase failed")
			t.Fatalf("POST %s = %d %+v", path, resp.StatusCode, env)
		}
		var outcome struct {
			GameOver bool `json:"gameOver"`
			Winner   Camp `json:"winner"`
		}
		json.Unmarshal(env.Data, &outcome)
		if outcome.GameOver {
			if outcome.Winner != CampVillage && outcome.Winner != CampWerewolf {
				t.Errorf("game over without a winner: %s", env.Data)
			}
			break
		}
	}

	_, env = ctx.call(nil, http.MethodGet, "/game/state", key, nil)
	if err := json.Unmarshal(env.Data, &state); err != nil {
		t.Fatalf("GET /game/state: %v", err)
	}
	if !state.IsOver {
		t.Errorf("game not over after 20 phases: %s", env.Data)
	}
	resp, env = ctx.call(nil, http.MethodPost, "/game/night", key, nil)
	if resp.StatusCode != http.StatusConflict || env.Msg != ErrNotStartedOrOver.Error() {
		t.Errorf("night after game over = %d %+v", resp.StatusCode, env)
	}
	ctx.logger.Debug("=== Test passed ===")
}

func TestGameErrorsOverHTTP(t *testing.T) {
	ctx := newTestContext(t)
	key := ctx.newSession()

	tests := []struct {
		method string
		path   string
		body   any
		status int
		msg    string
	}{
		{http.MethodPost, "/game/roles", standardRoles()[:5], http.StatusBadRequest, ErrInsufficientPlayers.Error()},
		{http.MethodPost, "/game/roles", "not roles", http.StatusBadRequest, "invalid request body"},
		{http.MethodGet, "/game/roles", nil, http.StatusConflict, ErrRolesNotAssigned.Error()},
		{http.MethodPost, "/game/start", nil, http.StatusConflict, ErrRolesNotAssigned.Error()},
		{http.MethodPost, "/game/night", nil, http.StatusConflict, ErrNotStartedOrOver.Error()},
		{http.MethodPost, "/game/day", nil, http.StatusConflict, ErrNotStartedOrOver.Error()},
		{http.MethodGet, "/game/state", nil, http.StatusConflict, ErrNoActiveGame.Error()},
		{http.MethodGet, "/game/night", nil, http.StatusMethodNotAllowed, "method not allowed"},
		{http.MethodDelete, "/game/roles", nil, http.StatusMethodNotAllowed, "method not allowed"},
	}
	for _, tt := range tests {
		resp, env := ctx.call(nil, tt.method, tt.path, key, tt.body)
		if resp.StatusCode != tt.status || env.Code != 1 || env.Msg != tt.msg {
			t.Errorf("%s %s = %d %+v, want %d %q", tt.method, tt.path, resp.StatusCode, env, tt.status, tt.msg)
		}
	}
	ctx.logger.Debug("=== Test passed ===")
}

func TestWriteGameErrorMapping(t *testing.T) {
	tests := []struct {
		err    error
		status int
		msg    string
	}{
		{ErrNotAuthenticated, http.StatusUnauthorized, "not authenticated"},
		{fmt.Errorf("wrapped: %w", ErrDuplicateRole), http.StatusBadRequest, ErrDuplicateRole.Error()},
		{ErrStaleState, http.StatusConflict, ErrStaleState.Error() + ", retry"},
		{errors.New("database is locked"), http.StatusInternalServerError, "operation failed"},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		writeGameError(rec, "test", tt.err)
		var env envelope
		json.Unmarshal(rec.Body.Bytes(), &env)
		if rec.Code != tt.status || env.Code != 1 || env.Msg != tt.msg {
			t.Errorf("writeGameError(%v) = %d %+v", tt.err, rec.Code, env)
		}
	}
}

func TestDecodeAssignments(t *testing.T) {
	wrapped, err := decodeAssignments([]byte(` {"roles":[{"roleId":"1","aiModelName":"m"}]}`))
	if err != nil || len(wrapped) != 1 || wrapped[0].AIModel != "m" {
		t.Errorf("wrapped = %+v, %v", wrapped, err)
	}
	bare, err := decodeAssignments([]byte("\n[{\"roleId\":\"2\",\"aiModelName\":\"n\"}]"))
	if err != nil || len(bare) != 1 || bare[0].RoleID != "2" {
		t.Errorf("bare = %+v, %v", bare, err)
	}
	if _, err := decodeAssignments([]byte("{")); err == nil {
		t.Errorf("broken body accepted")
	}
}

func TestResponsesAreGzipped(t *testing.T) {
	ctx := newTestContext(t)
	key := ctx.newSession()

	req, _ := http.NewRequest(http.MethodGet, ctx.baseURL+"/game/state", nil)
	req.Header.Set("Authorization", "Bearer "+key)
	req.Header.Set("Accept-Encoding", "gzip")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.Header.Get("Content-Encoding") != "gzip" {
		t.Fatalf("Content-Encoding = %q", resp.Header.Get("Content-Encoding"))
	}
	if resp.Header.Get("Cache-Control") != "no-cache" {
		t.Errorf("Cache-Control = %q", resp.Header.Get("Cache-Control"))
	}
	gz, err := gzip.NewReader(resp.Body)
	if err != nil {
		t.Fatalf("gzip: %v", err)
	}
	body, _ := io.ReadAll(gz)
	if !strings.Contains(string(body), ErrNoActiveGame.Error()) {
		t.Errorf("body = %s", body)
	}
	ctx.logger.Debug("=== Test passed ===")
}

func TestRedactKeys(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`{"apiUrl":"http://x","apiKey":"sk-secret"}`, `{"apiUrl":"http://x","apiKey":"***"}`},
		{`{"apiUrl":"http://x"}`, `{"apiUrl":"http://x"}`},
		{`{"apiKey":"unterminated`, `{"apiKey":"unterminated`},
	}
	for _, tt := range tests {
		if got := string(redactKeys([]byte(tt.in))); got != tt.want {
			t.Errorf("redactKeys(%s) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestShortKey(t *testing.T) {
	if got := shortKey("0123456789abcdef"); got != "01234567" {
		t.Errorf("shortKey = %q", got)
	}
	if got := shortKey("abc"); got != "abc" {
		t.Errorf("shortKey(short) = %q", got)
	}
}

func TestCredentialsNeverSerialized(t *testing.T) {
	raw, _ := json.Marshal(Credentials{Provider: providerOpenAI, URL: "http://x", APIKey: "sk-secret"})
	if strings.Contains(string(raw), "sk-secret") {
		t.Errorf("api key leaked: %s", raw)
	}
}
