package main

import (
	"context"
	"errors"
	"fmt"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/jmoiron/sqlx"
)

// ============================================================================
// Test-specific logger
// ============================================================================

// TestLogger wraps AppLogger for test use with testing.T integration
type TestLogger struct {
	*AppLogger
	t *testing.T
}

// NewTestLogger creates a test logger from environment variables
func NewTestLogger(t *testing.T) *TestLogger {
	al := &AppLogger{
		outputDir: os.Getenv("TEST_OUTPUT_DIR"),
		logDB:     os.Getenv("TEST_LOG_DB") == "1",
		logWS:     os.Getenv("TEST_LOG_WS") == "1",
		debug:     os.Getenv("TEST_DEBUG") == "1",
	}

	name := strings.ReplaceAll(t.Name(), "/", "_")
	if al.logDB && al.outputDir != "" {
		if f, err := openLogFile(al.outputDir, "database_"+name+".log"); err == nil {
			al.dbLog = f
		}
	}
	if al.logWS && al.outputDir != "" {
		if f, err := openLogFile(al.outputDir, "websocket_"+name+".log"); err == nil {
			al.wsLog = f
		}
	}
	return &TestLogger{AppLogger: al, t: t}
}

// Debug logs a debug message using testing.T.Logf
func (tl *TestLogger) Debug(format string, args ...any) {
	if !tl.debug {
		return
	}
	tl.t.Logf("[DEBUG] "+format, args...)
}

// ============================================================================
// Scripted chat collaborator
// ============================================================================

var errUnreachable = errors.New("connection refused")

// fakeChat stands in for the model endpoint. With no responder set every
// call fails as if the endpoint were unreachable.
type fakeChat struct {
	mu      sync.Mutex
	respond func(req ChatRequest) (string, error)
	calls   []ChatRequest
}

func (f *fakeChat) Complete(_ context.Context, _ Credentials, req ChatRequest) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	respond := f.respond
	f.mu.Unlock()
	if respond == nil {
		return "", errUnreachable
	}
	return respond(req)
}

func (f *fakeChat) set(respond func(req ChatRequest) (string, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.respond = respond
}

func (f *fakeChat) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// promptKind tells which decision a rendered prompt asks for.
func promptKind(prompt string) string {
	switch {
	case strings.Contains(prompt, "选择今晚要击杀"):
		return "werewolf"
	case strings.Contains(prompt, "你可以查验"):
		return "seer"
	case strings.Contains(prompt, "解药："):
		return "witch"
	case strings.Contains(prompt, "投票放逐"):
		return "vote"
	case strings.Contains(prompt, "可以选择开枪"):
		return "hunter"
	}
	return "unknown"
}

// script maps "kind" or "kind:playerID" to a canned reply. Kinds without an
// entry fail like an unreachable endpoint.
type script map[string]string

func (s script) respond(req ChatRequest) (string, error) {
	kind := promptKind(req.Prompt)
	if r, ok := s[kind+":"+req.PlayerID]; ok {
		return r, nil
	}
	if r, ok := s[kind]; ok {
		return r, nil
	}
	return "", errUnreachable
}

// ============================================================================
// Test context
// ============================================================================

var testDBCounter atomic.Int64

// TestContext holds an isolated database, app and HTTP server per test
type TestContext struct {
	t       *testing.T
	logger  *TestLogger
	db      *sqlx.DB
	store   *sqliteStore
	chat    *fakeChat
	app     *App
	server  *httptest.Server
	baseURL string
	cleanup func()
}

func newTestContext(t *testing.T) *TestContext {
	return newTestContextWithSeed(t, 42)
}

// newTestContextWithSeed creates a test context whose fallback randomizer
// uses the given seed
func newTestContextWithSeed(t *testing.T, seed uint64) *TestContext {
	logger := NewTestLogger(t)

	dsn := fmt.Sprintf("file:werewolf_test_%s_%d?mode=memory&cache=shared",
		strings.ReplaceAll(t.Name(), "/", "_"), testDBCounter.Add(1))
	testDB, err := openDB(dsn)
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	db = testDB

	cfg := defaultConfig()
	cfg.Seed = seed
	cfg.DecisionTimeout = 0

	store := newSQLiteStore(testDB)
	chat := &fakeChat{}
	app := newApp(cfg, store, chat, nil)
	app.hub.start()

	server := httptest.NewServer(app.routes())

	logger.LogDB("after initDB")
	logger.Debug("Test server on %s, dsn %s", server.URL, dsn)

	var cleanupOnce sync.Once
	cleanup := func() {
		cleanupOnce.Do(func() {
			logger.LogDB("before cleanup")
			server.Close()
			app.hub.stop()
			testDB.Close()
			logger.Close()
		})
	}
	t.Cleanup(cleanup)

	return &TestContext{
		t:       t,
		logger:  logger,
		db:      testDB,
		store:   store,
		chat:    chat,
		app:     app,
		server:  server,
		baseURL: server.URL,
		cleanup: cleanup,
	}
}

// newSession registers a session with usable credentials and returns its key
func (tc *TestContext) newSession() string {
	tc.t.Helper()
	key := fmt.Sprintf("session-%d", testDBCounter.Add(1))
	creds := Credentials{Provider: providerOpenAICompatible, URL: "http://model.invalid", APIKey: "test-key"}
	if err := tc.store.CreateSession(context.Background(), key, creds); err != nil {
		tc.t.Fatalf("CreateSession: %v", err)
	}
	return key
}

// startedGame assigns the standard six roles and starts the game
func (tc *TestContext) startedGame() string {
	tc.t.Helper()
	key := tc.newSession()
	ctx := context.Background()
	if err := tc.app.controller.AssignRoles(ctx, key, standardRoles()); err != nil {
		tc.t.Fatalf("AssignRoles: %v", err)
	}
	if err := tc.app.controller.StartGame(ctx, key); err != nil {
		tc.t.Fatalf("StartGame: %v", err)
	}
	return key
}

// mutateState loads, changes and saves the game outside of any phase
func (tc *TestContext) mutateState(key string, fn func(*GameState)) {
	tc.t.Helper()
	ctx := context.Background()
	state, err := tc.store.LoadState(ctx, key)
	if err != nil || state == nil {
		tc.t.Fatalf("LoadState: %v (state %v)", err, state)
	}
	fn(state)
	if err := tc.store.SaveState(ctx, key, state); err != nil {
		tc.t.Fatalf("SaveState: %v", err)
	}
}

func (tc *TestContext) state(key string) *GameState {
	tc.t.Helper()
	state, err := tc.app.controller.GetState(context.Background(), key)
	if err != nil {
		tc.t.Fatalf("GetState: %v", err)
	}
	return state
}

func standardRoles() []Assignment {
	return []Assignment{
		{RoleID: RoleWerewolf1, AIModel: "model-a"},
		{RoleID: RoleWerewolf2, AIModel: "model-b"},
		{RoleID: RoleVillager, AIModel: "model-c"},
		{RoleID: RoleSeer, AIModel: "model-d"},
		{RoleID: RoleWitch, AIModel: "model-e"},
		{RoleID: RoleHunter, AIModel: "model-f"},
	}
}

func deadIDs(state *GameState) map[string]bool {
	dead := map[string]bool{}
	for _, p := range state.Players {
		if !p.Alive {
			dead[p.RoleID] = true
		}
	}
	return dead
}
