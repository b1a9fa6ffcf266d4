package main

import (
	"compress/gzip"
	"flag"
	"io"
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

var db *sqlx.DB
var devMode bool

// logError logs an error with context and dumps the database in dev mode
func logError(context string, err error) {
	log.Printf("ERROR [%s]: %v", context, err)
	if devMode {
		LogDBState("error: " + context)
	}
}

// App bundles the server's collaborators
type App struct {
	cfg        AppConfig
	store      *sqliteStore
	hub        *Hub
	controller *Controller
	narrator   *narrator
}

func newApp(cfg AppConfig, store *sqliteStore, chat ChatClient, teller Storyteller) *App {
	hub := newHub()
	narr := newNarrator(teller, hub)
	resolver := &sessionResolver{
		sessions: store,
		static: Credentials{
			Provider: cfg.DecisionProvider,
			URL:      cfg.DecisionURL,
			APIKey:   cfg.DecisionAPIKey,
		},
	}
	controller := NewController(ControllerOptions{
		Store:    store,
		History:  store,
		Resolver: resolver,
		Chat:     chat,
		Rand:     NewFallbackRandomizer(cfg.Seed),
		Timeout:  cfg.DecisionTimeout,
		Notifier: hub,
		Narrator: narr,
	})
	return &App{cfg: cfg, store: store, hub: hub, controller: controller, narrator: narr}
}

// openDB connects and prepares the schema. One connection keeps shared
// in-memory databases consistent and serializes writers.
func openDB(dsn string) (*sqlx.DB, error) {
	conn, err := sqlx.Connect("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	conn.SetMaxOpenConns(1)
	if err := initDB(conn); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// routes wraps handlers with compression, caching control, and optional logging
func (a *App) routes() http.Handler {
	mux := http.NewServeMux()
	wrapHandler := func(pattern string, handler http.HandlerFunc, compressed bool) {
		var h http.Handler = handler
		if compressed {
			h = compress(h)
		}
		h = disableCaching(h)
		if appLogger != nil && appLogger.logRequests {
			mux.Handle(pattern, &LoggingHandler{Handler: h, Logger: appLogger})
		} else {
			mux.Handle(pattern, h)
		}
	}

	wrapHandler("/session", a.handleSession, true)
	wrapHandler("/logout", a.handleLogout, true)
	wrapHandler("/game/roles", a.handleRoles, true)
	wrapHandler("/game/start", a.handleStart, true)
	wrapHandler("/game/night", a.handleNight, true)
	wrapHandler("/game/day", a.handleDay, true)
	wrapHandler("/game/state", a.handleState, true)
	// WebSocket upgrades need the raw writer for hijacking
	wrapHandler("/ws", a.handleWebSocket, false)
	return mux
}

func disableCaching(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Add("Cache-Control", "no-cache")

		next.ServeHTTP(w, r)
	})
}

func shouldCompress(contentType string) bool {
	compressiblePrefixes := []string{
		"text/",
		"application/json",
	}
	for _, prefix := range compressiblePrefixes {
		if strings.HasPrefix(contentType, prefix) {
			return true
		}
	}
	return false
}

// responseWriter gzips compressible bodies when the client accepts it
type responseWriter struct {
	http.ResponseWriter
	gz         *gzip.Writer
	acceptGzip bool
	headerSent bool
}

func (w *responseWriter) WriteHeader(statusCode int) {
	if w.headerSent {
		return
	}
	w.headerSent = true

	contentType := w.Header().Get("Content-Type")
	if contentType != "" && shouldCompress(contentType) && w.acceptGzip {
		w.gz = gzip.NewWriter(w.ResponseWriter)
		w.Header().Set("Content-Encoding", "gzip")
		w.Header().Del("Content-Length")
	}

	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *responseWriter) Write(b []byte) (int, error) {
	if !w.headerSent {
		w.WriteHeader(http.StatusOK)
	}

	if w.gz != nil {
		return w.gz.Write(b)
	}
	return w.ResponseWriter.Write(b)
}

func (w *responseWriter) Flush() {
	if w.gz != nil {
		w.gz.Flush()
	}
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (w *responseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func (w *responseWriter) Close() error {
	if w.gz != nil {
		return w.gz.Close()
	}
	return nil
}

func compress(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wrapped := &responseWriter{
			ResponseWriter: w,
			acceptGzip:     strings.Contains(r.Header.Get("Accept-Encoding"), "gzip"),
		}
		defer wrapped.Close()

		next.ServeHTTP(wrapped, r)
	})
}

func main() {
	fv := registerFlags(flag.CommandLine)
	flag.Parse()

	cfg := loadConfig(*fv.envPath, *fv.configPath)
	fv.applyTo(flag.CommandLine, &cfg)
	devMode = cfg.Dev
	if devMode {
		cfg.LogDebug = true
	}

	// Set up logging to both stdout and file
	logFile, err := os.OpenFile("werewolf.log", os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		log.Fatal("Failed to open log file:", err)
	}
	defer logFile.Close()
	log.SetOutput(io.MultiWriter(os.Stdout, logFile))

	if err := InitAppLogger(cfg.toLogConfig()); err != nil {
		log.Fatal("Failed to initialize logger:", err)
	}
	defer CloseAppLogger()

	if appLogger.IsEnabled() {
		log.Println("Extended logging enabled")
	}

	db, err = openDB(cfg.DB)
	if err != nil {
		log.Fatal("Failed to open database:", err)
	}
	defer db.Close()

	LogDBState("after initDB")

	store := newSQLiteStore(db)
	chat := newLLMChatClient(cfg, store, appLogger)
	teller := initStoryteller(cfg, chat.httpClient)
	app := newApp(cfg, store, chat, teller)

	// Start WebSocket hub
	app.hub.start()

	log.Printf("Server starting on %s", cfg.Addr)
	log.Fatal(http.ListenAndServe(cfg.Addr, app.routes()))
}
