package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

// minPlayers is the smallest table a game can start with.
const minPlayers = 6

var (
	ErrNotAuthenticated    = errors.New("not authenticated")
	ErrInsufficientPlayers = errors.New("at least 6 players are required")
	ErrDuplicateRole       = errors.New("role ids must be unique and non-empty")
	ErrRolesNotAssigned    = errors.New("roles not yet assigned")
	ErrNotStartedOrOver    = errors.New("game not started or already over")
	ErrNoActiveGame        = errors.New("no active game")
	ErrStaleState          = errors.New("game was modified concurrently")
)

// GameStore durably holds one role assignment and one game per session.
type GameStore interface {
	LoadRoles(ctx context.Context, key string) ([]Assignment, error)
	SaveRoles(ctx context.Context, key string, roles []Assignment) error
	LoadState(ctx context.Context, key string) (*GameState, error)
	CreateState(ctx context.Context, key string, state *GameState) error
	SaveState(ctx context.Context, key string, state *GameState) error
}

// Notifier pushes events to whoever watches a session.
type Notifier interface {
	Publish(sessionKey, event string, payload any)
}

// evaluateWin ends the game when a camp has won. Once the game is over the
// winner never changes.
func evaluateWin(state *GameState) (bool, Camp) {
	if state.IsOver {
		return true, state.WinnerCamp
	}
	w := len(state.livingWerewolves())
	g := len(state.livingPlayers()) - w
	log.Printf("Win check: %d werewolves, %d others alive", w, g)

	switch {
	case w == 0:
		log.Printf("VILLAGE WINS - all werewolves eliminated")
		state.IsOver, state.WinnerCamp = true, CampVillage
	case w >= g:
		log.Printf("WEREWOLVES WIN - werewolves equal or outnumber the rest")
		state.IsOver, state.WinnerCamp = true, CampWerewolf
	}
	return state.IsOver, state.WinnerCamp
}

// Controller sequences role assignment, start, nights and days for each
// session. Calls for one session are serialized; different sessions run
// independently.
type Controller struct {
	store    GameStore
	history  ChatHistory
	resolver CredentialResolver
	chat     ChatClient
	rand     *FallbackRandomizer
	timeout  time.Duration
	notifier Notifier
	narrator *narrator
	night    NightPhaseResolver
	day      DayPhaseResolver

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// ControllerOptions wires a Controller's collaborators. History, Notifier
// and Narrator are optional.
type ControllerOptions struct {
	Store    GameStore
	History  ChatHistory
	Resolver CredentialResolver
	Chat     ChatClient
	Rand     *FallbackRandomizer
	Timeout  time.Duration
	Notifier Notifier
	Narrator *narrator
}

func NewController(opts ControllerOptions) *Controller {
	if opts.Rand == nil {
		opts.Rand = NewFallbackRandomizer(0)
	}
	return &Controller{
		store:    opts.Store,
		history:  opts.History,
		resolver: opts.Resolver,
		chat:     opts.Chat,
		rand:     opts.Rand,
		timeout:  opts.Timeout,
		notifier: opts.Notifier,
		narrator: opts.Narrator,
		locks:    make(map[string]*sync.Mutex),
	}
}

// lock serializes work on one session. A waiter that wakes on a mutex
// forget has already dropped starts over with the current one.
func (c *Controller) lock(key string) func() {
	for {
		c.mu.Lock()
		l, ok := c.locks[key]
		if !ok {
			l = &sync.Mutex{}
			c.locks[key] = l
		}
		c.mu.Unlock()

		l.Lock()
		c.mu.Lock()
		current := c.locks[key] == l
		c.mu.Unlock()
		if current {
			return l.Unlock
		}
		l.Unlock()
	}
}

// forget drops the lock of a session that no longer exists, waiting for
// any phase still holding it.
func (c *Controller) forget(key string) {
	unlock := c.lock(key)
	c.mu.Lock()
	delete(c.locks, key)
	c.mu.Unlock()
	unlock()
}

// AssignRoles records the table and creates a fresh game at day 0.
func (c *Controller) AssignRoles(ctx context.Context, key string, roles []Assignment) error {
	if key == "" {
		return ErrNotAuthenticated
	}
	if len(roles) < minPlayers {
		return ErrInsufficientPlayers
	}
	seen := make(map[string]bool, len(roles))
	for _, r := range roles {
		if r.RoleID == "" || seen[r.RoleID] {
			return ErrDuplicateRole
		}
		seen[r.RoleID] = true
	}

	defer c.lock(key)()

	if err := c.store.SaveRoles(ctx, key, roles); err != nil {
		return fmt.Errorf("assign roles: %w", err)
	}
	if err := c.store.CreateState(ctx, key, newGameState(roles)); err != nil {
		return fmt.Errorf("assign roles: %w", err)
	}
	if c.history != nil {
		if err := c.history.ClearHistory(ctx, key); err != nil {
			logError("AssignRoles: ClearHistory", err)
		}
	}

	log.Printf("Roles assigned for %d players", len(roles))
	DebugLog("AssignRoles", "Session %s assigned %v", shortKey(key), roles)
	LogDBState("after roles assigned")
	return nil
}

// GetRoles returns the recorded assignment.
func (c *Controller) GetRoles(ctx context.Context, key string) ([]Assignment, error) {
	if key == "" {
		return nil, ErrNotAuthenticated
	}
	roles, err := c.store.LoadRoles(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("get roles: %w", err)
	}
	if roles == nil {
		return nil, ErrRolesNotAssigned
	}
	return roles, nil
}

// StartGame moves a freshly assigned game to day 1. A game already under way
// is left untouched.
func (c *Controller) StartGame(ctx context.Context, key string) error {
	if key == "" {
		return ErrNotAuthenticated
	}
	defer c.lock(key)()

	roles, err := c.store.LoadRoles(ctx, key)
	if err != nil {
		return fmt.Errorf("start game: %w", err)
	}
	if roles == nil {
		return ErrRolesNotAssigned
	}

	state, err := c.store.LoadState(ctx, key)
	if err != nil {
		return fmt.Errorf("start game: %w", err)
	}
	if state == nil {
		state = newGameState(roles)
		state.Day = 1
		if err := c.store.CreateState(ctx, key, state); err != nil {
			return fmt.Errorf("start game: %w", err)
		}
	} else {
		if state.Day > 0 {
			DebugLog("StartGame", "Session %s already started at day %d", shortKey(key), state.Day)
			return nil
		}
		state.Day = 1
		if err := c.store.SaveState(ctx, key, state); err != nil {
			return fmt.Errorf("start game: %w", err)
		}
	}

	log.Printf("Game started with %d players", len(state.Players))
	LogDBState("after game start")
	c.publish(key, "state", state)
	return nil
}

// RunNightPhase resolves one night and persists the result.
func (c *Controller) RunNightPhase(ctx context.Context, key string) (*NightReport, error) {
	if key == "" {
		return nil, ErrNotAuthenticated
	}
	defer c.lock(key)()

	state, err := c.loadRunning(ctx, key)
	if err != nil {
		return nil, err
	}

	log.Printf("Night %d begins", state.Day)
	report := c.night.Resolve(ctx, c.decider(ctx, key), state)

	if err := c.store.SaveState(ctx, key, state); err != nil {
		return nil, fmt.Errorf("run night phase: %w", err)
	}
	LogDBState("after night resolution")

	c.publish(key, "night", report)
	c.narrate(key, state.Day, PhaseNight, report.Deaths)
	return report, nil
}

// RunDayPhase resolves one day and persists the result.
func (c *Controller) RunDayPhase(ctx context.Context, key string) (*DayReport, error) {
	if key == "" {
		return nil, ErrNotAuthenticated
	}
	defer c.lock(key)()

	state, err := c.loadRunning(ctx, key)
	if err != nil {
		return nil, err
	}

	log.Printf("Day %d begins", state.Day)
	report := c.day.Resolve(ctx, c.decider(ctx, key), state)

	if err := c.store.SaveState(ctx, key, state); err != nil {
		return nil, fmt.Errorf("run day phase: %w", err)
	}
	LogDBState("after day resolution")

	c.publish(key, "day", report)
	c.narrate(key, report.Day, PhaseDay, report.Deaths)
	return report, nil
}

// GetState returns the session's game.
func (c *Controller) GetState(ctx context.Context, key string) (*GameState, error) {
	if key == "" {
		return nil, ErrNotAuthenticated
	}
	state, err := c.store.LoadState(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("get state: %w", err)
	}
	if state == nil {
		return nil, ErrNoActiveGame
	}
	return state, nil
}

func (c *Controller) loadRunning(ctx context.Context, key string) (*GameState, error) {
	state, err := c.store.LoadState(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("load game: %w", err)
	}
	if state == nil || state.Day == 0 || state.IsOver {
		return nil, ErrNotStartedOrOver
	}
	return state, nil
}

// decider resolves the session's credentials once for the whole phase.
func (c *Controller) decider(ctx context.Context, key string) *decider {
	d := &decider{sessionKey: key, chat: c.chat, rand: c.rand, timeout: c.timeout}
	if c.resolver == nil {
		d.credErr = errNoCredentials
		return d
	}
	d.creds, d.credErr = c.resolver.Resolve(ctx, key)
	if d.credErr != nil {
		log.Printf("No usable credentials, every decision this phase is random: %v", d.credErr)
	}
	return d
}

func (c *Controller) publish(key, event string, payload any) {
	if c.notifier != nil {
		c.notifier.Publish(key, event, payload)
	}
}

func (c *Controller) narrate(key string, day int, phase string, deaths []string) {
	if c.narrator != nil && len(deaths) > 0 {
		c.narrator.maybeNarrate(key, day, phase, deaths)
	}
}
