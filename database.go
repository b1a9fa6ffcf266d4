package main

import (
	"log"

	"github.com/jmoiron/sqlx"
)

// Assignment binds a role to the model that plays it.
type Assignment struct {
	RoleID  string `json:"roleId" db:"role_id"`
	AIModel string `json:"aiModelName" db:"ai_model"`
}

// PlayerState is one participant for the duration of a game. The role id is
// also the player id.
type PlayerState struct {
	RoleID  string `json:"roleId" db:"role_id"`
	AIModel string `json:"aiModelName" db:"ai_model"`
	Alive   bool   `json:"alive" db:"is_alive"`

	// Scratch targets, one per purpose. Kill and inspect are cleared at the
	// start of every night, vote at the start of every day vote.
	KillTarget    string `json:"killTarget" db:"kill_target"`
	InspectTarget string `json:"inspectTarget" db:"inspect_target"`
	VoteTarget    string `json:"voteTarget" db:"vote_target"`

	Saved    bool `json:"saved" db:"saved"`
	Poisoned bool `json:"poisoned" db:"poisoned"`

	// Set at most once per game, never reset
	WitchSaveUsed   bool `json:"witchSaveUsed" db:"witch_save_used"`
	WitchPoisonUsed bool `json:"witchPoisonUsed" db:"witch_poison_used"`
}

// DeathCause tags a death record.
type DeathCause string

const (
	CauseWerewolf DeathCause = "werewolf"
	CausePoison   DeathCause = "poison"
	CauseVote     DeathCause = "vote"
	CauseHunter   DeathCause = "hunter"
)

// Phase names used in reports and death records
const (
	PhaseNight = "night"
	PhaseDay   = "day"
)

// DeathRecord is one entry of the append-only death log.
type DeathRecord struct {
	Day      int        `json:"day" db:"day"`
	Phase    string     `json:"phase" db:"phase"`
	PlayerID string     `json:"playerId" db:"player_id"`
	Cause    DeathCause `json:"cause" db:"cause"`
}

func (d DeathRecord) String() string {
	switch d.Cause {
	case CausePoison:
		return "Player " + d.PlayerID + " was poisoned by the witch"
	case CauseWerewolf:
		return "Player " + d.PlayerID + " was killed by werewolves"
	case CauseVote:
		return "Player " + d.PlayerID + " was eliminated by vote"
	case CauseHunter:
		return "Player " + d.PlayerID + " was killed by hunter counterattack"
	}
	return "Player " + d.PlayerID + " died"
}

// GameState is the whole game of one session. Version increases on every
// successful save and guards against lost updates.
type GameState struct {
	Day        int   `json:"day" db:"day"`
	IsOver     bool  `json:"isOver" db:"is_over"`
	WinnerCamp Camp  `json:"winnerCamp" db:"winner_camp"`
	Version    int64 `json:"version" db:"version"`

	Players []PlayerState `json:"players" db:"-"`
	Deaths  []DeathRecord `json:"deaths" db:"-"`
}

func newGameState(assignments []Assignment) *GameState {
	players := make([]PlayerState, 0, len(assignments))
	for _, a := range assignments {
		players = append(players, PlayerState{RoleID: a.RoleID, AIModel: a.AIModel, Alive: true})
	}
	return &GameState{Players: players}
}

func (g *GameState) player(id string) *PlayerState {
	for i := range g.Players {
		if g.Players[i].RoleID == id {
			return &g.Players[i]
		}
	}
	return nil
}

// isValidTarget reports whether id names a living player.
func (g *GameState) isValidTarget(id string) bool {
	p := g.player(id)
	return p != nil && p.Alive
}

func (g *GameState) livingPlayers() []*PlayerState {
	var out []*PlayerState
	for i := range g.Players {
		if g.Players[i].Alive {
			out = append(out, &g.Players[i])
		}
	}
	return out
}

func (g *GameState) livingWerewolves() []*PlayerState {
	var out []*PlayerState
	for _, p := range g.livingPlayers() {
		if IsWerewolf(p.RoleID) {
			out = append(out, p)
		}
	}
	return out
}

// firstLivingOfKind returns the first living player whose role grants kind.
func (g *GameState) firstLivingOfKind(kind ActorKind) *PlayerState {
	for _, p := range g.livingPlayers() {
		if kindOf(p.RoleID) == kind {
			return p
		}
	}
	return nil
}

// livingIDs lists living player ids except the given one.
func (g *GameState) livingIDs(except string) []string {
	var ids []string
	for _, p := range g.livingPlayers() {
		if p.RoleID != except {
			ids = append(ids, p.RoleID)
		}
	}
	return ids
}

func (g *GameState) livingNonWerewolfIDs() []string {
	var ids []string
	for _, p := range g.livingPlayers() {
		if !IsWerewolf(p.RoleID) {
			ids = append(ids, p.RoleID)
		}
	}
	return ids
}

// nightVictim is the werewolves' target for the current night, or "".
func (g *GameState) nightVictim() string {
	for _, p := range g.Players {
		if IsWerewolf(p.RoleID) && p.KillTarget != "" {
			return p.KillTarget
		}
	}
	return ""
}

func (g *GameState) kill(id string, phase string, cause DeathCause) DeathRecord {
	rec := DeathRecord{Day: g.Day, Phase: phase, PlayerID: id, Cause: cause}
	if p := g.player(id); p != nil {
		p.Alive = false
	}
	g.Deaths = append(g.Deaths, rec)
	return rec
}

func initDB(db *sqlx.DB) error {
	schema := `
	PRAGMA journal_mode=WAL;

	CREATE TABLE IF NOT EXISTS session (
		token TEXT PRIMARY KEY,
		provider TEXT NOT NULL DEFAULT '',
		api_url TEXT NOT NULL DEFAULT '',
		api_key TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS game_role (
		session_key TEXT NOT NULL,
		position INTEGER NOT NULL,
		role_id TEXT NOT NULL,
		ai_model TEXT NOT NULL,
		UNIQUE(session_key, position)
	);
	CREATE TABLE IF NOT EXISTS game (
		session_key TEXT PRIMARY KEY,
		day INTEGER NOT NULL DEFAULT 0,
		is_over INTEGER NOT NULL DEFAULT 0,
		winner_camp TEXT NOT NULL DEFAULT '',
		version INTEGER NOT NULL DEFAULT 0
	);
	CREATE TABLE IF NOT EXISTS game_player (
		session_key TEXT NOT NULL,
		position INTEGER NOT NULL,
		role_id TEXT NOT NULL,
		ai_model TEXT NOT NULL,
		is_alive INTEGER NOT NULL DEFAULT 1,
		kill_target TEXT NOT NULL DEFAULT '',
		inspect_target TEXT NOT NULL DEFAULT '',
		vote_target TEXT NOT NULL DEFAULT '',
		saved INTEGER NOT NULL DEFAULT 0,
		poisoned INTEGER NOT NULL DEFAULT 0,
		witch_save_used INTEGER NOT NULL DEFAULT 0,
		witch_poison_used INTEGER NOT NULL DEFAULT 0,
		FOREIGN KEY (session_key) REFERENCES game(session_key),
		UNIQUE(session_key, position)
	);
	CREATE TABLE IF NOT EXISTS game_death (
		session_key TEXT NOT NULL,
		seq INTEGER NOT NULL,
		day INTEGER NOT NULL,
		phase TEXT NOT NULL,
		player_id TEXT NOT NULL,
		cause TEXT NOT NULL,
		FOREIGN KEY (session_key) REFERENCES game(session_key),
		UNIQUE(session_key, seq)
	);
	CREATE TABLE IF NOT EXISTS chat_history (
		session_key TEXT NOT NULL,
		player_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chat_history_lookup ON chat_history(session_key, player_id, created_at);
	`
	_, err := db.Exec(schema)
	if err != nil {
		log.Printf("initDB error: %v", err)
		return err
	}
	log.Printf("Database initialized successfully")
	return nil
}
