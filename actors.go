package main

import (
	"context"
	"log"
	"strconv"
	"strings"
	"time"
)

// Reasons recorded when a decision came from the fallback randomizer
const (
	reasonCallFailed    = "API call failed, random choice"
	reasonInvalidTarget = "AI returned invalid target, random choice"
)

// Decision is one actor's resolved choice for a phase.
type Decision struct {
	Target   string
	Reason   string
	Fallback bool

	// Witch only
	Save         bool
	SaveTarget   string
	Poison       bool
	PoisonTarget string

	// Hunter only
	Shoot bool
}

// decider carries what every actor needs to make one decision: the chat
// collaborator, the session's credentials and the fallback randomizer.
type decider struct {
	sessionKey string
	creds      Credentials
	credErr    error
	chat       ChatClient
	rand       *FallbackRandomizer
	timeout    time.Duration
}

// ask renders a prompt and sends it on behalf of player. Missing
// credentials count as a failed call.
func (d *decider) ask(ctx context.Context, player *PlayerState, prompt string, vars map[string]string) (Reply, error) {
	if d.credErr != nil {
		return Reply{}, d.credErr
	}
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	text, err := d.chat.Complete(ctx, d.creds, ChatRequest{
		SessionKey: d.sessionKey,
		PlayerID:   player.RoleID,
		Model:      player.AIModel,
		Prompt:     renderPrompt(prompt, vars),
	})
	if err != nil {
		return Reply{}, err
	}
	DebugLog("decider.ask", "Player %s (%s) answered %s: %q", player.RoleID, player.AIModel, prompt, text)
	return parseReply(text), nil
}

// chooseTarget runs the common target-selection pattern: ask the model,
// accept a valid target, otherwise pick one at random.
func (d *decider) chooseTarget(ctx context.Context, self *PlayerState, prompt string, vars map[string]string,
	valid func(string) bool, fallback func() (string, bool)) Decision {

	reply, err := d.ask(ctx, self, prompt, vars)
	if err != nil {
		log.Printf("Player %s %s decision failed, using random choice: %v", self.RoleID, prompt, err)
		target, _ := fallback()
		return Decision{Target: target, Reason: reasonCallFailed, Fallback: true}
	}
	if id, ok := reply.TargetID(); ok && valid(id) {
		return Decision{Target: id, Reason: reply.Rationale()}
	}
	log.Printf("Player %s %s decision named invalid target %q, using random choice", self.RoleID, prompt, reply.Target)
	target, _ := fallback()
	return Decision{Target: target, Reason: reasonInvalidTarget, Fallback: true}
}

func baseVars(state *GameState, self *PlayerState) map[string]string {
	return map[string]string{
		"roleId":       self.RoleID,
		"day":          strconv.Itoa(state.Day),
		"alivePlayers": rosterString(state),
	}
}

// Actor is the decision capability a role grants.
type Actor interface {
	// DecideNight returns false when the role has nothing to do at night.
	DecideNight(ctx context.Context, d *decider, state *GameState, self *PlayerState, victim string) (Decision, bool)
	DecideVote(ctx context.Context, d *decider, state *GameState, self *PlayerState, lastNight string) Decision
}

// actorFor dispatches over the capability variants.
func actorFor(kind ActorKind) Actor {
	switch kind {
	case ActorWerewolf:
		return werewolfActor{}
	case ActorSeer:
		return seerActor{}
	case ActorWitch:
		return witchActor{}
	case ActorHunter:
		return hunterActor{}
	}
	return villagerActor{}
}

// voter gives every variant the same day vote.
type voter struct{}

func (voter) DecideVote(ctx context.Context, d *decider, state *GameState, self *PlayerState, lastNight string) Decision {
	vars := baseVars(state, self)
	vars["roleName"], vars["camp"] = NameAndCamp(self.RoleID)
	vars["lastNightEvents"] = lastNight
	valid := func(id string) bool { return id != self.RoleID && state.isValidTarget(id) }
	return d.chooseTarget(ctx, self, "vote", vars, valid, func() (string, bool) {
		return d.rand.PickVote(state.livingIDs(self.RoleID))
	})
}

type villagerActor struct{ voter }

func (villagerActor) DecideNight(context.Context, *decider, *GameState, *PlayerState, string) (Decision, bool) {
	return Decision{}, false
}

type werewolfActor struct{ voter }

// DecideNight picks the pack's victim. Any living player is accepted from the
// model; the fallback only picks among non-werewolves.
func (werewolfActor) DecideNight(ctx context.Context, d *decider, state *GameState, self *PlayerState, _ string) (Decision, bool) {
	return d.chooseTarget(ctx, self, "werewolf", baseVars(state, self), state.isValidTarget, func() (string, bool) {
		return d.rand.PickKillTarget(state.livingNonWerewolfIDs())
	}), true
}

type seerActor struct{ voter }

func (seerActor) DecideNight(ctx context.Context, d *decider, state *GameState, self *PlayerState, _ string) (Decision, bool) {
	valid := func(id string) bool { return id != self.RoleID && state.isValidTarget(id) }
	return d.chooseTarget(ctx, self, "seer", baseVars(state, self), valid, func() (string, bool) {
		return d.rand.PickInspectTarget(state.livingIDs(self.RoleID))
	}), true
}

type witchActor struct{ voter }

// DecideNight returns the witch's legal potion use. Illegal requests are
// dropped; only a failed call or an answer without either potion line falls
// back to coin flips.
func (witchActor) DecideNight(ctx context.Context, d *decider, state *GameState, self *PlayerState, victim string) (Decision, bool) {
	vars := baseVars(state, self)
	vars["saveUsed"] = usedLabel(self.WitchSaveUsed)
	vars["poisonUsed"] = usedLabel(self.WitchPoisonUsed)
	vars["killedPlayer"] = victim
	if victim == "" {
		vars["killedPlayer"] = "无"
	}

	reply, err := d.ask(ctx, self, "witch", vars)
	switch {
	case err != nil:
		log.Printf("Witch %s decision failed, using random choice: %v", self.RoleID, err)
		return witchFallback(d, state, self, victim, reasonCallFailed), true
	case !reply.hasWitchDecision():
		log.Printf("Witch %s answered without a decision, using random choice", self.RoleID)
		return witchFallback(d, state, self, victim, reasonInvalidTarget), true
	}

	dec := Decision{Reason: reply.Rationale()}
	if reply.WantsSave() {
		if !self.WitchSaveUsed && victim != "" && reply.SaveTarget == victim {
			dec.Save, dec.SaveTarget = true, victim
		} else {
			log.Printf("Witch %s save of %q rejected (victim %q, used %t)", self.RoleID, reply.SaveTarget, victim, self.WitchSaveUsed)
		}
	}
	if reply.WantsPoison() {
		t := reply.PoisonTarget
		if !self.WitchPoisonUsed && t != self.RoleID && state.isValidTarget(t) {
			dec.Poison, dec.PoisonTarget = true, t
		} else {
			log.Printf("Witch %s poison of %q rejected (used %t)", self.RoleID, t, self.WitchPoisonUsed)
		}
	}
	return dec, true
}

func witchFallback(d *decider, state *GameState, self *PlayerState, victim, reason string) Decision {
	dec := Decision{Reason: reason, Fallback: true}
	if t, ok := d.rand.MaybeSave(victim, self.WitchSaveUsed); ok {
		dec.Save, dec.SaveTarget = true, t
	}
	if t, ok := d.rand.MaybePoison(state.livingIDs(self.RoleID), self.WitchPoisonUsed); ok {
		dec.Poison, dec.PoisonTarget = true, t
	}
	return dec
}

type hunterActor struct{ voter }

func (hunterActor) DecideNight(context.Context, *decider, *GameState, *PlayerState, string) (Decision, bool) {
	return Decision{}, false
}

// DecideShot asks a hunter who was just voted out whether to take someone
// along. A "yes" naming an invalid target is no shot at all.
func (hunterActor) DecideShot(ctx context.Context, d *decider, state *GameState, self *PlayerState) Decision {
	reply, err := d.ask(ctx, self, "hunter", baseVars(state, self))
	if err != nil {
		log.Printf("Hunter %s decision failed, using random choice: %v", self.RoleID, err)
		dec := Decision{Reason: reasonCallFailed, Fallback: true}
		if t, ok := d.rand.MaybeCounterShoot(state.livingIDs(self.RoleID)); ok {
			dec.Shoot, dec.Target = true, t
		}
		return dec
	}

	dec := Decision{Reason: reply.Rationale()}
	t := strings.TrimSpace(reply.Target)
	if reply.WantsShoot() && t != self.RoleID && state.isValidTarget(t) {
		dec.Shoot, dec.Target = true, t
	}
	return dec
}
