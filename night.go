package main

import (
	"context"
	"log"
)

// ActionReport describes one role's action in a phase.
type ActionReport struct {
	Action   string `json:"action"`
	Actor    string `json:"actor,omitempty"`
	Target   string `json:"target,omitempty"`
	Reason   string `json:"reason"`
	Fallback bool   `json:"fallback"`
}

// SeerReport adds the inspected player's camp.
type SeerReport struct {
	ActionReport
	Identity Camp `json:"identity,omitempty"`
}

// WitchReport records both potions independently.
type WitchReport struct {
	Action       string `json:"action"`
	Actor        string `json:"actor,omitempty"`
	Save         bool   `json:"save"`
	SaveTarget   string `json:"saveTarget,omitempty"`
	Poison       bool   `json:"poison"`
	PoisonTarget string `json:"poisonTarget,omitempty"`
	Reason       string `json:"reason"`
	Fallback     bool   `json:"fallback"`
}

// NightReport is the result of one night.
type NightReport struct {
	Day          int           `json:"day"`
	Phase        string        `json:"phase"`
	Werewolf     ActionReport  `json:"werewolf"`
	Seer         SeerReport    `json:"seer"`
	Witch        WitchReport   `json:"witch"`
	Deaths       []string      `json:"deaths"`
	DeathRecords []DeathRecord `json:"deathRecords"`
	GameOver     bool          `json:"gameOver"`
	Winner       Camp          `json:"winner,omitempty"`
}

// NightPhaseResolver runs werewolves, seer and witch strictly in that order,
// then applies the night's deaths.
type NightPhaseResolver struct{}

func (NightPhaseResolver) Resolve(ctx context.Context, d *decider, state *GameState) *NightReport {
	report := &NightReport{Day: state.Day, Phase: PhaseNight, Deaths: []string{}, DeathRecords: []DeathRecord{}}

	for i := range state.Players {
		p := &state.Players[i]
		p.KillTarget = ""
		p.InspectTarget = ""
		p.Saved = false
		p.Poisoned = false
	}

	report.Werewolf = resolveWerewolves(ctx, d, state)
	victim := state.nightVictim()
	report.Seer = resolveSeer(ctx, d, state)
	report.Witch = resolveWitch(ctx, d, state, victim)

	for i := range state.Players {
		p := &state.Players[i]
		if !p.Alive {
			continue
		}
		var rec DeathRecord
		switch {
		case p.Poisoned:
			rec = state.kill(p.RoleID, PhaseNight, CausePoison)
		case p.RoleID == victim && !p.Saved:
			rec = state.kill(p.RoleID, PhaseNight, CauseWerewolf)
		default:
			continue
		}
		log.Printf("Night %d: %s", state.Day, rec)
		report.Deaths = append(report.Deaths, rec.String())
		report.DeathRecords = append(report.DeathRecords, rec)
	}

	report.GameOver, report.Winner = evaluateWin(state)
	return report
}

// resolveWerewolves lets the first living werewolf decide for the pack. Every
// living werewolf ends up with the same kill target.
func resolveWerewolves(ctx context.Context, d *decider, state *GameState) ActionReport {
	wolves := state.livingWerewolves()
	if len(wolves) == 0 {
		return ActionReport{Action: "none", Reason: "no living werewolf"}
	}
	lead := wolves[0]
	dec, _ := actorFor(ActorWerewolf).DecideNight(ctx, d, state, lead, "")
	for _, w := range wolves {
		w.KillTarget = dec.Target
	}
	if dec.Target == "" {
		log.Printf("Werewolves found no one to kill")
		return ActionReport{Action: "none", Actor: lead.RoleID, Reason: dec.Reason, Fallback: dec.Fallback}
	}
	log.Printf("Werewolves chose to kill %s", dec.Target)
	return ActionReport{Action: "kill", Actor: lead.RoleID, Target: dec.Target, Reason: dec.Reason, Fallback: dec.Fallback}
}

func resolveSeer(ctx context.Context, d *decider, state *GameState) SeerReport {
	seer := state.firstLivingOfKind(ActorSeer)
	if seer == nil {
		return SeerReport{ActionReport: ActionReport{Action: "none", Reason: "no living seer"}}
	}
	dec, _ := actorFor(ActorSeer).DecideNight(ctx, d, state, seer, "")
	seer.InspectTarget = dec.Target
	if dec.Target == "" {
		return SeerReport{ActionReport: ActionReport{Action: "none", Actor: seer.RoleID, Reason: dec.Reason, Fallback: dec.Fallback}}
	}
	identity := campOf(dec.Target)
	log.Printf("Seer %s inspected %s: %s", seer.RoleID, dec.Target, identity)
	return SeerReport{
		ActionReport: ActionReport{Action: "inspect", Actor: seer.RoleID, Target: dec.Target, Reason: dec.Reason, Fallback: dec.Fallback},
		Identity:     identity,
	}
}

func resolveWitch(ctx context.Context, d *decider, state *GameState, victim string) WitchReport {
	witch := state.firstLivingOfKind(ActorWitch)
	if witch == nil {
		return WitchReport{Action: "none", Reason: "no living witch"}
	}
	dec, _ := actorFor(ActorWitch).DecideNight(ctx, d, state, witch, victim)

	report := WitchReport{Action: "potion", Actor: witch.RoleID, Reason: dec.Reason, Fallback: dec.Fallback}
	if dec.Save && !witch.WitchSaveUsed {
		if p := state.player(dec.SaveTarget); p != nil {
			p.Saved = true
			witch.WitchSaveUsed = true
			report.Save, report.SaveTarget = true, dec.SaveTarget
			log.Printf("Witch %s saved %s", witch.RoleID, dec.SaveTarget)
		}
	}
	if dec.Poison && !witch.WitchPoisonUsed {
		if p := state.player(dec.PoisonTarget); p != nil {
			p.Poisoned = true
			witch.WitchPoisonUsed = true
			report.Poison, report.PoisonTarget = true, dec.PoisonTarget
			log.Printf("Witch %s poisoned %s", witch.RoleID, dec.PoisonTarget)
		}
	}
	if !report.Save && !report.Poison {
		report.Action = "none"
	}
	return report
}
