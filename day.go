package main

import (
	"context"
	"fmt"
	"log"
	"strings"
)

// VoteReport is one voter's ballot.
type VoteReport struct {
	Voter    string `json:"voter"`
	Target   string `json:"target,omitempty"`
	Reason   string `json:"reason"`
	Fallback bool   `json:"fallback"`
}

// HunterReport describes the counterattack of a hunter voted out.
type HunterReport struct {
	Hunter   string `json:"hunter"`
	Shoot    bool   `json:"shoot"`
	Target   string `json:"target,omitempty"`
	Reason   string `json:"reason"`
	Fallback bool   `json:"fallback"`
}

// DayReport is the result of one day.
type DayReport struct {
	Day          int            `json:"day"`
	Phase        string         `json:"phase"`
	Votes        []VoteReport   `json:"votes"`
	Tally        map[string]int `json:"tally"`
	Summary      string         `json:"summary"`
	Eliminated   string         `json:"eliminated,omitempty"`
	Hunter       *HunterReport  `json:"hunter,omitempty"`
	Deaths       []string       `json:"deaths"`
	DeathRecords []DeathRecord  `json:"deathRecords"`
	GameOver     bool           `json:"gameOver"`
	Winner       Camp           `json:"winner,omitempty"`
}

// DayPhaseResolver runs the vote, the elimination and a possible hunter shot.
type DayPhaseResolver struct{}

func (DayPhaseResolver) Resolve(ctx context.Context, d *decider, state *GameState) *DayReport {
	report := &DayReport{
		Day:          state.Day,
		Phase:        PhaseDay,
		Votes:        []VoteReport{},
		Tally:        map[string]int{},
		Deaths:       []string{},
		DeathRecords: []DeathRecord{},
	}
	record := func(rec DeathRecord) {
		log.Printf("Day %d: %s", state.Day, rec)
		report.Deaths = append(report.Deaths, rec.String())
		report.DeathRecords = append(report.DeathRecords, rec)
	}

	for i := range state.Players {
		state.Players[i].VoteTarget = ""
	}

	voters := state.livingPlayers()
	if len(voters) == 0 {
		report.Summary = "no vote possible"
	} else {
		lastNight := lastNightSummary(state)
		var ballots []string
		for _, v := range voters {
			dec := actorFor(kindOf(v.RoleID)).DecideVote(ctx, d, state, v, lastNight)
			v.VoteTarget = dec.Target
			ballots = append(ballots, dec.Target)
			report.Votes = append(report.Votes, VoteReport{Voter: v.RoleID, Target: dec.Target, Reason: dec.Reason, Fallback: dec.Fallback})
			DebugLog("DayPhaseResolver", "Player %s votes for %q (%s)", v.RoleID, dec.Target, dec.Reason)
		}

		target, votes := tallyVotes(ballots, report.Tally)
		if target == "" {
			report.Summary = "no elimination"
		} else {
			report.Eliminated = target
			report.Summary = fmt.Sprintf("Player %s was eliminated with %d votes", target, votes)
			log.Printf("Day %d vote: player %s eliminated with %d votes", state.Day, target, votes)
			record(state.kill(target, PhaseDay, CauseVote))

			if kindOf(target) == ActorHunter {
				hunter := state.player(target)
				dec := hunterActor{}.DecideShot(ctx, d, state, hunter)
				report.Hunter = &HunterReport{Hunter: target, Shoot: dec.Shoot, Target: dec.Target, Reason: dec.Reason, Fallback: dec.Fallback}
				if dec.Shoot {
					log.Printf("Hunter %s shot %s", target, dec.Target)
					record(state.kill(dec.Target, PhaseDay, CauseHunter))
				}
			}
		}
	}

	state.Day++
	report.GameOver, report.Winner = evaluateWin(state)
	return report
}

// tallyVotes counts ballots into tally and returns the target with the most
// votes. Ties go to whichever target received its first vote earliest.
func tallyVotes(ballots []string, tally map[string]int) (string, int) {
	var order []string
	for _, b := range ballots {
		if b == "" {
			continue
		}
		if tally[b] == 0 {
			order = append(order, b)
		}
		tally[b]++
	}
	var best string
	var top int
	for _, id := range order {
		if tally[id] > top {
			best, top = id, tally[id]
		}
	}
	return best, top
}

// lastNightSummary describes the deaths of the night that opened this day.
func lastNightSummary(state *GameState) string {
	var lines []string
	for _, rec := range state.Deaths {
		if rec.Day == state.Day && rec.Phase == PhaseNight {
			lines = append(lines, rec.String())
		}
	}
	if len(lines) == 0 {
		return "No one died last night"
	}
	return strings.Join(lines, "; ")
}
