package main

import (
	"context"
	"testing"
)

// newTestDecider builds a decider that answers through chat.
func newTestDecider(chat ChatClient, seed uint64) *decider {
	return &decider{
		sessionKey: "night-test",
		creds:      Credentials{Provider: providerOpenAICompatible, URL: "http://model.invalid"},
		chat:       chat,
		rand:       NewFallbackRandomizer(seed),
	}
}

func scripted(s script) *fakeChat {
	chat := &fakeChat{}
	chat.set(s.respond)
	return chat
}

func TestWerewolvesShareOneTarget(t *testing.T) {
	state := tableState("1", "2", "3", "4", "5", "6")
	chat := scripted(script{
		"werewolf:1": "目标ID: 4\n理由: 预言家嫌疑",
		"werewolf:2": "目标ID: 5\n理由: 女巫嫌疑",
	})

	report := NightPhaseResolver{}.Resolve(context.Background(), newTestDecider(chat, 1), state)

	if report.Werewolf.Actor != RoleWerewolf1 || report.Werewolf.Target != RoleSeer {
		t.Errorf("werewolf report = %+v, the first living wolf decides", report.Werewolf)
	}
	if state.player(RoleWerewolf1).KillTarget != state.player(RoleWerewolf2).KillTarget {
		t.Errorf("wolves disagree: %q vs %q", state.player(RoleWerewolf1).KillTarget, state.player(RoleWerewolf2).KillTarget)
	}
	wolfCalls := 0
	for _, req := range chat.calls {
		if promptKind(req.Prompt) == "werewolf" {
			wolfCalls++
		}
	}
	if wolfCalls != 1 {
		t.Errorf("werewolf prompts sent = %d, want 1", wolfCalls)
	}
}

func TestSecondWolfLeadsWhenFirstIsDead(t *testing.T) {
	state := tableState("2", "3", "4", "5", "6")
	chat := scripted(script{"werewolf:2": "目标ID: 3\n理由: 随便"})

	report := NightPhaseResolver{}.Resolve(context.Background(), newTestDecider(chat, 1), state)
	if report.Werewolf.Actor != RoleWerewolf2 || report.Werewolf.Target != RoleVillager || report.Werewolf.Fallback {
		t.Errorf("werewolf report = %+v", report.Werewolf)
	}
}

func TestSeerCannotInspectSelf(t *testing.T) {
	state := tableState("1", "2", "3", "4", "5", "6")
	chat := scripted(script{
		"werewolf": "目标ID: 3\n理由: x",
		"seer":     "目标ID: 4\n理由: 先看自己",
		"witch":    "是否救人: 否\n是否毒人: 否",
	})

	report := NightPhaseResolver{}.Resolve(context.Background(), newTestDecider(chat, 3), state)
	seer := report.Seer
	if !seer.Fallback || seer.Reason != reasonInvalidTarget {
		t.Errorf("seer report = %+v, self inspection must fall back", seer)
	}
	if seer.Target == RoleSeer || seer.Target == "" {
		t.Errorf("fallback inspected %q", seer.Target)
	}
	if seer.Identity != campOf(seer.Target) {
		t.Errorf("identity %q for target %q", seer.Identity, seer.Target)
	}
}

func TestSeerLearnsCamp(t *testing.T) {
	tests := []struct {
		target string
		camp   Camp
	}{
		{RoleWerewolf2, CampWerewolf},
		{RoleWitch, CampVillage},
	}
	for _, tt := range tests {
		state := tableState("1", "2", "3", "4", "5", "6")
		chat := scripted(script{
			"werewolf": "目标ID: 3\n理由: x",
			"seer":     "目标ID: " + tt.target + "\n理由: 看看",
			"witch":    "是否救人: 否\n是否毒人: 否",
		})
		report := NightPhaseResolver{}.Resolve(context.Background(), newTestDecider(chat, 1), state)
		if report.Seer.Target != tt.target || report.Seer.Identity != tt.camp || report.Seer.Reason != "看看" {
			t.Errorf("inspect %s = %+v, want camp %s", tt.target, report.Seer, tt.camp)
		}
		if state.player(RoleSeer).InspectTarget != tt.target {
			t.Errorf("inspect target not recorded: %q", state.player(RoleSeer).InspectTarget)
		}
	}
}

func TestWitchSaveLegality(t *testing.T) {
	tests := []struct {
		name      string
		reply     string
		saveUsed  bool
		wantSave  bool
		wantDeath bool
	}{
		{"save victim", "是否救人: 是\n救人目标ID: 3\n是否毒人: 否", false, true, false},
		{"save someone else", "是否救人: 是\n救人目标ID: 4\n是否毒人: 否", false, false, true},
		{"save already used", "是否救人: 是\n救人目标ID: 3\n是否毒人: 否", true, false, true},
		{"decline", "是否救人: 否\n是否毒人: 否", false, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := tableState("1", "2", "3", "4", "5", "6")
			state.player(RoleWitch).WitchSaveUsed = tt.saveUsed
			chat := scripted(script{
				"werewolf": "目标ID: 3\n理由: x",
				"seer":     "目标ID: 1\n理由: x",
				"witch":    tt.reply,
			})

			report := NightPhaseResolver{}.Resolve(context.Background(), newTestDecider(chat, 1), state)
			if report.Witch.Save != tt.wantSave || report.Witch.Fallback {
				t.Errorf("witch report = %+v, want save %v", report.Witch, tt.wantSave)
			}
			if dead := !state.player(RoleVillager).Alive; dead != tt.wantDeath {
				t.Errorf("villager dead = %v, want %v", dead, tt.wantDeath)
			}
			if tt.wantSave && !state.player(RoleWitch).WitchSaveUsed {
				t.Errorf("save potion not marked used")
			}
			if !tt.wantSave && state.player(RoleWitch).WitchSaveUsed != tt.saveUsed {
				t.Errorf("rejected save changed the potion flag")
			}
		})
	}
}

func TestWitchPoisonLegality(t *testing.T) {
	tests := []struct {
		name   string
		target string
		used   bool
		want   bool
	}{
		{"living player", "2", false, true},
		{"herself", "5", false, false},
		{"unknown player", "9", false, false},
		{"already used", "2", true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := tableState("1", "2", "3", "4", "5", "6")
			state.player(RoleWitch).WitchPoisonUsed = tt.used
			chat := scripted(script{
				"werewolf": "目标ID: 3\n理由: x",
				"seer":     "目标ID: 1\n理由: x",
				"witch":    "是否救人: 否\n是否毒人: 是\n毒人目标ID: " + tt.target + "\n理由: 毒他",
			})

			report := NightPhaseResolver{}.Resolve(context.Background(), newTestDecider(chat, 1), state)
			if report.Witch.Poison != tt.want {
				t.Errorf("witch report = %+v, want poison %v", report.Witch, tt.want)
			}
			if tt.want && state.player(tt.target).Alive {
				t.Errorf("poisoned player %s survived", tt.target)
			}
			if !tt.want && !state.player(RoleWitch).Alive {
				t.Errorf("witch died from her own rejected poison")
			}
		})
	}
}

func TestPoisonTakesPrecedence(t *testing.T) {
	state := tableState("1", "2", "3", "4", "5", "6")
	chat := scripted(script{
		"werewolf": "目标ID: 3\n理由: x",
		"seer":     "目标ID: 1\n理由: x",
		"witch":    "是否救人: 是\n救人目标ID: 3\n是否毒人: 是\n毒人目标ID: 3\n理由: 改主意了",
	})

	report := NightPhaseResolver{}.Resolve(context.Background(), newTestDecider(chat, 1), state)
	if len(report.DeathRecords) != 1 {
		t.Fatalf("deaths = %v, want one", report.DeathRecords)
	}
	if rec := report.DeathRecords[0]; rec.PlayerID != RoleVillager || rec.Cause != CausePoison {
		t.Errorf("death = %+v, poison must win over the save", rec)
	}
	if report.Deaths[0] != "Player 3 was poisoned by the witch" {
		t.Errorf("death line = %q", report.Deaths[0])
	}
}

func TestWitchWithoutDecisionFallsBack(t *testing.T) {
	state := tableState("1", "2", "3", "4", "5", "6")
	chat := scripted(script{
		"werewolf": "目标ID: 3\n理由: x",
		"seer":     "目标ID: 1\n理由: x",
		"witch":    "我需要再想想。\n理由: 不确定",
	})

	report := NightPhaseResolver{}.Resolve(context.Background(), newTestDecider(chat, 1), state)
	if !report.Witch.Fallback || report.Witch.Reason != reasonInvalidTarget {
		t.Errorf("witch report = %+v, want fallback", report.Witch)
	}
	if report.Witch.Save && report.Witch.SaveTarget != RoleVillager {
		t.Errorf("fallback saved %q, only the victim may be saved", report.Witch.SaveTarget)
	}
	if report.Witch.Poison && report.Witch.PoisonTarget == RoleWitch {
		t.Errorf("fallback poisoned the witch herself")
	}
}

func TestNightWithoutWolves(t *testing.T) {
	state := tableState("3", "4", "5", "6")
	chat := scripted(script{
		"seer":  "目标ID: 3\n理由: x",
		"witch": "是否救人: 否\n是否毒人: 否",
	})

	report := NightPhaseResolver{}.Resolve(context.Background(), newTestDecider(chat, 1), state)
	if report.Werewolf.Action != "none" || report.Werewolf.Reason != "no living werewolf" {
		t.Errorf("werewolf report = %+v", report.Werewolf)
	}
	if len(report.Deaths) != 0 {
		t.Errorf("deaths = %v, want none", report.Deaths)
	}
	if !report.GameOver || report.Winner != CampVillage {
		t.Errorf("over %v winner %q", report.GameOver, report.Winner)
	}
}

func TestNightWithoutSeerOrWitch(t *testing.T) {
	state := tableState("1", "2", "3", "6")
	chat := scripted(script{"werewolf": "目标ID: 3\n理由: x"})

	report := NightPhaseResolver{}.Resolve(context.Background(), newTestDecider(chat, 1), state)
	if report.Seer.Action != "none" || report.Seer.Reason != "no living seer" {
		t.Errorf("seer report = %+v", report.Seer)
	}
	if report.Witch.Action != "none" || report.Witch.Reason != "no living witch" {
		t.Errorf("witch report = %+v", report.Witch)
	}
	if state.player(RoleVillager).Alive {
		t.Errorf("unsaved victim survived")
	}
}

func TestMissingCredentialsCountAsFailedCalls(t *testing.T) {
	state := tableState("1", "2", "3", "4", "5", "6")
	chat := scripted(script{"werewolf": "目标ID: 3\n理由: x"})
	d := newTestDecider(chat, 5)
	d.credErr = errNoCredentials

	report := NightPhaseResolver{}.Resolve(context.Background(), d, state)
	if chat.callCount() != 0 {
		t.Errorf("made %d calls without credentials", chat.callCount())
	}
	if !report.Werewolf.Fallback || report.Werewolf.Reason != reasonCallFailed {
		t.Errorf("werewolf report = %+v", report.Werewolf)
	}
}

func TestActorForDispatch(t *testing.T) {
	for _, id := range []string{RoleWerewolf1, RoleWerewolf2, RoleVillager, RoleSeer, RoleWitch, RoleHunter, "7"} {
		actor := actorFor(kindOf(id))
		var ok bool
		switch kindOf(id) {
		case ActorWerewolf:
			_, ok = actor.(werewolfActor)
		case ActorSeer:
			_, ok = actor.(seerActor)
		case ActorWitch:
			_, ok = actor.(witchActor)
		case ActorHunter:
			_, ok = actor.(hunterActor)
		default:
			_, ok = actor.(villagerActor)
		}
		if !ok {
			t.Errorf("actorFor(kindOf(%q)) = %T", id, actor)
		}
	}
}
