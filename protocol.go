package main

import (
	"bytes"
	"log"
	"strings"
	"text/template"
)

// Line prefixes of the decision protocol. The model answers in free text and
// only lines starting with one of these are read.
const (
	prefixTarget       = "目标ID: "
	prefixReason       = "理由: "
	prefixSave         = "是否救人: "
	prefixSaveTarget   = "救人目标ID: "
	prefixPoison       = "是否毒人: "
	prefixPoisonTarget = "毒人目标ID: "
	prefixShoot        = "是否开枪: "

	answerYes = "是"
)

const defaultReason = "no reason"

const werewolfPrompt = `你正在参与一局狼人杀游戏，你的身份是狼人，玩家ID: {{.roleId}}。
现在是第 {{.day}} 天的夜晚，你需要代表狼人阵营选择今晚要击杀的玩家。
当前存活的玩家：
{{.alivePlayers}}
请严格按照以下格式回答：
目标ID: <玩家ID>
理由: <一句话理由>`

const seerPrompt = `你正在参与一局狼人杀游戏，你的身份是预言家，玩家ID: {{.roleId}}。
现在是第 {{.day}} 天的夜晚，你可以查验一名玩家的阵营。
当前存活的玩家：
{{.alivePlayers}}
请严格按照以下格式回答：
目标ID: <玩家ID>
理由: <一句话理由>`

const witchPrompt = `你正在参与一局狼人杀游戏，你的身份是女巫，玩家ID: {{.roleId}}。
现在是第 {{.day}} 天的夜晚。解药：{{.saveUsed}}；毒药：{{.poisonUsed}}。
今晚被狼人击杀的玩家：{{.killedPlayer}}
当前存活的玩家：
{{.alivePlayers}}
解药只能救今晚被击杀的玩家，每瓶药整局只能使用一次。
请严格按照以下格式回答：
是否救人: <是/否>
救人目标ID: <玩家ID>
是否毒人: <是/否>
毒人目标ID: <玩家ID>
理由: <一句话理由>`

const votePrompt = `你正在参与一局狼人杀游戏，你的身份是{{.roleName}}（{{.camp}}），玩家ID: {{.roleId}}。
现在是第 {{.day}} 天的白天，所有存活玩家投票放逐一名玩家。
昨晚发生的事：{{.lastNightEvents}}
当前存活的玩家：
{{.alivePlayers}}
你不能投票给自己。请严格按照以下格式回答：
目标ID: <玩家ID>
理由: <一句话理由>`

const hunterPrompt = `你正在参与一局狼人杀游戏，你的身份是猎人，玩家ID: {{.roleId}}。
现在是第 {{.day}} 天，你刚刚被投票出局，可以选择开枪带走一名存活玩家。
当前存活的玩家：
{{.alivePlayers}}
请严格按照以下格式回答：
是否开枪: <是/否>
目标ID: <玩家ID>
理由: <一句话理由>`

var promptTemplates = map[string]*template.Template{
	"werewolf": mustPrompt("werewolf", werewolfPrompt),
	"seer":     mustPrompt("seer", seerPrompt),
	"witch":    mustPrompt("witch", witchPrompt),
	"vote":     mustPrompt("vote", votePrompt),
	"hunter":   mustPrompt("hunter", hunterPrompt),
}

func mustPrompt(name, text string) *template.Template {
	return template.Must(template.New(name).Option("missingkey=zero").Parse(text))
}

// renderPrompt fills a named prompt template. Variables absent from vars
// render as empty strings.
func renderPrompt(name string, vars map[string]string) string {
	tmpl, ok := promptTemplates[name]
	if !ok {
		log.Printf("renderPrompt: unknown template %q", name)
		return ""
	}
	if vars == nil {
		vars = map[string]string{}
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, vars); err != nil {
		log.Printf("renderPrompt: %s: %v", name, err)
		return buf.String()
	}
	return buf.String()
}

// Reply is a decoded model answer. Empty strings mean the line was absent.
type Reply struct {
	Target       string
	Reason       string
	Save         string
	SaveTarget   string
	Poison       string
	PoisonTarget string
	Shoot        string
}

// parseReply reads the known prefixes out of a free-text answer. The first
// occurrence of each prefix wins; everything else is ignored.
func parseReply(text string) Reply {
	fields := map[string]*string{}
	var r Reply
	fields[prefixTarget] = &r.Target
	fields[prefixReason] = &r.Reason
	fields[prefixSave] = &r.Save
	fields[prefixSaveTarget] = &r.SaveTarget
	fields[prefixPoison] = &r.Poison
	fields[prefixPoisonTarget] = &r.PoisonTarget
	fields[prefixShoot] = &r.Shoot

	seen := map[string]bool{}
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r")
		for prefix, dst := range fields {
			if seen[prefix] || !strings.HasPrefix(line, prefix) {
				continue
			}
			*dst = strings.TrimSpace(strings.TrimPrefix(line, prefix))
			seen[prefix] = true
		}
	}
	return r
}

// TargetID returns the decoded target, or false when the answer named none.
func (r Reply) TargetID() (string, bool) {
	return r.Target, r.Target != ""
}

// Rationale returns the decoded reason or the default placeholder.
func (r Reply) Rationale() string {
	if r.Reason == "" {
		return defaultReason
	}
	return r.Reason
}

func (r Reply) WantsSave() bool   { return r.Save == answerYes }
func (r Reply) WantsPoison() bool { return r.Poison == answerYes }
func (r Reply) WantsShoot() bool  { return r.Shoot == answerYes }

// hasWitchDecision reports whether the answer carried either potion line.
func (r Reply) hasWitchDecision() bool {
	return r.Save != "" || r.Poison != ""
}

// rosterString lists living players the way every prompt shows them.
func rosterString(state *GameState) string {
	var sb strings.Builder
	for _, p := range state.Players {
		if p.Alive {
			sb.WriteString("ID: " + p.RoleID + " (身份未知)\n")
		}
	}
	return sb.String()
}

func usedLabel(used bool) string {
	if used {
		return "已使用"
	}
	return "未使用"
}
