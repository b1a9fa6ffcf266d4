package main

import "strconv"

// Camp is one of the two alliances that decide the win condition.
type Camp string

const (
	CampWerewolf Camp = "werewolf"
	CampVillage  Camp = "village"
)

// ActorKind selects the decision capability a role grants.
type ActorKind int

const (
	ActorVillager ActorKind = iota
	ActorWerewolf
	ActorSeer
	ActorWitch
	ActorHunter
)

// Role is an immutable catalog entry. Role ids double as player ids: each role
// is held by exactly one player in a game.
type Role struct {
	ID          int
	Name        string // English display name
	LocalName   string // name used inside prompts
	Camp        Camp
	Kind        ActorKind
	Description string
}

// Role ids, in catalog order
const (
	RoleWerewolf1 = "1"
	RoleWerewolf2 = "2"
	RoleVillager  = "3"
	RoleSeer      = "4"
	RoleWitch     = "5"
	RoleHunter    = "6"
)

const (
	unknownRoleName = "unknown role"
	unknownCampName = "unknown camp"
)

var roleBook = []Role{
	{1, "Werewolf 1", "狼人1", CampWerewolf, ActorWerewolf, "Chooses a player to kill each night together with the other werewolf."},
	{2, "Werewolf 2", "狼人2", CampWerewolf, ActorWerewolf, "Chooses a player to kill each night together with the other werewolf."},
	{3, "Villager", "村民", CampVillage, ActorVillager, "No special powers, relies on deduction and voting."},
	{4, "Seer", "预言家", CampVillage, ActorSeer, "Inspects one player each night to learn their camp."},
	{5, "Witch", "女巫", CampVillage, ActorWitch, "Has one save potion and one poison potion for the whole game."},
	{6, "Hunter", "猎人", CampVillage, ActorHunter, "When voted out, may shoot one more player."},
}

// RoleOf looks a role up by its id string. Only the canonical form
// matches, so "01" or "+1" is not Werewolf 1.
func RoleOf(roleID string) (Role, bool) {
	id, err := strconv.Atoi(roleID)
	if err != nil || strconv.Itoa(id) != roleID {
		return Role{}, false
	}
	for _, r := range roleBook {
		if r.ID == id {
			return r, true
		}
	}
	return Role{}, false
}

// IsWerewolf reports whether the role belongs to the werewolf camp.
func IsWerewolf(roleID string) bool {
	r, ok := RoleOf(roleID)
	return ok && r.Camp == CampWerewolf
}

// NameAndCamp returns the prompt-facing role name and camp label, falling back
// to placeholders for ids outside the catalog.
func NameAndCamp(roleID string) (string, string) {
	r, ok := RoleOf(roleID)
	if !ok {
		return unknownRoleName, unknownCampName
	}
	return r.LocalName, campLabel(r.Camp)
}

// campOf returns the camp a player id fights for. Ids outside the catalog
// count as village.
func campOf(roleID string) Camp {
	if IsWerewolf(roleID) {
		return CampWerewolf
	}
	return CampVillage
}

func kindOf(roleID string) ActorKind {
	r, ok := RoleOf(roleID)
	if !ok {
		return ActorVillager
	}
	return r.Kind
}

func campLabel(c Camp) string {
	switch c {
	case CampWerewolf:
		return "狼人阵营"
	case CampVillage:
		return "好人阵营"
	}
	return unknownCampName
}
