package main

import (
	crand "crypto/rand"
	"encoding/binary"
	"fmt"
	"math/rand/v2"
	"sync"
)

// FallbackRandomizer makes the uniform random choices used whenever a model
// cannot produce a usable decision. With a fixed seed and candidate set the
// sequence of picks is reproducible.
type FallbackRandomizer struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewFallbackRandomizer seeds the randomizer. A zero seed draws one from
// crypto/rand.
func NewFallbackRandomizer(seed uint64) *FallbackRandomizer {
	if seed == 0 {
		s, err := newSeed()
		if err != nil {
			logError("NewFallbackRandomizer: newSeed", err)
			s = 1
		}
		seed = s
	}
	return &FallbackRandomizer{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func newSeed() (uint64, error) {
	var b [8]byte
	if _, err := crand.Read(b[:]); err != nil {
		return 0, fmt.Errorf("read random seed: %w", err)
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

func (f *FallbackRandomizer) pick(candidates []string) (string, bool) {
	if len(candidates) == 0 {
		return "", false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return candidates[f.rng.IntN(len(candidates))], true
}

func (f *FallbackRandomizer) coin() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rng.IntN(2) == 1
}

// PickKillTarget picks among living non-werewolves.
func (f *FallbackRandomizer) PickKillTarget(livingNonWerewolves []string) (string, bool) {
	return f.pick(livingNonWerewolves)
}

// PickInspectTarget picks among living players other than the seer.
func (f *FallbackRandomizer) PickInspectTarget(livingExcludingSelf []string) (string, bool) {
	return f.pick(livingExcludingSelf)
}

// MaybeSave flips a coin to save the victim. It never fires when the potion
// is used or there is no victim.
func (f *FallbackRandomizer) MaybeSave(victim string, used bool) (string, bool) {
	if used || victim == "" {
		return "", false
	}
	if !f.coin() {
		return "", false
	}
	return victim, true
}

// MaybePoison flips a coin, then picks a poison target.
func (f *FallbackRandomizer) MaybePoison(candidates []string, used bool) (string, bool) {
	if used || len(candidates) == 0 {
		return "", false
	}
	if !f.coin() {
		return "", false
	}
	return f.pick(candidates)
}

// PickVote picks among living players other than the voter.
func (f *FallbackRandomizer) PickVote(livingExcludingVoter []string) (string, bool) {
	return f.pick(livingExcludingVoter)
}

// MaybeCounterShoot flips a coin, then picks the hunter's target.
func (f *FallbackRandomizer) MaybeCounterShoot(livingExcludingHunter []string) (string, bool) {
	if len(livingExcludingHunter) == 0 {
		return "", false
	}
	if !f.coin() {
		return "", false
	}
	return f.pick(livingExcludingHunter)
}
