package main

import (
	"slices"
	"testing"
	"testing/quick"
)

func TestFallbackReproducibleWithSeed(t *testing.T) {
	candidates := []string{"3", "4", "5", "6"}
	f := func(seed uint64) bool {
		if seed == 0 {
			seed = 1
		}
		a := NewFallbackRandomizer(seed)
		b := NewFallbackRandomizer(seed)
		for i := 0; i < 20; i++ {
			x, okA := a.PickKillTarget(candidates)
			y, okB := b.PickKillTarget(candidates)
			if x != y || !okA || !okB {
				t.Errorf("seed %d pick %d: %q vs %q", seed, i, x, y)
				return false
			}
			if !slices.Contains(candidates, x) {
				t.Errorf("pick %q outside candidates", x)
				return false
			}
			s1, _ := a.MaybePoison(candidates, false)
			s2, _ := b.MaybePoison(candidates, false)
			if s1 != s2 {
				t.Errorf("seed %d poison %d: %q vs %q", seed, i, s1, s2)
				return false
			}
		}
		return true
	}
	if err := quick.Check(f, &quick.Config{MaxCount: 5}); err != nil {
		t.Error(err)
	}
}

func TestFallbackEmptyCandidates(t *testing.T) {
	r := NewFallbackRandomizer(7)
	picks := map[string]func([]string) (string, bool){
		"kill":    r.PickKillTarget,
		"inspect": r.PickInspectTarget,
		"vote":    r.PickVote,
		"shoot":   r.MaybeCounterShoot,
		"poison":  func(c []string) (string, bool) { return r.MaybePoison(c, false) },
	}
	for name, pick := range picks {
		if id, ok := pick(nil); ok || id != "" {
			t.Errorf("%s on empty set = (%q, %v), want no action", name, id, ok)
		}
	}
	if id, ok := r.MaybeSave("", false); ok || id != "" {
		t.Errorf("MaybeSave without victim = (%q, %v)", id, ok)
	}
}

func TestFallbackUsedPotionsNeverFire(t *testing.T) {
	r := NewFallbackRandomizer(99)
	for i := 0; i < 100; i++ {
		if _, ok := r.MaybeSave("3", true); ok {
			t.Fatalf("MaybeSave fired with the save potion used")
		}
		if _, ok := r.MaybePoison([]string{"1", "2"}, true); ok {
			t.Fatalf("MaybePoison fired with the poison used")
		}
	}
}

func TestFallbackCoinFlipsBothWays(t *testing.T) {
	r := NewFallbackRandomizer(12345)
	saved, skipped := 0, 0
	for i := 0; i < 200; i++ {
		if id, ok := r.MaybeSave("3", false); ok {
			if id != "3" {
				t.Fatalf("MaybeSave saved %q, only the victim may be saved", id)
			}
			saved++
		} else {
			skipped++
		}
	}
	if saved == 0 || skipped == 0 {
		t.Errorf("coin never landed both ways: saved %d skipped %d", saved, skipped)
	}
}
