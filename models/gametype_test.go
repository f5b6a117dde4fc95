package models

import "testing"

func TestPickRandomList(t *testing.T) {
	games, err := PickRandomList(5)
	if err != nil {
		t.Fatalf("PickRandomList failed: %v", err)
	}
	if len(games) != 5 {
		t.Fatalf("Expected 5 games, got %d", len(games))
	}

	seen := make(map[GameType]bool)
	for _, g := range games {
		if !g.Valid() {
			t.Errorf("Picked unknown game %q", g)
		}
		if seen[g] {
			t.Errorf("Game %q picked twice", g)
		}
		seen[g] = true
	}
}

func TestPickRandomListOutOfRange(t *testing.T) {
	if _, err := PickRandomList(0); err == nil {
		t.Error("Expected error for zero rounds")
	}
	if _, err := PickRandomList(len(AllGameTypes()) + 1); err == nil {
		t.Error("Expected error for more rounds than games")
	}
}

func TestGameDurations(t *testing.T) {
	if GameReaction.DurationMs() != 40_000 {
		t.Errorf("Unexpected Reaction duration %d", GameReaction.DurationMs())
	}
	if GameNumberSurvivor.DurationMs() != 70_000 {
		t.Errorf("Unexpected NumberSurvivor duration %d", GameNumberSurvivor.DurationMs())
	}
	if GameType("Unknown").Valid() {
		t.Error("Unknown game type must not validate")
	}
}
