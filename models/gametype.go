package models

import (
	"fmt"
	"math/rand"
	"time"
)

// GameType identifies one pluggable minigame. The play logic lives on the
// clients; the server only needs the identity and the round duration.
type GameType string

const (
	GameReaction       GameType = "Reaction"
	GameClicker        GameType = "Clicker"
	GamePerfectCircle  GameType = "PerfectCircle"
	GameMugungwha      GameType = "Mugungwha"
	GameWirewalk       GameType = "Wirewalk"
	GameJosephus       GameType = "Josephus"
	GameDye            GameType = "Dye"
	GameKnight         GameType = "Knight"
	GamePanopticon     GameType = "Panopticon"
	GameNumberSurvivor GameType = "NumberSurvivor"
	GameDice           GameType = "Dice"
)

var gameDurations = map[GameType]time.Duration{
	GameReaction:       40 * time.Second,
	GameClicker:        30 * time.Second,
	GamePerfectCircle:  15 * time.Second,
	GameMugungwha:      30 * time.Second,
	GameWirewalk:       30 * time.Second,
	GameJosephus:       30 * time.Second,
	GameKnight:         30 * time.Second,
	GameDye:            30 * time.Second,
	GamePanopticon:     30 * time.Second,
	GameNumberSurvivor: 70 * time.Second,
	GameDice:           30 * time.Second,
}

// AllGameTypes returns the catalog in no particular order.
func AllGameTypes() []GameType {
	types := make([]GameType, 0, len(gameDurations))
	for g := range gameDurations {
		types = append(types, g)
	}
	return types
}

func (g GameType) Valid() bool {
	_, ok := gameDurations[g]
	return ok
}

func (g GameType) Duration() time.Duration {
	return gameDurations[g]
}

// DurationMs is the value that goes on the wire.
func (g GameType) DurationMs() int64 {
	return gameDurations[g].Milliseconds()
}

// PickRandomList picks the game sequence for a whole game at initialization
// time: a shuffled subset of the catalog, one game per round, no repeats.
func PickRandomList(rounds int) ([]GameType, error) {
	types := AllGameTypes()
	if rounds <= 0 || rounds > len(types) {
		return nil, fmt.Errorf("round count %d out of range 1..%d", rounds, len(types))
	}
	rand.Shuffle(len(types), func(i, j int) {
		types[i], types[j] = types[j], types[i]
	})
	return types[:rounds], nil
}
