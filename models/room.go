package models

// RoomState is the room lifecycle state kept in the shared store. Each state
// carries its own TTL (configured, not hard-coded here); every state change
// re-arms the room's expiry.
type RoomState string

const (
	StateCreated RoomState = "CREATED"
	StateWaiting RoomState = "WAITING"
	StatePlaying RoomState = "PLAYING"
	StateEnded   RoomState = "ENDED"
)

func (s RoomState) Valid() bool {
	switch s {
	case StateCreated, StateWaiting, StatePlaying, StateEnded:
		return true
	}
	return false
}

// RoundInfo is the transient timing record handed back when a round starts.
// It exists only to be broadcast to clients and is never persisted.
type RoundInfo struct {
	GameType  GameType `json:"gameType"`
	StartAt   int64    `json:"startAt"`  // epoch ms
	Duration  int64    `json:"duration"` // ms
	CurrentMs int64    `json:"currentMs"`
}

// ScoreAggregationResult is the transient output of one aggregation pass,
// consumed immediately to build the outgoing result messages.
type ScoreAggregationResult struct {
	CurrentRound     int
	TotalRound       int
	RoundPlayerCount int
	TotalPlayerCount int
	GameType         GameType
	RoundScoreMap    map[string]int
	TotalScoreMap    map[string]int
	NicknameMap      map[string]string
}

// RankingInfo is one leaderboard row.
type RankingInfo struct {
	UserID   string `json:"userId"`
	Nickname string `json:"nickname"`
	Score    int    `json:"score"`
	Rank     int    `json:"rank"`
}

// PlaceInfo points out a single participant for round highlights.
type PlaceInfo struct {
	UserID   string `json:"userId"`
	Nickname string `json:"nickname"`
}

// FinalResult is a player's cumulative outcome read at game end.
type FinalResult struct {
	UserID   string
	Nickname string
	Score    int
}
