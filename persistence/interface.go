// persistence/interface.go
package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/partyround/backbone/config"
	"github.com/partyround/backbone/models"
)

var (
	ErrRoomNotFound       = errors.New("room not found")
	ErrPlayerNotFound     = errors.New("player not found")
	ErrInvalidState       = errors.New("operation not allowed in current room state")
	ErrGameNotAssigned    = errors.New("no game assigned for round")
	ErrCodeSpaceExhausted = errors.New("unable to generate unique room code")
)

// TTLPolicy carries the per-state room TTLs. Every state-changing operation
// re-arms the room's expiry with the TTL of the state it enters.
type TTLPolicy struct {
	Created     time.Duration
	Waiting     time.Duration
	Playing     time.Duration
	Ended       time.Duration
	Player      time.Duration
	Idempotency time.Duration
}

func TTLPolicyFromConfig(cfg config.GameConfig) TTLPolicy {
	return TTLPolicy{
		Created:     cfg.CreatedTTL,
		Waiting:     cfg.WaitingTTL,
		Playing:     cfg.PlayingTTL,
		Ended:       cfg.EndedTTL,
		Player:      cfg.PlayerTTL,
		Idempotency: cfg.IdempotencyTTL,
	}
}

func (p TTLPolicy) ForState(state models.RoomState) time.Duration {
	switch state {
	case models.StateCreated:
		return p.Created
	case models.StateWaiting:
		return p.Waiting
	case models.StatePlaying:
		return p.Playing
	case models.StateEnded:
		return p.Ended
	}
	return p.Created
}

// RoomStore is the durable, TTL-bounded room/player/round state shared by all
// server instances. State transitions are single atomically-checked
// operations against the store; the store's own primitives are the
// synchronization mechanism, since in-process locks cannot cover multiple
// processes.
type RoomStore interface {
	GenerateUniqueRoomCode(ctx context.Context) (string, error)
	CreateRoom(ctx context.Context, roomCode, administratorID string) error
	InitializeRoom(ctx context.Context, roomCode string, games []models.GameType, totalRound int) error

	// StartGame is only legal from WAITING. It transitions to PLAYING,
	// computes the round window and inserts the room into the pending
	// aggregation set scored by the round's end time.
	StartGame(ctx context.Context, roomCode string) (models.RoundInfo, error)

	// UpdateScore is only legal while PLAYING; it increments the player's
	// cumulative score and the current round's score set.
	UpdateScore(ctx context.Context, roomCode, userID string, delta int) error

	// AggregateScores transitions PLAYING back to WAITING, re-arms the TTL,
	// reads the round's score set with the round multiplier applied,
	// records rank 0 for players who never submitted, advances the round
	// counter and returns the transient aggregation result.
	AggregateScores(ctx context.Context, roomCode string) (*models.ScoreAggregationResult, error)

	EndGame(ctx context.Context, roomCode string) error
	DeleteRoom(ctx context.Context, roomCode string) error

	Exists(ctx context.Context, roomCode string) (bool, error)
	AddPlayer(ctx context.Context, roomCode, userID, nickname string) error
	HasPlayer(ctx context.Context, roomCode, userID string) (bool, error)
	GetUserIDs(ctx context.Context, roomCode string) ([]string, error)
	GetAdministratorID(ctx context.Context, roomCode string) (string, error)
	GetUserCount(ctx context.Context, roomCode string) (int, error)
	GetState(ctx context.Context, roomCode string) (models.RoomState, error)

	// ValidateSubmit reports whether the submitted game type matches the
	// game assigned to the room's current round.
	ValidateSubmit(ctx context.Context, roomCode string, gameType models.GameType) (bool, error)
	GetGame(ctx context.Context, roomCode string, round int) (models.GameType, error)

	// UpdateRankRecord appends a round rank to the player's delimited rank
	// history and returns the updated record.
	UpdateRankRecord(ctx context.Context, roomCode, userID string, roundRank int) (string, error)
	GetFinalResults(ctx context.Context, roomCode string) ([]models.FinalResult, error)

	GetDueRooms(ctx context.Context, nowMs int64, limit int) ([]string, error)

	// RemoveRoomFromPending atomically removes the room from the pending
	// aggregation set. A true return is the caller's ownership claim for
	// this round-close; false means another instance already claimed it.
	RemoveRoomFromPending(ctx context.Context, roomCode string) (bool, error)
}

// IdempotencyStore is the per-room duplicate-suppression ledger. Records
// expire after a short TTL; existence means "already handled".
type IdempotencyStore interface {
	IsProcessed(ctx context.Context, roomCode, requestID string) (bool, error)
	MarkProcessed(ctx context.Context, roomCode, requestID string) error
}
