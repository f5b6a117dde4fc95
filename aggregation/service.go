// aggregation/service.go
package aggregation

import (
	"context"
	"encoding/json"
	"time"

	"github.com/partyround/backbone/broadcast"
	"github.com/partyround/backbone/logger"
	"github.com/partyround/backbone/models"
	"github.com/partyround/backbone/persistence"
	"github.com/partyround/backbone/ranking"
	"github.com/partyround/backbone/session"
)

// Service closes a round: it flips the room out of PLAYING, ranks the
// round's submissions, fans out per-player and administrator results and
// either announces the next game or ends the session. A round is closed at
// most once store-wide; the caller holds the pending-set claim before
// invoking AggregateRound.
type Service struct {
	rooms       persistence.RoomStore
	registry    *session.Registry
	broadcaster *broadcast.Broadcaster
	topK        int

	// OnAggregated, when set, receives each round-close's wall time.
	OnAggregated func(time.Duration)
}

func NewService(rooms persistence.RoomStore, registry *session.Registry, broadcaster *broadcast.Broadcaster, topK int) *Service {
	return &Service{
		rooms:       rooms,
		registry:    registry,
		broadcaster: broadcaster,
		topK:        topK,
	}
}

// AggregateRound performs one round close end to end. Failures after the
// store transition are logged and do not re-queue the room; the room's TTL
// is the recovery path for a half-finished close.
func (s *Service) AggregateRound(ctx context.Context, roomCode string) error {
	start := time.Now()

	result, err := s.rooms.AggregateScores(ctx, roomCode)
	if err != nil {
		return err
	}

	roundSorted := ranking.SortedEntries(result.RoundScoreMap)
	roundRanks := ranking.CalculateRanks(roundSorted)
	overallSorted := ranking.SortedEntries(result.TotalScoreMap)
	overallRanks := ranking.CalculateRanks(overallSorted)

	roundTop := ranking.BuildTopK(roundSorted, roundRanks, result.NicknameMap, s.topK)
	overallTop := ranking.BuildTopK(overallSorted, overallRanks, result.NicknameMap, s.topK)

	s.sendPlayerResults(ctx, roomCode, result, roundRanks, overallRanks, roundTop, overallTop)
	s.sendAdminResult(ctx, roomCode, result, overallRanks, roundTop, overallTop)

	if result.CurrentRound >= result.TotalRound {
		err = s.finishGame(ctx, roomCode)
	} else {
		err = s.announceNextGame(ctx, roomCode, result.CurrentRound+1)
	}

	elapsed := time.Since(start)
	if s.OnAggregated != nil {
		s.OnAggregated(elapsed)
	}
	logger.Log.Infof("[Aggregate] room=%s round=%d/%d players=%d/%d took=%s",
		roomCode, result.CurrentRound, result.TotalRound, result.RoundPlayerCount, result.TotalPlayerCount, elapsed)
	return err
}

// sendPlayerResults delivers each submitter their personal result. Players
// who did not submit this round get no personal message; their rank record
// already carries the zero for this round.
func (s *Service) sendPlayerResults(ctx context.Context, roomCode string, result *models.ScoreAggregationResult,
	roundRanks, overallRanks map[string]int, roundTop, overallTop []models.RankingInfo) {

	for userID, roundScore := range result.RoundScoreMap {
		rankRecord, err := s.rooms.UpdateRankRecord(ctx, roomCode, userID, roundRanks[userID])
		if err != nil {
			logger.Log.Warnf("[Aggregate] rank record for %s in %s: %v", userID, roomCode, err)
		}

		msg := models.AggregatedUserMessage{
			Type:           models.TypeAggregatedUser,
			CurrentRound:   result.CurrentRound,
			TotalRound:     result.TotalRound,
			GameType:       result.GameType,
			CurrentScore:   roundScore,
			TotalScore:     result.TotalScoreMap[userID],
			RankRecord:     rankRecord,
			RoundRank:      roundRanks[userID],
			OverallRank:    overallRanks[userID],
			RoundRanking:   roundTop,
			OverallRanking: overallTop,
		}

		sess, ok := s.registry.Get(userID)
		if !ok || !sess.IsOpen() {
			logger.Log.Warnf("[Aggregate] no open session for player %s in %s", userID, roomCode)
			continue
		}
		payload, err := json.Marshal(msg)
		if err != nil {
			logger.Log.Errorf("[Aggregate] marshal player result for %s: %v", userID, err)
			continue
		}
		s.broadcaster.Send(sess, payload)
	}
}

// sendAdminResult delivers the admin's round summary. The first/last place
// highlights follow the overall standings, not the single round.
func (s *Service) sendAdminResult(ctx context.Context, roomCode string, result *models.ScoreAggregationResult,
	overallRanks map[string]int, roundTop, overallTop []models.RankingInfo) {

	msg := models.AggregatedAdminMessage{
		Type:           models.TypeAggregatedAdmin,
		CurrentRound:   result.CurrentRound,
		TotalRound:     result.TotalRound,
		GameType:       result.GameType,
		RoundRanking:   roundTop,
		OverallRanking: overallTop,
		FirstPlace:     s.placeOf(result, ranking.FirstByRank(overallRanks)),
		LastPlace:      s.placeOf(result, ranking.LastByRank(overallRanks)),
	}

	adminID, err := s.rooms.GetAdministratorID(ctx, roomCode)
	if err != nil {
		logger.Log.Warnf("[Aggregate] administrator unavailable for %s: %v", roomCode, err)
		return
	}
	sess, ok := s.registry.Get(adminID)
	if !ok || !sess.IsOpen() {
		logger.Log.Warnf("[Aggregate] no open administrator session for %s", roomCode)
		return
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		logger.Log.Errorf("[Aggregate] marshal admin result for %s: %v", roomCode, err)
		return
	}
	s.broadcaster.Send(sess, payload)
}

func (s *Service) placeOf(result *models.ScoreAggregationResult, userID string) models.PlaceInfo {
	if userID == "" {
		return models.PlaceInfo{}
	}
	return models.PlaceInfo{UserID: userID, Nickname: result.NicknameMap[userID]}
}

// finishGame moves the room to ENDED and broadcasts the final standings.
func (s *Service) finishGame(ctx context.Context, roomCode string) error {
	finals, err := s.rooms.GetFinalResults(ctx, roomCode)
	if err != nil {
		return err
	}
	if err := s.rooms.EndGame(ctx, roomCode); err != nil {
		return err
	}

	standings := ranking.CalculateFinalRanks(finals)
	sessions, err := s.roomSessions(ctx, roomCode)
	if err != nil {
		return err
	}
	s.broadcaster.BroadcastJSON(sessions, models.NewEndMessage(standings), roomCode)
	logger.Log.Infof("[Aggregate] room %s ended with %d players", roomCode, len(finals))
	return nil
}

// announceNextGame tells everyone which game the coming round holds. The
// round does not start until the administrator sends the next start command.
func (s *Service) announceNextGame(ctx context.Context, roomCode string, nextRound int) error {
	gameType, err := s.rooms.GetGame(ctx, roomCode, nextRound)
	if err != nil {
		return err
	}
	sessions, err := s.roomSessions(ctx, roomCode)
	if err != nil {
		return err
	}
	s.broadcaster.BroadcastJSON(sessions, models.NewNextGameMessage(gameType, nextRound), roomCode)
	return nil
}

func (s *Service) roomSessions(ctx context.Context, roomCode string) ([]*session.Session, error) {
	userIDs, err := s.rooms.GetUserIDs(ctx, roomCode)
	if err != nil {
		return nil, err
	}
	adminID, err := s.rooms.GetAdministratorID(ctx, roomCode)
	if err != nil {
		return nil, err
	}
	return s.registry.GetOpenSessions(append(userIDs, adminID)), nil
}
