package persistence

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/partyround/backbone/config"
	"github.com/partyround/backbone/logger"
	"github.com/partyround/backbone/models"
)

const (
	pendingAggregationKey = "pendingAggregationRooms"
	roomCodeAttempts      = 10
)

// NewRedisClient builds the shared store client and verifies connectivity.
func NewRedisClient(cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

// RedisRoomStore keeps all durable room state in Redis so any instance can
// serve any room. Layout: room:{code} hash, room:{code}:administratorId,
// room:{code}:playerIds set, room:{code}:player:{userId} hash,
// room:{code}:games list, room:{code}:round:{n}:scores zset, and the shared
// pendingAggregationRooms zset scored by round end time.
type RedisRoomStore struct {
	client      *redis.Client
	ttl         TTLPolicy
	startOffset time.Duration
}

func NewRedisRoomStore(client *redis.Client, ttl TTLPolicy, startOffset time.Duration) *RedisRoomStore {
	return &RedisRoomStore{client: client, ttl: ttl, startOffset: startOffset}
}

// startGameScript flips WAITING to PLAYING and enqueues the round close in
// one atomic step, so concurrent duplicate starts yield exactly one success.
var startGameScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'state') ~= ARGV[1] then
	return 0
end
redis.call('HSET', KEYS[1], 'state', ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
redis.call('PEXPIRE', KEYS[3], ARGV[3])
redis.call('ZADD', KEYS[2], ARGV[4], ARGV[5])
return 1
`)

// updateScoreScript gates the increment on the room still PLAYING the same
// round the caller saw, so a submit can never land in a closed round.
var updateScoreScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'state') ~= ARGV[1] then
	return 0
end
if redis.call('HGET', KEYS[1], 'currentRound') ~= ARGV[2] then
	return 0
end
redis.call('HINCRBY', KEYS[2], 'score', ARGV[3])
redis.call('ZINCRBY', KEYS[3], ARGV[3], ARGV[4])
return 1
`)

// beginAggregationScript flips PLAYING back to WAITING and hands out the
// round counters; a non-PLAYING room is rejected without mutation.
var beginAggregationScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'state') ~= ARGV[1] then
	return 0
end
redis.call('HSET', KEYS[1], 'state', ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
redis.call('PEXPIRE', KEYS[2], ARGV[3])
return {redis.call('HGET', KEYS[1], 'currentRound'), redis.call('HGET', KEYS[1], 'totalRound')}
`)

func (s *RedisRoomStore) GenerateUniqueRoomCode(ctx context.Context) (string, error) {
	for i := 0; i < roomCodeAttempts; i++ {
		code := fmt.Sprintf("%06d", rand.Intn(1_000_000))
		n, err := s.client.Exists(ctx, roomKey(code)).Result()
		if err != nil {
			return "", fmt.Errorf("room code probe: %w", err)
		}
		if n == 0 {
			return code, nil
		}
	}
	return "", fmt.Errorf("%w after %d attempts", ErrCodeSpaceExhausted, roomCodeAttempts)
}

func (s *RedisRoomStore) CreateRoom(ctx context.Context, roomCode, administratorID string) error {
	key := roomKey(roomCode)
	roomData := map[string]interface{}{
		"roomCode":     roomCode,
		"state":        string(models.StateCreated),
		"createdAt":    strconv.FormatInt(time.Now().UnixMilli(), 10),
		"currentRound": "0",
		"totalRound":   "0",
		"userCount":    "0",
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, roomData)
	pipe.Set(ctx, administratorKey(roomCode), administratorID, s.ttl.Created)
	pipe.Expire(ctx, key, s.ttl.Created)
	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("create room %s: %w", roomCode, err)
	}
	return nil
}

func (s *RedisRoomStore) InitializeRoom(ctx context.Context, roomCode string, games []models.GameType, totalRound int) error {
	key := roomKey(roomCode)
	names := make([]interface{}, len(games))
	for i, g := range games {
		names[i] = string(g)
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"totalRound":   strconv.Itoa(totalRound),
		"currentRound": "1",
		"state":        string(models.StateWaiting),
	})
	pipe.Expire(ctx, key, s.ttl.Waiting)
	pipe.RPush(ctx, gamesKey(roomCode), names...)
	pipe.Expire(ctx, gamesKey(roomCode), s.ttl.Playing)
	pipe.Expire(ctx, administratorKey(roomCode), s.ttl.Playing)
	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("initialize room %s: %w", roomCode, err)
	}
	return nil
}

func (s *RedisRoomStore) StartGame(ctx context.Context, roomCode string) (models.RoundInfo, error) {
	exists, err := s.Exists(ctx, roomCode)
	if err != nil {
		return models.RoundInfo{}, err
	}
	if !exists {
		return models.RoundInfo{}, ErrRoomNotFound
	}

	round, err := s.currentRound(ctx, roomCode)
	if err != nil {
		return models.RoundInfo{}, err
	}
	gameType, err := s.GetGame(ctx, roomCode, round)
	if err != nil {
		return models.RoundInfo{}, err
	}

	currentMs := time.Now().UnixMilli()
	startAt := currentMs + s.startOffset.Milliseconds()
	endAt := startAt + gameType.DurationMs()

	res, err := startGameScript.Run(ctx, s.client,
		[]string{roomKey(roomCode), pendingAggregationKey, administratorKey(roomCode)},
		string(models.StateWaiting), string(models.StatePlaying),
		s.ttl.Playing.Milliseconds(), endAt, roomCode,
	).Int()
	if err != nil {
		return models.RoundInfo{}, fmt.Errorf("start game %s: %w", roomCode, err)
	}
	if res == 0 {
		return models.RoundInfo{}, fmt.Errorf("start game %s: %w", roomCode, ErrInvalidState)
	}

	return models.RoundInfo{
		GameType:  gameType,
		StartAt:   startAt,
		Duration:  gameType.DurationMs(),
		CurrentMs: currentMs,
	}, nil
}

func (s *RedisRoomStore) UpdateScore(ctx context.Context, roomCode, userID string, delta int) error {
	round, err := s.currentRound(ctx, roomCode)
	if err != nil {
		return err
	}

	res, err := updateScoreScript.Run(ctx, s.client,
		[]string{roomKey(roomCode), playerKey(roomCode, userID), roundScoreKey(roomCode, round)},
		string(models.StatePlaying), strconv.Itoa(round), delta, userID,
	).Int()
	if err != nil {
		return fmt.Errorf("update score %s/%s: %w", roomCode, userID, err)
	}
	if res == 0 {
		return fmt.Errorf("update score %s/%s: %w", roomCode, userID, ErrInvalidState)
	}
	return nil
}

func (s *RedisRoomStore) AggregateScores(ctx context.Context, roomCode string) (*models.ScoreAggregationResult, error) {
	res, err := beginAggregationScript.Run(ctx, s.client,
		[]string{roomKey(roomCode), administratorKey(roomCode)},
		string(models.StatePlaying), string(models.StateWaiting),
		s.ttl.Waiting.Milliseconds(),
	).Result()
	if err != nil {
		return nil, fmt.Errorf("aggregate %s: %w", roomCode, err)
	}

	counters, ok := res.([]interface{})
	if !ok || len(counters) != 2 {
		return nil, fmt.Errorf("aggregate %s: %w", roomCode, ErrInvalidState)
	}
	currentRound, err := strconv.Atoi(fmt.Sprint(counters[0]))
	if err != nil {
		return nil, fmt.Errorf("aggregate %s: bad currentRound: %w", roomCode, err)
	}
	totalRound, err := strconv.Atoi(fmt.Sprint(counters[1]))
	if err != nil {
		return nil, fmt.Errorf("aggregate %s: bad totalRound: %w", roomCode, err)
	}

	gameType, err := s.GetGame(ctx, roomCode, currentRound)
	if err != nil {
		return nil, err
	}

	rawScores, err := s.client.ZRevRangeWithScores(ctx, roundScoreKey(roomCode, currentRound), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("aggregate %s: read round scores: %w", roomCode, err)
	}

	multiplier := roundMultiplier(currentRound)
	roundScoreMap := make(map[string]int, len(rawScores))
	totalScoreMap := make(map[string]int, len(rawScores))
	nicknameMap := make(map[string]string, len(rawScores))
	roundPlayers := make(map[string]bool, len(rawScores))

	for _, entry := range rawScores {
		userID := fmt.Sprint(entry.Member)
		roundPlayers[userID] = true
		roundScoreMap[userID] = int(math.Round(entry.Score * multiplier))

		fields, err := s.client.HMGet(ctx, playerKey(roomCode, userID), "score", "nickname").Result()
		if err != nil {
			return nil, fmt.Errorf("aggregate %s: read player %s: %w", roomCode, userID, err)
		}
		if fields[0] != nil {
			totalScoreMap[userID], _ = strconv.Atoi(fmt.Sprint(fields[0]))
		}
		if fields[1] != nil {
			nicknameMap[userID] = fmt.Sprint(fields[1])
		}
	}

	userIDs, err := s.GetUserIDs(ctx, roomCode)
	if err != nil {
		return nil, err
	}
	for _, userID := range userIDs {
		if roundPlayers[userID] {
			continue
		}
		if _, err := s.UpdateRankRecord(ctx, roomCode, userID, 0); err != nil {
			logger.Log.Warnf("[RoomStore] rank record for unsubmitted player %s in %s: %v", userID, roomCode, err)
		}
	}

	if err := s.client.HIncrBy(ctx, roomKey(roomCode), "currentRound", 1).Err(); err != nil {
		return nil, fmt.Errorf("aggregate %s: advance round: %w", roomCode, err)
	}

	return &models.ScoreAggregationResult{
		CurrentRound:     currentRound,
		TotalRound:       totalRound,
		RoundPlayerCount: len(roundPlayers),
		TotalPlayerCount: len(userIDs),
		GameType:         gameType,
		RoundScoreMap:    roundScoreMap,
		TotalScoreMap:    totalScoreMap,
		NicknameMap:      nicknameMap,
	}, nil
}

func (s *RedisRoomStore) EndGame(ctx context.Context, roomCode string) error {
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, roomKey(roomCode), "state", string(models.StateEnded))
	pipe.Expire(ctx, roomKey(roomCode), s.ttl.Ended)
	pipe.Expire(ctx, administratorKey(roomCode), s.ttl.Ended)
	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("end game %s: %w", roomCode, err)
	}
	return nil
}

// DeleteRoom removes the room root key and everything hanging off it:
// players, player id set, administrator binding, game list, round score sets.
func (s *RedisRoomStore) DeleteRoom(ctx context.Context, roomCode string) error {
	keys := []string{
		roomKey(roomCode),
		playerIDsKey(roomCode),
		administratorKey(roomCode),
		gamesKey(roomCode),
	}

	totalRound, err := s.client.LLen(ctx, gamesKey(roomCode)).Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("delete room %s: %w", roomCode, err)
	}
	for round := 1; round <= int(totalRound); round++ {
		keys = append(keys, roundScoreKey(roomCode, round))
	}

	userIDs, err := s.client.SMembers(ctx, playerIDsKey(roomCode)).Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("delete room %s: %w", roomCode, err)
	}
	for _, userID := range userIDs {
		keys = append(keys, playerKey(roomCode, userID))
	}

	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("delete room %s: %w", roomCode, err)
	}
	return nil
}

func (s *RedisRoomStore) Exists(ctx context.Context, roomCode string) (bool, error) {
	n, err := s.client.Exists(ctx, roomKey(roomCode)).Result()
	if err != nil {
		return false, fmt.Errorf("exists %s: %w", roomCode, err)
	}
	return n > 0, nil
}

func (s *RedisRoomStore) AddPlayer(ctx context.Context, roomCode, userID, nickname string) error {
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, playerKey(roomCode, userID), map[string]interface{}{
		"userId":     userID,
		"nickname":   nickname,
		"score":      "0",
		"rankRecord": "",
	})
	pipe.Expire(ctx, playerKey(roomCode, userID), s.ttl.Player)
	pipe.SAdd(ctx, playerIDsKey(roomCode), userID)
	pipe.Expire(ctx, playerIDsKey(roomCode), s.ttl.Player)
	pipe.HIncrBy(ctx, roomKey(roomCode), "userCount", 1)
	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("add player %s to %s: %w", userID, roomCode, err)
	}
	return nil
}

func (s *RedisRoomStore) HasPlayer(ctx context.Context, roomCode, userID string) (bool, error) {
	member, err := s.client.SIsMember(ctx, playerIDsKey(roomCode), userID).Result()
	if err != nil {
		return false, fmt.Errorf("has player %s/%s: %w", roomCode, userID, err)
	}
	return member, nil
}

func (s *RedisRoomStore) GetUserIDs(ctx context.Context, roomCode string) ([]string, error) {
	ids, err := s.client.SMembers(ctx, playerIDsKey(roomCode)).Result()
	if err != nil {
		return nil, fmt.Errorf("user ids %s: %w", roomCode, err)
	}
	return ids, nil
}

func (s *RedisRoomStore) GetAdministratorID(ctx context.Context, roomCode string) (string, error) {
	id, err := s.client.Get(ctx, administratorKey(roomCode)).Result()
	if err == redis.Nil {
		return "", ErrRoomNotFound
	}
	if err != nil {
		return "", fmt.Errorf("administrator id %s: %w", roomCode, err)
	}
	return id, nil
}

func (s *RedisRoomStore) GetUserCount(ctx context.Context, roomCode string) (int, error) {
	raw, err := s.client.HGet(ctx, roomKey(roomCode), "userCount").Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("user count %s: %w", roomCode, err)
	}
	count, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("user count %s: %w", roomCode, err)
	}
	return count, nil
}

func (s *RedisRoomStore) GetState(ctx context.Context, roomCode string) (models.RoomState, error) {
	raw, err := s.client.HGet(ctx, roomKey(roomCode), "state").Result()
	if err == redis.Nil {
		return "", ErrRoomNotFound
	}
	if err != nil {
		return "", fmt.Errorf("state %s: %w", roomCode, err)
	}
	return models.RoomState(raw), nil
}

func (s *RedisRoomStore) ValidateSubmit(ctx context.Context, roomCode string, gameType models.GameType) (bool, error) {
	round, err := s.currentRound(ctx, roomCode)
	if err != nil {
		return false, err
	}
	assigned, err := s.GetGame(ctx, roomCode, round)
	if err != nil {
		return false, err
	}
	return assigned == gameType, nil
}

func (s *RedisRoomStore) GetGame(ctx context.Context, roomCode string, round int) (models.GameType, error) {
	name, err := s.client.LIndex(ctx, gamesKey(roomCode), int64(round-1)).Result()
	if err == redis.Nil {
		return "", fmt.Errorf("room %s round %d: %w", roomCode, round, ErrGameNotAssigned)
	}
	if err != nil {
		return "", fmt.Errorf("game for %s round %d: %w", roomCode, round, err)
	}
	return models.GameType(name), nil
}

func (s *RedisRoomStore) UpdateRankRecord(ctx context.Context, roomCode, userID string, roundRank int) (string, error) {
	key := playerKey(roomCode, userID)
	prev, err := s.client.HGet(ctx, key, "rankRecord").Result()
	if err != nil && err != redis.Nil {
		return "", fmt.Errorf("rank record %s/%s: %w", roomCode, userID, err)
	}

	updated := strconv.Itoa(roundRank)
	if prev != "" {
		updated = prev + "|" + updated
	}
	if err := s.client.HSet(ctx, key, "rankRecord", updated).Err(); err != nil {
		return "", fmt.Errorf("rank record %s/%s: %w", roomCode, userID, err)
	}
	return updated, nil
}

func (s *RedisRoomStore) GetFinalResults(ctx context.Context, roomCode string) ([]models.FinalResult, error) {
	userIDs, err := s.GetUserIDs(ctx, roomCode)
	if err != nil {
		return nil, err
	}

	results := make([]models.FinalResult, 0, len(userIDs))
	for _, userID := range userIDs {
		fields, err := s.client.HMGet(ctx, playerKey(roomCode, userID), "nickname", "score").Result()
		if err != nil {
			return nil, fmt.Errorf("final results %s: %w", roomCode, err)
		}
		if fields[0] == nil || fields[1] == nil {
			logger.Log.Warnf("[RoomStore] missing final result data for user %s in %s", userID, roomCode)
			continue
		}
		score, _ := strconv.Atoi(fmt.Sprint(fields[1]))
		results = append(results, models.FinalResult{
			UserID:   userID,
			Nickname: fmt.Sprint(fields[0]),
			Score:    score,
		})
	}
	return results, nil
}

func (s *RedisRoomStore) GetDueRooms(ctx context.Context, nowMs int64, limit int) ([]string, error) {
	rooms, err := s.client.ZRangeByScore(ctx, pendingAggregationKey, &redis.ZRangeBy{
		Min:    "0",
		Max:    strconv.FormatInt(nowMs, 10),
		Offset: 0,
		Count:  int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("due rooms: %w", err)
	}
	return rooms, nil
}

func (s *RedisRoomStore) RemoveRoomFromPending(ctx context.Context, roomCode string) (bool, error) {
	removed, err := s.client.ZRem(ctx, pendingAggregationKey, roomCode).Result()
	if err != nil {
		return false, fmt.Errorf("remove pending %s: %w", roomCode, err)
	}
	return removed > 0, nil
}

func (s *RedisRoomStore) currentRound(ctx context.Context, roomCode string) (int, error) {
	raw, err := s.client.HGet(ctx, roomKey(roomCode), "currentRound").Result()
	if err == redis.Nil {
		return 0, ErrRoomNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("current round %s: %w", roomCode, err)
	}
	round, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("current round %s: %w", roomCode, err)
	}
	return round, nil
}

// Round scores decay/boost by 1.05^(round-1), applied at aggregation time.
func roundMultiplier(round int) float64 {
	return math.Pow(1.05, float64(round-1))
}

func roomKey(roomCode string) string {
	return "room:" + roomCode
}

func playerKey(roomCode, userID string) string {
	return roomKey(roomCode) + ":player:" + userID
}

func playerIDsKey(roomCode string) string {
	return roomKey(roomCode) + ":playerIds"
}

func administratorKey(roomCode string) string {
	return roomKey(roomCode) + ":administratorId"
}

func gamesKey(roomCode string) string {
	return roomKey(roomCode) + ":games"
}

func roundScoreKey(roomCode string, round int) string {
	return roomKey(roomCode) + ":round:" + strconv.Itoa(round) + ":scores"
}
