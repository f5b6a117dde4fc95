package persistence

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/partyround/backbone/models"
)

// MemoryRoomStore implements RoomStore on process memory. It backs
// single-process dev runs (store.backend "memory") and the test suites; it
// honors the same state gates and TTL semantics as the Redis store, with
// expiry applied lazily on access.
type MemoryRoomStore struct {
	mutex sync.Mutex
	rooms map[string]*memoryRoom
	// pending maps room code to the round's due timestamp (epoch ms).
	pending map[string]int64
	ttl     TTLPolicy
	offset  time.Duration

	// Now is swappable so tests can drive TTL expiry and due times.
	Now func() time.Time
}

type memoryRoom struct {
	state        models.RoomState
	createdAt    int64
	currentRound int
	totalRound   int
	userCount    int
	adminID      string
	games        []models.GameType
	players      map[string]*memoryPlayer
	roundScores  map[int]map[string]int
	expiresAt    time.Time
}

type memoryPlayer struct {
	nickname   string
	score      int
	rankRecord string
}

func NewMemoryRoomStore(ttl TTLPolicy, startOffset time.Duration) *MemoryRoomStore {
	return &MemoryRoomStore{
		rooms:   make(map[string]*memoryRoom),
		pending: make(map[string]int64),
		ttl:     ttl,
		offset:  startOffset,
		Now:     time.Now,
	}
}

// room returns the live room, dropping it first if its TTL has lapsed.
func (s *MemoryRoomStore) room(roomCode string) (*memoryRoom, bool) {
	r, exists := s.rooms[roomCode]
	if !exists {
		return nil, false
	}
	if s.Now().After(r.expiresAt) {
		delete(s.rooms, roomCode)
		delete(s.pending, roomCode)
		return nil, false
	}
	return r, true
}

func (s *MemoryRoomStore) GenerateUniqueRoomCode(ctx context.Context) (string, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	for i := 0; i < roomCodeAttempts; i++ {
		code := fmt.Sprintf("%06d", rand.Intn(1_000_000))
		if _, exists := s.room(code); !exists {
			return code, nil
		}
	}
	return "", fmt.Errorf("%w after %d attempts", ErrCodeSpaceExhausted, roomCodeAttempts)
}

func (s *MemoryRoomStore) CreateRoom(ctx context.Context, roomCode, administratorID string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.rooms[roomCode] = &memoryRoom{
		state:       models.StateCreated,
		createdAt:   s.Now().UnixMilli(),
		adminID:     administratorID,
		players:     make(map[string]*memoryPlayer),
		roundScores: make(map[int]map[string]int),
		expiresAt:   s.Now().Add(s.ttl.Created),
	}
	return nil
}

func (s *MemoryRoomStore) InitializeRoom(ctx context.Context, roomCode string, games []models.GameType, totalRound int) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	r, exists := s.room(roomCode)
	if !exists {
		return ErrRoomNotFound
	}
	r.games = append([]models.GameType(nil), games...)
	r.totalRound = totalRound
	r.currentRound = 1
	r.state = models.StateWaiting
	r.expiresAt = s.Now().Add(s.ttl.Waiting)
	return nil
}

func (s *MemoryRoomStore) StartGame(ctx context.Context, roomCode string) (models.RoundInfo, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	r, exists := s.room(roomCode)
	if !exists {
		return models.RoundInfo{}, ErrRoomNotFound
	}
	if r.state != models.StateWaiting {
		return models.RoundInfo{}, fmt.Errorf("start game %s: %w", roomCode, ErrInvalidState)
	}
	if r.currentRound < 1 || r.currentRound > len(r.games) {
		return models.RoundInfo{}, fmt.Errorf("room %s round %d: %w", roomCode, r.currentRound, ErrGameNotAssigned)
	}

	gameType := r.games[r.currentRound-1]
	currentMs := s.Now().UnixMilli()
	startAt := currentMs + s.offset.Milliseconds()
	endAt := startAt + gameType.DurationMs()

	r.state = models.StatePlaying
	r.expiresAt = s.Now().Add(s.ttl.Playing)
	s.pending[roomCode] = endAt

	return models.RoundInfo{
		GameType:  gameType,
		StartAt:   startAt,
		Duration:  gameType.DurationMs(),
		CurrentMs: currentMs,
	}, nil
}

func (s *MemoryRoomStore) UpdateScore(ctx context.Context, roomCode, userID string, delta int) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	r, exists := s.room(roomCode)
	if !exists {
		return ErrRoomNotFound
	}
	if r.state != models.StatePlaying {
		return fmt.Errorf("update score %s/%s: %w", roomCode, userID, ErrInvalidState)
	}
	p, exists := r.players[userID]
	if !exists {
		return fmt.Errorf("update score %s/%s: %w", roomCode, userID, ErrPlayerNotFound)
	}

	p.score += delta
	scores, ok := r.roundScores[r.currentRound]
	if !ok {
		scores = make(map[string]int)
		r.roundScores[r.currentRound] = scores
	}
	scores[userID] += delta
	return nil
}

func (s *MemoryRoomStore) AggregateScores(ctx context.Context, roomCode string) (*models.ScoreAggregationResult, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	r, exists := s.room(roomCode)
	if !exists {
		return nil, ErrRoomNotFound
	}
	if r.state != models.StatePlaying {
		return nil, fmt.Errorf("aggregate %s: %w", roomCode, ErrInvalidState)
	}

	r.state = models.StateWaiting
	r.expiresAt = s.Now().Add(s.ttl.Waiting)

	currentRound := r.currentRound
	multiplier := roundMultiplier(currentRound)
	gameType := r.games[currentRound-1]

	roundScoreMap := make(map[string]int)
	totalScoreMap := make(map[string]int)
	nicknameMap := make(map[string]string)
	for userID, raw := range r.roundScores[currentRound] {
		roundScoreMap[userID] = int(math.Round(float64(raw) * multiplier))
		if p, ok := r.players[userID]; ok {
			totalScoreMap[userID] = p.score
			nicknameMap[userID] = p.nickname
		}
	}

	for userID, p := range r.players {
		if _, submitted := roundScoreMap[userID]; submitted {
			continue
		}
		p.rankRecord = appendRankRecord(p.rankRecord, 0)
	}

	r.currentRound++
	return &models.ScoreAggregationResult{
		CurrentRound:     currentRound,
		TotalRound:       r.totalRound,
		RoundPlayerCount: len(roundScoreMap),
		TotalPlayerCount: len(r.players),
		GameType:         gameType,
		RoundScoreMap:    roundScoreMap,
		TotalScoreMap:    totalScoreMap,
		NicknameMap:      nicknameMap,
	}, nil
}

func (s *MemoryRoomStore) EndGame(ctx context.Context, roomCode string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	r, exists := s.room(roomCode)
	if !exists {
		return ErrRoomNotFound
	}
	r.state = models.StateEnded
	r.expiresAt = s.Now().Add(s.ttl.Ended)
	return nil
}

func (s *MemoryRoomStore) DeleteRoom(ctx context.Context, roomCode string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	delete(s.rooms, roomCode)
	delete(s.pending, roomCode)
	return nil
}

func (s *MemoryRoomStore) Exists(ctx context.Context, roomCode string) (bool, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	_, exists := s.room(roomCode)
	return exists, nil
}

func (s *MemoryRoomStore) AddPlayer(ctx context.Context, roomCode, userID, nickname string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	r, exists := s.room(roomCode)
	if !exists {
		return ErrRoomNotFound
	}
	r.players[userID] = &memoryPlayer{nickname: nickname}
	r.userCount++
	return nil
}

func (s *MemoryRoomStore) HasPlayer(ctx context.Context, roomCode, userID string) (bool, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	r, exists := s.room(roomCode)
	if !exists {
		return false, nil
	}
	_, has := r.players[userID]
	return has, nil
}

func (s *MemoryRoomStore) GetUserIDs(ctx context.Context, roomCode string) ([]string, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	r, exists := s.room(roomCode)
	if !exists {
		return nil, nil
	}
	ids := make([]string, 0, len(r.players))
	for userID := range r.players {
		ids = append(ids, userID)
	}
	return ids, nil
}

func (s *MemoryRoomStore) GetAdministratorID(ctx context.Context, roomCode string) (string, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	r, exists := s.room(roomCode)
	if !exists {
		return "", ErrRoomNotFound
	}
	return r.adminID, nil
}

func (s *MemoryRoomStore) GetUserCount(ctx context.Context, roomCode string) (int, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	r, exists := s.room(roomCode)
	if !exists {
		return 0, nil
	}
	return r.userCount, nil
}

func (s *MemoryRoomStore) GetState(ctx context.Context, roomCode string) (models.RoomState, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	r, exists := s.room(roomCode)
	if !exists {
		return "", ErrRoomNotFound
	}
	return r.state, nil
}

func (s *MemoryRoomStore) ValidateSubmit(ctx context.Context, roomCode string, gameType models.GameType) (bool, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	r, exists := s.room(roomCode)
	if !exists {
		return false, ErrRoomNotFound
	}
	if r.currentRound < 1 || r.currentRound > len(r.games) {
		return false, fmt.Errorf("room %s round %d: %w", roomCode, r.currentRound, ErrGameNotAssigned)
	}
	return r.games[r.currentRound-1] == gameType, nil
}

func (s *MemoryRoomStore) GetGame(ctx context.Context, roomCode string, round int) (models.GameType, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	r, exists := s.room(roomCode)
	if !exists {
		return "", ErrRoomNotFound
	}
	if round < 1 || round > len(r.games) {
		return "", fmt.Errorf("room %s round %d: %w", roomCode, round, ErrGameNotAssigned)
	}
	return r.games[round-1], nil
}

func (s *MemoryRoomStore) UpdateRankRecord(ctx context.Context, roomCode, userID string, roundRank int) (string, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	r, exists := s.room(roomCode)
	if !exists {
		return "", ErrRoomNotFound
	}
	p, exists := r.players[userID]
	if !exists {
		return "", fmt.Errorf("rank record %s/%s: %w", roomCode, userID, ErrPlayerNotFound)
	}
	p.rankRecord = appendRankRecord(p.rankRecord, roundRank)
	return p.rankRecord, nil
}

func (s *MemoryRoomStore) GetFinalResults(ctx context.Context, roomCode string) ([]models.FinalResult, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	r, exists := s.room(roomCode)
	if !exists {
		return nil, nil
	}
	results := make([]models.FinalResult, 0, len(r.players))
	for userID, p := range r.players {
		results = append(results, models.FinalResult{
			UserID:   userID,
			Nickname: p.nickname,
			Score:    p.score,
		})
	}
	return results, nil
}

func (s *MemoryRoomStore) GetDueRooms(ctx context.Context, nowMs int64, limit int) ([]string, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	type due struct {
		code string
		at   int64
	}
	dues := make([]due, 0, len(s.pending))
	for code, at := range s.pending {
		if at <= nowMs {
			dues = append(dues, due{code, at})
		}
	}
	sort.Slice(dues, func(i, j int) bool { return dues[i].at < dues[j].at })

	if len(dues) > limit {
		dues = dues[:limit]
	}
	codes := make([]string, len(dues))
	for i, d := range dues {
		codes[i] = d.code
	}
	return codes, nil
}

func (s *MemoryRoomStore) RemoveRoomFromPending(ctx context.Context, roomCode string) (bool, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, pending := s.pending[roomCode]; !pending {
		return false, nil
	}
	delete(s.pending, roomCode)
	return true, nil
}

// RankRecordOf exposes a player's rank record for tests and dev tooling.
func (s *MemoryRoomStore) RankRecordOf(roomCode, userID string) string {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	r, exists := s.room(roomCode)
	if !exists {
		return ""
	}
	p, exists := r.players[userID]
	if !exists {
		return ""
	}
	return p.rankRecord
}

func appendRankRecord(prev string, rank int) string {
	if prev == "" {
		return strconv.Itoa(rank)
	}
	return prev + "|" + strconv.Itoa(rank)
}

// MemoryIdempotencyStore is the in-memory duplicate-suppression ledger.
type MemoryIdempotencyStore struct {
	mutex   sync.Mutex
	entries map[string]time.Time
	ttl     time.Duration

	Now func() time.Time
}

func NewMemoryIdempotencyStore(ttl time.Duration) *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{
		entries: make(map[string]time.Time),
		ttl:     ttl,
		Now:     time.Now,
	}
}

func (s *MemoryIdempotencyStore) IsProcessed(ctx context.Context, roomCode, requestID string) (bool, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	key := idempotencyKey(roomCode, requestID)
	expiry, exists := s.entries[key]
	if !exists {
		return false, nil
	}
	if s.Now().After(expiry) {
		delete(s.entries, key)
		return false, nil
	}
	return true, nil
}

func (s *MemoryIdempotencyStore) MarkProcessed(ctx context.Context, roomCode, requestID string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.entries[idempotencyKey(roomCode, requestID)] = s.Now().Add(s.ttl)
	return nil
}
