package models

// Server-originated message types. Every outbound struct carries its own
// discriminator so the payload self-describes on the wire.
const (
	TypeAdminJoined      = "ADMIN_JOINED"
	TypeUserJoined       = "USER_JOINED"
	TypeUserJoinedAdmin  = "USER_JOINED_ADMIN"
	TypeEnterGame        = "ENTER_GAME"
	TypeWait             = "WAIT"
	TypeNextGame         = "NEXT_GAME"
	TypeAggregatedUser   = "AGGREGATED_USER"
	TypeAggregatedAdmin  = "AGGREGATED_ADMIN"
	TypeEnd              = "END"
	TypeBroadcast        = "BROADCAST"
	TypeUserReconnected  = "USER_RECONNECTED"
	TypeAdminReconnected = "ADMIN_RECONNECTED"
	TypeHeartbeat        = "HEARTBEAT"
	TypeCheckEndedAck    = "CHECK_ENDED_ACK"
	TypeServerError      = "SERVER_ERROR"
)

// Error codes carried by the SERVER_ERROR envelope. DUPLICATE_REQUEST is
// deliberately distinct so clients can tell "processed before" from
// "processed now".
const (
	CodeInvalidState      = "INVALID_STATE"
	CodeNotFound          = "NOT_FOUND"
	CodeDuplicateRequest  = "DUPLICATE_REQUEST"
	CodeUnauthorized      = "UNAUTHORIZED"
	CodeCapacityExhausted = "CAPACITY_EXHAUSTED"
	CodeBadMessage        = "BAD_MESSAGE"
	CodeInternal          = "INTERNAL"
)

type AdminJoinedMessage struct {
	Type            string `json:"type"`
	RequestID       string `json:"requestId"`
	RoomCode        string `json:"roomCode"`
	AdministratorID string `json:"administratorId"`
}

func NewAdminJoinedMessage(requestID, roomCode, administratorID string) AdminJoinedMessage {
	return AdminJoinedMessage{TypeAdminJoined, requestID, roomCode, administratorID}
}

type JoinedUserMessage struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId"`
	RoomCode  string `json:"roomCode"`
	UserID    string `json:"userId"`
	Nickname  string `json:"nickname"`
}

func NewJoinedUserMessage(requestID, roomCode, userID, nickname string) JoinedUserMessage {
	return JoinedUserMessage{TypeUserJoined, requestID, roomCode, userID, nickname}
}

// JoinedAdminMessage mirrors a player join to the administrator with the
// updated headcount.
type JoinedAdminMessage struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId"`
	RoomCode  string `json:"roomCode"`
	UserID    string `json:"userId"`
	Nickname  string `json:"nickname"`
	UserCount int    `json:"userCount"`
}

func NewJoinedAdminMessage(requestID, roomCode, userID, nickname string, userCount int) JoinedAdminMessage {
	return JoinedAdminMessage{TypeUserJoinedAdmin, requestID, roomCode, userID, nickname, userCount}
}

type EnterGameMessage struct {
	Type string `json:"type"`
}

func NewEnterGameMessage() EnterGameMessage {
	return EnterGameMessage{TypeEnterGame}
}

// WaitMessage announces the next round's timing to players.
type WaitMessage struct {
	Type      string   `json:"type"`
	GameType  GameType `json:"gameType"`
	StartAt   int64    `json:"startAt"`
	Duration  int64    `json:"duration"`
	CurrentMs int64    `json:"currentMs"`
}

func NewWaitMessage(info RoundInfo) WaitMessage {
	return WaitMessage{TypeWait, info.GameType, info.StartAt, info.Duration, info.CurrentMs}
}

type NextGameMessage struct {
	Type         string   `json:"type"`
	GameType     GameType `json:"gameType"`
	CurrentRound int      `json:"currentRound"`
	Duration     int64    `json:"duration"`
}

func NewNextGameMessage(gameType GameType, currentRound int) NextGameMessage {
	return NextGameMessage{TypeNextGame, gameType, currentRound, gameType.DurationMs()}
}

type AggregatedUserMessage struct {
	Type           string        `json:"type"`
	CurrentRound   int           `json:"currentRound"`
	TotalRound     int           `json:"totalRound"`
	GameType       GameType      `json:"gameType"`
	CurrentScore   int           `json:"currentScore"`
	TotalScore     int           `json:"totalScore"`
	RankRecord     string        `json:"rankRecord"` // per-round ranks joined with "|"
	RoundRank      int           `json:"roundRank"`
	OverallRank    int           `json:"overallRank"`
	RoundRanking   []RankingInfo `json:"roundRanking"`
	OverallRanking []RankingInfo `json:"overallRanking"`
}

type AggregatedAdminMessage struct {
	Type           string        `json:"type"`
	CurrentRound   int           `json:"currentRound"`
	TotalRound     int           `json:"totalRound"`
	GameType       GameType      `json:"gameType"`
	RoundRanking   []RankingInfo `json:"roundRanking"`
	OverallRanking []RankingInfo `json:"overallRanking"`
	FirstPlace     PlaceInfo     `json:"firstPlace"`
	LastPlace      PlaceInfo     `json:"lastPlace"`
}

type EndMessage struct {
	Type           string        `json:"type"`
	OverallRanking []RankingInfo `json:"overallRanking"`
}

func NewEndMessage(overallRanking []RankingInfo) EndMessage {
	return EndMessage{TypeEnd, overallRanking}
}

type BroadcastMessage struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId"`
	UserID    string `json:"userId"`
	Payload   string `json:"payload"`
}

func NewBroadcastMessage(requestID, userID, payload string) BroadcastMessage {
	return BroadcastMessage{TypeBroadcast, requestID, userID, payload}
}

type UserReconnectedMessage struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId"`
	UserID    string `json:"userId"`
}

func NewUserReconnectedMessage(requestID, userID string) UserReconnectedMessage {
	return UserReconnectedMessage{TypeUserReconnected, requestID, userID}
}

type AdminReconnectedMessage struct {
	Type            string `json:"type"`
	RequestID       string `json:"requestId"`
	AdministratorID string `json:"administratorId"`
}

func NewAdminReconnectedMessage(requestID, administratorID string) AdminReconnectedMessage {
	return AdminReconnectedMessage{TypeAdminReconnected, requestID, administratorID}
}

type HeartbeatMessage struct {
	Type      string `json:"type"`
	RoomCode  string `json:"roomCode"`
	UserCount int    `json:"userCount"`
}

func NewHeartbeatMessage(roomCode string, userCount int) HeartbeatMessage {
	return HeartbeatMessage{TypeHeartbeat, roomCode, userCount}
}

type CheckEndedAckMessage struct {
	Type      string    `json:"type"`
	RequestID string    `json:"requestId"`
	Ended     bool      `json:"ended"`
	State     RoomState `json:"state"`
}

func NewCheckEndedAckMessage(requestID string, ended bool, state RoomState) CheckEndedAckMessage {
	return CheckEndedAckMessage{TypeCheckEndedAck, requestID, ended, state}
}

type ErrorMessage struct {
	Type      string `json:"type"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"requestId,omitempty"`
}

func NewErrorMessage(code, message, requestID string) ErrorMessage {
	return ErrorMessage{TypeServerError, code, message, requestID}
}
