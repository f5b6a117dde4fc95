package models

import (
	"encoding/json"
	"fmt"
)

// Message kinds are a closed set. Admin-originated and user-originated kinds
// are separate types so a handler registry for one role can never resolve a
// message of the other.
type AdminMessageType string

const (
	AdminJoin      AdminMessageType = "ADMIN_JOIN"
	Init           AdminMessageType = "INIT"
	StartGame      AdminMessageType = "START_GAME"
	AdminReconnect AdminMessageType = "ADMIN_RECONNECT"
	HeartbeatAck   AdminMessageType = "HEARTBEAT_ACK"
)

type UserMessageType string

const (
	UserJoin         UserMessageType = "USER_JOIN"
	Submit           UserMessageType = "SUBMIT"
	BroadcastRequest UserMessageType = "BROADCAST_REQUEST"
	UserReconnect    UserMessageType = "USER_RECONNECT"
	CheckEnded       UserMessageType = "CHECK_ENDED"
)

// IdempotentMessage marks a client-retriable request. Its requestId is
// recorded per room so a replay never reaches the handler twice.
type IdempotentMessage interface {
	GetRequestID() string
}

// AdminClaimed is implemented by messages claiming the administrator role.
type AdminClaimed interface {
	GetAdministratorID() string
}

// UserClaimed is implemented by messages claiming the player role.
type UserClaimed interface {
	GetUserID() string
}

type AdminJoinMessage struct {
	RequestID       string `json:"requestId"`
	AdministratorID string `json:"administratorId"`
}

type InitMessage struct {
	RequestID       string `json:"requestId"`
	AdministratorID string `json:"administratorId"`
	TotalRound      int    `json:"totalRound"`
}

type StartGameMessage struct {
	RequestID       string `json:"requestId"`
	AdministratorID string `json:"administratorId"`
}

type AdminReconnectMessage struct {
	RequestID       string `json:"requestId"`
	AdministratorID string `json:"administratorId"`
}

type HeartbeatAckMessage struct {
	AdministratorID string `json:"administratorId"`
}

func (m *AdminJoinMessage) GetAdministratorID() string      { return m.AdministratorID }
func (m *InitMessage) GetAdministratorID() string           { return m.AdministratorID }
func (m *StartGameMessage) GetAdministratorID() string      { return m.AdministratorID }
func (m *AdminReconnectMessage) GetAdministratorID() string { return m.AdministratorID }
func (m *HeartbeatAckMessage) GetAdministratorID() string   { return m.AdministratorID }

func (m *InitMessage) GetRequestID() string      { return m.RequestID }
func (m *StartGameMessage) GetRequestID() string { return m.RequestID }

type UserJoinMessage struct {
	RequestID string `json:"requestId"`
	Nickname  string `json:"nickname"`
}

type SubmitMessage struct {
	RequestID string   `json:"requestId"`
	UserID    string   `json:"userId"`
	Score     int      `json:"score"`
	GameType  GameType `json:"gameType"`
}

type BroadcastRequestMessage struct {
	RequestID string `json:"requestId"`
	UserID    string `json:"userId"`
	Payload   string `json:"payload"`
}

type UserReconnectMessage struct {
	RequestID string `json:"requestId"`
	UserID    string `json:"userId"`
}

type CheckEndedMessage struct {
	RequestID string `json:"requestId"`
	UserID    string `json:"userId"`
}

func (m *SubmitMessage) GetUserID() string           { return m.UserID }
func (m *BroadcastRequestMessage) GetUserID() string { return m.UserID }
func (m *UserReconnectMessage) GetUserID() string    { return m.UserID }
func (m *CheckEndedMessage) GetUserID() string       { return m.UserID }

func (m *SubmitMessage) GetRequestID() string           { return m.RequestID }
func (m *BroadcastRequestMessage) GetRequestID() string { return m.RequestID }
func (m *UserReconnectMessage) GetRequestID() string    { return m.RequestID }

// typeProbe peeks at the discriminator before the full decode.
type typeProbe struct {
	Type string `json:"type"`
}

// DecodeAdminMessage decodes an admin-side frame into its concrete message.
// Unknown discriminators are an error, not a fallthrough.
func DecodeAdminMessage(data []byte) (AdminMessageType, any, error) {
	var probe typeProbe
	if err := json.Unmarshal(data, &probe); err != nil {
		return "", nil, fmt.Errorf("decode admin message: %w", err)
	}

	kind := AdminMessageType(probe.Type)
	var msg any
	switch kind {
	case AdminJoin:
		msg = &AdminJoinMessage{}
	case Init:
		msg = &InitMessage{}
	case StartGame:
		msg = &StartGameMessage{}
	case AdminReconnect:
		msg = &AdminReconnectMessage{}
	case HeartbeatAck:
		msg = &HeartbeatAckMessage{}
	default:
		return "", nil, fmt.Errorf("unknown admin message type %q", probe.Type)
	}

	if err := json.Unmarshal(data, msg); err != nil {
		return "", nil, fmt.Errorf("decode %s: %w", kind, err)
	}
	return kind, msg, nil
}

// DecodeUserMessage decodes a player-side frame into its concrete message.
func DecodeUserMessage(data []byte) (UserMessageType, any, error) {
	var probe typeProbe
	if err := json.Unmarshal(data, &probe); err != nil {
		return "", nil, fmt.Errorf("decode user message: %w", err)
	}

	kind := UserMessageType(probe.Type)
	var msg any
	switch kind {
	case UserJoin:
		msg = &UserJoinMessage{}
	case Submit:
		msg = &SubmitMessage{}
	case BroadcastRequest:
		msg = &BroadcastRequestMessage{}
	case UserReconnect:
		msg = &UserReconnectMessage{}
	case CheckEnded:
		msg = &CheckEndedMessage{}
	default:
		return "", nil, fmt.Errorf("unknown user message type %q", probe.Type)
	}

	if err := json.Unmarshal(data, msg); err != nil {
		return "", nil, fmt.Errorf("decode %s: %w", kind, err)
	}
	return kind, msg, nil
}
