// dispatch/user_handlers.go
package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/partyround/backbone/logger"
	"github.com/partyround/backbone/models"
	"github.com/partyround/backbone/persistence"
	"github.com/partyround/backbone/session"
)

// handleUserJoin admits a player into the lobby. The join window stays open
// until the first round starts; once the room is PLAYING or ENDED the roster
// is fixed. The server mints the user id, the client only names itself.
func (d *Dispatcher) handleUserJoin(ctx context.Context, sess *session.Session, msg any) error {
	m := msg.(*models.UserJoinMessage)

	state, err := d.rooms.GetState(ctx, sess.RoomCode)
	if err != nil {
		return err
	}
	if state == models.StatePlaying || state == models.StateEnded {
		return fmt.Errorf("%w: join window closed in state %s", persistence.ErrInvalidState, state)
	}

	userID := uuid.NewString()
	if err := d.rooms.AddPlayer(ctx, sess.RoomCode, userID, m.Nickname); err != nil {
		return err
	}
	sess.ID = userID
	d.registry.Register(userID, sess)
	logger.Log.Infof("[UserJoin] %s (%s) joined room %s", m.Nickname, userID, sess.RoomCode)

	if err := sess.Send(models.NewJoinedUserMessage(m.RequestID, sess.RoomCode, userID, m.Nickname)); err != nil {
		return err
	}

	d.notifyAdminOfJoin(ctx, sess.RoomCode, m.RequestID, userID, m.Nickname)
	return nil
}

// notifyAdminOfJoin mirrors the join to the administrator screen. Best
// effort: the player is already admitted, a missing admin session must not
// undo that.
func (d *Dispatcher) notifyAdminOfJoin(ctx context.Context, roomCode, requestID, userID, nickname string) {
	count, err := d.rooms.GetUserCount(ctx, roomCode)
	if err != nil {
		logger.Log.Warnf("[UserJoin] user count unavailable for room %s: %v", roomCode, err)
		return
	}
	adminID, err := d.rooms.GetAdministratorID(ctx, roomCode)
	if err != nil {
		logger.Log.Warnf("[UserJoin] administrator unavailable for room %s: %v", roomCode, err)
		return
	}
	adminSess, ok := d.registry.Get(adminID)
	if !ok || !adminSess.IsOpen() {
		logger.Log.Warnf("[UserJoin] administrator session absent for room %s", roomCode)
		return
	}
	if err := adminSess.Send(models.NewJoinedAdminMessage(requestID, roomCode, userID, nickname, count)); err != nil {
		logger.Log.Warnf("[UserJoin] admin notify failed for room %s: %v", roomCode, err)
	}
}

// handleSubmit records a player's round score. The game type must match the
// round currently assigned; the store rejects the increment unless the room
// is still PLAYING the same round the submission was made for.
func (d *Dispatcher) handleSubmit(ctx context.Context, sess *session.Session, msg any) error {
	m := msg.(*models.SubmitMessage)

	ok, err := d.rooms.ValidateSubmit(ctx, sess.RoomCode, m.GameType)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: submit for %s does not match current game", persistence.ErrInvalidState, m.GameType)
	}
	if err := d.rooms.UpdateScore(ctx, sess.RoomCode, m.UserID, m.Score); err != nil {
		return err
	}
	logger.Log.Debugf("[Submit] room=%s user=%s game=%s score=%d", sess.RoomCode, m.UserID, m.GameType, m.Score)
	return nil
}

// handleBroadcastRequest relays an opaque payload to everyone in the room,
// sender included.
func (d *Dispatcher) handleBroadcastRequest(ctx context.Context, sess *session.Session, msg any) error {
	m := msg.(*models.BroadcastRequestMessage)

	sessions, err := d.roomSessions(ctx, sess.RoomCode)
	if err != nil {
		return err
	}
	d.broadcaster.BroadcastJSON(sessions, models.NewBroadcastMessage(m.RequestID, m.UserID, m.Payload), sess.RoomCode)
	return nil
}

// handleUserReconnect rebinds a player's delivery to a fresh connection. A
// still-open previous session refuses the rebind: an id whose socket is alive
// must not be takeable out from under it.
func (d *Dispatcher) handleUserReconnect(ctx context.Context, sess *session.Session, msg any) error {
	m := msg.(*models.UserReconnectMessage)

	if existing, ok := d.registry.Get(m.UserID); ok && existing.IsOpen() && existing != sess {
		return fmt.Errorf("%w: user %s is still connected", persistence.ErrInvalidState, m.UserID)
	}

	sess.ID = m.UserID
	d.registry.Register(m.UserID, sess)
	logger.Log.Infof("[UserReconnect] user %s rebound to room %s", m.UserID, sess.RoomCode)

	return sess.Send(models.NewUserReconnectedMessage(m.RequestID, m.UserID))
}

// handleCheckEnded answers whether the game is over. A room that has
// already expired from the store counts as ended; the client asking is
// exactly the client that missed the END broadcast.
func (d *Dispatcher) handleCheckEnded(ctx context.Context, sess *session.Session, msg any) error {
	m := msg.(*models.CheckEndedMessage)

	state, err := d.rooms.GetState(ctx, sess.RoomCode)
	if errors.Is(err, persistence.ErrRoomNotFound) {
		return sess.Send(models.NewCheckEndedAckMessage(m.RequestID, true, models.StateEnded))
	}
	if err != nil {
		return err
	}
	return sess.Send(models.NewCheckEndedAckMessage(m.RequestID, state == models.StateEnded, state))
}
