// dispatch/admin_handlers.go
package dispatch

import (
	"context"
	"fmt"

	"github.com/partyround/backbone/logger"
	"github.com/partyround/backbone/models"
	"github.com/partyround/backbone/session"
)

// handleAdminJoin binds the administrator's connection to its id. The room
// and the administrator id were minted by the room-creation endpoint, so
// the claim check in the pipeline is the whole authentication.
func (d *Dispatcher) handleAdminJoin(ctx context.Context, sess *session.Session, msg any) error {
	m := msg.(*models.AdminJoinMessage)

	sess.ID = m.AdministratorID
	d.registry.Register(m.AdministratorID, sess)
	logger.Log.Infof("[AdminJoin] administrator %s joined room %s", m.AdministratorID, sess.RoomCode)

	return sess.Send(models.NewAdminJoinedMessage(m.RequestID, sess.RoomCode, m.AdministratorID))
}

// handleInit fixes the game sequence for the whole session up front and
// moves the room into the waiting lobby. Players already connected are told
// to enter the game screen.
func (d *Dispatcher) handleInit(ctx context.Context, sess *session.Session, msg any) error {
	m := msg.(*models.InitMessage)

	games, err := models.PickRandomList(m.TotalRound)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadMessage, err)
	}
	if err := d.rooms.InitializeRoom(ctx, sess.RoomCode, games, m.TotalRound); err != nil {
		return err
	}
	logger.Log.Infof("[Init] room %s initialized with %d rounds", sess.RoomCode, m.TotalRound)

	if err := sess.Send(models.NewNextGameMessage(games[0], 1)); err != nil {
		logger.Log.Warnf("[Init] first game announce failed for room %s: %v", sess.RoomCode, err)
	}

	sessions, err := d.userSessions(ctx, sess.RoomCode)
	if err != nil {
		return err
	}
	d.broadcaster.BroadcastJSON(sessions, models.NewEnterGameMessage(), sess.RoomCode)
	return nil
}

// handleStartGame opens the round. The store transition is the only arbiter:
// a concurrent duplicate start loses the state gate and surfaces as
// INVALID_STATE rather than double-scheduling the round close.
func (d *Dispatcher) handleStartGame(ctx context.Context, sess *session.Session, msg any) error {
	info, err := d.rooms.StartGame(ctx, sess.RoomCode)
	if err != nil {
		return err
	}
	logger.Log.Infof("[StartGame] room %s playing %s until %d", sess.RoomCode, info.GameType, info.StartAt+info.Duration)

	sessions, err := d.userSessions(ctx, sess.RoomCode)
	if err != nil {
		return err
	}
	d.broadcaster.BroadcastJSON(sessions, models.NewWaitMessage(info), sess.RoomCode)
	return nil
}

func (d *Dispatcher) handleAdminReconnect(ctx context.Context, sess *session.Session, msg any) error {
	m := msg.(*models.AdminReconnectMessage)

	sess.ID = m.AdministratorID
	d.registry.Register(m.AdministratorID, sess)
	logger.Log.Infof("[AdminReconnect] administrator %s rebound to room %s", m.AdministratorID, sess.RoomCode)

	return sess.Send(models.NewAdminReconnectedMessage(m.RequestID, m.AdministratorID))
}

func (d *Dispatcher) handleHeartbeatAck(ctx context.Context, sess *session.Session, msg any) error {
	sess.Touch()
	return nil
}
