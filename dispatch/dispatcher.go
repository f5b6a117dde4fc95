// dispatch/dispatcher.go
package dispatch

import (
	"context"
	"fmt"

	"github.com/partyround/backbone/broadcast"
	"github.com/partyround/backbone/logger"
	"github.com/partyround/backbone/models"
	"github.com/partyround/backbone/persistence"
	"github.com/partyround/backbone/session"
)

type handlerFunc func(ctx context.Context, sess *session.Session, msg any) error

// Dispatcher routes decoded frames through the shared processing pipeline:
// decode, role validation, duplicate suppression, handler, mark-processed.
// The handler registries are fixed at construction; the message type sets are
// closed, so there is no runtime registration.
type Dispatcher struct {
	rooms       persistence.RoomStore
	idempotency persistence.IdempotencyStore
	registry    *session.Registry
	broadcaster *broadcast.Broadcaster

	adminHandlers map[models.AdminMessageType]handlerFunc
	userHandlers  map[models.UserMessageType]handlerFunc
}

func NewDispatcher(rooms persistence.RoomStore, idempotency persistence.IdempotencyStore, registry *session.Registry, broadcaster *broadcast.Broadcaster) *Dispatcher {
	d := &Dispatcher{
		rooms:       rooms,
		idempotency: idempotency,
		registry:    registry,
		broadcaster: broadcaster,
	}
	d.adminHandlers = map[models.AdminMessageType]handlerFunc{
		models.AdminJoin:      d.handleAdminJoin,
		models.Init:           d.handleInit,
		models.StartGame:      d.handleStartGame,
		models.AdminReconnect: d.handleAdminReconnect,
		models.HeartbeatAck:   d.handleHeartbeatAck,
	}
	d.userHandlers = map[models.UserMessageType]handlerFunc{
		models.UserJoin:         d.handleUserJoin,
		models.Submit:           d.handleSubmit,
		models.BroadcastRequest: d.handleBroadcastRequest,
		models.UserReconnect:    d.handleUserReconnect,
		models.CheckEnded:       d.handleCheckEnded,
	}
	return d
}

// DispatchAdmin processes one frame read from an administrator connection.
// Failures are answered on the same connection with a SERVER_ERROR envelope
// and returned for the caller's logging.
func (d *Dispatcher) DispatchAdmin(ctx context.Context, sess *session.Session, data []byte) error {
	kind, msg, err := models.DecodeAdminMessage(data)
	if err != nil {
		d.replyError(sess, models.CodeBadMessage, err.Error(), "")
		return fmt.Errorf("%w: %v", ErrBadMessage, err)
	}

	if err := d.run(ctx, sess, string(kind), msg, d.adminHandlers[kind]); err != nil {
		logger.Log.Warnf("[Dispatch] admin %s in room %s failed: %v", kind, sess.RoomCode, err)
		return err
	}
	return nil
}

// DispatchUser processes one frame read from a player connection.
func (d *Dispatcher) DispatchUser(ctx context.Context, sess *session.Session, data []byte) error {
	kind, msg, err := models.DecodeUserMessage(data)
	if err != nil {
		d.replyError(sess, models.CodeBadMessage, err.Error(), "")
		return fmt.Errorf("%w: %v", ErrBadMessage, err)
	}

	if err := d.run(ctx, sess, string(kind), msg, d.userHandlers[kind]); err != nil {
		logger.Log.Warnf("[Dispatch] user %s in room %s failed: %v", kind, sess.RoomCode, err)
		return err
	}
	return nil
}

// run is the pipeline shared by both roles. The duplicate check happens
// before the handler and the mark after it succeeds, so a request that
// failed can be retried with the same requestId.
func (d *Dispatcher) run(ctx context.Context, sess *session.Session, kind string, msg any, handler handlerFunc) error {
	requestID := requestIDOf(msg)

	if err := d.validateClaim(ctx, sess.RoomCode, msg); err != nil {
		d.replyError(sess, ErrorCode(err), err.Error(), requestID)
		return err
	}

	if requestID != "" {
		processed, err := d.idempotency.IsProcessed(ctx, sess.RoomCode, requestID)
		if err != nil {
			d.replyError(sess, models.CodeInternal, "duplicate check failed", requestID)
			return err
		}
		if processed {
			d.replyError(sess, models.CodeDuplicateRequest, kind+" already processed", requestID)
			return ErrDuplicateRequest
		}
	}

	if err := handler(ctx, sess, msg); err != nil {
		d.replyError(sess, ErrorCode(err), err.Error(), requestID)
		return err
	}

	if requestID != "" {
		if err := d.idempotency.MarkProcessed(ctx, sess.RoomCode, requestID); err != nil {
			// The operation itself succeeded; a lost mark only risks a
			// duplicate-side retry being reprocessed.
			logger.Log.Errorf("[Dispatch] mark processed failed. room=%s requestId=%s err=%v", sess.RoomCode, requestID, err)
		}
	}
	return nil
}

// validateClaim checks that the sender actually holds the role the message
// claims. Messages without a claim (USER_JOIN, CHECK_ENDED before identity
// is re-established) skip it.
func (d *Dispatcher) validateClaim(ctx context.Context, roomCode string, msg any) error {
	// CHECK_ENDED is asked precisely when the room may already be gone, so
	// membership cannot be required for it.
	if _, ok := msg.(*models.CheckEndedMessage); ok {
		return nil
	}
	if claimed, ok := msg.(models.AdminClaimed); ok {
		adminID, err := d.rooms.GetAdministratorID(ctx, roomCode)
		if err != nil {
			return err
		}
		if adminID != claimed.GetAdministratorID() {
			return fmt.Errorf("%w: administrator %s", ErrUnauthorized, claimed.GetAdministratorID())
		}
		return nil
	}
	if claimed, ok := msg.(models.UserClaimed); ok {
		member, err := d.rooms.HasPlayer(ctx, roomCode, claimed.GetUserID())
		if err != nil {
			return err
		}
		if !member {
			return fmt.Errorf("%w: user %s", ErrUnauthorized, claimed.GetUserID())
		}
	}
	return nil
}

func requestIDOf(msg any) string {
	if m, ok := msg.(models.IdempotentMessage); ok {
		return m.GetRequestID()
	}
	return ""
}

func (d *Dispatcher) replyError(sess *session.Session, code, message, requestID string) {
	if err := sess.Send(models.NewErrorMessage(code, message, requestID)); err != nil {
		logger.Log.Warnf("[Dispatch] error reply not delivered. room=%s err=%v", sess.RoomCode, err)
	}
}

// userSessions resolves the room's open player sessions held by this
// instance.
func (d *Dispatcher) userSessions(ctx context.Context, roomCode string) ([]*session.Session, error) {
	userIDs, err := d.rooms.GetUserIDs(ctx, roomCode)
	if err != nil {
		return nil, err
	}
	return d.registry.GetOpenSessions(userIDs), nil
}

// roomSessions resolves every open session of the room held by this
// instance, administrator included.
func (d *Dispatcher) roomSessions(ctx context.Context, roomCode string) ([]*session.Session, error) {
	userIDs, err := d.rooms.GetUserIDs(ctx, roomCode)
	if err != nil {
		return nil, err
	}
	adminID, err := d.rooms.GetAdministratorID(ctx, roomCode)
	if err != nil {
		return nil, err
	}
	return d.registry.GetOpenSessions(append(userIDs, adminID)), nil
}
