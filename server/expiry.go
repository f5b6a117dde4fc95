// server/expiry.go
package server

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-redis/redis/v8"

	"github.com/partyround/backbone/logger"
	"github.com/partyround/backbone/persistence"
	"github.com/partyround/backbone/session"
)

// ExpiryListener reacts to a room's root key expiring by tearing down what
// the expiry itself cannot reach: the satellite keys, the pending
// aggregation entry and any live sessions this instance still holds for
// the room. Keyspace notifications are fire-and-forget in Redis, so this
// is cleanup, not correctness; the satellite keys carry their own TTLs as
// the fallback.
type ExpiryListener struct {
	client   *redis.Client
	rooms    persistence.RoomStore
	registry *session.Registry
	db       int
}

func NewExpiryListener(client *redis.Client, rooms persistence.RoomStore, registry *session.Registry, db int) *ExpiryListener {
	return &ExpiryListener{client: client, rooms: rooms, registry: registry, db: db}
}

// Start subscribes to expiry events and processes them until ctx ends.
// Enabling notify-keyspace-events is attempted but not required; managed
// Redis deployments often configure it out of band.
func (l *ExpiryListener) Start(ctx context.Context) {
	if err := l.client.ConfigSet(ctx, "notify-keyspace-events", "Ex").Err(); err != nil {
		logger.Log.Warnf("could not enable keyspace notifications, relying on server config: %v", err)
	}

	channel := fmt.Sprintf("__keyevent@%d__:expired", l.db)
	pubsub := l.client.PSubscribe(ctx, channel)

	go func() {
		defer pubsub.Close()
		for {
			select {
			case msg, ok := <-pubsub.Channel():
				if !ok {
					return
				}
				l.handleExpiredKey(ctx, msg.Payload)
			case <-ctx.Done():
				return
			}
		}
	}()
	logger.Log.Infof("room expiry listener subscribed to %s", channel)
}

// handleExpiredKey only acts on the room root key, room:{code}. Satellite
// key expiries are ignored; each satellite expires on its own.
func (l *ExpiryListener) handleExpiredKey(ctx context.Context, key string) {
	parts := strings.Split(key, ":")
	if len(parts) != 2 || parts[0] != "room" {
		return
	}
	roomCode := parts[1]
	logger.Log.Infof("room %s expired, cascading cleanup", roomCode)

	userIDs, err := l.rooms.GetUserIDs(ctx, roomCode)
	if err != nil {
		logger.Log.Warnf("expiry cleanup, player list for %s: %v", roomCode, err)
	}
	adminID, err := l.rooms.GetAdministratorID(ctx, roomCode)
	if err == nil && adminID != "" {
		userIDs = append(userIDs, adminID)
	}

	l.registry.CloseSessionAll(userIDs)
	l.registry.UnregisterAll(userIDs)

	if _, err := l.rooms.RemoveRoomFromPending(ctx, roomCode); err != nil {
		logger.Log.Warnf("expiry cleanup, pending entry for %s: %v", roomCode, err)
	}
	if err := l.rooms.DeleteRoom(ctx, roomCode); err != nil {
		logger.Log.Warnf("expiry cleanup, satellite keys for %s: %v", roomCode, err)
	}
}
