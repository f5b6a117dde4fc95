// broadcast/broadcast.go
package broadcast

import (
	"encoding/json"
	"time"

	"github.com/partyround/backbone/config"
	"github.com/partyround/backbone/logger"
	"github.com/partyround/backbone/session"
)

// Broadcaster fans a serialized payload out to many connections. Each
// delivery runs on a bounded worker pool so one slow or broken connection
// cannot stall the others; the call is fire-and-forget for the caller and
// send failures are logged per connection, never aggregated into a failure
// of the triggering operation.
type Broadcaster struct {
	queue chan job
	done  chan struct{}

	// OnSendDuration, when set, receives every send's wall time.
	OnSendDuration func(time.Duration)
}

type job struct {
	sess    *session.Session
	payload []byte
}

func NewBroadcaster(cfg config.BroadcastConfig) *Broadcaster {
	workers := cfg.WorkerCount
	if workers <= 0 {
		workers = 1
	}
	capacity := cfg.QueueCapacity
	if capacity <= 0 {
		capacity = 1
	}

	b := &Broadcaster{
		queue: make(chan job, capacity),
		done:  make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		go b.worker()
	}
	return b
}

// Broadcast enqueues the payload for every target session.
func (b *Broadcaster) Broadcast(sessions []*session.Session, payload []byte, roomCode string) {
	for _, s := range sessions {
		b.enqueue(s, payload)
	}
	logger.Log.Infof("[Broadcast] fired %d sessions in room %s", len(sessions), roomCode)
}

// BroadcastJSON serializes once and fans out.
func (b *Broadcaster) BroadcastJSON(sessions []*session.Session, v any, roomCode string) {
	payload, err := json.Marshal(v)
	if err != nil {
		logger.Log.Errorf("[Broadcast] marshal failed for room %s: %v", roomCode, err)
		return
	}
	b.Broadcast(sessions, payload, roomCode)
}

// Send delivers to a single session through the same pool.
func (b *Broadcaster) Send(s *session.Session, payload []byte) {
	b.enqueue(s, payload)
}

func (b *Broadcaster) enqueue(s *session.Session, payload []byte) {
	select {
	case b.queue <- job{sess: s, payload: payload}:
	default:
		logger.Log.Errorf("[Broadcast] queue full, dropping send to %s", s.ID)
	}
}

func (b *Broadcaster) worker() {
	for {
		select {
		case j := <-b.queue:
			b.deliver(j)
		case <-b.done:
			return
		}
	}
}

func (b *Broadcaster) deliver(j job) {
	start := time.Now()
	if j.sess.IsOpen() {
		if err := j.sess.Conn.SendText(j.payload); err != nil {
			logger.Log.Errorf("[SendAsync] send failed. id=%s err=%v", j.sess.ID, err)
		}
	}
	elapsed := time.Since(start)
	if b.OnSendDuration != nil {
		b.OnSendDuration(elapsed)
	}
	logger.Log.Debugf("[SendAsync] id=%s sendDuration=%s", j.sess.ID, elapsed)
}

func (b *Broadcaster) Close() {
	close(b.done)
}
