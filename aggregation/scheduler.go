// aggregation/scheduler.go
package aggregation

import (
	"context"
	"sync"
	"time"

	"github.com/partyround/backbone/config"
	"github.com/partyround/backbone/logger"
	"github.com/partyround/backbone/persistence"
)

// Scheduler drives round closes off the pending-aggregation set. Every
// instance runs one; the tick lock elects a scanner per tick and the
// per-room pending-set removal is the per-room ownership claim, so a round
// closes exactly once no matter how many instances race.
type Scheduler struct {
	rooms   persistence.RoomStore
	service *Service
	lock    Locker
	cfg     config.SchedulerConfig

	jobs chan string
	done chan struct{}
	wg   sync.WaitGroup

	// Now is swappable for tests.
	Now func() time.Time
}

func NewScheduler(rooms persistence.RoomStore, service *Service, lock Locker, cfg config.SchedulerConfig) *Scheduler {
	return &Scheduler{
		rooms:   rooms,
		service: service,
		lock:    lock,
		cfg:     cfg,
		jobs:    make(chan string, cfg.MaxRoomsPerTick),
		done:    make(chan struct{}),
		Now:     time.Now,
	}
}

// Start launches the tick loop and the worker pool.
func (s *Scheduler) Start(ctx context.Context) {
	workers := s.cfg.WorkerCount
	if workers <= 0 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		s.wg.Add(1)
		go s.worker(ctx)
	}

	s.wg.Add(1)
	go s.loop(ctx)
	logger.Log.Infof("[Scheduler] started. tick=%s workers=%d", s.cfg.TickInterval, workers)
}

// Stop drains the loop and workers. Claimed rooms already in the job queue
// still finish.
func (s *Scheduler) Stop() {
	close(s.done)
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.jobs)

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Tick(ctx)
		case <-s.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Tick scans for due rooms under the tick lock and claims each one
// individually. A room that cannot be claimed was taken by a peer and is
// simply skipped.
func (s *Scheduler) Tick(ctx context.Context) {
	release, acquired, err := s.lock.Acquire(ctx)
	if err != nil {
		logger.Log.Warnf("[Scheduler] lock acquire failed: %v", err)
		return
	}
	if !acquired {
		return
	}
	defer release(ctx)

	due, err := s.rooms.GetDueRooms(ctx, s.Now().UnixMilli(), s.cfg.MaxRoomsPerTick)
	if err != nil {
		logger.Log.Errorf("[Scheduler] due-room scan failed: %v", err)
		return
	}

	for _, roomCode := range due {
		claimed, err := s.rooms.RemoveRoomFromPending(ctx, roomCode)
		if err != nil {
			logger.Log.Errorf("[Scheduler] claim failed for room %s: %v", roomCode, err)
			continue
		}
		if !claimed {
			continue
		}
		select {
		case s.jobs <- roomCode:
		case <-s.done:
			// Already claimed; close it inline rather than dropping it.
			s.close(ctx, roomCode)
			return
		}
	}
}

func (s *Scheduler) worker(ctx context.Context) {
	defer s.wg.Done()
	for roomCode := range s.jobs {
		s.close(ctx, roomCode)
	}
}

// close runs one claimed round close. Failures are terminal for this
// attempt: the room is not re-queued and its TTL bounds the damage.
func (s *Scheduler) close(ctx context.Context, roomCode string) {
	if err := s.service.AggregateRound(ctx, roomCode); err != nil {
		logger.Log.Errorf("[Scheduler] aggregation failed for room %s: %v", roomCode, err)
	}
}
