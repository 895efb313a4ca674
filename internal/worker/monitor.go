package worker

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"medsim-backend/internal/session"
)

const (
	advanceQueue = "queue:session-advance"

	// jobLockTTL bounds how long a crashed worker can hold a session's
	// advance lock.
	jobLockTTL = 30 * time.Second
)

// Monitor keeps REAL_TIME sessions moving without client polling: a
// scheduler goroutine enqueues advance jobs for active real-time
// sessions, and a worker pool drains the queue and advances each
// session's virtual clock, firing any events that came due.
type Monitor struct {
	redis       *redis.Client
	manager     *session.Manager
	sessions    session.SessionStore
	interval    time.Duration
	workerCount int
	stopChan    chan struct{}
}

func NewMonitor(
	redisClient *redis.Client,
	manager *session.Manager,
	sessions session.SessionStore,
	interval time.Duration,
	workerCount int,
) *Monitor {
	return &Monitor{
		redis:       redisClient,
		manager:     manager,
		sessions:    sessions,
		interval:    interval,
		workerCount: workerCount,
		stopChan:    make(chan struct{}),
	}
}

func (m *Monitor) Start() {
	go m.scheduler()
	for i := 0; i < m.workerCount; i++ {
		go m.worker(i)
	}
	log.Printf("Started session monitor (%d workers, %s interval)", m.workerCount, m.interval)
}

func (m *Monitor) Stop() {
	close(m.stopChan)
}

// scheduler periodically enqueues one advance job per active real-time
// session. A short-lived pending key stops the queue from filling with
// duplicates when workers fall behind.
func (m *Monitor) scheduler() {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopChan:
			return
		case <-ticker.C:
		}

		ctx := context.Background()
		sessions, err := m.sessions.ListActiveRealTime(ctx)
		if err != nil {
			log.Printf("Monitor: list active sessions: %v", err)
			continue
		}

		for _, s := range sessions {
			pendingKey := "pending:session-advance:" + s.ID.String()
			ok, err := m.redis.SetNX(ctx, pendingKey, "1", m.interval).Result()
			if err != nil || !ok {
				continue
			}
			if err := m.redis.RPush(ctx, advanceQueue, s.ID.String()).Err(); err != nil {
				log.Printf("Monitor: enqueue session %s: %v", s.ID, err)
			}
		}
	}
}

func (m *Monitor) worker(id int) {
	for {
		select {
		case <-m.stopChan:
			log.Printf("Monitor worker %d shutting down", id)
			return
		default:
		}

		ctx := context.Background()

		result, err := m.redis.BLPop(ctx, 30*time.Second, advanceQueue).Result()
		if err != nil {
			continue // Timeout or error, retry
		}
		if len(result) < 2 {
			continue
		}

		sessionID, err := uuid.Parse(result[1])
		if err != nil {
			log.Printf("Monitor worker %d: bad session id %q", id, result[1])
			continue
		}

		// Cross-process guard; the manager's keyed mutex already
		// serializes within this process.
		lockKey := "lock:session-advance:" + sessionID.String()
		locked, err := m.redis.SetNX(ctx, lockKey, "1", jobLockTTL).Result()
		if err != nil || !locked {
			continue
		}

		fired, err := m.manager.AdvanceToNow(ctx, sessionID)
		if err != nil {
			log.Printf("Monitor worker %d: advance session %s: %v", id, sessionID, err)
		} else if fired > 0 {
			log.Printf("Monitor worker %d: session %s fired %d events", id, sessionID, fired)
		}

		m.redis.Del(ctx, lockKey)
		m.redis.Del(ctx, "pending:session-advance:"+sessionID.String())
	}
}
