package realtime

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dostum-ai/dostum-backend/internal/models"
	"github.com/dostum-ai/dostum-backend/internal/services"
	"github.com/dostum-ai/dostum-backend/internal/utils"
)

// Meter counts down an authenticated user's trial minutes while the
// session is live. A fast tick pushes the remaining value to the client; a
// slower reconcile cycle persists it with a compare-and-swap on the record
// version. A stored value jumping above the computed one beyond the
// tolerance means an out-of-band top-up, and the local snapshot rebases
// instead of overwriting it. Persistence failures are logged only; the
// conversation never notices them.
type Meter struct {
	userID string
	users  services.UserService
	send   func(v any) bool
	onTick func()
	log    *logrus.Entry

	tick      time.Duration
	reconcile time.Duration
	tolerance float64 // minutes

	// guarded by mu: snapshot/start/version, mutual exclusion between the
	// periodic reconcile and the final one in Close
	mu            sync.Mutex
	snapshot      float64
	start         time.Time
	version       int64
	lastPersisted float64
	depleted      bool
	started       bool

	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
}

type MeterConfig struct {
	Tick      time.Duration
	Reconcile time.Duration
	Tolerance float64
}

func NewMeter(userID string, budget models.TrialBudget, users services.UserService, send func(v any) bool, onTick func(), log *logrus.Entry, cfg MeterConfig) *Meter {
	if cfg.Tick <= 0 {
		cfg.Tick = time.Second
	}
	if cfg.Reconcile <= 0 {
		cfg.Reconcile = 10 * time.Second
	}
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = 0.25
	}
	return &Meter{
		userID:        userID,
		users:         users,
		send:          send,
		onTick:        onTick,
		log:           log,
		tick:          cfg.Tick,
		reconcile:     cfg.Reconcile,
		tolerance:     cfg.Tolerance,
		snapshot:      budget.Minutes,
		start:         time.Now(),
		version:       budget.Version,
		lastPersisted: budget.Minutes,
		done:          make(chan struct{}),
		stopped:       make(chan struct{}),
	}
}

// Remaining computes minutes left from the local snapshot.
func (m *Meter) Remaining() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.remainingLocked()
}

func (m *Meter) remainingLocked() float64 {
	elapsed := time.Since(m.start).Minutes()
	r := m.snapshot - elapsed
	if r < 0 {
		return 0
	}
	return r
}

func (m *Meter) Start() {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.mu.Unlock()
	go m.run()
}

func (m *Meter) run() {
	defer close(m.stopped)

	ticker := time.NewTicker(m.tick)
	defer ticker.Stop()
	persistTicker := time.NewTicker(m.reconcile)
	defer persistTicker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			remaining := m.Remaining()
			m.send(TimerUpdate(remaining))
			if m.onTick != nil {
				m.onTick()
			}
			if remaining <= 0 {
				m.reconcileNow()
				return
			}
		case <-persistTicker.C:
			m.reconcileNow()
		}
	}
}

func (m *Meter) reconcileNow() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.reconcileLocked(ctx)
}

func (m *Meter) reconcileLocked(ctx context.Context) {
	computed := m.remainingLocked()
	active := computed > 0
	if computed <= 0 && m.depleted {
		// entitlement already cleared
		return
	}

	err := m.users.PersistTrialBudget(ctx, m.userID, m.version, computed, active)
	if err == nil {
		m.version++
		m.lastPersisted = computed
		if computed <= 0 {
			m.depleted = true
		}
		return
	}

	if !errors.Is(err, utils.ErrVersionConflict) {
		m.log.WithError(err).Warn("trial budget persist failed")
		return
	}

	stored, rerr := m.users.TrialBudget(ctx, m.userID)
	if rerr != nil {
		m.log.WithError(rerr).Warn("trial budget re-read failed after version conflict")
		return
	}
	m.version = stored.Version

	if stored.Minutes > computed+m.tolerance {
		// out-of-band top-up, adopt the stored value
		m.snapshot = stored.Minutes
		m.start = time.Now()
		m.lastPersisted = stored.Minutes
		m.depleted = false
		m.log.WithFields(logrus.Fields{
			"stored_minutes":   stored.Minutes,
			"computed_minutes": computed,
		}).Info("trial budget rebased after external top-up")
		return
	}

	if perr := m.users.PersistTrialBudget(ctx, m.userID, m.version, computed, active); perr != nil {
		m.log.WithError(perr).Warn("trial budget persist retry failed")
		return
	}
	m.version++
	m.lastPersisted = computed
	if computed <= 0 {
		m.depleted = true
	}
}

// Close stops the tick loop and performs one final authoritative persist.
// Idempotent, safe on a meter that was never started, serialized with the
// periodic reconcile through the meter mutex.
func (m *Meter) Close() {
	m.closeOnce.Do(func() {
		close(m.done)
		m.mu.Lock()
		started := m.started
		m.mu.Unlock()
		if started {
			<-m.stopped
		}
		m.reconcileNow()
	})
}
