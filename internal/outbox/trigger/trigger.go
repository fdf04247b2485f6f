// Package trigger decides when to surface the pending-sync affordance.
//
// The manager observes two external signals — network reachability and app
// foreground/background transitions — debounces them, and opens the sync
// modal when conditions are favorable: the device is reachable and the
// queue has active work. The policy is deliberately one-way: the manager
// only ever opens the modal. Closing is an explicit user action, never
// automatic, so a connectivity blip cannot flicker the modal shut, and a
// cooldown keeps the manager from reopening right after the user dismissed
// it while a stubborn failed item remains.
package trigger

import (
	"log"
	"os"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Default timing values.
const (
	// DefaultDebounce is how long a signal must settle before evaluation.
	DefaultDebounce = time.Second

	// DefaultCooldown is the minimum gap between two auto-opens.
	DefaultCooldown = 12 * time.Second
)

// Config holds trigger manager configuration.
type Config struct {
	// Debounce delays evaluation after a signal change (default 1s).
	Debounce time.Duration

	// Cooldown is the minimum time since the last auto-open before the
	// modal may auto-open again (default 12s).
	Cooldown time.Duration

	// HasActiveOps reports whether the queue has pending or in-flight
	// work. Required.
	HasActiveOps func() bool

	// OnAutoOpen is called when the modal auto-opens. Optional.
	OnAutoOpen func()

	// Clock drives the debounce timer and cooldown. Defaults to the
	// real clock; tests inject a fake.
	Clock clockwork.Clock

	// Logger for trigger activity. Defaults to a stderr logger.
	Logger *log.Logger
}

// Manager tracks reachability and lifecycle signals and owns the
// modal-open decision.
type Manager struct {
	debounce     time.Duration
	cooldown     time.Duration
	hasActiveOps func() bool
	onAutoOpen   func()
	clock        clockwork.Clock
	logger       *log.Logger

	mu           sync.Mutex
	reachable    bool
	foreground   bool
	modalOpen    bool
	everOpened   bool
	lastAutoOpen time.Time
	timer        clockwork.Timer
}

// New creates a trigger manager. The app is assumed foregrounded until a
// lifecycle signal says otherwise.
func New(config Config) *Manager {
	if config.Debounce == 0 {
		config.Debounce = DefaultDebounce
	}
	if config.Cooldown == 0 {
		config.Cooldown = DefaultCooldown
	}
	if config.Clock == nil {
		config.Clock = clockwork.NewRealClock()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[trigger] ", log.LstdFlags)
	}
	return &Manager{
		debounce:     config.Debounce,
		cooldown:     config.Cooldown,
		hasActiveOps: config.HasActiveOps,
		onAutoOpen:   config.OnAutoOpen,
		clock:        config.Clock,
		logger:       config.Logger,
		foreground:   true,
	}
}

// SetReachable records a network reachability change and schedules an
// evaluation after the debounce interval.
func (m *Manager) SetReachable(reachable bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reachable = reachable
	m.scheduleLocked()
}

// SetForeground records an app lifecycle transition and schedules an
// evaluation after the debounce interval.
func (m *Manager) SetForeground(foreground bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.foreground = foreground
	m.scheduleLocked()
}

// Notify schedules an evaluation without changing any signal. The queue
// layer calls this when new work is enqueued while signals are steady.
func (m *Manager) Notify() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scheduleLocked()
}

// ModalOpen reports whether the sync modal is currently open.
func (m *Manager) ModalOpen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.modalOpen
}

// SetModalOpen sets the modal state explicitly. This is the only way the
// modal ever closes.
func (m *Manager) SetModalOpen(open bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.modalOpen = open
}

// Stop cancels any scheduled evaluation.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

// scheduleLocked resets the debounce timer. Each new signal clears the
// prior pending evaluation, so a burst of changes evaluates once.
func (m *Manager) scheduleLocked() {
	if m.timer != nil {
		m.timer.Stop()
	}
	m.timer = m.clock.AfterFunc(m.debounce, m.evaluate)
}

// evaluate applies the auto-open policy. No condition ever closes the
// modal here.
func (m *Manager) evaluate() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.modalOpen {
		return
	}
	if !m.reachable || !m.foreground {
		return
	}
	if m.hasActiveOps == nil || !m.hasActiveOps() {
		return
	}
	if m.everOpened && m.clock.Since(m.lastAutoOpen) < m.cooldown {
		return
	}

	m.modalOpen = true
	m.everOpened = true
	m.lastAutoOpen = m.clock.Now()
	m.logger.Printf("Auto-opened sync modal (reachable, pending work)")

	if m.onAutoOpen != nil {
		// Release the lock around the callback: it may query the manager.
		m.mu.Unlock()
		m.onAutoOpen()
		m.mu.Lock()
	}
}
