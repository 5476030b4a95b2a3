// Package timer counts down the time left in one module of a test. The
// remaining seconds are persisted on every change so a reload resumes the
// countdown instead of restarting it.
package timer

import (
	"context"
	"log"
	"sync"
	"time"

	"mocktest-backend/internal/models"
	"mocktest-backend/internal/storage"
)

type State string

const (
	Running State = "running"
	Paused  State = "paused"
	Expired State = "expired"
)

// ExpiryEvent is emitted once when a module runs out of time.
type ExpiryEvent struct {
	SequenceID   string `json:"sequence_id"`
	ModuleNumber int    `json:"module_number"`
	UnitID       string `json:"unit_id"`
	CourseID     string `json:"course_id"`
}

// Update is passed to tick listeners after every state change.
type Update struct {
	models.ModuleTimerState
	State State `json:"state"`
}

type Config struct {
	SessionID  string
	SequenceID string
	CourseID   string
	UnitID     string
	Module     int
	// Duration in seconds, used when nothing is persisted yet.
	Duration int
	// Interval between ticks; defaults to one second.
	Interval time.Duration
	// StartPaused creates the timer in the Paused state.
	StartPaused bool
}

// Durations is the per-module time allowance table.
type Durations struct {
	Default  int
	ByModule map[int]int
}

// For returns the allowance in seconds for module.
func (d Durations) For(module int) int {
	if s, ok := d.ByModule[module]; ok && s > 0 {
		return s
	}
	return d.Default
}

type Timer struct {
	store storage.Store
	cfg   Config
	key   storage.Key
	now   func() time.Time

	mu        sync.Mutex
	state     State
	remaining int
	unitID    string
	emitted   bool
	discarded bool
	onTick    []func(Update)
	onExpire  []func(ExpiryEvent)

	loopOnce sync.Once
	stopOnce sync.Once
	stop     chan struct{}
}

// New restores the module's persisted countdown or seeds a fresh one from
// cfg.Duration.
func New(ctx context.Context, store storage.Store, cfg Config) *Timer {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	t := &Timer{
		store:     store,
		cfg:       cfg,
		key:       storage.TimerKey(cfg.SessionID, cfg.SequenceID, cfg.Module),
		now:       time.Now,
		state:     Running,
		remaining: cfg.Duration,
		unitID:    cfg.UnitID,
		stop:      make(chan struct{}),
	}

	var saved models.ModuleTimerState
	ok, err := storage.GetJSON(ctx, store, t.key, &saved)
	if err != nil {
		log.Printf("timer: restore module %d of %s: %v", cfg.Module, cfg.SequenceID, err)
	}
	if ok {
		t.remaining = saved.SecondsRemaining
	} else {
		t.persistLocked(ctx)
	}

	if t.remaining <= 0 {
		t.remaining = 0
		t.state = Expired
	} else if cfg.StartPaused {
		t.state = Paused
	}
	return t
}

// OnTick registers a listener for countdown updates. Register before Start.
func (t *Timer) OnTick(fn func(Update)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onTick = append(t.onTick, fn)
}

// OnExpire registers a listener for the expiry event. Register before Start.
func (t *Timer) OnExpire(fn func(ExpiryEvent)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onExpire = append(t.onExpire, fn)
}

func (t *Timer) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Timer) Remaining() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remaining
}

func (t *Timer) Module() int { return t.cfg.Module }

// SetUnit records the unit in view so the expiry event names it.
func (t *Timer) SetUnit(unitID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.unitID = unitID
}

// Tick advances the countdown by one second if the timer is running.
func (t *Timer) Tick(ctx context.Context) {
	t.mu.Lock()
	if t.state != Running || t.discarded {
		t.mu.Unlock()
		return
	}

	t.remaining--
	expired := false
	if t.remaining <= 0 {
		t.remaining = 0
		t.state = Expired
		expired = !t.emitted
		t.emitted = true
	}
	t.persistLocked(ctx)
	upd := t.updateLocked()
	ev := t.eventLocked()
	tickFns, expireFns := t.onTick, t.onExpire
	t.mu.Unlock()

	for _, fn := range tickFns {
		fn(upd)
	}
	if expired {
		t.halt()
		for _, fn := range expireFns {
			fn(ev)
		}
	}
}

// Pause freezes the countdown, keeping the last value.
func (t *Timer) Pause(ctx context.Context) {
	t.setState(ctx, Running, Paused)
}

// Resume restarts a paused countdown.
func (t *Timer) Resume(ctx context.Context) {
	t.setState(ctx, Paused, Running)
}

func (t *Timer) setState(ctx context.Context, from, to State) {
	t.mu.Lock()
	if t.state != from || t.discarded {
		t.mu.Unlock()
		return
	}
	t.state = to
	t.persistLocked(ctx)
	upd := t.updateLocked()
	fns := t.onTick
	t.mu.Unlock()

	for _, fn := range fns {
		fn(upd)
	}
}

// Start runs the tick loop in its own goroutine. A timer restored with no
// time left emits its expiry event instead.
func (t *Timer) Start() {
	t.mu.Lock()
	if t.discarded {
		t.mu.Unlock()
		return
	}
	if t.state == Expired {
		fire := !t.emitted
		t.emitted = true
		ev := t.eventLocked()
		fns := t.onExpire
		t.mu.Unlock()
		if fire {
			go func() {
				for _, fn := range fns {
					fn(ev)
				}
			}()
		}
		return
	}
	t.mu.Unlock()

	t.loopOnce.Do(func() {
		go t.loop()
	})
}

// Stop ends the tick loop. The persisted value is left in place.
func (t *Timer) Stop() {
	t.halt()
}

// Discard stops the timer for good and deletes its persisted countdown. Used
// once the module is over.
func (t *Timer) Discard(ctx context.Context) {
	t.halt()
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.discarded {
		return
	}
	t.discarded = true
	t.emitted = true
	if err := t.store.Remove(ctx, t.key); err != nil {
		log.Printf("timer: remove module %d of %s: %v", t.cfg.Module, t.cfg.SequenceID, err)
	}
}

func (t *Timer) halt() {
	t.stopOnce.Do(func() { close(t.stop) })
}

func (t *Timer) loop() {
	ticker := time.NewTicker(t.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
			t.Tick(context.Background())
		}
	}
}

func (t *Timer) persistLocked(ctx context.Context) {
	st := models.ModuleTimerState{
		SessionID:        t.cfg.SessionID,
		SequenceID:       t.cfg.SequenceID,
		ModuleNumber:     t.cfg.Module,
		SecondsRemaining: t.remaining,
		UpdatedAt:        t.now().UTC(),
	}
	if err := storage.SetJSON(ctx, t.store, t.key, st); err != nil {
		log.Printf("timer: persist module %d of %s: %v", t.cfg.Module, t.cfg.SequenceID, err)
	}
}

func (t *Timer) updateLocked() Update {
	return Update{
		ModuleTimerState: models.ModuleTimerState{
			SessionID:        t.cfg.SessionID,
			SequenceID:       t.cfg.SequenceID,
			ModuleNumber:     t.cfg.Module,
			SecondsRemaining: t.remaining,
			UpdatedAt:        t.now().UTC(),
		},
		State: t.state,
	}
}

func (t *Timer) eventLocked() ExpiryEvent {
	return ExpiryEvent{
		SequenceID:   t.cfg.SequenceID,
		ModuleNumber: t.cfg.Module,
		UnitID:       t.unitID,
		CourseID:     t.cfg.CourseID,
	}
}
