// Package navigation is the test-session state machine. On every advance it
// pulls the learner's answers out of the quiz surface, folds them into the
// module score, persists the unit result and decides whether the learner
// stays in the module, sees a module transition screen, or gets the summary.
package navigation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"mocktest-backend/internal/course"
	"mocktest-backend/internal/models"
	"mocktest-backend/internal/results"
	"mocktest-backend/internal/scoring"
	"mocktest-backend/internal/session"
	"mocktest-backend/internal/storage"
	"mocktest-backend/internal/timer"
)

type State string

const (
	InModule         State = "in_module"
	ModuleTransition State = "module_transition"
	TestComplete     State = "test_complete"
)

// Trigger names what started an advance.
type Trigger string

const (
	TriggerManual Trigger = "manual"
	TriggerExpiry Trigger = "expiry"
	TriggerFinish Trigger = "finish"
)

var (
	ErrNoAnswers   = errors.New("navigation: answers not received")
	ErrNotMounted  = errors.New("navigation: not mounted")
	ErrWrongState  = errors.New("navigation: operation not allowed in current state")
	ErrUnknownUnit = errors.New("navigation: unit not in sequence")
)

// AnswerSource is the answer bridge as the navigator uses it.
type AnswerSource interface {
	RequestAnswers(ctx context.Context, unitID string) ([]models.QuizAnswer, error)
	SetActiveUnit(unitID string)
	PushConfig(ctx context.Context, totalQuestions int) error
}

// ResultSubmitter persists one unit result at most once.
type ResultSubmitter interface {
	Submit(ctx context.Context, sessionID, unitID string, req models.QuizResultRequest) error
}

// RetryQueue takes submissions that failed so they can be retried later.
type RetryQueue interface {
	EnqueueRetry(ctx context.Context, sessionID, unitID string, req models.QuizResultRequest) error
}

// Notifier receives timer and navigation updates for the host page.
type Notifier interface {
	TimerUpdated(u timer.Update)
	Navigated(ev models.NavigationEvent)
}

type Config struct {
	Sequence course.Sequence
	UserID   string
	// TemplateID is used for units that do not name their own.
	TemplateID   string
	Durations    timer.Durations
	TickInterval time.Duration
}

type Deps struct {
	Store    storage.Store
	Sessions *session.Registry
	Answers  AnswerSource
	Scores   *scoring.Aggregator
	Results  ResultSubmitter
	Retry    RetryQueue // optional
	Notify   Notifier   // optional
}

// Outcome describes where an operation left the learner.
type Outcome struct {
	State          State                      `json:"state"`
	UnitID         string                     `json:"unit_id"`
	UnitLink       string                     `json:"unit_link,omitempty"`
	Transition     *models.TransitionSnapshot `json:"transition,omitempty"`
	Summary        *models.TestSummary        `json:"summary,omitempty"`
	PersistWarning bool                       `json:"persist_warning,omitempty"`
	// Stale is set when the advance targeted a unit that is no longer in view
	// and nothing was done.
	Stale bool `json:"stale,omitempty"`
}

// Snapshot is the navigator's current view.
type Snapshot struct {
	Outcome
	SessionID        string      `json:"session_id"`
	Module           int         `json:"module"`
	SecondsRemaining int         `json:"seconds_remaining"`
	TimerState       timer.State `json:"timer_state"`
}

type Navigator struct {
	cfg  Config
	deps Deps
	seq  course.Sequence
	sf   singleflight.Group

	mu         sync.Mutex
	mounted    bool
	state      State
	index      int
	nextIndex  int
	session    models.TestSession
	timer      *timer.Timer
	transition *models.TransitionSnapshot
	summary    *models.TestSummary
	warning    bool
}

// New creates a navigator positioned on startUnitID, or on the first unit
// when startUnitID is empty.
func New(cfg Config, deps Deps, startUnitID string) (*Navigator, error) {
	if len(cfg.Sequence.Units) == 0 {
		return nil, fmt.Errorf("navigation: sequence %s has no units", cfg.Sequence.ID)
	}
	idx := 0
	if startUnitID != "" {
		idx = cfg.Sequence.IndexOf(startUnitID)
		if idx < 0 {
			return nil, fmt.Errorf("%w: %s", ErrUnknownUnit, startUnitID)
		}
	}
	return &Navigator{cfg: cfg, deps: deps, seq: cfg.Sequence, index: idx, state: InModule}, nil
}

// Mount starts the session on the current unit. A stored completion puts the
// navigator back on the summary with every clock frozen; a transition
// snapshot stored for the unit puts it back on the transition screen.
func (n *Navigator) Mount(ctx context.Context) (Outcome, error) {
	sess := n.deps.Sessions.EnsureSession(ctx)

	n.mu.Lock()
	n.session = sess
	n.summary = nil
	n.transition = nil

	var done models.CompletionSnapshot
	complete, err := storage.GetJSON(ctx, n.deps.Store, storage.CompletionKey(n.seq.ID, sess.ID), &done)
	if err != nil {
		log.Printf("navigation: load completion for %s: %v", sess.ID, err)
	}
	if complete {
		if idx := n.seq.IndexOf(done.UnitID); idx >= 0 {
			n.index = idx
		}
		n.state = TestComplete
		n.summary = &done.Summary
	} else {
		n.restoreTransitionLocked(ctx)
	}

	unit := n.seq.Units[n.index]
	if n.timer != nil {
		n.timer.Stop()
	}
	n.timer = n.newTimerLocked(ctx, n.seq.ModuleOf(n.index), unit.ID, n.state != InModule)
	n.deps.Answers.SetActiveUnit(unit.ID)
	n.mounted = true
	t := n.timer
	out := n.outcomeLocked()
	n.mu.Unlock()

	if out.State != TestComplete {
		t.Start()
		n.PushConfig(ctx)
	}
	n.notify(out)
	return out, nil
}

func (n *Navigator) restoreTransitionLocked(ctx context.Context) {
	unit := n.seq.Units[n.index]
	var snap models.TransitionSnapshot
	ok, err := storage.GetJSON(ctx, n.deps.Store, storage.TransitionKey(n.seq.ID, unit.ID), &snap)
	if err != nil {
		log.Printf("navigation: load transition for %s: %v", unit.ID, err)
	}
	if !ok {
		n.state = InModule
		return
	}
	n.state = ModuleTransition
	n.transition = &snap
	n.nextIndex = n.seq.IndexOf(snap.NextUnitID)
	if n.nextIndex < 0 {
		// The outline changed under the snapshot; fall back to the plain next unit.
		n.nextIndex = n.index + 1
	}
}

// Advance moves the learner on from unitID. Concurrent advances for the same
// unit (a click racing a timer expiry) run once and share the outcome; an
// advance for a unit that is no longer in view does nothing. Once the module
// clock has expired every advance leaves the module, whatever its trigger.
func (n *Navigator) Advance(ctx context.Context, unitID string, trigger Trigger) (Outcome, error) {
	v, err, _ := n.sf.Do(unitID, func() (interface{}, error) {
		return n.advance(ctx, unitID, trigger)
	})
	if err != nil {
		return Outcome{}, err
	}
	return v.(Outcome), nil
}

func (n *Navigator) advance(ctx context.Context, unitID string, trigger Trigger) (Outcome, error) {
	n.mu.Lock()
	if !n.mounted {
		n.mu.Unlock()
		return Outcome{}, ErrNotMounted
	}
	if n.state != InModule || n.seq.Units[n.index].ID != unitID {
		out := n.outcomeLocked()
		out.Stale = true
		n.mu.Unlock()
		return out, nil
	}
	cur := n.index
	sess := n.session
	clock := n.timer
	n.mu.Unlock()

	unit := n.seq.Units[cur]
	if expired(clock) {
		trigger = TriggerExpiry
	}
	next, nav := n.route(cur, trigger)

	answers, err := n.deps.Answers.RequestAnswers(ctx, unitID)
	if err != nil {
		if nav.NextUnitID != "" {
			return Outcome{}, fmt.Errorf("%w: %v", ErrNoAnswers, err)
		}
		// The final unit must not hold the summary hostage to a silent surface.
		log.Printf("navigation: no answers for final unit %s, scoring it empty: %v", unitID, err)
		answers = nil
	}
	// The clock may have run out while the surface was answering.
	if trigger != TriggerExpiry && expired(clock) {
		trigger = TriggerExpiry
		next, nav = n.route(cur, trigger)
	}
	last := nav.NextUnitID == ""

	data := results.NewQuizData(answers, course.UnitQuestions(unit, len(answers)))
	n.accumulateOnce(ctx, sess.ID, unitID, nav.CurrentModule, data)

	status := models.ResultStatusProcessing
	if last {
		status = models.ResultStatusCompleted
	}
	warning := n.persist(ctx, sess.ID, unit, status, data)

	n.mu.Lock()
	if n.state != InModule || n.index != cur || n.session.ID != sess.ID {
		// Abandoned or re-mounted while waiting on the surface.
		out := n.outcomeLocked()
		out.Stale = true
		n.mu.Unlock()
		return out, nil
	}
	n.warning = warning

	var startTimer, pauseTimer *timer.Timer
	switch {
	case last:
		n.timer.Stop()
		pauseTimer = n.timer
		n.state = TestComplete
		n.summary = n.summarize(ctx, sess.ID)
		done := models.CompletionSnapshot{UnitID: unitID, Summary: *n.summary, CompletedAt: time.Now().UTC()}
		if err := storage.SetJSON(ctx, n.deps.Store, storage.CompletionKey(n.seq.ID, sess.ID), done); err != nil {
			log.Printf("navigation: persist completion for %s: %v", sess.ID, err)
		}

	case course.IsModuleBoundary(nav):
		n.timer.Stop()
		pauseTimer = n.timer
		nextUnit := n.seq.Units[next]
		snap := models.TransitionSnapshot{
			CurrentModule: nav.CurrentModule,
			NextModule:    nav.NextModule,
			NextUnitID:    nextUnit.ID,
			NextUnitLink:  nextUnit.Link,
			CreatedAt:     time.Now().UTC(),
		}
		if err := storage.SetJSON(ctx, n.deps.Store, storage.TransitionKey(n.seq.ID, unitID), snap); err != nil {
			log.Printf("navigation: persist transition for %s: %v", unitID, err)
		}
		n.state = ModuleTransition
		n.transition = &snap
		n.nextIndex = next

	default:
		startTimer = n.enterLocked(ctx, next)
	}
	out := n.outcomeLocked()
	n.mu.Unlock()

	// Pause notifies listeners, so it runs outside the lock.
	if pauseTimer != nil {
		pauseTimer.Pause(ctx)
	}
	if startTimer != nil {
		startTimer.Start()
	}
	if out.State == InModule {
		n.PushConfig(ctx)
	}
	n.notify(out)
	return out, nil
}

// route picks the unit an advance from cur lands on.
func (n *Navigator) route(cur int, trigger Trigger) (int, models.NavigationContext) {
	next := cur + 1
	switch trigger {
	case TriggerExpiry:
		next = n.seq.NextModuleStart(cur)
	case TriggerFinish:
		next = len(n.seq.Units)
	}
	return next, n.seq.ContextTo(cur, next)
}

func expired(t *timer.Timer) bool {
	return t != nil && t.State() == timer.Expired
}

// Resume leaves the module transition screen for the first unit of the next
// module and starts that module's clock.
func (n *Navigator) Resume(ctx context.Context) (Outcome, error) {
	n.mu.Lock()
	if !n.mounted {
		n.mu.Unlock()
		return Outcome{}, ErrNotMounted
	}
	if n.state != ModuleTransition {
		n.mu.Unlock()
		return Outcome{}, ErrWrongState
	}

	cur := n.seq.Units[n.index]
	if err := n.deps.Store.Remove(ctx, storage.TransitionKey(n.seq.ID, cur.ID)); err != nil {
		log.Printf("navigation: clear transition for %s: %v", cur.ID, err)
	}
	n.transition = nil
	n.state = InModule
	next := n.nextIndex
	if next >= len(n.seq.Units) {
		next = len(n.seq.Units) - 1
	}
	startTimer := n.enterLocked(ctx, next)
	out := n.outcomeLocked()
	n.mu.Unlock()

	if startTimer != nil {
		startTimer.Start()
	}
	n.PushConfig(ctx)
	n.notify(out)
	return out, nil
}

// Acknowledge is called once the learner has seen the final summary. It
// drops the score map and the session.
func (n *Navigator) Acknowledge(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state != TestComplete {
		return ErrWrongState
	}
	n.discardLocked(ctx)
	n.mounted = false
	return nil
}

// Abandon ends the attempt without a summary.
func (n *Navigator) Abandon(ctx context.Context) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.deps.Store.Remove(ctx, storage.TransitionKey(n.seq.ID, n.seq.Units[n.index].ID)); err != nil {
		log.Printf("navigation: clear transition: %v", err)
	}
	n.discardLocked(ctx)
	n.mounted = false
}

// discardLocked drops everything the attempt keeps in storage: the clock of
// the module in view, the completion snapshot, the scores and the session.
func (n *Navigator) discardLocked(ctx context.Context) {
	if n.timer != nil {
		n.timer.Discard(ctx)
	}
	if n.session.ID != "" {
		if err := n.deps.Store.Remove(ctx, storage.CompletionKey(n.seq.ID, n.session.ID)); err != nil {
			log.Printf("navigation: clear completion: %v", err)
		}
	}
	if err := n.deps.Scores.Clear(ctx, n.seq.ID); err != nil {
		log.Printf("navigation: %v", err)
	}
	n.deps.Sessions.ClearSession(ctx)
}

// Stop halts the clock without touching persisted state, e.g. when the host
// page goes away.
func (n *Navigator) Stop() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.timer != nil {
		n.timer.Stop()
	}
}

// PushConfig sends the displayed question total of the current module to the
// quiz surface. Failures are logged; the surface asks again when it is ready.
func (n *Navigator) PushConfig(ctx context.Context) {
	n.mu.Lock()
	idx := n.index
	n.mu.Unlock()

	total := n.seq.DisplayTotals()[n.seq.ModuleOf(idx)]
	if total == 0 {
		total = course.QuestionCount(n.seq.Units[idx].Title)
	}
	if err := n.deps.Answers.PushConfig(ctx, total); err != nil {
		log.Printf("navigation: push config: %v", err)
	}
}

func (n *Navigator) Snapshot() Snapshot {
	n.mu.Lock()
	defer n.mu.Unlock()
	s := Snapshot{
		Outcome:   n.outcomeLocked(),
		SessionID: n.session.ID,
		Module:    n.seq.ModuleOf(n.index),
	}
	if n.timer != nil {
		s.SecondsRemaining = n.timer.Remaining()
		s.TimerState = n.timer.State()
	}
	return s
}

// enterLocked makes unit idx current. It swaps the clock when the unit
// belongs to a different module than the running timer and returns the new
// timer, which the caller starts after unlocking.
func (n *Navigator) enterLocked(ctx context.Context, idx int) *timer.Timer {
	n.index = idx
	unit := n.seq.Units[idx]
	n.deps.Answers.SetActiveUnit(unit.ID)

	module := n.seq.ModuleOf(idx)
	// Units without a module number run on the clock already in view.
	if n.timer != nil && (n.timer.Module() == module || module == 0) {
		n.timer.SetUnit(unit.ID)
		return nil
	}
	if n.timer != nil {
		// The previous module is over.
		n.timer.Discard(ctx)
	}
	n.timer = n.newTimerLocked(ctx, module, unit.ID, false)
	return n.timer
}

func (n *Navigator) newTimerLocked(ctx context.Context, module int, unitID string, paused bool) *timer.Timer {
	t := timer.New(ctx, n.deps.Store, timer.Config{
		SessionID:   n.session.ID,
		SequenceID:  n.seq.ID,
		CourseID:    n.seq.CourseID,
		UnitID:      unitID,
		Module:      module,
		Duration:    n.cfg.Durations.For(module),
		Interval:    n.cfg.TickInterval,
		StartPaused: paused,
	})
	if n.deps.Notify != nil {
		t.OnTick(n.deps.Notify.TimerUpdated)
	}
	t.OnExpire(n.onExpire)
	return t
}

// onExpire leaves the module. The event may name a unit the learner just
// moved past inside the same module, so the unit in view is checked once more.
func (n *Navigator) onExpire(ev timer.ExpiryEvent) {
	log.Printf("navigation: module %d of %s expired on unit %s", ev.ModuleNumber, ev.SequenceID, ev.UnitID)
	unitID := ev.UnitID
	for attempt := 0; attempt < 2 && unitID != ""; attempt++ {
		if _, err := n.Advance(context.Background(), unitID, TriggerExpiry); err != nil {
			log.Printf("navigation: advance on expiry: %v", err)
			return
		}
		unitID = n.unitOnExpiredClock(ev.ModuleNumber)
	}
}

// unitOnExpiredClock returns the unit in view if it still runs on the expired
// clock of module.
func (n *Navigator) unitOnExpiredClock(module int) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.mounted || n.state != InModule || n.timer == nil || n.timer.Module() != module || !expired(n.timer) {
		return ""
	}
	return n.seq.Units[n.index].ID
}

// accumulateOnce adds the unit's counts to its module score unless this
// session already did so for the unit.
func (n *Navigator) accumulateOnce(ctx context.Context, sessionID, unitID string, module int, data models.QuizData) {
	marker := storage.ScoreMarkerKey(sessionID, unitID)
	first, err := n.deps.Store.SetIfAbsent(ctx, marker, []byte("1"))
	if err != nil {
		log.Printf("navigation: score marker for %s: %v", unitID, err)
		return
	}
	if !first {
		return
	}
	if err := n.deps.Scores.Accumulate(ctx, n.seq.ID, module, data.CorrectCount, data.AnsweredCount); err != nil {
		log.Printf("navigation: %v", err)
		// Let a later advance for the unit count it.
		if rerr := n.deps.Store.Remove(ctx, marker); rerr != nil {
			log.Printf("navigation: release score marker for %s: %v", unitID, rerr)
		}
	}
}

// persist submits the unit result and reports whether the learner should be
// warned that it did not reach the backend.
func (n *Navigator) persist(ctx context.Context, sessionID string, unit course.Unit, status string, data models.QuizData) bool {
	templateID := unit.TemplateID
	if templateID == "" {
		templateID = n.cfg.TemplateID
	}
	req := models.QuizResultRequest{
		SectionID:     course.SectionID(n.seq.ID),
		UnitID:        unit.ID,
		CourseID:      n.seq.CourseID,
		UserID:        n.cfg.UserID,
		TemplateID:    templateID,
		TestSessionID: sessionID,
		Status:        status,
		QuizData:      data,
	}

	err := n.deps.Results.Submit(ctx, sessionID, unit.ID, req)
	if err == nil {
		return false
	}
	log.Printf("navigation: persist result for %s: %v", unit.ID, err)
	if n.deps.Retry != nil {
		if qerr := n.deps.Retry.EnqueueRetry(ctx, sessionID, unit.ID, req); qerr != nil {
			log.Printf("navigation: enqueue retry for %s: %v", unit.ID, qerr)
		}
	}
	return true
}

func (n *Navigator) summarize(ctx context.Context, sessionID string) *models.TestSummary {
	modules, err := n.deps.Scores.ReconcileTotals(ctx, n.seq.ID, n.seq.DisplayTotals())
	if err != nil {
		log.Printf("navigation: %v", err)
	}
	sum := scoring.Summarize(sessionID, modules)
	return &sum
}

func (n *Navigator) outcomeLocked() Outcome {
	unit := n.seq.Units[n.index]
	return Outcome{
		State:          n.state,
		UnitID:         unit.ID,
		UnitLink:       unit.Link,
		Transition:     n.transition,
		Summary:        n.summary,
		PersistWarning: n.warning,
	}
}

func (n *Navigator) notify(out Outcome) {
	if n.deps.Notify == nil {
		return
	}
	n.deps.Notify.Navigated(models.NavigationEvent{
		SequenceID: n.seq.ID,
		State:      string(out.State),
		UnitID:     out.UnitID,
		UnitLink:   out.UnitLink,
		Transition: out.Transition,
		Summary:    out.Summary,
	})
}
