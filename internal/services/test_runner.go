package services

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"mocktest-backend/internal/bridge"
	"mocktest-backend/internal/course"
	"mocktest-backend/internal/models"
	"mocktest-backend/internal/navigation"
	"mocktest-backend/internal/results"
	"mocktest-backend/internal/scoring"
	"mocktest-backend/internal/session"
	"mocktest-backend/internal/storage"
	"mocktest-backend/internal/timer"
)

// TokenIssuer mints learner tokens for calls made on a learner's behalf.
type TokenIssuer interface {
	GenerateAccessToken(userID uuid.UUID, ttl time.Duration) (string, error)
}

// Publisher forwards updates to a learner's open pages.
type Publisher interface {
	Publish(ctx context.Context, userID uuid.UUID, msg models.WSMessage)
}

// RetryQueueFor hands out the retry queue of one learner.
type RetryQueueFor func(userID uuid.UUID) navigation.RetryQueue

type RunnerConfig struct {
	Durations     timer.Durations
	BridgeTimeout time.Duration
	TemplateID    string
	// TickInterval defaults to one second.
	TickInterval time.Duration
	// TokenTTL bounds how long an engine can submit results; defaults to 6h.
	TokenTTL time.Duration
}

type StartTestRequest struct {
	Sequence course.Sequence `json:"sequence"`
	// UnitID is the unit the host page opened on; empty means the first unit.
	UnitID string `json:"unit_id"`
}

type TestState struct {
	navigation.Snapshot
	SequenceID string        `json:"sequence_id"`
	Surface    bridge.Status `json:"surface"`
}

type engine struct {
	userID   uuid.UUID
	sequence course.Sequence
	bridge   *bridge.Bridge

	mu  sync.Mutex
	nav *navigation.Navigator
}

func (e *engine) navigator() *navigation.Navigator {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.nav
}

// TestRunner hosts one test engine per learner and sequence. Starting a test
// that is already running rebuilds its navigator from storage, which is what
// a page reload does.
type TestRunner struct {
	store     storage.Store
	results   *results.Client
	tokens    TokenIssuer
	retry     RetryQueueFor
	publisher Publisher
	cfg       RunnerConfig

	mu      sync.Mutex
	engines map[string]*engine
}

func NewTestRunner(store storage.Store, resultsClient *results.Client, tokens TokenIssuer, retry RetryQueueFor, publisher Publisher, cfg RunnerConfig) *TestRunner {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 6 * time.Hour
	}
	return &TestRunner{
		store:     store,
		results:   resultsClient,
		tokens:    tokens,
		retry:     retry,
		publisher: publisher,
		cfg:       cfg,
		engines:   make(map[string]*engine),
	}
}

func engineKey(userID uuid.UUID, sequenceID string) string {
	return userID.String() + "|" + sequenceID
}

func validateSequence(seq course.Sequence) error {
	fields := map[string]string{}
	if seq.ID == "" {
		fields["sequence.sequence_id"] = "Sequence ID is required"
	}
	if seq.CourseID == "" {
		fields["sequence.course_id"] = "Course ID is required"
	}
	if len(seq.Units) == 0 {
		fields["sequence.units"] = "At least one unit is required"
	}
	seen := map[string]bool{}
	for _, u := range seq.Units {
		if u.ID == "" {
			fields["sequence.units"] = "Every unit needs an ID"
			break
		}
		if seen[u.ID] {
			fields["sequence.units"] = "Unit IDs must be unique"
			break
		}
		seen[u.ID] = true
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

// Start mounts the learner's test on req.UnitID.
func (r *TestRunner) Start(ctx context.Context, userID uuid.UUID, req StartTestRequest) (TestState, error) {
	if err := validateSequence(req.Sequence); err != nil {
		return TestState{}, err
	}
	if req.UnitID != "" && req.Sequence.IndexOf(req.UnitID) < 0 {
		return TestState{}, &ValidationError{Fields: map[string]string{"unit_id": "Unit is not part of the sequence"}}
	}

	token, err := r.tokens.GenerateAccessToken(userID, r.cfg.TokenTTL)
	if err != nil {
		return TestState{}, err
	}

	key := engineKey(userID, req.Sequence.ID)
	r.mu.Lock()
	e, ok := r.engines[key]
	if !ok {
		e = &engine{
			userID: userID,
			bridge: bridge.New(nil, r.cfg.BridgeTimeout),
		}
		e.bridge.OnReady(func() {
			if nav := e.navigator(); nav != nil {
				nav.PushConfig(context.Background())
			}
		})
		r.engines[key] = e
	}
	r.mu.Unlock()

	store := storage.NewFallbackStore(storage.ForLearner(r.store, userID.String()))
	deps := navigation.Deps{
		Store:    store,
		Sessions: session.NewRegistry(store, req.Sequence.ID),
		Answers:  e.bridge,
		Scores:   scoring.NewAggregator(store),
		Results:  r.results.With(store, token),
	}
	if r.retry != nil {
		deps.Retry = r.retry(userID)
	}
	if r.publisher != nil {
		deps.Notify = &engineNotifier{pub: r.publisher, userID: userID, sequenceID: req.Sequence.ID}
	}

	nav, err := navigation.New(navigation.Config{
		Sequence:     req.Sequence,
		UserID:       userID.String(),
		TemplateID:   r.cfg.TemplateID,
		Durations:    r.cfg.Durations,
		TickInterval: r.cfg.TickInterval,
	}, deps, req.UnitID)
	if err != nil {
		return TestState{}, &ValidationError{Fields: map[string]string{"sequence": err.Error()}}
	}

	e.mu.Lock()
	if e.nav != nil {
		e.nav.Stop()
	}
	e.nav = nav
	e.sequence = req.Sequence
	e.mu.Unlock()

	if _, err := nav.Mount(ctx); err != nil {
		return TestState{}, err
	}
	log.Printf("runner: user %s started %s on %q", userID, req.Sequence.ID, nav.Snapshot().UnitID)
	return stateOf(e, nav), nil
}

func (r *TestRunner) lookup(userID uuid.UUID, sequenceID string) (*engine, *navigation.Navigator, error) {
	r.mu.Lock()
	e, ok := r.engines[engineKey(userID, sequenceID)]
	r.mu.Unlock()
	if !ok {
		return nil, nil, &NotFoundError{Message: "Test not started"}
	}
	nav := e.navigator()
	if nav == nil {
		return nil, nil, &NotFoundError{Message: "Test not started"}
	}
	return e, nav, nil
}

func (r *TestRunner) drop(userID uuid.UUID, sequenceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.engines, engineKey(userID, sequenceID))
}

// Advance leaves unitID. The advance keeps running when the caller goes away
// so a closed tab cannot leave a half-recorded unit behind.
func (r *TestRunner) Advance(ctx context.Context, userID uuid.UUID, sequenceID, unitID string, trigger navigation.Trigger) (navigation.Outcome, error) {
	_, nav, err := r.lookup(userID, sequenceID)
	if err != nil {
		return navigation.Outcome{}, err
	}
	switch trigger {
	case "":
		trigger = navigation.TriggerManual
	case navigation.TriggerManual, navigation.TriggerExpiry, navigation.TriggerFinish:
	default:
		return navigation.Outcome{}, &ValidationError{Fields: map[string]string{"trigger": "Must be manual, expiry or finish"}}
	}

	out, err := nav.Advance(context.WithoutCancel(ctx), unitID, trigger)
	return out, translate(err)
}

func (r *TestRunner) Resume(ctx context.Context, userID uuid.UUID, sequenceID string) (navigation.Outcome, error) {
	_, nav, err := r.lookup(userID, sequenceID)
	if err != nil {
		return navigation.Outcome{}, err
	}
	out, err := nav.Resume(ctx)
	return out, translate(err)
}

// Acknowledge closes a completed test and forgets its engine.
func (r *TestRunner) Acknowledge(ctx context.Context, userID uuid.UUID, sequenceID string) error {
	_, nav, err := r.lookup(userID, sequenceID)
	if err != nil {
		return err
	}
	if err := nav.Acknowledge(ctx); err != nil {
		return translate(err)
	}
	r.drop(userID, sequenceID)
	return nil
}

func (r *TestRunner) Abandon(ctx context.Context, userID uuid.UUID, sequenceID string) error {
	_, nav, err := r.lookup(userID, sequenceID)
	if err != nil {
		return err
	}
	nav.Abandon(ctx)
	r.drop(userID, sequenceID)
	log.Printf("runner: user %s abandoned %s", userID, sequenceID)
	return nil
}

func (r *TestRunner) State(ctx context.Context, userID uuid.UUID, sequenceID string) (TestState, error) {
	e, nav, err := r.lookup(userID, sequenceID)
	if err != nil {
		return TestState{}, err
	}
	return stateOf(e, nav), nil
}

// AttachSurface connects the quiz surface socket of a running test and
// returns the bridge that consumes its messages.
func (r *TestRunner) AttachSurface(userID uuid.UUID, sequenceID string, ch bridge.Channel) (*bridge.Bridge, error) {
	e, _, err := r.lookup(userID, sequenceID)
	if err != nil {
		return nil, err
	}
	e.bridge.Attach(ch)
	return e.bridge, nil
}

// Shutdown stops every clock. Persisted state stays for the next start.
func (r *TestRunner) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.engines {
		if nav := e.navigator(); nav != nil {
			nav.Stop()
		}
	}
}

func stateOf(e *engine, nav *navigation.Navigator) TestState {
	e.mu.Lock()
	sequenceID := e.sequence.ID
	e.mu.Unlock()
	return TestState{
		Snapshot:   nav.Snapshot(),
		SequenceID: sequenceID,
		Surface:    e.bridge.Status(),
	}
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, navigation.ErrNoAnswers):
		return &UnavailableError{Message: "The quiz did not return the answers. Please try again."}
	case errors.Is(err, navigation.ErrWrongState), errors.Is(err, navigation.ErrNotMounted):
		return &ConflictError{Message: "The test is not in a state that allows this action"}
	case errors.Is(err, navigation.ErrUnknownUnit):
		return &NotFoundError{Message: "Unit not found"}
	}
	return err
}
