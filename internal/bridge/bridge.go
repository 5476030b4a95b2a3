// Package bridge implements the request/response protocol used to pull the
// learner's answers out of the embedded quiz surface. The channel underneath
// gives no delivery guarantee, so every request carries a timeout and late
// replies are matched against the unit currently in view.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"mocktest-backend/internal/models"
)

var (
	ErrTimeout        = errors.New("bridge: quiz surface did not reply")
	ErrRequestPending = errors.New("bridge: another answer request is pending")
	ErrAbandoned      = errors.New("bridge: answer request abandoned")
)

// Channel delivers messages to the quiz surface.
type Channel interface {
	Send(ctx context.Context, msg Message) error
}

// Status is what the host knows about the quiz surface.
type Status struct {
	Ready      bool `json:"ready"`
	Submitting bool `json:"submitting"`
	HasAudio   bool `json:"has_audio"`
}

type pending struct {
	unitID string
	done   chan struct{}
	// Set before done is closed.
	answers   []models.QuizAnswer
	delivered bool
}

type Bridge struct {
	timeout time.Duration

	mu         sync.Mutex
	ch         Channel
	activeUnit string
	pending    *pending
	status     Status
	onReady    []func()
}

// New creates a bridge. A zero timeout waits until the caller's context ends.
func New(ch Channel, timeout time.Duration) *Bridge {
	return &Bridge{ch: ch, timeout: timeout}
}

// Attach replaces the channel, e.g. when the quiz surface reconnects.
func (b *Bridge) Attach(ch Channel) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ch = ch
	b.status = Status{}
}

// Detach drops ch if it is still the attached channel. A newer connection
// that replaced it stays attached.
func (b *Bridge) Detach(ch Channel) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ch == ch {
		b.ch = nil
		b.status = Status{}
	}
}

// OnReady registers fn to run each time the quiz surface reports ready.
func (b *Bridge) OnReady(fn func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onReady = append(b.onReady, fn)
}

func (b *Bridge) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

func (b *Bridge) ActiveUnit() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.activeUnit
}

// SetActiveUnit switches the unit in view. A pending request for another unit
// is abandoned and its reply, if it ever arrives, is ignored.
func (b *Bridge) SetActiveUnit(unitID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.activeUnit == unitID {
		return
	}
	b.activeUnit = unitID
	b.status.Submitting = false
	if b.pending != nil && b.pending.unitID != unitID {
		b.abandonLocked()
	}
}

// RequestAnswers sends one getAnswers message for unitID and waits for the
// reply. Callers asking for the same unit while a request is outstanding share
// it instead of sending a second message.
func (b *Bridge) RequestAnswers(ctx context.Context, unitID string) ([]models.QuizAnswer, error) {
	b.mu.Lock()
	if unitID != b.activeUnit {
		b.mu.Unlock()
		return nil, ErrAbandoned
	}
	p := b.pending
	if p != nil && p.unitID != unitID {
		b.mu.Unlock()
		return nil, ErrRequestPending
	}
	if p == nil {
		p = &pending{unitID: unitID, done: make(chan struct{})}
		b.pending = p
		ch := b.ch
		b.mu.Unlock()

		if err := b.send(ctx, ch, TagGetAnswers, GetAnswersPayload{UnitID: unitID}); err != nil {
			b.release(p)
			return nil, err
		}
	} else {
		b.mu.Unlock()
	}

	var timeout <-chan time.Time
	if b.timeout > 0 {
		t := time.NewTimer(b.timeout)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case <-p.done:
		if !p.delivered {
			return nil, ErrAbandoned
		}
		return p.answers, nil
	case <-timeout:
		b.release(p)
		return nil, ErrTimeout
	case <-ctx.Done():
		b.release(p)
		return nil, fmt.Errorf("%w: %v", ErrAbandoned, ctx.Err())
	}
}

// PushConfig tells the quiz surface how many questions to display.
func (b *Bridge) PushConfig(ctx context.Context, totalQuestions int) error {
	b.mu.Lock()
	ch := b.ch
	b.mu.Unlock()
	return b.send(ctx, ch, TagConfig, ConfigPayload{TotalQuestions: totalQuestions})
}

// Deliver handles one raw message from the quiz surface. Malformed or
// unexpected messages are dropped and reported as false.
func (b *Bridge) Deliver(raw []byte) bool {
	msg, ok := parse(raw)
	if !ok {
		return false
	}

	b.mu.Lock()
	switch msg.tag {
	case TagReady:
		b.status.Ready = true
		fns := b.onReady
		b.mu.Unlock()
		for _, fn := range fns {
			fn()
		}
		return true
	case TagSubmitStart:
		b.status.Submitting = true
	case TagSubmitDone:
		b.status.Submitting = false
	case TagMeta:
		b.status.HasAudio = msg.hasAudio
	case TagAnswers:
		p := b.pending
		if p == nil || p.unitID != b.activeUnit || (msg.unitID != "" && msg.unitID != p.unitID) {
			b.mu.Unlock()
			return false
		}
		p.answers, p.delivered = msg.answers, true
		b.pending = nil
		close(p.done)
	}
	b.mu.Unlock()
	return true
}

func (b *Bridge) send(ctx context.Context, ch Channel, tag string, payload interface{}) error {
	if ch == nil {
		return fmt.Errorf("bridge: quiz surface not connected")
	}
	msg, err := encode(tag, payload)
	if err != nil {
		return fmt.Errorf("bridge: encode %s: %w", tag, err)
	}
	if err := ch.Send(ctx, msg); err != nil {
		return fmt.Errorf("bridge: send %s: %w", tag, err)
	}
	return nil
}

// release drops p if it is still the pending request.
func (b *Bridge) release(p *pending) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pending == p {
		b.abandonLocked()
	}
}

func (b *Bridge) abandonLocked() {
	close(b.pending.done)
	b.pending = nil
}

// ChannelFunc adapts a function to Channel.
type ChannelFunc func(ctx context.Context, msg Message) error

func (f ChannelFunc) Send(ctx context.Context, msg Message) error { return f(ctx, msg) }
