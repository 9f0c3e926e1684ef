package engine

import (
	"math"
	"sync/atomic"

	"github.com/cadenza-audio/cadenza/internal/audio"
	"github.com/cadenza-audio/cadenza/internal/clock"
)

type tickKind uint8

const (
	tickTransport tickKind = iota
	tickRMS
)

// tick crosses from the render thread to the control goroutine. beat is
// the scheduled grid position; snap is the block-end clock state.
type tick struct {
	kind tickKind
	beat float64
	snap clock.Snapshot
	rms  [audio.NumTracks]float64
}

// subState is an immutable subscription snapshot. The control thread
// publishes a fresh one on every start/stop; gen bumps on each start so
// the render thread re-anchors its schedule instead of continuing an old
// one.
type subState struct {
	active bool
	period float64
	gen    uint64
}

type subscription struct {
	state atomic.Pointer[subState]
}

func (s *subscription) init() {
	s.state.Store(&subState{})
}

func (s *subscription) start(beatPeriod float64) error {
	if beatPeriod <= 0 || math.IsNaN(beatPeriod) || math.IsInf(beatPeriod, 0) {
		return ErrInvalidPeriod
	}
	cur := s.state.Load()
	if cur.active {
		if cur.period == beatPeriod {
			return nil
		}
		return ErrSubscriptionActive
	}
	s.state.Store(&subState{active: true, period: beatPeriod, gen: cur.gen + 1})
	return nil
}

func (s *subscription) stop() {
	cur := s.state.Load()
	if !cur.active {
		return
	}
	s.state.Store(&subState{gen: cur.gen})
}

// subTracker is the render thread's view of one subscription schedule.
type subTracker struct {
	gen  uint64
	next float64
}

// anchor aligns the tracker to the subscription grid the first time it
// sees a new generation. Ticks land on multiples of the period, starting
// strictly after the current beat.
func (t *subTracker) anchor(s *subState, nowBeat float64) {
	if t.gen == s.gen {
		return
	}
	t.gen = s.gen
	t.next = math.Ceil(nowBeat/s.period) * s.period
	if t.next <= nowBeat {
		t.next += s.period
	}
}

// StartTransportMsgs begins periodic beat/transport notifications every
// beatPeriod beats. Restarting with the same period is a no-op; changing
// the period requires a stop first.
func (e *Engine) StartTransportMsgs(beatPeriod float64) error {
	return e.transport.start(beatPeriod)
}

// StopTransportMsgs halts transport notifications. Ticks already queued
// are discarded by the control goroutine.
func (e *Engine) StopTransportMsgs() {
	e.transport.stop()
}

// StartRMSMsgs begins periodic post-fader RMS notifications, one value
// per track, computed over the samples since the previous RMS tick.
func (e *Engine) StartRMSMsgs(beatPeriod float64) error {
	return e.rms.start(beatPeriod)
}

// StopRMSMsgs halts RMS notifications.
func (e *Engine) StopRMSMsgs() {
	e.rms.stop()
}
