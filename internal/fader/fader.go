// Package fader implements per-track user fader automation with linear
// ramps scheduled in beat time.
//
// Two threads touch a fader concurrently: the control/host thread schedules
// ramps and reads values, and the audio thread evaluates ramps every render
// block. State is therefore held as an immutable snapshot per track behind
// an atomic pointer and updated with CAS retry loops; no path ever takes a
// lock the audio thread could contend with.
package fader

import (
	"sync/atomic"

	"github.com/cadenza-audio/cadenza/internal/audio"
)

const (
	// Min and Max bound the valid fader range. Targets outside the range
	// are clamped, not rejected.
	Min = 0.0
	Max = 1.0

	// DefaultValue is where every fader starts: unity, no attenuation.
	DefaultValue = 1.0
)

// ramp is an in-flight linear transition.
type ramp struct {
	startValue  float64
	targetValue float64
	startBeat   float64
	endBeat     float64 // endBeat >= startBeat; equal means instantaneous
}

// queued is a ramp request waiting behind an active ramp. Only the target
// and the originally intended end beat survive; the start point is decided
// when the active ramp completes.
type queued struct {
	targetValue float64
	endBeat     float64
}

// state is the published per-track snapshot. value is always defined and
// is the single source of truth the audio thread mixes with.
type state struct {
	value  float64
	active *ramp
	queued *queued // non-nil only while active is non-nil
}

// Engine holds the user faders for all seven tracks.
type Engine struct {
	tracks [audio.NumTracks]atomic.Pointer[state]
}

// New creates a fader engine with every track at DefaultValue.
func New() *Engine {
	e := &Engine{}
	for i := range e.tracks {
		e.tracks[i].Store(&state{value: DefaultValue})
	}
	return e
}

// Get returns the current value for the track. Safe from any thread,
// including the audio thread. Out-of-range tracks read as 0.
func (e *Engine) Get(track audio.Track) float64 {
	if !track.Valid() {
		return 0
	}
	return e.tracks[track].Load().value
}

// Values returns all seven fader values as one pass over the snapshots.
func (e *Engine) Values() [audio.NumTracks]float64 {
	var out [audio.NumTracks]float64
	for i := range e.tracks {
		out[i] = e.tracks[i].Load().value
	}
	return out
}

// Ramp schedules a linear transition of the track's fader to target over
// durationBeats, starting at nowBeat.
//
// If no ramp is active the transition starts immediately from the current
// value. If a ramp is already active the request is queued behind it: when
// the active ramp reaches its end beat, the queued ramp rushes linearly to
// its target in whatever remains of its originally intended window, or
// jumps straight to the target if that window has already closed. At most
// one request is queued; a newer request silently replaces an older queued
// one.
//
// Targets are clamped to [Min, Max]. Negative durations are treated as 0.
// Invalid tracks are ignored.
func (e *Engine) Ramp(track audio.Track, target, durationBeats, nowBeat float64) {
	if !track.Valid() {
		return
	}
	target = audio.Clamp(target, Min, Max)
	if durationBeats < 0 {
		durationBeats = 0
	}

	slot := &e.tracks[track]
	for {
		old := slot.Load()
		next := &state{value: old.value, active: old.active, queued: old.queued}

		if old.active == nil {
			if durationBeats == 0 {
				next.value = target
			} else {
				next.active = &ramp{
					startValue:  old.value,
					targetValue: target,
					startBeat:   nowBeat,
					endBeat:     nowBeat + durationBeats,
				}
			}
		} else {
			// Most recent queued request wins; any previously queued
			// request is discarded.
			next.queued = &queued{targetValue: target, endBeat: nowBeat + durationBeats}
		}

		if slot.CompareAndSwap(old, next) {
			return
		}
	}
}

// Advance evaluates every track at nowBeat and returns the resulting
// values. The audio thread calls this once per render block before mixing.
func (e *Engine) Advance(nowBeat float64) [audio.NumTracks]float64 {
	var out [audio.NumTracks]float64
	for i := range e.tracks {
		out[i] = advanceTrack(&e.tracks[i], nowBeat)
	}
	return out
}

func advanceTrack(slot *trackSlot, nowBeat float64) float64 {
	for {
		old := slot.Load()
		if old.active == nil {
			return old.value
		}

		next := evaluate(old, nowBeat)
		if next == old {
			return old.value
		}
		if slot.CompareAndSwap(old, next) {
			return next.value
		}
	}
}

// evaluate computes the successor state of s at nowBeat, or returns s
// unchanged if nothing moved.
func evaluate(s *state, nowBeat float64) *state {
	r := s.active
	if nowBeat < r.endBeat {
		if nowBeat <= r.startBeat {
			return s
		}
		frac := (nowBeat - r.startBeat) / (r.endBeat - r.startBeat)
		return &state{
			value:  audio.Lerp(r.startValue, r.targetValue, frac),
			active: r,
			queued: s.queued,
		}
	}

	// Ramp complete: snap to target, then promote a queued request. The
	// queued ramp begins at the completed ramp's end beat, not at the
	// evaluation instant, so block granularity does not shift its slope.
	next := &state{value: r.targetValue}
	if q := s.queued; q != nil {
		if q.endBeat > r.endBeat {
			next.active = &ramp{
				startValue:  r.targetValue,
				targetValue: q.targetValue,
				startBeat:   r.endBeat,
				endBeat:     q.endBeat,
			}
			// The promoted ramp may itself already be partway done (or
			// finished) by nowBeat.
			return evaluateOrSelf(next, nowBeat)
		}
		// Intended end beat already passed: apply immediately.
		next.value = q.targetValue
	}
	return next
}

func evaluateOrSelf(s *state, nowBeat float64) *state {
	if s.active == nil {
		return s
	}
	if out := evaluate(s, nowBeat); out != s {
		return out
	}
	return s
}

// trackSlot aliases the atomic pointer so helpers read naturally.
type trackSlot = atomic.Pointer[state]
