// Package clock provides the musical-time source for the engine.
//
// The clock advances only as a side effect of audio being rendered: the
// render path calls Advance with the number of frames it just consumed.
// Everything else in the engine reads time through Now, which returns a
// single consistent snapshot so the beat, tempo, frame count and wall time
// always describe the same instant.
package clock

import (
	"sync/atomic"
	"time"

	"github.com/cadenza-audio/cadenza/internal/audio"
)

// Snapshot is an immutable view of musical time at one instant.
type Snapshot struct {
	Beat    float64 // beat position since the clock started
	Tempo   float64 // beats per minute
	Frame   int64   // sample frames rendered since the clock started
	Seconds float64 // rendered time, Frame / SampleRate
	Unix    int64   // wall clock at the last advance, unix milliseconds
}

// Clock is the monotonic beat clock. It never moves backwards and only
// advances through Advance. Reads never block and never tear: the state is
// published as an immutable snapshot behind an atomic pointer.
type Clock struct {
	state atomic.Pointer[Snapshot]
}

// New creates a clock at beat zero with the given tempo in BPM.
func New(tempo float64) *Clock {
	if tempo <= 0 {
		tempo = 120
	}
	c := &Clock{}
	c.state.Store(&Snapshot{Tempo: tempo, Unix: time.Now().UnixMilli()})
	return c
}

// Now returns the current snapshot. Safe from any thread.
func (c *Clock) Now() Snapshot {
	return *c.state.Load()
}

// Advance moves the clock forward by the given number of rendered frames
// and returns the post-advance snapshot. Only the render path calls this.
func (c *Clock) Advance(frames int) Snapshot {
	unix := time.Now().UnixMilli()
	for {
		old := c.state.Load()
		next := &Snapshot{
			Beat:  old.Beat + float64(frames)*old.Tempo/(60*audio.SampleRate),
			Tempo: old.Tempo,
			Frame: old.Frame + int64(frames),
			Unix:  unix,
		}
		next.Seconds = float64(next.Frame) / audio.SampleRate
		if c.state.CompareAndSwap(old, next) {
			return *next
		}
	}
}

// SetTempo changes the tempo without disturbing the beat position. Control
// thread only; the render thread is the only other writer, so a CAS retry
// loop is sufficient.
func (c *Clock) SetTempo(bpm float64) {
	if bpm <= 0 {
		return
	}
	for {
		old := c.state.Load()
		next := *old
		next.Tempo = bpm
		if c.state.CompareAndSwap(old, &next) {
			return
		}
	}
}
