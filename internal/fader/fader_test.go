package fader

import (
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cadenza-audio/cadenza/internal/audio"
)

const tol = 1e-9

func TestDefaults(t *testing.T) {
	e := New()
	for i := audio.Track(0); i < audio.NumTracks; i++ {
		assert.Equal(t, DefaultValue, e.Get(i), "track %d", i)
	}
	assert.Equal(t, 0.0, e.Get(-1), "invalid track reads 0")
	assert.Equal(t, 0.0, e.Get(audio.NumTracks))
}

func TestImmediateJump(t *testing.T) {
	e := New()
	e.Ramp(audio.TrackBass, 0.25, 0, 5.0)
	assert.InDelta(t, 0.25, e.Get(audio.TrackBass), tol)
}

func TestLinearRampMidpointAndCompletion(t *testing.T) {
	e := New()
	e.Ramp(audio.TrackBeats, 0.0, 10, 0.0) // 1.0 -> 0.0 over 10 beats

	vals := e.Advance(5.0)
	assert.InDelta(t, 0.5, vals[audio.TrackBeats], tol, "midpoint")
	assert.InDelta(t, 0.5, e.Get(audio.TrackBeats), tol, "Get reflects last evaluation")

	vals = e.Advance(10.0)
	assert.Equal(t, 0.0, vals[audio.TrackBeats], "exact target at end beat")

	// Past the end the value stays pinned.
	vals = e.Advance(12.0)
	assert.Equal(t, 0.0, vals[audio.TrackBeats])
}

func TestRampStartsFromCurrentValue(t *testing.T) {
	e := New()
	e.Ramp(audio.TrackPads, 0.2, 0, 0)      // jump to 0.2
	e.Ramp(audio.TrackPads, 0.8, 6, 1.0)    // ramp 0.2 -> 0.8 over beats 1..7
	vals := e.Advance(4.0)                  // halfway
	assert.InDelta(t, 0.5, vals[audio.TrackPads], tol)
}

func TestClampPolicy(t *testing.T) {
	e := New()
	e.Ramp(audio.TrackMelody, 5.0, 1.0, 0.0)
	vals := e.Advance(1.0)
	assert.Equal(t, 1.0, vals[audio.TrackMelody], "target clamped to Max, not 5.0")

	e.Ramp(audio.TrackMelody, -3.0, 0, 1.0)
	assert.Equal(t, 0.0, e.Get(audio.TrackMelody), "target clamped to Min")
}

func TestNegativeDurationIsImmediate(t *testing.T) {
	e := New()
	e.Ramp(audio.TrackFX, 0.5, -2.0, 0.0)
	assert.InDelta(t, 0.5, e.Get(audio.TrackFX), tol)
}

// TestQueuedRampRushesToOriginalDeadline covers the documented queuing
// behavior: ramp(v1, 10) at beat 0, then ramp(v2, 20) at beat 3. The value
// follows the first ramp until beat 10, then runs linearly to v2 by beat 23.
func TestQueuedRampRushesToOriginalDeadline(t *testing.T) {
	e := New()
	tr := audio.TrackHarmony
	e.Ramp(tr, 0.0, 10, 0.0) // 1.0 -> 0.0 over beats 0..10

	e.Advance(3.0)
	e.Ramp(tr, 1.0, 20, 3.0) // wants to finish at beat 23

	// Still on the first ramp until its end.
	vals := e.Advance(8.0)
	assert.InDelta(t, 0.2, vals[tr], tol, "first ramp still in charge at beat 8")

	// After beat 10 the queued ramp runs from 0.0 at beat 10 to 1.0 at 23.
	vals = e.Advance(16.5)
	assert.InDelta(t, 0.5, vals[tr], tol, "queued ramp midpoint")

	vals = e.Advance(23.0)
	assert.Equal(t, 1.0, vals[tr], "queued ramp completes at the intended beat")
}

// TestQueuedRampExpiredDeadlineJumps: if the queued request's intended end
// beat has already passed when the active ramp completes, it applies
// immediately.
func TestQueuedRampExpiredDeadlineJumps(t *testing.T) {
	e := New()
	tr := audio.TrackTops
	e.Ramp(tr, 0.0, 10, 0.0)
	e.Ramp(tr, 0.75, 2, 3.0) // intended end at beat 5, before the active ramp ends

	vals := e.Advance(9.0)
	assert.InDelta(t, 0.1, vals[tr], tol, "active ramp unaffected by queued request")

	vals = e.Advance(10.0)
	assert.Equal(t, 0.75, vals[tr], "expired queued ramp applies immediately on completion")
}

// TestThirdRequestReplacesQueued: only the most recent queued request
// survives.
func TestThirdRequestReplacesQueued(t *testing.T) {
	e := New()
	tr := audio.TrackBass
	e.Ramp(tr, 0.0, 10, 0.0)
	e.Ramp(tr, 0.3, 20, 2.0) // queued, would end at 22
	e.Ramp(tr, 0.9, 30, 4.0) // replaces the previous queued request, ends at 34

	vals := e.Advance(10.0)
	assert.Equal(t, 0.0, vals[tr], "first ramp completed")

	// Promoted segment: 0.0 at beat 10 -> 0.9 at beat 34.
	vals = e.Advance(22.0)
	assert.InDelta(t, 0.45, vals[tr], tol, "replacement queued ramp in effect")

	vals = e.Advance(34.0)
	assert.Equal(t, 0.9, vals[tr])
}

// TestBlockGranularityDoesNotShiftQueuedSlope: promotion happening after
// the active ramp's end beat (the audio thread only looks at block
// boundaries) must not move the queued segment's start point.
func TestBlockGranularityDoesNotShiftQueuedSlope(t *testing.T) {
	e := New()
	tr := audio.TrackBeats
	e.Ramp(tr, 0.0, 10, 0.0)
	e.Ramp(tr, 1.0, 20, 3.0) // segment should be 0.0@10 -> 1.0@23

	// First evaluation after the boundary lands at beat 11.7.
	vals := e.Advance(11.7)
	want := (11.7 - 10.0) / (23.0 - 10.0)
	assert.InDelta(t, want, vals[tr], tol)
}

func TestAdvanceBeforeRampStartHoldsValue(t *testing.T) {
	e := New()
	e.Ramp(audio.TrackFX, 0.0, 4, 10.0)
	vals := e.Advance(9.0) // before the ramp's start beat
	assert.Equal(t, DefaultValue, vals[audio.TrackFX])
}

// TestConcurrentGetNeverTears hammers Get from two goroutines during an
// active ramp while a third advances. Every observed value must lie on the
// ramp's trajectory (between start and target); a torn read would not.
func TestConcurrentGetNeverTears(t *testing.T) {
	e := New()
	tr := audio.TrackMelody
	e.Ramp(tr, 0.0, 1000, 0.0)

	var wg sync.WaitGroup
	done := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for beat := 0.0; beat < 1000; beat += 0.25 {
			e.Advance(beat)
		}
		close(done)
	}()

	for r := 0; r < 2; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				v := e.Get(tr)
				if v < 0 || v > 1 || math.IsNaN(v) {
					t.Errorf("torn or out-of-range read: %v", v)
					return
				}
				select {
				case <-done:
					return
				default:
				}
			}
		}()
	}

	wg.Wait()
	require.Equal(t, 0.0, e.Advance(1000)[tr])
}

// TestConcurrentRampAndAdvance races the two contractual writers. The test
// passes if the race detector stays quiet and the final state is coherent.
func TestConcurrentRampAndAdvance(t *testing.T) {
	e := New()
	tr := audio.TrackBass

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 2000; i++ {
			e.Ramp(tr, float64(i%2), 1.0, float64(i))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 2000; i++ {
			e.Advance(float64(i) + 0.5)
		}
	}()
	wg.Wait()

	v := e.Get(tr)
	assert.True(t, v >= 0 && v <= 1, "final value in range: %v", v)
}
