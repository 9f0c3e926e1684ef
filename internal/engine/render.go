package engine

import (
	"math"

	"github.com/cadenza-audio/cadenza/internal/audio"
	"github.com/cadenza-audio/cadenza/internal/clock"
)

// Render fills buf with frameCount frames of interleaved stereo master
// audio and advances musical time by exactly frameCount frames. This is
// the one real-time-safe entry point: it takes no locks, performs no I/O
// and never blocks. Steady-state calls do not allocate; scratch buffers
// grow only when the host raises its block size.
func (e *Engine) Render(buf []float32, frameCount uint32) int32 {
	frames := int(frameCount)
	want := frames * audio.Channels
	if len(buf) < want {
		return RenderShortBuffer
	}
	out := buf[:want]
	for i := range out {
		out[i] = 0
	}
	if frames == 0 {
		return RenderOK
	}

	now := e.clock.Now()
	gains := e.faders.Advance(now.Beat)
	e.prepareScratch(want)

	code := RenderOK
	if err := e.score.RenderBlock(now, gains, frames, &e.trackBufs); err != nil {
		code = RenderScoreFault
	}

	for t := 0; t < audio.NumTracks; t++ {
		g := float32(gains[t])
		tb := e.trackBufs[t][:want]
		var sum float64
		for i, s := range tb {
			v := s * g
			out[i] += v
			sum += float64(v) * float64(v)
		}
		e.sumsq[t] += sum
	}
	e.sumsqN += want

	after := e.clock.Advance(frames)
	e.emitTicks(now, after)
	return code
}

// prepareScratch zeroes the per-track buffers, growing them if the block
// size went up. A faulting score then contributes silence, not the
// previous block.
func (e *Engine) prepareScratch(samples int) {
	if cap(e.trackBufs[0]) < samples {
		for t := range e.trackBufs {
			e.trackBufs[t] = make([]float32, samples)
		}
		return
	}
	for t := range e.trackBufs {
		tb := e.trackBufs[t][:samples]
		for i := range tb {
			tb[i] = 0
		}
		e.trackBufs[t] = tb
	}
}

// emitTicks schedules transport and RMS ticks that fall inside the block
// just rendered, (before.Beat, after.Beat].
func (e *Engine) emitTicks(before, after clock.Snapshot) {
	if s := e.transport.state.Load(); s.active {
		e.transportTrk.anchor(s, before.Beat)
		for e.transportTrk.next <= after.Beat {
			e.sendTick(tick{kind: tickTransport, beat: e.transportTrk.next, snap: after})
			e.transportTrk.next += s.period
		}
	}
	if s := e.rms.state.Load(); s.active {
		e.rmsTrk.anchor(s, before.Beat)
		for e.rmsTrk.next <= after.Beat {
			t := tick{kind: tickRMS, beat: e.rmsTrk.next, snap: after}
			n := e.sumsqN
			if n > 0 {
				for i := range t.rms {
					t.rms[i] = math.Sqrt(e.sumsq[i] / float64(n))
				}
			}
			e.sumsq = [audio.NumTracks]float64{}
			e.sumsqN = 0
			e.sendTick(t)
			e.rmsTrk.next += s.period
		}
	}
}

// sendTick hands a tick to the control goroutine. Full queue means the
// control thread is behind; the tick is dropped, never waited on.
func (e *Engine) sendTick(t tick) {
	select {
	case e.ticks <- t:
	default:
	}
}
