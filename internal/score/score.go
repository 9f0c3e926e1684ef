// Package score defines the contract between the engine and the
// generative composition collaborator. The engine treats the score as a
// black box: it supplies musical time and fader state, receives per-track
// audio, and forwards interactive commands and queries. Composition logic
// itself lives entirely behind this interface.
package score

import (
	"github.com/cadenza-audio/cadenza/internal/audio"
	"github.com/cadenza-audio/cadenza/internal/clock"
)

// ReplyFunc receives the result of an asynchronous score query. The score
// may invoke it from any of its own goroutines; the engine routes the
// result through its request registry.
type ReplyFunc func(result any)

// Slider describes one macro control exposed by a score or by the system.
type Slider struct {
	ID            int64     `json:"id,omitempty"`
	Name          string    `json:"name"`
	Description   string    `json:"description,omitempty"`
	Limits        [2]float64 `json:"limits"`
	TemporalScope string    `json:"temporalScope,omitempty"`
}

// Score is the composition collaborator.
//
// RenderBlock is called from the real-time audio thread and must not
// block, allocate unboundedly, or touch the network or disk; everything it
// needs has to be prepared ahead of time on its own goroutines. All other
// methods are invoked from the engine's control thread and must return
// promptly, delivering query results later through the supplied ReplyFunc.
type Score interface {
	// RenderBlock fills out[track] with 2*frames interleaved float32
	// samples of pre-fader audio for each of the seven tracks. A non-nil
	// error marks the block as best-effort; the engine ships whatever was
	// written (or silence) and keeps pulling.
	RenderBlock(now clock.Snapshot, faders [audio.NumTracks]float64, frames int, out *[audio.NumTracks][]float32) error

	// Playback.
	Cue(experienceID int64)
	Shuffle(groups uint8) // bit i set = reshuffle track i
	OverrideNextSection(sectionKey string)

	// Score-defined sliders.
	Sliders(reply ReplyFunc)
	SliderValue(id int64, reply ReplyFunc)
	SetSliderValue(id int64, value float64)

	// System sliders (progression, intensity, texture, vocals).
	SetupSystemSliders()
	SystemSliders(reply ReplyFunc)
	SystemSliderValue(name string, reply ReplyFunc)
	SetSystemSliderValue(name string, value float64)

	// Feedback. track < 0 addresses the master.
	Thumbs(track int, up bool)
	SystemThumbs(track int, up bool)

	// Currently-playing queries.
	PlayingThemes(reply ReplyFunc)
	PlayingSection(reply ReplyFunc)
	PlayingExperience(reply ReplyFunc)
}
