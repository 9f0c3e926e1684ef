package score

import (
	"time"

	"github.com/cadenza-audio/cadenza/internal/audio"
	"github.com/cadenza-audio/cadenza/internal/clock"
)

// Silent is the built-in no-op score: it renders silence and answers every
// query with an empty result. It keeps the engine fully operational before
// a real composition collaborator is attached.
type Silent struct{}

var _ Score = Silent{}

// RenderBlock zeroes every track buffer.
func (Silent) RenderBlock(_ clock.Snapshot, _ [audio.NumTracks]float64, frames int, out *[audio.NumTracks][]float32) error {
	for t := range out {
		buf := out[t][:2*frames]
		for i := range buf {
			buf[i] = 0
		}
	}
	return nil
}

func (Silent) Cue(int64)                   {}
func (Silent) Shuffle(uint8)               {}
func (Silent) OverrideNextSection(string)  {}
func (Silent) SetSliderValue(int64, float64) {}
func (Silent) SetupSystemSliders()         {}
func (Silent) SetSystemSliderValue(string, float64) {}
func (Silent) Thumbs(int, bool)            {}
func (Silent) SystemThumbs(int, bool)      {}

func (Silent) Sliders(reply ReplyFunc)       { reply([]Slider{}) }
func (Silent) SystemSliders(reply ReplyFunc) { reply([]Slider{}) }

func (Silent) SliderValue(id int64, reply ReplyFunc) {
	reply(map[string]any{"id": id, "time": time.Now().UnixMilli(), "value": 0.0})
}

func (Silent) SystemSliderValue(name string, reply ReplyFunc) {
	reply(map[string]any{"name": name, "time": time.Now().UnixMilli(), "value": 0.0})
}

func (Silent) PlayingThemes(reply ReplyFunc) {
	reply([audio.NumTracks]*int64{})
}

func (Silent) PlayingSection(reply ReplyFunc)    { reply(nil) }
func (Silent) PlayingExperience(reply ReplyFunc) { reply(nil) }
