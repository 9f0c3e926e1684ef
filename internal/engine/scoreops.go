package engine

import (
	"context"

	"github.com/cadenza-audio/cadenza/internal/audio"
	"github.com/cadenza-audio/cadenza/internal/request"
	"github.com/cadenza-audio/cadenza/internal/score"
)

// shuffleAllGroups sets the reshuffle bit for every track.
const shuffleAllGroups = uint8(1<<audio.NumTracks) - 1

// askScore registers the request and forwards it to the score, wiring the
// score's reply callback into the registry. Queries that never answer
// expire with a nil result.
func (e *Engine) askScore(id int64, tags []string, ask func(reply score.ReplyFunc)) error {
	if e.closed.Load() {
		return ErrClosed
	}
	err := e.registry.Register(request.Request{
		ID:      id,
		Tags:    tags,
		Timeout: e.asyncTimeout(),
	})
	if err != nil {
		return err
	}
	ask(func(result any) {
		e.registry.Fulfill(id, result)
	})
	return nil
}

// CuePlayback asks the score to transition to the experience and records
// the play locally.
func (e *Engine) CuePlayback(experienceID int64) {
	e.score.Cue(experienceID)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ctx, cancel := context.WithTimeout(e.ctx, e.asyncTimeout())
		defer cancel()
		if err := e.store.RecordPlay(ctx, experienceID); err != nil {
			e.log.WithError(err).WithField("experience", experienceID).
				Warn("play count update failed")
		}
	}()
}

// Shuffle reshuffles the content of every track whose bit is set in
// groups (bit 0 = Beats .. bit 6 = FX).
func (e *Engine) Shuffle(groups uint8) {
	e.score.Shuffle(groups)
}

// ShuffleAll reshuffles every track.
func (e *Engine) ShuffleAll() {
	e.score.Shuffle(shuffleAllGroups)
}

// OverrideNextSection forces the score's next section transition.
func (e *Engine) OverrideNextSection(sectionKey string) {
	e.score.OverrideNextSection(sectionKey)
}

// ScoreSliders asks the score for its slider definitions.
func (e *Engine) ScoreSliders(requestID int64) error {
	return e.askScore(requestID, []string{"score", "slider", "list"}, e.score.Sliders)
}

// ScoreSliderValue asks for one slider's current value. The score's
// reply carries a timestamp so hosts can discard answers that arrive out
// of order.
func (e *Engine) ScoreSliderValue(requestID, sliderID int64) error {
	if e.closed.Load() {
		return ErrClosed
	}
	err := e.registry.Register(request.Request{
		ID:      requestID,
		Tags:    []string{"score", "slider", "value"},
		Timeout: e.asyncTimeout(),
		Fields:  map[string]any{"sliderId": sliderID},
	})
	if err != nil {
		return err
	}
	e.score.SliderValue(sliderID, func(result any) {
		e.registry.Fulfill(requestID, result)
	})
	return nil
}

// SetScoreSliderValue sets one score slider.
func (e *Engine) SetScoreSliderValue(sliderID int64, value float64) {
	e.score.SetSliderValue(sliderID, value)
}

// SetupSystemSliders asks the score to (re)build its system slider set.
func (e *Engine) SetupSystemSliders() {
	e.score.SetupSystemSliders()
}

// SystemSliders asks the score for the system slider definitions.
func (e *Engine) SystemSliders(requestID int64) error {
	return e.askScore(requestID, []string{"system", "slider", "list"}, e.score.SystemSliders)
}

// SystemSliderValue asks for one system slider's current value.
func (e *Engine) SystemSliderValue(requestID int64, name string) error {
	return e.askScore(requestID, []string{"system", "slider", "value"},
		func(reply score.ReplyFunc) {
			e.score.SystemSliderValue(name, reply)
		})
}

// SetSystemSliderValue sets one system slider.
func (e *Engine) SetSystemSliderValue(name string, value float64) {
	e.score.SetSystemSliderValue(name, value)
}

// Thumbs feedback. The master variants address the whole mix; the track
// variants a single track.

func (e *Engine) ScoreThumbsUp()   { e.score.Thumbs(-1, true) }
func (e *Engine) ScoreThumbsDown() { e.score.Thumbs(-1, false) }

func (e *Engine) ScoreThumbsUpOnTrack(track int) error {
	if !audio.Track(track).Valid() {
		return ErrInvalidTrack
	}
	e.score.Thumbs(track, true)
	return nil
}

func (e *Engine) ScoreThumbsDownOnTrack(track int) error {
	if !audio.Track(track).Valid() {
		return ErrInvalidTrack
	}
	e.score.Thumbs(track, false)
	return nil
}

func (e *Engine) SystemThumbsUp()   { e.score.SystemThumbs(-1, true) }
func (e *Engine) SystemThumbsDown() { e.score.SystemThumbs(-1, false) }

func (e *Engine) SystemThumbsUpOnTrack(track int) error {
	if !audio.Track(track).Valid() {
		return ErrInvalidTrack
	}
	e.score.SystemThumbs(track, true)
	return nil
}

func (e *Engine) SystemThumbsDownOnTrack(track int) error {
	if !audio.Track(track).Valid() {
		return ErrInvalidTrack
	}
	e.score.SystemThumbs(track, false)
	return nil
}

// CurrentlyPlayingThemes asks the score which themes are sounding now.
func (e *Engine) CurrentlyPlayingThemes(requestID int64) error {
	return e.askScore(requestID, []string{"response", "playing", "themes"}, e.score.PlayingThemes)
}

// CurrentlyPlayingSection asks the score for the active section.
func (e *Engine) CurrentlyPlayingSection(requestID int64) error {
	return e.askScore(requestID, []string{"response", "playing", "section"}, e.score.PlayingSection)
}

// CurrentlyPlayingExperience asks the score for the cued experience.
func (e *Engine) CurrentlyPlayingExperience(requestID int64) error {
	return e.askScore(requestID, []string{"response", "playing", "experience"}, e.score.PlayingExperience)
}
