package engine

import (
	"context"

	"github.com/cadenza-audio/cadenza/internal/request"
)

// startAsync registers the request id and runs work on its own goroutine.
// Whatever work returns becomes the completion result; if it never
// returns in time the registry expires the id with timeoutResult.
func (e *Engine) startAsync(id int64, tags []string, fields map[string]any, timeoutResult any, work func(ctx context.Context) any) error {
	if e.closed.Load() {
		return ErrClosed
	}
	err := e.registry.Register(request.Request{
		ID:            id,
		Tags:          tags,
		Timeout:       e.asyncTimeout(),
		Fields:        fields,
		TimeoutResult: timeoutResult,
	})
	if err != nil {
		return err
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ctx, cancel := context.WithTimeout(e.ctx, e.asyncTimeout())
		defer cancel()
		e.registry.Fulfill(id, work(ctx))
	}()
	return nil
}

// CacheExperienceList refreshes the local experience table from mother.
// Completes as {tags:["download","experiences"], request, result:bool}.
func (e *Engine) CacheExperienceList(requestID int64) error {
	return e.startAsync(requestID, []string{"download", "experiences"}, nil, false,
		func(ctx context.Context) any {
			list, err := e.syncer.FetchExperiences(ctx)
			if err != nil {
				e.log.WithError(err).Warn("experience list download failed")
				return false
			}
			if err := e.store.ReplaceExperiences(ctx, list); err != nil {
				e.log.WithError(err).Error("experience list cache failed")
				return false
			}
			return true
		})
}

// CacheArtistList refreshes the local artist table from mother.
func (e *Engine) CacheArtistList(requestID int64) error {
	return e.startAsync(requestID, []string{"download", "artists"}, nil, false,
		func(ctx context.Context) any {
			list, err := e.syncer.FetchArtists(ctx)
			if err != nil {
				e.log.WithError(err).Warn("artist list download failed")
				return false
			}
			if err := e.store.ReplaceArtists(ctx, list); err != nil {
				e.log.WithError(err).Error("artist list cache failed")
				return false
			}
			return true
		})
}

// CacheExperienceMetadata downloads one experience's theme metadata into
// the daughter cache. The completion notification carries the experience
// id so the host can match it without the request id.
func (e *Engine) CacheExperienceMetadata(requestID, experienceID int64) error {
	fields := map[string]any{"experienceId": experienceID}
	return e.startAsync(requestID, []string{"download", "metadata"}, fields, false,
		func(ctx context.Context) any {
			themes, err := e.syncer.FetchExperienceMetadata(ctx, experienceID)
			if err != nil {
				e.log.WithError(err).WithField("experience", experienceID).
					Warn("metadata download failed")
				return false
			}
			if err := e.store.CacheMetadata(ctx, experienceID, themes); err != nil {
				e.log.WithError(err).WithField("experience", experienceID).
					Error("metadata cache failed")
				return false
			}
			return true
		})
}

// DownloadUserPreferences pulls the cloud preferences document and merges
// it into the local one. Local values win on conflict.
func (e *Engine) DownloadUserPreferences(requestID int64) error {
	return e.startAsync(requestID, []string{"download", "user_preferences"}, nil, false,
		func(ctx context.Context) any {
			prefs, err := e.syncer.FetchPreferences(ctx)
			if err != nil {
				e.log.WithError(err).Warn("preferences download failed")
				return false
			}
			if err := e.store.MergePreferences(ctx, e.currentUser(), prefs); err != nil {
				e.log.WithError(err).Error("preferences merge failed")
				return false
			}
			return true
		})
}

// UploadUserPreferences pushes the local preferences document to mother.
func (e *Engine) UploadUserPreferences(requestID int64) error {
	return e.startAsync(requestID, []string{"upload", "user_preferences"}, nil, false,
		func(ctx context.Context) any {
			prefs, err := e.store.Preferences(ctx, e.currentUser())
			if err != nil {
				e.log.WithError(err).Error("preferences read failed")
				return false
			}
			if err := e.syncer.PushPreferences(ctx, prefs); err != nil {
				e.log.WithError(err).Warn("preferences upload failed")
				return false
			}
			return true
		})
}
