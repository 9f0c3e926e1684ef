package engine

import (
	"context"
	"encoding/json"
)

// Local queries against the daughter cache. Sync variants return JSON
// strings the host can hand straight to its UI layer; async variants
// resolve through the registry with ["response", ...] tags and carry the
// decoded value as the result. force routes through mother first, falling
// back to whatever is cached when the network fails.

// ExperiencesGetAll returns the cached experience list as JSON.
func (e *Engine) ExperiencesGetAll(ctx context.Context, force bool) (string, error) {
	if force {
		e.refreshExperiences(ctx)
	}
	list, err := e.store.Experiences(ctx)
	if err != nil {
		return "", err
	}
	return marshalString(list)
}

// ExperiencesGetAllAsync is the async form of ExperiencesGetAll.
func (e *Engine) ExperiencesGetAllAsync(requestID int64, force bool) error {
	return e.startAsync(requestID, []string{"response", "experiences"}, nil, nil,
		func(ctx context.Context) any {
			if force {
				e.refreshExperiences(ctx)
			}
			list, err := e.store.Experiences(ctx)
			if err != nil {
				e.log.WithError(err).Error("experience list query failed")
				return nil
			}
			return list
		})
}

// ExperiencesGet returns one cached experience as JSON.
func (e *Engine) ExperiencesGet(ctx context.Context, id int64, force bool) (string, error) {
	if force {
		e.refreshExperiences(ctx)
	}
	exp, err := e.store.Experience(ctx, id)
	if err != nil {
		return "", err
	}
	return marshalString(exp)
}

// ExperiencesGetAsync is the async form of ExperiencesGet.
func (e *Engine) ExperiencesGetAsync(requestID, id int64, force bool) error {
	fields := map[string]any{"experienceId": id}
	return e.startAsync(requestID, []string{"response", "experience"}, fields, nil,
		func(ctx context.Context) any {
			if force {
				e.refreshExperiences(ctx)
			}
			exp, err := e.store.Experience(ctx, id)
			if err != nil {
				e.log.WithError(err).WithField("experience", id).Error("experience query failed")
				return nil
			}
			return exp
		})
}

// ArtistsGetAll returns the cached artist list as JSON.
func (e *Engine) ArtistsGetAll(ctx context.Context, force bool) (string, error) {
	if force {
		e.refreshArtists(ctx)
	}
	list, err := e.store.Artists(ctx)
	if err != nil {
		return "", err
	}
	return marshalString(list)
}

// ArtistsGetAllAsync is the async form of ArtistsGetAll.
func (e *Engine) ArtistsGetAllAsync(requestID int64, force bool) error {
	return e.startAsync(requestID, []string{"response", "artists"}, nil, nil,
		func(ctx context.Context) any {
			if force {
				e.refreshArtists(ctx)
			}
			list, err := e.store.Artists(ctx)
			if err != nil {
				e.log.WithError(err).Error("artist list query failed")
				return nil
			}
			return list
		})
}

// ArtistsGet returns one cached artist as JSON.
func (e *Engine) ArtistsGet(ctx context.Context, id int64, force bool) (string, error) {
	if force {
		e.refreshArtists(ctx)
	}
	artist, err := e.store.ArtistByID(ctx, id)
	if err != nil {
		return "", err
	}
	return marshalString(artist)
}

// ArtistsGetAsync is the async form of ArtistsGet.
func (e *Engine) ArtistsGetAsync(requestID, id int64, force bool) error {
	fields := map[string]any{"artistId": id}
	return e.startAsync(requestID, []string{"response", "artist"}, fields, nil,
		func(ctx context.Context) any {
			if force {
				e.refreshArtists(ctx)
			}
			artist, err := e.store.ArtistByID(ctx, id)
			if err != nil {
				e.log.WithError(err).WithField("artist", id).Error("artist query failed")
				return nil
			}
			return artist
		})
}

// ExperienceThemeCount returns how many themes the cached metadata lists
// for the experience.
func (e *Engine) ExperienceThemeCount(ctx context.Context, id int64) (int, error) {
	return e.store.ThemeCount(ctx, id)
}

// ExperienceThemeCountAsync is the async form of ExperienceThemeCount.
func (e *Engine) ExperienceThemeCountAsync(requestID, id int64) error {
	fields := map[string]any{"experienceId": id}
	return e.startAsync(requestID, []string{"response", "experience", "theme_count"}, fields, nil,
		func(ctx context.Context) any {
			n, err := e.store.ThemeCount(ctx, id)
			if err != nil {
				e.log.WithError(err).Error("theme count query failed")
				return nil
			}
			return n
		})
}

// ExperiencePlayCount returns plays of the experience in the current and
// previous month.
func (e *Engine) ExperiencePlayCount(ctx context.Context, id int64) (int64, error) {
	return e.store.PlayCount(ctx, id)
}

// ExperiencePlayCountAsync is the async form of ExperiencePlayCount.
func (e *Engine) ExperiencePlayCountAsync(requestID, id int64) error {
	fields := map[string]any{"experienceId": id}
	return e.startAsync(requestID, []string{"response", "experience", "play_count"}, fields, nil,
		func(ctx context.Context) any {
			n, err := e.store.PlayCount(ctx, id)
			if err != nil {
				e.log.WithError(err).Error("play count query failed")
				return nil
			}
			return n
		})
}

// MetadataIsCached reports whether the experience's theme metadata has
// been downloaded.
func (e *Engine) MetadataIsCached(ctx context.Context, id int64) (bool, error) {
	return e.store.MetadataCached(ctx, id)
}

// MetadataIsCachedAsync is the async form of MetadataIsCached.
func (e *Engine) MetadataIsCachedAsync(requestID, id int64) error {
	fields := map[string]any{"experienceId": id}
	return e.startAsync(requestID, []string{"response", "experience", "metadata_cached"}, fields, nil,
		func(ctx context.Context) any {
			cached, err := e.store.MetadataCached(ctx, id)
			if err != nil {
				e.log.WithError(err).Error("metadata cached query failed")
				return nil
			}
			return cached
		})
}

// LocalThemeCount returns theme/downloaded counts for one experience as
// JSON.
func (e *Engine) LocalThemeCount(ctx context.Context, id int64) (string, error) {
	counts, err := e.store.LocalThemeCount(ctx, id)
	if err != nil {
		return "", err
	}
	return marshalString(counts)
}

// LocalThemeCountAsync is the async form of LocalThemeCount.
func (e *Engine) LocalThemeCountAsync(requestID, id int64) error {
	fields := map[string]any{"experienceId": id}
	return e.startAsync(requestID, []string{"response", "experience", "local_theme_count"}, fields, nil,
		func(ctx context.Context) any {
			counts, err := e.store.LocalThemeCount(ctx, id)
			if err != nil {
				e.log.WithError(err).Error("local theme count query failed")
				return nil
			}
			return counts
		})
}

// LocalThemeCounts returns counts for every cached experience as JSON.
func (e *Engine) LocalThemeCounts(ctx context.Context) (string, error) {
	counts, err := e.store.LocalThemeCounts(ctx)
	if err != nil {
		return "", err
	}
	return marshalString(counts)
}

// LocalThemeCountsAsync is the async form of LocalThemeCounts.
func (e *Engine) LocalThemeCountsAsync(requestID int64) error {
	return e.startAsync(requestID, []string{"response", "experience", "local_theme_counts"}, nil, nil,
		func(ctx context.Context) any {
			counts, err := e.store.LocalThemeCounts(ctx)
			if err != nil {
				e.log.WithError(err).Error("local theme counts query failed")
				return nil
			}
			return counts
		})
}

// DiskUsage returns per-experience downloaded bytes as JSON.
func (e *Engine) DiskUsage(ctx context.Context) (string, error) {
	usage, err := e.store.DiskUsage(ctx)
	if err != nil {
		return "", err
	}
	return marshalString(usage)
}

// DiskUsageAsync is the async form of DiskUsage.
func (e *Engine) DiskUsageAsync(requestID int64) error {
	return e.startAsync(requestID, []string{"response", "disk_usage"}, nil, nil,
		func(ctx context.Context) any {
			usage, err := e.store.DiskUsage(ctx)
			if err != nil {
				e.log.WithError(err).Error("disk usage query failed")
				return nil
			}
			return usage
		})
}

// UnloadExperience drops the experience's downloaded content, keeping the
// catalogue row.
func (e *Engine) UnloadExperience(ctx context.Context, id int64) error {
	return e.store.UnloadExperience(ctx, id)
}

// CleanDB compacts the daughter cache.
func (e *Engine) CleanDB(ctx context.Context) error {
	return e.store.Clean(ctx)
}

// GetUserPreference reads the value at a dotted key path, e.g.
// "experiences.228.theme_weights". Returns store.ErrMalformedKeyPath on a
// bad path.
func (e *Engine) GetUserPreference(ctx context.Context, keyPath string) (string, error) {
	v, err := e.store.Preference(ctx, e.currentUser(), keyPath)
	if err != nil {
		return "", err
	}
	return string(v), nil
}

// GetUserPreferenceAsync is the async form of GetUserPreference.
func (e *Engine) GetUserPreferenceAsync(requestID int64, keyPath string) error {
	fields := map[string]any{"keyPath": keyPath}
	return e.startAsync(requestID, []string{"response", "user_preference"}, fields, nil,
		func(ctx context.Context) any {
			v, err := e.store.Preference(ctx, e.currentUser(), keyPath)
			if err != nil {
				e.log.WithError(err).WithField("keyPath", keyPath).Warn("preference read failed")
				return nil
			}
			return json.RawMessage(v)
		})
}

// SetUserPreference writes a JSON value at the key path, creating
// intermediate objects as needed.
func (e *Engine) SetUserPreference(ctx context.Context, keyPath, jsonValue string) error {
	return e.store.SetPreference(ctx, e.currentUser(), keyPath, json.RawMessage(jsonValue))
}

// ClearUserPreference removes the value at the key path. Clearing a
// missing path is a no-op.
func (e *Engine) ClearUserPreference(ctx context.Context, keyPath string) error {
	return e.store.ClearPreference(ctx, e.currentUser(), keyPath)
}

func (e *Engine) refreshExperiences(ctx context.Context) {
	list, err := e.syncer.FetchExperiences(ctx)
	if err != nil {
		e.log.WithError(err).Warn("experience refresh failed, serving cache")
		return
	}
	if err := e.store.ReplaceExperiences(ctx, list); err != nil {
		e.log.WithError(err).Error("experience refresh cache failed")
	}
}

func (e *Engine) refreshArtists(ctx context.Context) {
	list, err := e.syncer.FetchArtists(ctx)
	if err != nil {
		e.log.WithError(err).Warn("artist refresh failed, serving cache")
		return
	}
	if err := e.store.ReplaceArtists(ctx, list); err != nil {
		e.log.WithError(err).Error("artist refresh cache failed")
	}
}

func marshalString(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
