// Package store is the local metadata cache (the "daughter" database). It
// mirrors cloud metadata closely enough to answer list/detail queries
// offline and to track which audio content is materialized locally.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

// Store wraps the sqlite cache.
type Store struct {
	db  *sql.DB
	log *logrus.Logger
}

// Experience is the top-level metadata row, sufficient to display a list
// entry. Detailed metadata (themes) is cached separately.
type Experience struct {
	ID       int64  `json:"id"`
	Title    string `json:"title"`
	Artist   string `json:"artist"`
	ImageURL string `json:"image_url"`
}

// Artist is one row of the artist table.
type Artist struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	ImageURL string `json:"image_url"`
}

// Theme is a per-experience content unit. Downloaded and Bytes track local
// materialization of the audio/midi blobs.
type Theme struct {
	ID           int64 `json:"id"`
	ExperienceID int64 `json:"experienceId"`
	Downloaded   bool  `json:"downloaded"`
	Bytes        int64 `json:"bytes"`
}

// ThemeCounts reports content status for one experience.
type ThemeCounts struct {
	ExperienceID         int64 `json:"experienceId,omitempty"`
	ThemeCount           int   `json:"themeCount"`
	DownloadedThemeCount int   `json:"downloadedThemeCount"`
}

// Usage is the per-experience disk footprint of downloaded content.
type Usage struct {
	ExperienceID int64 `json:"experienceId"`
	Bytes        int64 `json:"bytes"`
}

const schema = `
CREATE TABLE IF NOT EXISTS experiences (
	id INTEGER PRIMARY KEY,
	title TEXT NOT NULL,
	artist TEXT NOT NULL DEFAULT '',
	image_url TEXT NOT NULL DEFAULT '',
	metadata_cached INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS artists (
	id INTEGER PRIMARY KEY,
	name TEXT NOT NULL,
	image_url TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS themes (
	id INTEGER PRIMARY KEY,
	experience_id INTEGER NOT NULL,
	downloaded INTEGER NOT NULL DEFAULT 0,
	bytes INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS themes_experience ON themes(experience_id);
CREATE TABLE IF NOT EXISTS plays (
	experience_id INTEGER NOT NULL,
	month TEXT NOT NULL,
	count INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (experience_id, month)
);
CREATE TABLE IF NOT EXISTS user_preferences (
	user_uuid TEXT PRIMARY KEY,
	prefs TEXT NOT NULL DEFAULT '{}'
);
`

// Open opens (creating if necessary) the cache database at path.
func Open(path string, log *logrus.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init cache schema: %w", err)
	}
	return &Store{db: db, log: log}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// ReplaceExperiences refreshes the experience list cache from the cloud.
// The metadata_cached flag of existing rows survives the refresh.
func (s *Store) ReplaceExperiences(ctx context.Context, list []Experience) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, e := range list {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO experiences (id, title, artist, image_url) VALUES (?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET title=excluded.title, artist=excluded.artist, image_url=excluded.image_url`,
			e.ID, e.Title, e.Artist, e.ImageURL); err != nil {
			return fmt.Errorf("upsert experience %d: %w", e.ID, err)
		}
	}
	return tx.Commit()
}

// ReplaceArtists refreshes the artist cache.
func (s *Store) ReplaceArtists(ctx context.Context, list []Artist) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, a := range list {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO artists (id, name, image_url) VALUES (?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET name=excluded.name, image_url=excluded.image_url`,
			a.ID, a.Name, a.ImageURL); err != nil {
			return fmt.Errorf("upsert artist %d: %w", a.ID, err)
		}
	}
	return tx.Commit()
}

// Experiences returns all cached experiences.
func (s *Store) Experiences(ctx context.Context) ([]Experience, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, artist, image_url FROM experiences ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Experience
	for rows.Next() {
		var e Experience
		if err := rows.Scan(&e.ID, &e.Title, &e.Artist, &e.ImageURL); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Experience returns one cached experience, or (nil, nil) if absent.
func (s *Store) Experience(ctx context.Context, id int64) (*Experience, error) {
	var e Experience
	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, artist, image_url FROM experiences WHERE id = ?`, id).
		Scan(&e.ID, &e.Title, &e.Artist, &e.ImageURL)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// Artists returns all cached artists.
func (s *Store) Artists(ctx context.Context) ([]Artist, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, image_url FROM artists ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Artist
	for rows.Next() {
		var a Artist
		if err := rows.Scan(&a.ID, &a.Name, &a.ImageURL); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ArtistByID returns one cached artist, or (nil, nil) if absent.
func (s *Store) ArtistByID(ctx context.Context, id int64) (*Artist, error) {
	var a Artist
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, image_url FROM artists WHERE id = ?`, id).
		Scan(&a.ID, &a.Name, &a.ImageURL)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// CacheMetadata stores detailed metadata (themes) for an experience and
// marks the experience as playable offline.
func (s *Store) CacheMetadata(ctx context.Context, experienceID int64, themes []Theme) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM themes WHERE experience_id = ?`, experienceID); err != nil {
		return err
	}
	for _, th := range themes {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO themes (id, experience_id, downloaded, bytes) VALUES (?, ?, ?, ?)`,
			th.ID, experienceID, th.Downloaded, th.Bytes); err != nil {
			return fmt.Errorf("insert theme %d: %w", th.ID, err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE experiences SET metadata_cached = 1 WHERE id = ?`, experienceID); err != nil {
		return err
	}
	return tx.Commit()
}

// MetadataCached reports whether detailed metadata is available locally.
func (s *Store) MetadataCached(ctx context.Context, experienceID int64) (bool, error) {
	var cached bool
	err := s.db.QueryRowContext(ctx,
		`SELECT metadata_cached FROM experiences WHERE id = ?`, experienceID).Scan(&cached)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return cached, err
}

// ThemeCount returns the number of themes known for an experience. Zero if
// no metadata is cached.
func (s *Store) ThemeCount(ctx context.Context, experienceID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM themes WHERE experience_id = ?`, experienceID).Scan(&n)
	return n, err
}

// LocalThemeCount reports theme and downloaded-theme counts for one
// experience.
func (s *Store) LocalThemeCount(ctx context.Context, experienceID int64) (ThemeCounts, error) {
	var tc ThemeCounts
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(downloaded), 0)
		FROM themes WHERE experience_id = ?`, experienceID).
		Scan(&tc.ThemeCount, &tc.DownloadedThemeCount)
	return tc, err
}

// LocalThemeCounts reports counts for every experience with cached themes
// in a single query.
func (s *Store) LocalThemeCounts(ctx context.Context) ([]ThemeCounts, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT experience_id, COUNT(*), COALESCE(SUM(downloaded), 0)
		FROM themes GROUP BY experience_id ORDER BY experience_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ThemeCounts
	for rows.Next() {
		var tc ThemeCounts
		if err := rows.Scan(&tc.ExperienceID, &tc.ThemeCount, &tc.DownloadedThemeCount); err != nil {
			return nil, err
		}
		out = append(out, tc)
	}
	return out, rows.Err()
}

// MarkThemeDownloaded records that a theme's content blob is materialized
// locally with the given size.
func (s *Store) MarkThemeDownloaded(ctx context.Context, themeID, bytes int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE themes SET downloaded = 1, bytes = ? WHERE id = ?`, bytes, themeID)
	return err
}

// DiskUsage reports the per-experience footprint of downloaded content.
func (s *Store) DiskUsage(ctx context.Context) ([]Usage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT experience_id, COALESCE(SUM(bytes), 0)
		FROM themes WHERE downloaded = 1
		GROUP BY experience_id ORDER BY experience_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Usage
	for rows.Next() {
		var u Usage
		if err := rows.Scan(&u.ExperienceID, &u.Bytes); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// UnloadExperience drops the downloaded content for an experience. Space
// is reclaimed on the next Clean.
func (s *Store) UnloadExperience(ctx context.Context, experienceID int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE themes SET downloaded = 0, bytes = 0 WHERE experience_id = ?`, experienceID)
	return err
}

// RecordPlay bumps the play counter for the current month.
func (s *Store) RecordPlay(ctx context.Context, experienceID int64) error {
	month := time.Now().UTC().Format("2006-01")
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO plays (experience_id, month, count) VALUES (?, ?, 1)
		ON CONFLICT(experience_id, month) DO UPDATE SET count = count + 1`,
		experienceID, month)
	return err
}

// PlayCount sums plays for the current and previous month; older counts
// are not retained.
func (s *Store) PlayCount(ctx context.Context, experienceID int64) (int64, error) {
	now := time.Now().UTC()
	months := []string{
		now.Format("2006-01"),
		now.AddDate(0, -1, 0).Format("2006-01"),
	}
	var n int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(count), 0) FROM plays
		WHERE experience_id = ? AND month IN (?, ?)`,
		experienceID, months[0], months[1]).Scan(&n)
	return n, err
}

// Clean vacuums the database, reclaiming space from unloaded content.
// Time-consuming and takes a full database lock; callers should run it
// while playback is idle.
func (s *Store) Clean(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `VACUUM`)
	return err
}

// Preferences returns the stored preferences object for a user, or an
// empty object if none exists.
func (s *Store) Preferences(ctx context.Context, user uuid.UUID) (json.RawMessage, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT prefs FROM user_preferences WHERE user_uuid = ?`, user.String()).Scan(&raw)
	if err == sql.ErrNoRows {
		return json.RawMessage(`{}`), nil
	}
	if err != nil {
		return nil, err
	}
	return json.RawMessage(raw), nil
}

// SetPreferences replaces the stored preferences object for a user.
func (s *Store) SetPreferences(ctx context.Context, user uuid.UUID, prefs json.RawMessage) error {
	if !json.Valid(prefs) {
		return fmt.Errorf("preferences payload is not valid JSON")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_preferences (user_uuid, prefs) VALUES (?, ?)
		ON CONFLICT(user_uuid) DO UPDATE SET prefs = excluded.prefs`,
		user.String(), string(prefs))
	return err
}

// MergePreferences deep-merges incoming preferences into the stored
// object, favouring the locally stored values on conflict.
func (s *Store) MergePreferences(ctx context.Context, user uuid.UUID, incoming json.RawMessage) error {
	local, err := s.Preferences(ctx, user)
	if err != nil {
		return err
	}

	var localObj, incomingObj map[string]any
	if err := json.Unmarshal(local, &localObj); err != nil {
		return fmt.Errorf("stored preferences corrupt: %w", err)
	}
	if err := json.Unmarshal(incoming, &incomingObj); err != nil {
		return fmt.Errorf("incoming preferences: %w", err)
	}

	merged := deepMerge(incomingObj, localObj)
	out, err := json.Marshal(merged)
	if err != nil {
		return err
	}
	return s.SetPreferences(ctx, user, out)
}

// deepMerge overlays winner onto base: winner's values survive conflicts,
// with nested objects merged recursively.
func deepMerge(base, winner map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(winner))
	for k, v := range base {
		out[k] = v
	}
	for k, wv := range winner {
		if bv, ok := out[k]; ok {
			bm, bIsMap := bv.(map[string]any)
			wm, wIsMap := wv.(map[string]any)
			if bIsMap && wIsMap {
				out[k] = deepMerge(bm, wm)
				continue
			}
		}
		out[k] = wv
	}
	return out
}
