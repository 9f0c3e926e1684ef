package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	s, err := Open(filepath.Join(t.TempDir(), "daughter.db"), log)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestExperienceListRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	list := []Experience{
		{ID: 1, Title: "Deep Focus", Artist: "Nova", ImageURL: "http://img/1"},
		{ID: 2, Title: "Night Drive", Artist: "Atlas"},
	}
	require.NoError(t, s.ReplaceExperiences(ctx, list))

	got, err := s.Experiences(ctx)
	require.NoError(t, err)
	assert.Equal(t, list, got)

	one, err := s.Experience(ctx, 2)
	require.NoError(t, err)
	require.NotNil(t, one)
	assert.Equal(t, "Night Drive", one.Title)

	missing, err := s.Experience(ctx, 99)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestReplaceExperiencesPreservesMetadataFlag(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.ReplaceExperiences(ctx, []Experience{{ID: 1, Title: "A"}}))
	require.NoError(t, s.CacheMetadata(ctx, 1, []Theme{{ID: 10, ExperienceID: 1}}))

	// A later list refresh must not clear the cached flag.
	require.NoError(t, s.ReplaceExperiences(ctx, []Experience{{ID: 1, Title: "A v2"}}))

	cached, err := s.MetadataCached(ctx, 1)
	require.NoError(t, err)
	assert.True(t, cached)
}

func TestThemeCountsAndDiskUsage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.ReplaceExperiences(ctx, []Experience{{ID: 1, Title: "A"}, {ID: 2, Title: "B"}}))
	require.NoError(t, s.CacheMetadata(ctx, 1, []Theme{{ID: 10}, {ID: 11}, {ID: 12}}))
	require.NoError(t, s.CacheMetadata(ctx, 2, []Theme{{ID: 20}}))

	require.NoError(t, s.MarkThemeDownloaded(ctx, 10, 1000))
	require.NoError(t, s.MarkThemeDownloaded(ctx, 11, 500))

	tc, err := s.LocalThemeCount(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, tc.ThemeCount)
	assert.Equal(t, 2, tc.DownloadedThemeCount)

	// No metadata cached for an unknown experience: zero counts.
	tc, err = s.LocalThemeCount(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, 0, tc.ThemeCount)

	all, err := s.LocalThemeCounts(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, int64(1), all[0].ExperienceID)
	assert.Equal(t, 3, all[0].ThemeCount)

	usage, err := s.DiskUsage(ctx)
	require.NoError(t, err)
	require.Len(t, usage, 1)
	assert.Equal(t, int64(1500), usage[0].Bytes)
}

func TestUnloadExperience(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.ReplaceExperiences(ctx, []Experience{{ID: 1, Title: "A"}}))
	require.NoError(t, s.CacheMetadata(ctx, 1, []Theme{{ID: 10}}))
	require.NoError(t, s.MarkThemeDownloaded(ctx, 10, 2048))

	require.NoError(t, s.UnloadExperience(ctx, 1))

	tc, err := s.LocalThemeCount(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, tc.ThemeCount, "metadata survives unload")
	assert.Equal(t, 0, tc.DownloadedThemeCount)

	usage, err := s.DiskUsage(ctx)
	require.NoError(t, err)
	assert.Empty(t, usage)

	require.NoError(t, s.Clean(ctx))
}

func TestPlayCounts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, s.RecordPlay(ctx, 7))
	}
	n, err := s.PlayCount(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	n, err = s.PlayCount(ctx, 8)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestPreferencesKeyPath(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	user := uuid.New()

	require.NoError(t, s.SetPreference(ctx, user, "experiences.228.theme_weights",
		json.RawMessage(`[0.1, 0.9]`)))
	require.NoError(t, s.SetPreference(ctx, user, "volume", json.RawMessage(`0.8`)))

	got, err := s.Preference(ctx, user, "experiences.228.theme_weights")
	require.NoError(t, err)
	assert.JSONEq(t, `[0.1, 0.9]`, string(got))

	got, err = s.Preference(ctx, user, "experiences.228")
	require.NoError(t, err)
	assert.JSONEq(t, `{"theme_weights":[0.1,0.9]}`, string(got))

	// Unresolvable path: nil, not an error.
	got, err = s.Preference(ctx, user, "experiences.999.x")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, s.ClearPreference(ctx, user, "experiences.228.theme_weights"))
	got, err = s.Preference(ctx, user, "experiences.228.theme_weights")
	require.NoError(t, err)
	assert.Nil(t, got)

	// Clearing a missing path is a no-op.
	require.NoError(t, s.ClearPreference(ctx, user, "no.such.path"))
}

func TestMalformedKeyPaths(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	user := uuid.New()

	for _, bad := range []string{"", ".", "a..b", ".lead", "trail."} {
		_, err := s.Preference(ctx, user, bad)
		assert.ErrorIs(t, err, ErrMalformedKeyPath, "path %q", bad)

		err = s.SetPreference(ctx, user, bad, json.RawMessage(`1`))
		assert.ErrorIs(t, err, ErrMalformedKeyPath, "path %q", bad)
	}
}

func TestMergePreferencesFavoursLocal(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	user := uuid.New()

	require.NoError(t, s.SetPreferences(ctx, user,
		json.RawMessage(`{"volume": 0.5, "nested": {"a": 1}}`)))

	// Incoming cloud copy: conflicting volume, new keys at both levels.
	require.NoError(t, s.MergePreferences(ctx, user,
		json.RawMessage(`{"volume": 0.9, "theme": "dark", "nested": {"a": 2, "b": 3}}`)))

	got, err := s.Preferences(ctx, user)
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"volume": 0.5, "theme": "dark", "nested": {"a": 1, "b": 3}}`,
		string(got))
}
