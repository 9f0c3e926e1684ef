// Package mother talks to the cloud metadata database. The engine only
// depends on the Syncer contract; Client is the REST implementation.
package mother

import (
	"context"
	"encoding/json"

	"github.com/cadenza-audio/cadenza/internal/store"
)

// Syncer is the cloud sync collaborator. Implementations run on their own
// goroutines; every method is synchronous and context-aware, and the
// engine wraps calls in its async request/notification pattern.
type Syncer interface {
	// FetchExperiences returns the experience list visible to the user.
	FetchExperiences(ctx context.Context) ([]store.Experience, error)

	// FetchArtists returns the artist list visible to the user.
	FetchArtists(ctx context.Context) ([]store.Artist, error)

	// FetchExperienceMetadata returns the detailed metadata (themes) for
	// one experience.
	FetchExperienceMetadata(ctx context.Context, experienceID int64) ([]store.Theme, error)

	// FetchPreferences downloads the user's preferences object.
	FetchPreferences(ctx context.Context) (json.RawMessage, error)

	// PushPreferences uploads the user's preferences object. The cloud
	// side deep-merges, favouring the uploaded data on conflict.
	PushPreferences(ctx context.Context, prefs json.RawMessage) error
}
