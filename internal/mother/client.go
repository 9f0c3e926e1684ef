package mother

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cadenza-audio/cadenza/internal/store"
)

// Client is the REST implementation of Syncer.
type Client struct {
	endpoint string
	http     *http.Client
	log      *logrus.Logger

	mu    sync.RWMutex
	token string
	role  string
}

// NewClient creates a mother client for the given endpoint, e.g.
// "https://app.example.fm".
func NewClient(endpoint string, log *logrus.Logger) *Client {
	return &Client{
		endpoint: endpoint,
		http:     &http.Client{Timeout: 30 * time.Second},
		log:      log,
	}
}

// SetToken sets the JWT used to authenticate REST calls.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// SetRole sets the database role claimed on REST calls. The role must also
// be embedded in the JWT; claiming it here grants nothing by itself.
func (c *Client) SetRole(role string) {
	c.mu.Lock()
	c.role = role
	c.mu.Unlock()
}

// FetchExperiences implements Syncer.
func (c *Client) FetchExperiences(ctx context.Context) ([]store.Experience, error) {
	var out []store.Experience
	if err := c.getJSON(ctx, "/experiences", &out); err != nil {
		return nil, fmt.Errorf("fetch experiences: %w", err)
	}
	return out, nil
}

// FetchArtists implements Syncer.
func (c *Client) FetchArtists(ctx context.Context) ([]store.Artist, error) {
	var out []store.Artist
	if err := c.getJSON(ctx, "/artists", &out); err != nil {
		return nil, fmt.Errorf("fetch artists: %w", err)
	}
	return out, nil
}

// FetchExperienceMetadata implements Syncer.
func (c *Client) FetchExperienceMetadata(ctx context.Context, experienceID int64) ([]store.Theme, error) {
	var out []store.Theme
	path := fmt.Sprintf("/experiences/%d/themes", experienceID)
	if err := c.getJSON(ctx, path, &out); err != nil {
		return nil, fmt.Errorf("fetch metadata for experience %d: %w", experienceID, err)
	}
	return out, nil
}

// FetchPreferences implements Syncer.
func (c *Client) FetchPreferences(ctx context.Context) (json.RawMessage, error) {
	var out json.RawMessage
	if err := c.getJSON(ctx, "/user/preferences", &out); err != nil {
		return nil, fmt.Errorf("fetch preferences: %w", err)
	}
	return out, nil
}

// PushPreferences implements Syncer.
func (c *Client) PushPreferences(ctx context.Context, prefs json.RawMessage) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut,
		c.endpoint+"/user/preferences", bytes.NewReader(prefs))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("push preferences: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("push preferences: status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) authorize(req *http.Request) {
	c.mu.RLock()
	token, role := c.token, c.role
	c.mu.RUnlock()

	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if role != "" {
		req.Header.Set("X-Database-Role", role)
	}
}
