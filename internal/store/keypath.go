package store

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/google/uuid"
)

// ErrMalformedKeyPath reports a key path that cannot address a preference:
// empty, or containing an empty segment.
var ErrMalformedKeyPath = errors.New("malformed preference key path")

// splitKeyPath validates and splits a period-separated path such as
// "experiences.228.theme_weights".
func splitKeyPath(keyPath string) ([]string, error) {
	if keyPath == "" {
		return nil, ErrMalformedKeyPath
	}
	parts := strings.Split(keyPath, ".")
	for _, p := range parts {
		if p == "" {
			return nil, ErrMalformedKeyPath
		}
	}
	return parts, nil
}

// Preference retrieves the value at keyPath in the user's preferences.
// Returns (nil, nil) if the path does not resolve.
func (s *Store) Preference(ctx context.Context, user uuid.UUID, keyPath string) (json.RawMessage, error) {
	parts, err := splitKeyPath(keyPath)
	if err != nil {
		return nil, err
	}

	raw, err := s.Preferences(ctx, user)
	if err != nil {
		return nil, err
	}

	var node any
	if err := json.Unmarshal(raw, &node); err != nil {
		return nil, err
	}

	for _, p := range parts {
		obj, ok := node.(map[string]any)
		if !ok {
			return nil, nil
		}
		node, ok = obj[p]
		if !ok {
			return nil, nil
		}
	}
	return json.Marshal(node)
}

// SetPreference writes value (a JSON document) at keyPath, creating
// intermediate objects as needed. Intermediate non-object values are
// overwritten.
func (s *Store) SetPreference(ctx context.Context, user uuid.UUID, keyPath string, value json.RawMessage) error {
	parts, err := splitKeyPath(keyPath)
	if err != nil {
		return err
	}
	var parsed any
	if err := json.Unmarshal(value, &parsed); err != nil {
		return err
	}

	return s.mutatePreferences(ctx, user, func(root map[string]any) {
		node := root
		for _, p := range parts[:len(parts)-1] {
			child, ok := node[p].(map[string]any)
			if !ok {
				child = map[string]any{}
				node[p] = child
			}
			node = child
		}
		node[parts[len(parts)-1]] = parsed
	})
}

// ClearPreference removes the value at keyPath. Clearing a path that does
// not resolve is a no-op.
func (s *Store) ClearPreference(ctx context.Context, user uuid.UUID, keyPath string) error {
	parts, err := splitKeyPath(keyPath)
	if err != nil {
		return err
	}

	return s.mutatePreferences(ctx, user, func(root map[string]any) {
		node := root
		for _, p := range parts[:len(parts)-1] {
			child, ok := node[p].(map[string]any)
			if !ok {
				return
			}
			node = child
		}
		delete(node, parts[len(parts)-1])
	})
}

func (s *Store) mutatePreferences(ctx context.Context, user uuid.UUID, mutate func(root map[string]any)) error {
	raw, err := s.Preferences(ctx, user)
	if err != nil {
		return err
	}

	var root map[string]any
	if err := json.Unmarshal(raw, &root); err != nil {
		return err
	}
	if root == nil {
		root = map[string]any{}
	}

	mutate(root)

	out, err := json.Marshal(root)
	if err != nil {
		return err
	}
	return s.SetPreferences(ctx, user, out)
}
