// Package preferences stores per-user display settings.
package preferences

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"

	"github.com/vazana/studio/internal/platform/httpx"
)

// Preferences is the typed replacement for scattered client-side settings.
// Theme only affects the client UI; invoice documents ignore it.
type Preferences struct {
	Language    string `json:"language" validate:"required,oneof=he en"`
	Theme       string `json:"theme" validate:"required,oneof=light dark"`
	AccentColor string `json:"accentColor" validate:"required,hexcolor"`
}

// Defaults returns the settings of a user who never saved any.
func Defaults() Preferences {
	return Preferences{Language: "he", Theme: "light", AccentColor: "#1e40af"}
}

// Direction returns the text direction implied by the language.
func (p Preferences) Direction() string {
	if p.Language == "he" {
		return "rtl"
	}
	return "ltr"
}

// Store loads and saves preferences in Redis. It is the only place that
// knows the storage key layout.
type Store struct {
	client   *redis.Client
	validate *validator.Validate
}

// NewStore builds a Store.
func NewStore(client *redis.Client) *Store {
	return &Store{client: client, validate: validator.New()}
}

// Load returns the stored preferences of userID, or Defaults. Stored values
// that no longer validate are replaced by defaults field by field.
func (s *Store) Load(ctx context.Context, userID int64) (Preferences, error) {
	raw, err := s.client.Get(ctx, key(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Defaults(), nil
		}
		return Defaults(), fmt.Errorf("load preferences: %w", err)
	}
	var stored Preferences
	if err := json.Unmarshal(raw, &stored); err != nil {
		return Defaults(), nil
	}
	return s.merge(stored), nil
}

// Save validates and persists prefs for userID.
func (s *Store) Save(ctx context.Context, userID int64, prefs Preferences) error {
	if err := s.Validate(prefs); err != nil {
		return err
	}
	data, err := json.Marshal(prefs)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, key(userID), data, 0).Err(); err != nil {
		return fmt.Errorf("save preferences: %w", err)
	}
	return nil
}

// Validate checks prefs against the allowed values.
func (s *Store) Validate(prefs Preferences) error {
	if err := s.validate.Struct(prefs); err != nil {
		return fmt.Errorf("%w: %v", httpx.ErrValidation, err)
	}
	return nil
}

func (s *Store) merge(stored Preferences) Preferences {
	out := Defaults()
	if s.validate.Var(stored.Language, "oneof=he en") == nil {
		out.Language = stored.Language
	}
	if s.validate.Var(stored.Theme, "oneof=light dark") == nil {
		out.Theme = stored.Theme
	}
	if s.validate.Var(stored.AccentColor, "hexcolor") == nil {
		out.AccentColor = stored.AccentColor
	}
	return out
}

func key(userID int64) string {
	return "vazana:prefs:" + strconv.FormatInt(userID, 10)
}
