package model

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// FilterType selects which subset of a team's events populate a feed.
type FilterType string

const (
	FilterAll   FilterType = "all"
	FilterGames FilterType = "games"
)

// Valid reports whether f is one of the known filter types.
func (f FilterType) Valid() bool {
	return f == FilterAll || f == FilterGames
}

// TokenMapping is what a calendar token resolves to.
type TokenMapping struct {
	TeamID     string     `json:"teamId"`
	FilterType FilterType `json:"filterType"`
}

// TeamPreferences are the owner's naming choices for one team.
type TeamPreferences struct {
	CustomName          string `json:"customName,omitempty"`
	RemoveOpponentNames bool   `json:"removeOpponentNames"`
}

// Team is the subset of the upstream team record we use.
type Team struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Event is a raw upstream record keyed by field name. Values are whatever
// the JSON decoder produced (string, json.Number, bool, nil, ...); all
// reads go through the accessors below, which treat anything malformed as
// absent.
type Event map[string]any

// String returns the field as trimmed text, or "" when absent or null.
func (e Event) String(field string) string {
	switch v := e[field].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case bool:
		return strconv.FormatBool(v)
	default:
		return ""
	}
}

// Has reports whether the field carries a non-empty value.
func (e Event) Has(field string) bool {
	return e.String(field) != ""
}

// Bool reports whether the field is truthy.
func (e Event) Bool(field string) bool {
	switch v := e[field].(type) {
	case bool:
		return v
	case string:
		s := strings.ToLower(strings.TrimSpace(v))
		return s != "" && s != "false" && s != "0"
	case json.Number:
		f, err := v.Float64()
		return err == nil && f != 0
	case float64:
		return v != 0
	case int:
		return v != 0
	case int64:
		return v != 0
	default:
		return false
	}
}

// Time parses an ISO-8601 timestamp field.
func (e Event) Time(field string) (time.Time, bool) {
	s := e.String(field)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Int parses an integer field.
func (e Event) Int(field string) (int, bool) {
	s := e.String(field)
	if s == "" {
		return 0, false
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n, true
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return int(f), true
	}
	return 0, false
}

func (e Event) ID() string {
	return e.String("id")
}

// HasOpponent reports whether upstream named an opponent.
func (e Event) HasOpponent() bool {
	return e.Has("opponent_name")
}

// IsGame is the single "is this a game" predicate used by the games
// filter: typed "Game" or carrying an opponent. is_game alone is not enough.
func (e Event) IsGame() bool {
	return e.String("game_type") == "Game" || e.HasOpponent()
}

// FlaggedGame reports whether upstream set is_game. Titling and the
// description key off this flag rather than IsGame.
func (e Event) FlaggedGame() bool {
	return e.Bool("is_game")
}

// IsCanceled reports whether upstream marked the event cancelled.
func (e Event) IsCanceled() bool {
	return e.Bool("is_canceled")
}

// UpdatedAtMillis returns updated_at as epoch millis, or 0.
func (e Event) UpdatedAtMillis() int64 {
	t, ok := e.Time("updated_at")
	if !ok {
		return 0
	}
	return t.UnixMilli()
}
