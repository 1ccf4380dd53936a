// Package calendars lists the owner's teams with their feed URLs and
// applies per-team settings.
package calendars

import (
	"context"
	"errors"
	"fmt"
	"strings"

	appLog "teamcal/internal/log"
	"teamcal/internal/model"
)

// ErrMissingTeam is returned by UpdateSettings when no team id is given.
var ErrMissingTeam = errors.New("teamId is required")

type (
	TokenProvider interface {
		AccessToken(ctx context.Context) (string, error)
	}
	Directory interface {
		Me(ctx context.Context, token string) (model.Event, error)
		Teams(ctx context.Context, token, userID string) ([]model.Team, error)
		Team(ctx context.Context, token, teamID string) (model.Team, error)
	}
	Issuer interface {
		Token(teamName string, filter model.FilterType) string
		Issue(ctx context.Context, teamID string, filter model.FilterType, teamName string) (string, error)
	}
	Preferences interface {
		Get(ctx context.Context, teamID string) (model.TeamPreferences, error)
		Put(ctx context.Context, teamID string, p model.TeamPreferences) error
	}
	Invalidator interface {
		Invalidate(ctx context.Context, token string) error
	}
)

// Links are the two subscription URLs of a team.
type Links struct {
	All   string `json:"all"`
	Games string `json:"games"`
}

// Entry is one team in the listing.
type Entry struct {
	TeamID              string  `json:"teamId"`
	Name                string  `json:"name"`
	CustomName          *string `json:"customName"`
	RemoveOpponentNames bool    `json:"removeOpponentNames"`
	Calendars           Links   `json:"calendars"`
}

// Settings is the body of a settings update.
type Settings struct {
	TeamID              string `json:"teamId"`
	CustomName          string `json:"customName"`
	RemoveOpponentNames bool   `json:"removeOpponentNames"`
}

type Service struct {
	tokens    TokenProvider
	dir       Directory
	registry  Issuer
	prefs     Preferences
	cache     Invalidator
	publicURL string
}

func NewService(tokens TokenProvider, dir Directory, registry Issuer, prefs Preferences, cache Invalidator, publicURL string) *Service {
	return &Service{
		tokens:    tokens,
		dir:       dir,
		registry:  registry,
		prefs:     prefs,
		cache:     cache,
		publicURL: strings.TrimRight(publicURL, "/"),
	}
}

// FeedURL is the public subscription URL for token.
func (s *Service) FeedURL(token string) string {
	return s.publicURL + "/" + token + ".ics"
}

// List returns every team of the authorized user, (re)issuing both tokens
// of each team on the way.
func (s *Service) List(ctx context.Context) ([]Entry, error) {
	accessToken, err := s.tokens.AccessToken(ctx)
	if err != nil {
		return nil, err
	}
	me, err := s.dir.Me(ctx, accessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	teams, err := s.dir.Teams(ctx, accessToken, me.ID())
	if err != nil {
		return nil, fmt.Errorf("failed to load teams: %w", err)
	}

	out := make([]Entry, 0, len(teams))
	for _, t := range teams {
		p, err := s.prefs.Get(ctx, t.ID)
		if err != nil {
			return nil, err
		}
		all, err := s.registry.Issue(ctx, t.ID, model.FilterAll, t.Name)
		if err != nil {
			return nil, err
		}
		games, err := s.registry.Issue(ctx, t.ID, model.FilterGames, t.Name)
		if err != nil {
			return nil, err
		}

		e := Entry{
			TeamID:              t.ID,
			Name:                t.Name,
			RemoveOpponentNames: p.RemoveOpponentNames,
			Calendars:           Links{All: s.FeedURL(all), Games: s.FeedURL(games)},
		}
		if p.CustomName != "" {
			name := p.CustomName
			e.CustomName = &name
		}
		out = append(out, e)
	}
	appLog.Debug("calendars listed", "teams", len(out))
	return out, nil
}

// UpdateSettings persists the team's preferences, then drops both cached
// feeds so the next fetch re-renders. Preferences stay saved even when the
// team lookup needed for invalidation fails.
func (s *Service) UpdateSettings(ctx context.Context, in Settings) error {
	if strings.TrimSpace(in.TeamID) == "" {
		return ErrMissingTeam
	}
	p := model.TeamPreferences{
		CustomName:          strings.TrimSpace(in.CustomName),
		RemoveOpponentNames: in.RemoveOpponentNames,
	}
	if err := s.prefs.Put(ctx, in.TeamID, p); err != nil {
		return fmt.Errorf("failed to save preferences: %w", err)
	}

	accessToken, err := s.tokens.AccessToken(ctx)
	if err != nil {
		return err
	}
	team, err := s.dir.Team(ctx, accessToken, in.TeamID)
	if err != nil {
		return fmt.Errorf("preferences saved but feeds not invalidated: %w", err)
	}
	for _, f := range []model.FilterType{model.FilterAll, model.FilterGames} {
		tok := s.registry.Token(team.Name, f)
		if err := s.cache.Invalidate(ctx, tok); err != nil {
			return fmt.Errorf("failed to invalidate %s feed: %w", f, err)
		}
	}
	appLog.Info("settings updated",
		"team_id", in.TeamID,
		"custom_name", p.CustomName,
		"remove_opponent_names", p.RemoveOpponentNames,
	)
	return nil
}
