// Package feed answers calendar feed requests: it decides between a 304,
// the cached document and a fresh render, and builds the HTTP headers.
package feed

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/samber/mo"

	"teamcal/internal/events"
	appLog "teamcal/internal/log"
	"teamcal/internal/metrics"
	"teamcal/internal/model"
	"teamcal/internal/synth"
)

const cacheControl = "public, max-age=3600"

// Request is one feed fetch.
type Request struct {
	Token string

	IfModifiedSince string
	IfNoneMatch     string

	// BypassCache skips the cache read (cache=off).
	BypassCache bool
	// Refresh deletes the cache entry before proceeding (refresh=true).
	Refresh bool
	// PlainText serves inline text/plain instead of a calendar attachment.
	PlainText bool
}

// Response is what the HTTP layer writes back.
type Response struct {
	Status int
	Header http.Header
	Body   string
}

type (
	Resolver interface {
		Resolve(ctx context.Context, token string) (model.TokenMapping, error)
	}
	TokenProvider interface {
		AccessToken(ctx context.Context) (string, error)
	}
	EventFetcher interface {
		Fetch(ctx context.Context, token, teamID string, filter model.FilterType) ([]model.Event, error)
	}
	Renderer interface {
		Render(ctx context.Context, token, teamID string, evs []model.Event, names synth.Names) (string, error)
	}
	TeamLookup interface {
		Team(ctx context.Context, token, teamID string) (model.Team, error)
	}
	PrefsReader interface {
		Get(ctx context.Context, teamID string) (model.TeamPreferences, error)
	}
)

// Deps are the Service's collaborators.
type Deps struct {
	Registry Resolver
	Tokens   TokenProvider
	Events   EventFetcher
	Renderer Renderer
	Teams    TeamLookup
	Prefs    PrefsReader
	Cache    *Cache
}

type Service struct {
	Deps
}

func NewService(d Deps) *Service {
	return &Service{Deps: d}
}

// Serve runs the cache state machine for one request. Errors are returned
// unwrapped enough for errors.Is against registry.ErrInvalidToken,
// oauth.ErrAuthRequired and teamsnap.ErrUpstream.
func (s *Service) Serve(ctx context.Context, req Request) (*Response, error) {
	resp, outcome, err := s.serve(ctx, req)
	if err != nil {
		outcome = metrics.OutcomeError
	}
	metrics.FeedResponses.WithLabelValues(outcome).Inc()
	return resp, err
}

func (s *Service) serve(ctx context.Context, req Request) (*Response, string, error) {
	mapping, err := s.Registry.Resolve(ctx, req.Token)
	if err != nil {
		return nil, "", err
	}

	if req.Refresh {
		if err := s.Cache.Invalidate(ctx, req.Token); err != nil {
			return nil, "", fmt.Errorf("failed to drop cached feed: %w", err)
		}
	}

	var (
		cached   Entry
		hasCache bool
	)
	if !req.BypassCache && !req.Refresh {
		cached, hasCache, err = s.Cache.Load(ctx, req.Token)
		if err != nil {
			return nil, "", fmt.Errorf("failed to read cached feed: %w", err)
		}
		if hasCache && clientIsCurrent(req, cached.Watermark) {
			return s.notModified(req, cached.Watermark), metrics.OutcomeNotModified, nil
		}
	}

	accessToken, err := s.Tokens.AccessToken(ctx)
	if err != nil {
		return nil, "", err
	}

	evs, err := s.Events.Fetch(ctx, accessToken, mapping.TeamID, mapping.FilterType)
	if err != nil {
		return nil, "", fmt.Errorf("failed to fetch events for team %s: %w", mapping.TeamID, err)
	}
	watermark := events.LatestUpdate(evs)

	if hasCache && watermark <= cached.Watermark {
		return s.full(req, cached.Body, cached.Watermark), metrics.OutcomeCacheHit, nil
	}

	names, err := s.names(ctx, accessToken, mapping.TeamID)
	if err != nil {
		return nil, "", err
	}
	body, err := s.Renderer.Render(ctx, accessToken, mapping.TeamID, evs, names)
	if err != nil {
		return nil, "", err
	}

	if watermark > 0 {
		if err := s.Cache.Save(ctx, req.Token, Entry{Body: body, Watermark: watermark}); err != nil {
			appLog.Error("feed: cache write failed", err, "token", appLog.RedactToken(req.Token))
		}
	}
	appLog.Info("feed rendered",
		"token", appLog.RedactToken(req.Token),
		"team_id", mapping.TeamID,
		"filter", string(mapping.FilterType),
		"events", len(evs),
		"watermark", watermark,
	)
	return s.full(req, body, watermark), metrics.OutcomeRendered, nil
}

func (s *Service) names(ctx context.Context, accessToken, teamID string) (synth.Names, error) {
	p, err := s.Prefs.Get(ctx, teamID)
	if err != nil {
		return synth.Names{}, fmt.Errorf("failed to read team preferences: %w", err)
	}
	return synth.Names{TeamName: s.teamName(ctx, accessToken, teamID).OrEmpty(), Prefs: p}, nil
}

// teamName is a best-effort lookup of the upstream team name.
func (s *Service) teamName(ctx context.Context, accessToken, teamID string) mo.Option[string] {
	if s.Teams == nil {
		return mo.None[string]()
	}
	team, err := s.Teams.Team(ctx, accessToken, teamID)
	if err != nil || team.Name == "" {
		metrics.EnrichmentFailures.WithLabelValues("team").Inc()
		appLog.Warn("feed: team name lookup failed", "team_id", teamID, "err", fmt.Sprint(err))
		return mo.None[string]()
	}
	return mo.Some(team.Name)
}

// ETag is the quoted validator for a token at a watermark.
func ETag(token string, watermark int64) string {
	return `"` + token + "-" + strconv.FormatInt(watermark, 10) + `"`
}

// clientIsCurrent reports whether either conditional header shows the
// client already holds the document at watermark.
func clientIsCurrent(req Request, watermark int64) bool {
	if req.IfNoneMatch != "" {
		want := ETag(req.Token, watermark)
		for _, part := range strings.Split(req.IfNoneMatch, ",") {
			tag := strings.TrimPrefix(strings.TrimSpace(part), "W/")
			if tag == want || tag == "*" {
				return true
			}
		}
	}
	if req.IfModifiedSince != "" {
		if since, err := http.ParseTime(req.IfModifiedSince); err == nil && watermark/1000 <= since.Unix() {
			return true
		}
	}
	return false
}

func baseHeader(token string, watermark int64) http.Header {
	h := http.Header{}
	h.Set("Last-Modified", time.UnixMilli(watermark).UTC().Format(http.TimeFormat))
	h.Set("ETag", ETag(token, watermark))
	h.Set("Cache-Control", cacheControl)
	return h
}

func (s *Service) notModified(req Request, watermark int64) *Response {
	return &Response{Status: http.StatusNotModified, Header: baseHeader(req.Token, watermark)}
}

func (s *Service) full(req Request, body string, watermark int64) *Response {
	h := baseHeader(req.Token, watermark)
	if req.PlainText {
		h.Set("Content-Type", "text/plain; charset=utf-8")
		h.Set("Content-Disposition", "inline")
	} else {
		h.Set("Content-Type", "text/calendar; charset=utf-8")
		h.Set("Content-Disposition", `attachment; filename="`+req.Token+`.ics"`)
	}
	return &Response{Status: http.StatusOK, Header: h, Body: body}
}
