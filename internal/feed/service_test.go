package feed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"teamcal/internal/events"
	"teamcal/internal/model"
	"teamcal/internal/oauth"
	"teamcal/internal/prefs"
	"teamcal/internal/registry"
	"teamcal/internal/store"
	"teamcal/internal/synth"
	"teamcal/internal/teamsnap"
)

type fakeSource struct {
	calls int
	evs   []model.Event
	err   error
}

func (f *fakeSource) Events(_ context.Context, _, _ string) ([]model.Event, error) {
	f.calls++
	return f.evs, f.err
}

type fakeTokens struct {
	err error
}

func (f fakeTokens) AccessToken(context.Context) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "access", nil
}

type fakeRenderer struct {
	calls int
	names synth.Names
}

func (f *fakeRenderer) Render(_ context.Context, _, teamID string, evs []model.Event, names synth.Names) (string, error) {
	f.calls++
	f.names = names
	return fmt.Sprintf("RENDERED %s %d", teamID, len(evs)), nil
}

type fakeTeams struct {
	err error
}

func (f fakeTeams) Team(_ context.Context, _, id string) (model.Team, error) {
	if f.err != nil {
		return model.Team{}, f.err
	}
	return model.Team{ID: id, Name: "Leafs"}, nil
}

type harness struct {
	svc      *Service
	kv       *store.Memory
	cache    *Cache
	source   *fakeSource
	renderer *fakeRenderer
	token    string
}

func newHarness(t *testing.T, evs ...model.Event) *harness {
	t.Helper()
	kv := store.NewMemory()
	t.Cleanup(func() { _ = kv.Close() })

	reg := registry.New(kv, "s3cret")
	token, err := reg.Issue(context.Background(), "42", model.FilterAll, "Leafs")
	require.NoError(t, err)

	h := &harness{
		kv:       kv,
		cache:    NewCache(kv),
		source:   &fakeSource{evs: evs},
		renderer: &fakeRenderer{},
		token:    token,
	}
	h.svc = NewService(Deps{
		Registry: reg,
		Tokens:   fakeTokens{},
		Events:   events.NewFetcher(h.source),
		Renderer: h.renderer,
		Teams:    fakeTeams{},
		Prefs:    prefs.New(kv),
		Cache:    h.cache,
	})
	return h
}

func updatedAt(id, ts string) model.Event {
	return model.Event{"id": id, "start_date": "2024-05-04T18:00:00Z", "updated_at": ts}
}

var (
	ts900  = "1970-01-01T00:00:00.900Z"
	ts1000 = "1970-01-01T00:00:01Z"
	tsMay  = "2024-05-01T10:00:00Z"
	wmMay  = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC).UnixMilli()
)

func TestServeRendersAndCaches(t *testing.T) {
	h := newHarness(t, updatedAt("1", tsMay), updatedAt("2", "2024-04-01T10:00:00Z"))
	ctx := context.Background()

	resp, err := h.svc.Serve(ctx, Request{Token: h.token})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, "RENDERED 42 2", resp.Body)
	assert.Equal(t, ETag(h.token, wmMay), resp.Header.Get("ETag"))
	assert.Equal(t, "Wed, 01 May 2024 10:00:00 GMT", resp.Header.Get("Last-Modified"))
	assert.Equal(t, "public, max-age=3600", resp.Header.Get("Cache-Control"))
	assert.Equal(t, "text/calendar; charset=utf-8", resp.Header.Get("Content-Type"))
	assert.Equal(t, `attachment; filename="`+h.token+`.ics"`, resp.Header.Get("Content-Disposition"))
	assert.Equal(t, "Leafs", h.renderer.names.TeamName)

	e, ok, err := h.cache.Load(ctx, h.token)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, Entry{Body: "RENDERED 42 2", Watermark: wmMay}, e)
}

func TestServeNotModifiedSkipsUpstream(t *testing.T) {
	h := newHarness(t, updatedAt("1", tsMay))
	ctx := context.Background()

	first, err := h.svc.Serve(ctx, Request{Token: h.token})
	require.NoError(t, err)
	require.Equal(t, 1, h.source.calls)

	for i := 0; i < 2; i++ {
		resp, err := h.svc.Serve(ctx, Request{Token: h.token, IfNoneMatch: first.Header.Get("ETag")})
		require.NoError(t, err)
		assert.Equal(t, http.StatusNotModified, resp.Status)
		assert.Empty(t, resp.Body)
		assert.Equal(t, first.Header.Get("ETag"), resp.Header.Get("ETag"))
	}

	resp, err := h.svc.Serve(ctx, Request{Token: h.token, IfModifiedSince: first.Header.Get("Last-Modified")})
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotModified, resp.Status)

	resp, err = h.svc.Serve(ctx, Request{Token: h.token, IfNoneMatch: `"other", W/` + first.Header.Get("ETag")})
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotModified, resp.Status)

	assert.Equal(t, 1, h.source.calls)
	assert.Equal(t, 1, h.renderer.calls)
}

func TestServeStaleConditionalRefetches(t *testing.T) {
	h := newHarness(t, updatedAt("1", tsMay))
	ctx := context.Background()

	resp, err := h.svc.Serve(ctx, Request{
		Token:           h.token,
		IfModifiedSince: "Mon, 01 Jan 2024 00:00:00 GMT",
		IfNoneMatch:     `"nope"`,
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, 1, h.source.calls)
}

func TestServeCachedBodyWhenUpstreamNotNewer(t *testing.T) {
	h := newHarness(t, updatedAt("1", ts900))
	ctx := context.Background()
	require.NoError(t, h.cache.Save(ctx, h.token, Entry{Body: "CACHED", Watermark: 1000}))

	resp, err := h.svc.Serve(ctx, Request{Token: h.token})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, "CACHED", resp.Body)
	assert.Equal(t, ETag(h.token, 1000), resp.Header.Get("ETag"))
	assert.Equal(t, 1, h.source.calls)
	assert.Zero(t, h.renderer.calls)
}

func TestServeRerendersWhenUpstreamNewer(t *testing.T) {
	h := newHarness(t, updatedAt("1", tsMay))
	ctx := context.Background()
	require.NoError(t, h.cache.Save(ctx, h.token, Entry{Body: "CACHED", Watermark: 1000}))

	resp, err := h.svc.Serve(ctx, Request{Token: h.token})
	require.NoError(t, err)
	assert.Equal(t, "RENDERED 42 1", resp.Body)

	e, ok, err := h.cache.Load(ctx, h.token)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, wmMay, e.Watermark)
}

func TestServeBypassIgnoresCache(t *testing.T) {
	h := newHarness(t, updatedAt("1", ts1000))
	ctx := context.Background()
	require.NoError(t, h.cache.Save(ctx, h.token, Entry{Body: "CACHED", Watermark: 1000}))

	resp, err := h.svc.Serve(ctx, Request{Token: h.token, BypassCache: true, IfNoneMatch: ETag(h.token, 1000)})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, "RENDERED 42 1", resp.Body)
}

func TestServeRefreshDropsCache(t *testing.T) {
	h := newHarness(t, model.Event{"id": "1", "start_date": "2024-05-04T18:00:00Z"})
	ctx := context.Background()
	require.NoError(t, h.cache.Save(ctx, h.token, Entry{Body: "CACHED", Watermark: 1000}))

	resp, err := h.svc.Serve(ctx, Request{Token: h.token, Refresh: true})
	require.NoError(t, err)
	assert.Equal(t, "RENDERED 42 1", resp.Body)
	assert.Equal(t, ETag(h.token, 0), resp.Header.Get("ETag"))

	// a zero watermark is never cached
	_, ok, err := h.cache.Load(ctx, h.token)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestServePartialCacheIsAbsent(t *testing.T) {
	h := newHarness(t, updatedAt("1", ts900))
	ctx := context.Background()
	require.NoError(t, h.kv.Put(ctx, bodyKey(h.token), "ORPHAN", CacheTTL))

	resp, err := h.svc.Serve(ctx, Request{Token: h.token, IfNoneMatch: ETag(h.token, 900)})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, "RENDERED 42 1", resp.Body)
}

func TestServeInvalidToken(t *testing.T) {
	h := newHarness(t)
	for _, tok := range []string{"short", "0123456789abcdef0123456789abcdef"} {
		_, err := h.svc.Serve(context.Background(), Request{Token: tok})
		assert.ErrorIs(t, err, registry.ErrInvalidToken, tok)
	}
	assert.Zero(t, h.source.calls)
}

func TestServeAuthRequiredSkipsFetch(t *testing.T) {
	h := newHarness(t, updatedAt("1", tsMay))
	h.svc.Tokens = fakeTokens{err: fmt.Errorf("refresh failed: %w", oauth.ErrAuthRequired)}

	_, err := h.svc.Serve(context.Background(), Request{Token: h.token})
	assert.ErrorIs(t, err, oauth.ErrAuthRequired)
	assert.Zero(t, h.source.calls)
}

func TestServeUpstreamFailure(t *testing.T) {
	h := newHarness(t)
	h.source.err = fmt.Errorf("%w: 502 Bad Gateway", teamsnap.ErrUpstream)

	_, err := h.svc.Serve(context.Background(), Request{Token: h.token})
	assert.ErrorIs(t, err, teamsnap.ErrUpstream)
	assert.Zero(t, h.renderer.calls)
}

func TestServePlainText(t *testing.T) {
	h := newHarness(t, updatedAt("1", tsMay))
	resp, err := h.svc.Serve(context.Background(), Request{Token: h.token, PlainText: true})
	require.NoError(t, err)
	assert.Equal(t, "text/plain; charset=utf-8", resp.Header.Get("Content-Type"))
	assert.Equal(t, "inline", resp.Header.Get("Content-Disposition"))
}

func TestServeTeamLookupFailureDegrades(t *testing.T) {
	h := newHarness(t, updatedAt("1", tsMay))
	h.svc.Teams = fakeTeams{err: errors.New("boom")}
	require.NoError(t, prefs.New(h.kv).Put(context.Background(), "42", model.TeamPreferences{CustomName: "Maple"}))

	resp, err := h.svc.Serve(context.Background(), Request{Token: h.token})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Empty(t, h.renderer.names.TeamName)
	assert.Equal(t, "Maple", h.renderer.names.Prefs.CustomName)
}
