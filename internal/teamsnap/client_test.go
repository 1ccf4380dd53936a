package teamsnap

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const eventsDoc = `{"collection":{"version":"3.866.0","items":[
 {"href":"https://api.example.com/v3/events/1","data":[
   {"name":"id","value":1001},{"name":"is_game","value":true},{"name":"opponent_name","value":"Jets"},
   {"name":"start_date","value":"2024-05-04T14:00:00Z"},{"name":"notes","value":null}]},
 {"data":[{"name":"id","value":1002},{"name":"label","value":"Practice"}]}
]}}`

func newServer(t *testing.T, routes map[string]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		body, ok := routes[r.URL.RequestURI()]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/vnd.collection+json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestEvents(t *testing.T) {
	srv := newServer(t, map[string]string{"/events/search?team_id=42": eventsDoc})
	c := NewClient(srv.URL, srv.Client())

	events, err := c.Events(context.Background(), "tok", "42")
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, "1001", events[0].ID())
	assert.True(t, events[0].Bool("is_game"))
	assert.Equal(t, "Jets", events[0].String("opponent_name"))
	assert.Equal(t, "", events[0].String("notes"))
	assert.Equal(t, "Practice", events[1].String("label"))
}

func TestTeamsAndLocation(t *testing.T) {
	srv := newServer(t, map[string]string{
		"/me":                    `{"collection":{"items":[{"data":[{"name":"id","value":7},{"name":"email","value":"coach@example.com"}]}]}}`,
		"/teams/search?user_id=7": `{"collection":{"items":[{"data":[{"name":"id","value":42},{"name":"name","value":"Maple Leafs"}]},{"data":[{"name":"name","value":"no id"}]}]}}`,
		"/teams/42":              `{"collection":{"items":[{"data":[{"name":"id","value":42},{"name":"name","value":"Maple Leafs"}]}]}}`,
		"/locations/9":           `{"collection":{"items":[{"data":[{"name":"address","value":"40 Bay St"},{"name":"city","value":"Toronto"}]}]}}`,
	})
	c := NewClient(srv.URL, srv.Client())
	ctx := context.Background()

	me, err := c.Me(ctx, "tok")
	require.NoError(t, err)
	assert.Equal(t, "7", me.ID())

	teams, err := c.Teams(ctx, "tok", "7")
	require.NoError(t, err)
	require.Len(t, teams, 1)
	assert.Equal(t, "Maple Leafs", teams[0].Name)

	team, err := c.Team(ctx, "tok", "42")
	require.NoError(t, err)
	assert.Equal(t, "42", team.ID)

	loc, err := c.Location(ctx, "tok", "9")
	require.NoError(t, err)
	assert.Equal(t, "Toronto", loc.String("city"))
}

func TestUpstreamFailures(t *testing.T) {
	srv := newServer(t, map[string]string{
		"/teams/1": `{"collection":{"items":[]}}`,
		"/teams/2": `not json`,
	})
	c := NewClient(srv.URL, srv.Client())
	ctx := context.Background()

	_, err := c.Events(ctx, "tok", "404")
	assert.ErrorIs(t, err, ErrUpstream)
	_, err = c.Team(ctx, "tok", "1")
	assert.ErrorIs(t, err, ErrUpstream)
	_, err = c.Team(ctx, "tok", "2")
	assert.ErrorIs(t, err, ErrUpstream)

	dead := NewClient("http://127.0.0.1:1", nil)
	_, err = dead.Events(ctx, "tok", "42")
	assert.ErrorIs(t, err, ErrUpstream)
}
