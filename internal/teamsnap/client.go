// Package teamsnap is a minimal read-only client for the TeamSnap v3 API.
// Every response is a Collection+JSON document whose items are flattened
// into attribute maps.
package teamsnap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"

	"teamcal/internal/model"
)

// ErrUpstream wraps every transport, status and decoding failure.
var ErrUpstream = errors.New("upstream request failed")

type collectionDoc struct {
	Collection struct {
		Items []struct {
			Data []struct {
				Name  string `json:"name"`
				Value any    `json:"value"`
			} `json:"data"`
		} `json:"items"`
	} `json:"collection"`
}

// Client talks to the API on behalf of whoever owns the access token
// passed to each call.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client rooted at baseURL (e.g.
// "https://api.teamsnap.com/v3"). httpClient supplies the transport and
// timeout; nil means a 15s default.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{baseURL: baseURL, http: httpClient}
}

// Me returns the authorized user record.
func (c *Client) Me(ctx context.Context, token string) (model.Event, error) {
	return c.first(ctx, token, "/me", nil)
}

// Teams lists the teams the user belongs to.
func (c *Client) Teams(ctx context.Context, token, userID string) ([]model.Team, error) {
	items, err := c.get(ctx, token, "/teams/search", url.Values{"user_id": {userID}})
	if err != nil {
		return nil, err
	}
	teams := make([]model.Team, 0, len(items))
	for _, it := range items {
		if it.ID() == "" {
			continue
		}
		teams = append(teams, model.Team{ID: it.ID(), Name: it.String("name")})
	}
	return teams, nil
}

// Team fetches a single team.
func (c *Client) Team(ctx context.Context, token, teamID string) (model.Team, error) {
	it, err := c.first(ctx, token, "/teams/"+url.PathEscape(teamID), nil)
	if err != nil {
		return model.Team{}, err
	}
	return model.Team{ID: it.ID(), Name: it.String("name")}, nil
}

// Events returns every event of a team in upstream order.
func (c *Client) Events(ctx context.Context, token, teamID string) ([]model.Event, error) {
	return c.get(ctx, token, "/events/search", url.Values{"team_id": {teamID}})
}

// Location fetches a location record (address, city, state, postal_code...).
func (c *Client) Location(ctx context.Context, token, locationID string) (model.Event, error) {
	return c.first(ctx, token, "/locations/"+url.PathEscape(locationID), nil)
}

func (c *Client) first(ctx context.Context, token, path string, q url.Values) (model.Event, error) {
	items, err := c.get(ctx, token, path, q)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: GET %s: empty collection", ErrUpstream, path)
	}
	return items[0], nil
}

func (c *Client) get(ctx context.Context, token, path string, q url.Values) ([]model.Event, error) {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/vnd.collection+json")

	httpClient := oauth2.NewClient(
		context.WithValue(ctx, oauth2.HTTPClient, c.http),
		oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}),
	)
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: GET %s: %v", ErrUpstream, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: GET %s: %s", ErrUpstream, path, resp.Status)
	}

	var doc collectionDoc
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: GET %s: decode: %v", ErrUpstream, path, err)
	}

	out := make([]model.Event, 0, len(doc.Collection.Items))
	for _, item := range doc.Collection.Items {
		ev := make(model.Event, len(item.Data))
		for _, d := range item.Data {
			ev[d.Name] = d.Value
		}
		out = append(out, ev)
	}
	return out, nil
}
