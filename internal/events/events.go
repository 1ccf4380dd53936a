// Package events retrieves a team's events and narrows them to what a
// feed should contain.
package events

import (
	"context"

	"teamcal/internal/model"
)

// Source is the upstream event listing.
type Source interface {
	Events(ctx context.Context, token, teamID string) ([]model.Event, error)
}

// Fetcher pulls events for one team per call.
type Fetcher struct {
	src Source
}

func NewFetcher(src Source) *Fetcher {
	return &Fetcher{src: src}
}

// FetchTeamEvents makes exactly one upstream call and returns the raw
// collection. Errors are returned unchanged.
func (f *Fetcher) FetchTeamEvents(ctx context.Context, token, teamID string) ([]model.Event, error) {
	return f.src.Events(ctx, token, teamID)
}

// Fetch is FetchTeamEvents followed by DropCancelled and ApplyFilter.
func (f *Fetcher) Fetch(ctx context.Context, token, teamID string, filter model.FilterType) ([]model.Event, error) {
	evs, err := f.FetchTeamEvents(ctx, token, teamID)
	if err != nil {
		return nil, err
	}
	return ApplyFilter(DropCancelled(evs), filter), nil
}

// DropCancelled removes events whose is_canceled is truthy.
func DropCancelled(evs []model.Event) []model.Event {
	out := make([]model.Event, 0, len(evs))
	for _, ev := range evs {
		if ev.IsCanceled() {
			continue
		}
		out = append(out, ev)
	}
	return out
}

// ApplyFilter keeps only games for FilterGames; anything else is a no-op.
func ApplyFilter(evs []model.Event, filter model.FilterType) []model.Event {
	if filter != model.FilterGames {
		return evs
	}
	out := make([]model.Event, 0, len(evs))
	for _, ev := range evs {
		if ev.IsGame() {
			out = append(out, ev)
		}
	}
	return out
}

// LatestUpdate is the watermark: the greatest updated_at in epoch millis,
// or 0 when no event carries a parseable one.
func LatestUpdate(evs []model.Event) int64 {
	var latest int64
	for _, ev := range evs {
		if ms := ev.UpdatedAtMillis(); ms > latest {
			latest = ms
		}
	}
	return latest
}
