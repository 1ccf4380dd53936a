// Package prefs persists per-team naming preferences. Entries never expire.
package prefs

import (
	"context"
	"errors"
	"strconv"

	"teamcal/internal/model"
	"teamcal/internal/store"
)

type Store struct {
	kv store.Store
}

func New(kv store.Store) *Store {
	return &Store{kv: kv}
}

func customNameKey(teamID string) string { return "team:" + teamID + ":custom_name" }
func removeOppKey(teamID string) string  { return "team:" + teamID + ":remove_opponent_names" }

// Get returns the team's preferences; absent keys read as zero values.
func (s *Store) Get(ctx context.Context, teamID string) (model.TeamPreferences, error) {
	var p model.TeamPreferences

	name, err := s.kv.Get(ctx, customNameKey(teamID))
	switch {
	case err == nil:
		p.CustomName = name
	case !errors.Is(err, store.ErrNotFound):
		return p, err
	}

	flag, err := s.kv.Get(ctx, removeOppKey(teamID))
	switch {
	case err == nil:
		p.RemoveOpponentNames, _ = strconv.ParseBool(flag)
	case !errors.Is(err, store.ErrNotFound):
		return p, err
	}
	return p, nil
}

// Put stores p. An empty custom name clears it.
func (s *Store) Put(ctx context.Context, teamID string, p model.TeamPreferences) error {
	if p.CustomName == "" {
		if err := s.kv.Delete(ctx, customNameKey(teamID)); err != nil {
			return err
		}
	} else if err := s.kv.Put(ctx, customNameKey(teamID), p.CustomName, 0); err != nil {
		return err
	}
	return s.kv.Put(ctx, removeOppKey(teamID), strconv.FormatBool(p.RemoveOpponentNames), 0)
}
