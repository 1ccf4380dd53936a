package synth

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"teamcal/internal/model"
)

func leafs(remove bool) Names {
	return Names{
		TeamName: "Toronto Maple Leafs U12",
		Prefs:    model.TeamPreferences{CustomName: "Leafs", RemoveOpponentNames: remove},
	}
}

var awayGame = model.Event{"is_game": true, "game_type": "Away", "opponent_name": "Jets"}

func TestGameTitles(t *testing.T) {
	assert.Equal(t, "Leafs vs. Jets", Title(awayGame, leafs(false)))
	assert.Equal(t, "Leafs: Game", Title(awayGame, leafs(true)))

	assert.Equal(t, "Toronto Maple Leafs U12 vs. Jets", Title(awayGame, Names{TeamName: "Toronto Maple Leafs U12"}))
	assert.Equal(t, "Team vs. Jets", Title(awayGame, Names{}))
}

func TestGameWithoutOpponentUsesUpstreamTitle(t *testing.T) {
	ev := model.Event{
		"is_game":                        true,
		"formatted_title":                "Game vs. TBD",
		"formatted_title_for_multi_team": "TORONTO MAPLE LEAFS U12 vs. TBD (toronto maple leafs u12 home)",
	}
	assert.Equal(t, "Leafs vs. TBD (Leafs home)", Title(ev, leafs(false)))

	// No custom name: nothing to substitute.
	assert.Equal(t, ev.String("formatted_title_for_multi_team"), Title(ev, Names{TeamName: "Toronto Maple Leafs U12"}))

	delete(ev, "formatted_title_for_multi_team")
	assert.Equal(t, "Game vs. TBD", Title(ev, leafs(false)))
}

func TestNonGameTitles(t *testing.T) {
	assert.Equal(t, "Leafs: Practice", Title(model.Event{"formatted_title": "Practice"}, leafs(false)))
	assert.Equal(t, "Team: Practice", Title(model.Event{"formatted_title": "Practice"}, Names{}))
	assert.Equal(t, "Leafs Team Party",
		Title(model.Event{"formatted_title_for_multi_team": "Toronto Maple Leafs U12 Team Party"}, leafs(false)))
	assert.Equal(t, "Skills Clinic", Title(model.Event{"label": "Skills Clinic"}, leafs(false)))
	assert.Equal(t, "Event", Title(model.Event{}, leafs(false)))
}

func TestUnflaggedEventWithOpponentIsNotTitledAsGame(t *testing.T) {
	ev := model.Event{
		"is_game":                 false,
		"game_type":               "Home",
		"opponent_name":           "Jets",
		"formatted_title":         "Scrimmage",
		"arrival_date":            "2024-05-04T17:15:00Z",
		"minutes_to_arrive_early": "30",
	}
	assert.Equal(t, "Leafs: Scrimmage", Title(ev, Names{TeamName: "Leafs"}))
	assert.Equal(t, "", Description(ev, time.UTC))
}

func TestRenameQuotesRegexp(t *testing.T) {
	n := Names{TeamName: "A+ (Blue)", Prefs: model.TeamPreferences{CustomName: "Blues $1"}}
	assert.Equal(t, "Blues $1 Party", Title(model.Event{"formatted_title_for_multi_team": "a+ (blue) Party"}, n))
}

func TestDescriptionFirstLine(t *testing.T) {
	d := Description(awayGame, time.UTC)
	assert.True(t, strings.HasPrefix(d, "Away at Jets\n"), d)

	home := model.Event{"is_game": true, "game_type": "Home", "opponent_name": "Jets"}
	assert.Equal(t, "Home vs. Jets\n", Description(home, time.UTC))

	odd := model.Event{"is_game": true, "game_type": "Neutral", "opponent_name": "Jets", "label": "Final"}
	assert.Equal(t, "Final vs. Jets\n", Description(odd, time.UTC))
	delete(odd, "label")
	assert.Equal(t, "TBD vs. Jets\n", Description(odd, time.UTC))
}

func TestDescriptionFullGame(t *testing.T) {
	ev := model.Event{
		"is_game":                     true,
		"game_type":                   "Home",
		"opponent_name":               "Jets",
		"uniform":                     "White jerseys",
		"location_name":               "Scotiabank Arena",
		"additional_location_details": "Rink 2",
		"arrival_date":                "2024-05-04T17:15:00Z",
		"minutes_to_arrive_early":     "45",
		"time_zone_iana_name":         "America/Toronto",
		"notes":                       "Bring water",
	}
	want := "Home vs. Jets\n" +
		"Uniform: White jerseys\n" +
		"\nScotiabank Arena\nRink 2\n" +
		"Arrival: 1:15 PM · 45 min. early\n" +
		"\nBring water\n"
	assert.Equal(t, want, Description(ev, time.UTC))
}

func TestDescriptionOmitsAbsentFields(t *testing.T) {
	ev := model.Event{
		"label":                       "Practice",
		"location_name":               "Field 3",
		"additional_location_details": "TBD",
		"arrival_date":                "2024-05-04T17:15:00Z",
		"minutes_to_arrive_early":     "30",
		"notes":                       nil,
	}
	d := Description(ev, time.UTC)
	assert.Equal(t, "\nField 3\n", d)
	assert.NotContains(t, d, "undefined")
	assert.NotContains(t, d, "TBD")
	assert.NotContains(t, d, "Arrival")

	assert.Equal(t, "", Description(model.Event{}, time.UTC))
}

func TestArrivalUsesDefaultZone(t *testing.T) {
	ev := model.Event{
		"arrival_date":            "2024-01-10T23:30:00Z",
		"minutes_to_arrive_early": 15,
		"time_zone_iana_name":     "Not/AZone",
	}
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skip("tzdata unavailable")
	}
	got, ok := Arrival(ev, ny)
	assert.True(t, ok)
	assert.Equal(t, "Arrival: 6:30 PM · 15 min. early", got)

	_, ok = Arrival(model.Event{"arrival_date": "2024-01-10T23:30:00Z"}, ny)
	assert.False(t, ok)
}
