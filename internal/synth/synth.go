// Package synth turns a raw upstream event into the human-facing title and
// description shown in calendar apps. It is pure: no network, no store.
//
// Descriptions are returned with literal newlines; escaping for the
// calendar format happens once, in the renderer.
package synth

import (
	"regexp"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"teamcal/internal/model"
)

// Names is the team naming context for one feed.
type Names struct {
	// TeamName is the upstream team name; may be empty when the lookup failed.
	TeamName string
	Prefs    model.TeamPreferences
}

// Display is the custom name if set, else the upstream name.
func (n Names) Display() string {
	if n.Prefs.CustomName != "" {
		return n.Prefs.CustomName
	}
	return n.TeamName
}

func (n Names) team() string {
	if d := n.Display(); d != "" {
		return d
	}
	return "Team"
}

// rename swaps every case-insensitive occurrence of the upstream team name
// for the custom one, when both are known.
func (n Names) rename(s string) string {
	if n.Prefs.CustomName == "" || n.TeamName == "" {
		return s
	}
	re := regexp.MustCompile("(?i)" + regexp.QuoteMeta(n.TeamName))
	return re.ReplaceAllLiteralString(s, n.Prefs.CustomName)
}

// Title builds the event summary.
func Title(ev model.Event, n Names) string {
	multi := ev.String("formatted_title_for_multi_team")
	single := ev.String("formatted_title")

	flagged := ev.FlaggedGame()

	switch {
	case flagged && ev.HasOpponent():
		if n.Prefs.RemoveOpponentNames {
			return n.team() + ": Game"
		}
		return n.team() + " vs. " + ev.String("opponent_name")
	case flagged:
		if multi != "" {
			return n.rename(multi)
		}
		if single != "" {
			return n.rename(single)
		}
	case single != "":
		return n.team() + ": " + single
	case multi != "":
		return n.rename(multi)
	}

	if label := ev.String("label"); label != "" {
		return label
	}
	return "Event"
}

// Description builds the multi-line event body. defaultLoc localizes the
// arrival time when the event carries no usable time zone.
func Description(ev model.Event, defaultLoc *time.Location) string {
	var b strings.Builder
	line := func(s string) {
		b.WriteString(s)
		b.WriteByte('\n')
	}

	isGame := ev.FlaggedGame()

	if opp := ev.String("opponent_name"); isGame && opp != "" {
		switch gt := ev.String("game_type"); {
		case strings.EqualFold(gt, "Home"):
			line("Home vs. " + opp)
		case strings.EqualFold(gt, "Away"):
			line("Away at " + opp)
		default:
			label := ev.String("label")
			if label == "" {
				label = "TBD"
			}
			line(label + " vs. " + opp)
		}
	}

	if u := ev.String("uniform"); u != "" {
		line("Uniform: " + u)
	}

	name := ev.String("location_name")
	details := ev.String("additional_location_details")
	if details == "TBD" {
		details = ""
	}
	if name != "" || details != "" {
		b.WriteByte('\n')
		if name != "" {
			line(name)
		}
		if details != "" {
			line(details)
		}
	}

	if isGame {
		if arrival, ok := Arrival(ev, defaultLoc); ok {
			line(arrival)
		}
	}

	if notes := ev.String("notes"); notes != "" {
		b.WriteByte('\n')
		line(notes)
	}

	return b.String()
}

// Arrival renders "Arrival: 5:15 PM · 45 min. early" when both the
// arrival time and the lead time are present.
func Arrival(ev model.Event, defaultLoc *time.Location) (string, bool) {
	at, ok := ev.Time("arrival_date")
	if !ok {
		return "", false
	}
	minutes, ok := ev.Int("minutes_to_arrive_early")
	if !ok {
		return "", false
	}
	return "Arrival: " + at.In(EventLocation(ev, defaultLoc)).Format("3:04 PM") +
		" · " + strconv.Itoa(minutes) + " min. early", true
}

// EventLocation resolves the event's IANA zone, falling back to def (or
// UTC when def is nil).
func EventLocation(ev model.Event, def *time.Location) *time.Location {
	if name := ev.String("time_zone_iana_name"); name != "" {
		if loc, err := time.LoadLocation(name); err == nil {
			return loc
		}
	}
	if def == nil {
		return time.UTC
	}
	return def
}
