package ics

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/google/uuid"
	"github.com/samber/mo"

	appLog "teamcal/internal/log"
	"teamcal/internal/metrics"
	"teamcal/internal/model"
	"teamcal/internal/synth"
)

const (
	ProdID = "-//teamcal//TeamSnap Calendar Feeds//EN"

	// defaultDuration applies to events without an end_date.
	defaultDuration = 2 * time.Hour

	utcLayout = "20060102T150405Z"
)

var uidNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://go.teamsnap.com/events"))

// textEscaper implements the feed's text-value escaping: line breaks
// become the two characters `\n` and commas become `\,`.
var textEscaper = strings.NewReplacer(
	"\r\n", `\n`,
	"\n", `\n`,
	"\r", `\n`,
	",", `\,`,
)

// Escape prepares s for embedding in a text-valued property.
func Escape(s string) string {
	return textEscaper.Replace(s)
}

// LocationSource looks up a location record for address enrichment.
type LocationSource interface {
	Location(ctx context.Context, token, locationID string) (model.Event, error)
}

// Options tune a Renderer.
type Options struct {
	// WebURL is the root of the upstream web app, used for event deep links.
	WebURL string
	// DefaultLocation localizes arrival times for events without a zone.
	DefaultLocation *time.Location
	// Now stamps DTSTAMP; defaults to time.Now.
	Now func() time.Time
}

// Renderer turns filtered events into a calendar document.
type Renderer struct {
	locations LocationSource
	opts      Options
}

func NewRenderer(locations LocationSource, opts Options) *Renderer {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.DefaultLocation == nil {
		opts.DefaultLocation = time.UTC
	}
	opts.WebURL = strings.TrimRight(opts.WebURL, "/")
	return &Renderer{locations: locations, opts: opts}
}

// Render builds the document for one team. token authorizes the location
// lookups; a failed lookup only drops the address from that event.
// Events without a start are skipped. Output order follows evs.
func (r *Renderer) Render(ctx context.Context, token, teamID string, evs []model.Event, names synth.Names) (string, error) {
	cal := ical.NewCalendar()
	setRaw(cal.Props, ical.PropVersion, "2.0")
	setRaw(cal.Props, ical.PropProductID, ProdID)
	setRaw(cal.Props, ical.PropCalendarScale, "GREGORIAN")
	setRaw(cal.Props, ical.PropMethod, "PUBLISH")
	if name := names.Display(); name != "" {
		setRaw(cal.Props, "X-WR-CALNAME", Escape(name))
	}

	stamp := r.opts.Now().UTC()
	addresses := make(map[string]mo.Option[string])

	for _, ev := range evs {
		comp, ok := r.event(ctx, token, teamID, ev, names, stamp, addresses)
		if !ok {
			appLog.Debug("ics: skipping event without start", "event_id", ev.ID())
			continue
		}
		cal.Children = append(cal.Children, comp)
	}

	if len(cal.Children) == 0 {
		// the encoder rejects a calendar without components
		return emptyCalendar(cal.Props), nil
	}

	var buf bytes.Buffer
	if err := ical.NewEncoder(&buf).Encode(cal); err != nil {
		return "", fmt.Errorf("failed to encode calendar: %w", err)
	}
	return buf.String(), nil
}

func emptyCalendar(props ical.Props) string {
	var b strings.Builder
	b.WriteString("BEGIN:VCALENDAR\r\n")
	for _, name := range []string{ical.PropVersion, ical.PropProductID, ical.PropCalendarScale, ical.PropMethod, "X-WR-CALNAME"} {
		if p := props.Get(name); p != nil {
			b.WriteString(name + ":" + p.Value + "\r\n")
		}
	}
	b.WriteString("END:VCALENDAR\r\n")
	return b.String()
}

func (r *Renderer) event(ctx context.Context, token, teamID string, ev model.Event, names synth.Names, stamp time.Time, addresses map[string]mo.Option[string]) (*ical.Component, bool) {
	start, ok := ev.Time("start_date")
	if !ok {
		return nil, false
	}
	end, ok := ev.Time("end_date")
	if !ok {
		end = start.Add(defaultDuration)
	}
	lastModified, ok := ev.Time("updated_at")
	if !ok {
		lastModified = stamp
	}

	comp := ical.NewComponent(ical.CompEvent)
	setRaw(comp.Props, ical.PropUID, eventUID(ev, start))
	setRaw(comp.Props, ical.PropDateTimeStamp, formatUTC(stamp))
	setRaw(comp.Props, ical.PropDateTimeStart, formatUTC(start))
	setRaw(comp.Props, ical.PropDateTimeEnd, formatUTC(end))
	setRaw(comp.Props, ical.PropSummary, Escape(synth.Title(ev, names)))
	if desc := synth.Description(ev, r.opts.DefaultLocation); desc != "" {
		setRaw(comp.Props, ical.PropDescription, Escape(desc))
	}
	if loc := r.location(ctx, token, ev, addresses); loc != "" {
		setRaw(comp.Props, ical.PropLocation, loc)
	}
	if id := ev.ID(); id != "" && r.opts.WebURL != "" {
		setRaw(comp.Props, ical.PropURL, r.opts.WebURL+"/"+url.PathEscape(teamID)+"/schedule/view_event/"+url.PathEscape(id))
	}
	setRaw(comp.Props, ical.PropLastModified, formatUTC(lastModified))
	return comp, true
}

// location is the escaped LOCATION value: the location name, then the
// looked-up address after an escaped line break.
func (r *Renderer) location(ctx context.Context, token string, ev model.Event, addresses map[string]mo.Option[string]) string {
	var parts []string
	if name := ev.String("location_name"); name != "" {
		parts = append(parts, Escape(name))
	}
	if id := ev.String("location_id"); id != "" {
		addr, seen := addresses[id]
		if !seen {
			addr = r.address(ctx, token, id)
			addresses[id] = addr
		}
		if a, ok := addr.Get(); ok {
			parts = append(parts, Escape(a))
		}
	}
	return strings.Join(parts, `\n`)
}

// address is a best-effort lookup; every failure collapses to None.
func (r *Renderer) address(ctx context.Context, token, locationID string) mo.Option[string] {
	if r.locations == nil {
		return mo.None[string]()
	}
	rec, err := r.locations.Location(ctx, token, locationID)
	if err != nil {
		metrics.EnrichmentFailures.WithLabelValues("location").Inc()
		appLog.Warn("ics: location lookup failed", "location_id", locationID, "err", err.Error())
		return mo.None[string]()
	}
	return FormatAddress(rec)
}

// FormatAddress joins address, city, state and postal code with spaces.
func FormatAddress(rec model.Event) mo.Option[string] {
	var parts []string
	for _, f := range []string{"address", "city", "state", "postal_code"} {
		if v := rec.String(f); v != "" {
			parts = append(parts, v)
		}
	}
	if len(parts) == 0 {
		return mo.None[string]()
	}
	return mo.Some(strings.Join(parts, " "))
}

func eventUID(ev model.Event, start time.Time) string {
	name := ev.ID()
	if name == "" {
		name = "start:" + formatUTC(start) + ":" + ev.String("label")
	}
	return uuid.NewSHA1(uidNamespace, []byte(name)).String() + "@teamcal"
}

func formatUTC(t time.Time) string {
	return t.UTC().Format(utcLayout)
}

// setRaw stores an already-encoded value; the encoder writes it verbatim.
func setRaw(props ical.Props, name, value string) {
	p := ical.NewProp(name)
	p.Value = value
	props.Set(p)
}
