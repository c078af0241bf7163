package caldav

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav/caldav"
	"github.com/google/uuid"
	"github.com/teambition/rrule-go"

	"calsync/internal/models"
)

// DefaultEndpoint is used when no CalDAV URL is configured.
const DefaultEndpoint = "https://caldav.icloud.com/"

// basicAuthTransport handles adding Basic Auth and custom headers to requests.
type basicAuthTransport struct {
	Username  string
	Password  string
	Transport http.RoundTripper
}

// RoundTrip adds required headers and authentication to each request.
func (t *basicAuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.SetBasicAuth(t.Username, t.Password)
	req.Header.Set("User-Agent", "calsync/1.0")
	return t.Transport.RoundTrip(req)
}

// Client is a calendar backend over CalDAV. Calendar ids are collection paths
// such as "/123456/calendars/home/".
type Client struct {
	caldavClient *caldav.Client
	logger       *slog.Logger
	now          func() time.Time
}

// NewClient creates a Client authenticating with HTTP Basic Auth.
func NewClient(logger *slog.Logger, endpoint, username, password string) (*Client, error) {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	httpClient := &http.Client{Transport: &basicAuthTransport{
		Username:  username,
		Password:  password,
		Transport: http.DefaultTransport,
	}}

	caldavClient, err := caldav.NewClient(httpClient, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create caldav client: %w", err)
	}

	return &Client{
		caldavClient: caldavClient,
		logger:       logger,
		now:          time.Now,
	}, nil
}

// ListEvents queries the VEVENTs overlapping the query window. With
// SingleEvents set, recurring events are expanded into their occurrences.
func (c *Client) ListEvents(ctx context.Context, calendarID string, q models.ListQuery) ([]models.RawEvent, error) {
	c.logger.Debug("Querying CalDAV calendar", "calendar", calendarID, "timeMin", q.TimeMin, "timeMax", q.TimeMax)

	objects, err := c.caldavClient.QueryCalendar(ctx, calendarID, buildQuery(q))
	if err != nil {
		return nil, fmt.Errorf("failed to query calendar %s: %w", calendarID, err)
	}

	var raw []models.RawEvent
	for _, obj := range objects {
		if obj.Data == nil {
			continue
		}
		events, err := occurrences(obj.Data, q)
		if err != nil {
			c.logger.Warn("Skipping calendar object with an unreadable recurrence", "calendar", calendarID, "path", obj.Path, "error", err)
			continue
		}
		raw = append(raw, events...)
	}
	raw = limit(raw, q)

	c.logger.Info("Successfully fetched events from CalDAV", "count", len(raw), "calendar", calendarID)
	return raw, nil
}

func buildQuery(q models.ListQuery) *caldav.CalendarQuery {
	return &caldav.CalendarQuery{
		CompRequest: caldav.CalendarCompRequest{
			Name: "VCALENDAR",
			Comps: []caldav.CalendarCompRequest{{
				Name: "VEVENT",
				Props: []string{
					ical.PropUID,
					ical.PropSummary,
					ical.PropDescription,
					ical.PropDateTimeStart,
					ical.PropDateTimeEnd,
					ical.PropDuration,
					ical.PropURL,
					ical.PropRecurrenceID,
					ical.PropRecurrenceRule,
					ical.PropRecurrenceDates,
					ical.PropExceptionDates,
				},
			}},
		},
		CompFilter: caldav.CompFilter{
			Name:  "VCALENDAR",
			Comps: []caldav.CompFilter{{Name: "VEVENT", Start: q.TimeMin, End: q.TimeMax}},
		},
	}
}

// occurrences flattens the VEVENTs of one calendar object. Without
// SingleEvents every VEVENT is returned as stored. With it, a recurring
// event yields one RawEvent per occurrence starting in [TimeMin, TimeMax],
// and occurrences replaced by a RECURRENCE-ID sibling are left to the sibling.
func occurrences(cal *ical.Calendar, q models.ListQuery) ([]models.RawEvent, error) {
	events := cal.Events()

	overridden := map[int64]bool{}
	for _, ev := range events {
		if p := ev.Props.Get(ical.PropRecurrenceID); p != nil {
			if t, err := p.DateTime(time.UTC); err == nil {
				overridden[t.Unix()] = true
			}
		}
	}

	var raw []models.RawEvent
	for _, ev := range events {
		if !q.SingleEvents || ev.Props.Get(ical.PropRecurrenceID) != nil {
			raw = append(raw, fromICal(ev.Component))
			continue
		}
		expanded, err := expand(ev, q.TimeMin, q.TimeMax, overridden)
		if err != nil {
			return nil, err
		}
		raw = append(raw, expanded...)
	}
	return raw, nil
}

// expand returns the occurrences of ev starting between from and to, both
// inclusive. Each occurrence lasts as long as the master event and keeps its
// DATE or DATE-TIME form. A non-recurring event is returned unchanged.
func expand(ev ical.Event, from, to time.Time, skip map[int64]bool) ([]models.RawEvent, error) {
	set, err := ev.RecurrenceSet(time.UTC)
	if err != nil {
		return nil, err
	}
	rdates := ev.Props[ical.PropRecurrenceDates]
	if set == nil && len(rdates) == 0 {
		return []models.RawEvent{fromICal(ev.Component)}, nil
	}

	start, err := ev.DateTimeStart(time.UTC)
	if err != nil {
		return nil, fmt.Errorf("invalid DTSTART: %w", err)
	}
	end, err := ev.DateTimeEnd(time.UTC)
	if err != nil {
		return nil, fmt.Errorf("invalid end of recurring event: %w", err)
	}

	if set == nil {
		set = &rrule.Set{}
		set.DTStart(start)
		set.RDate(start)
		for _, p := range ev.Props[ical.PropExceptionDates] {
			times, err := propTimes(p)
			if err != nil {
				return nil, fmt.Errorf("invalid EXDATE: %w", err)
			}
			for _, t := range times {
				set.ExDate(t)
			}
		}
	}
	// RecurrenceSet only reads RRULE and EXDATE.
	for _, p := range rdates {
		if p.ValueType() == ical.ValuePeriod {
			continue
		}
		times, err := propTimes(p)
		if err != nil {
			return nil, fmt.Errorf("invalid RDATE: %w", err)
		}
		for _, t := range times {
			set.RDate(t)
		}
	}

	allDay := isDate(ev.Props.Get(ical.PropDateTimeStart))
	duration := end.Sub(start)
	master := fromICal(ev.Component)

	var out []models.RawEvent
	for _, t := range set.Between(from, to, true) {
		if skip[t.Unix()] {
			continue
		}
		occurrence := master
		occurrence.Start = occurrenceTime(t, allDay)
		occurrence.End = occurrenceTime(t.Add(duration), allDay)
		out = append(out, occurrence)
	}
	return out, nil
}

// propTimes parses a possibly comma separated list of DATE or DATE-TIME values.
func propTimes(p ical.Prop) ([]time.Time, error) {
	var times []time.Time
	for _, v := range strings.Split(p.Value, ",") {
		single := p
		single.Value = strings.TrimSpace(v)
		t, err := single.DateTime(time.UTC)
		if err != nil {
			return nil, err
		}
		times = append(times, t)
	}
	return times, nil
}

func occurrenceTime(t time.Time, allDay bool) *models.EventTime {
	if allDay {
		return &models.EventTime{Date: t.Format(time.DateOnly)}
	}
	return &models.EventTime{DateTime: t.Format(time.RFC3339)}
}

func isDate(p *ical.Prop) bool {
	return p != nil && p.Params.Get(ical.ParamValue) == string(ical.ValueDate)
}

// limit orders events by start when asked to and truncates to MaxResults.
func limit(raw []models.RawEvent, q models.ListQuery) []models.RawEvent {
	if q.OrderBy == "startTime" {
		sort.SliceStable(raw, func(i, j int) bool { return startOf(raw[i]).Before(startOf(raw[j])) })
	}
	if q.MaxResults > 0 && int64(len(raw)) > q.MaxResults {
		raw = raw[:q.MaxResults]
	}
	return raw
}

func startOf(r models.RawEvent) time.Time {
	if r.Start == nil {
		return time.Time{}
	}
	if r.Start.Date != "" {
		t, _ := time.Parse(time.DateOnly, r.Start.Date)
		return t
	}
	t, _ := time.Parse(time.RFC3339, r.Start.DateTime)
	return t
}

// fromICal converts a VEVENT into a RawEvent. DATE values become Date,
// DATE-TIME values become DateTime; unparsable values leave both empty.
func fromICal(ve *ical.Component) models.RawEvent {
	summary, _ := ve.Props.Text(ical.PropSummary)
	description, _ := ve.Props.Text(ical.PropDescription)
	raw := models.RawEvent{
		Start:       eventTime(ve.Props.Get(ical.PropDateTimeStart)),
		End:         eventTime(ve.Props.Get(ical.PropDateTimeEnd)),
		Summary:     summary,
		Description: description,
	}
	if u := ve.Props.Get(ical.PropURL); u != nil {
		raw.HTMLLink = u.Value
	}
	// A DATE start without DTEND or DURATION lasts one day (RFC 5545 3.6.1).
	if raw.End == nil && ve.Props.Get(ical.PropDuration) == nil && raw.Start != nil && raw.Start.Date != "" {
		if d, err := models.ParseDate(raw.Start.Date); err == nil {
			raw.End = &models.EventTime{Date: d.AddDays(1).String()}
		}
	}
	return raw
}

func eventTime(p *ical.Prop) *models.EventTime {
	if p == nil {
		return nil
	}
	if isDate(p) {
		t, err := time.Parse("20060102", p.Value)
		if err != nil {
			return &models.EventTime{}
		}
		return &models.EventTime{Date: t.Format(time.DateOnly)}
	}
	t, err := p.DateTime(time.UTC)
	if err != nil {
		return &models.EventTime{}
	}
	return &models.EventTime{DateTime: t.Format(time.RFC3339)}
}

// InsertEvent stores a new whole-day event in the calendar collection.
func (c *Client) InsertEvent(ctx context.Context, calendarID string, ev models.NewEvent) error {
	uid := GenerateUID()
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, "-//calsync//EN")
	cal.Children = append(cal.Children, toICal(uid, ev, c.now()))

	eventPath := path.Join(calendarID, uid+".ics")
	if _, err := c.caldavClient.PutCalendarObject(ctx, eventPath, cal); err != nil {
		return fmt.Errorf("failed to store event %q on CalDAV server: %w", ev.Title, err)
	}

	c.logger.Debug("Created event on CalDAV server", "calendar", calendarID, "title", ev.Title, "uid", uid)
	return nil
}

// toICal converts a NewEvent into a VEVENT with DATE-valued bounds.
func toICal(uid string, ev models.NewEvent, now time.Time) *ical.Component {
	ve := ical.NewComponent(ical.CompEvent)
	ve.Props.SetText(ical.PropUID, uid)
	ve.Props.SetText(ical.PropSummary, ev.Title)
	ve.Props.SetDateTime(ical.PropDateTimeStamp, now.UTC())
	ve.Props.SetDate(ical.PropDateTimeStart, ev.Start.In(time.UTC))
	ve.Props.SetDate(ical.PropDateTimeEnd, ev.End.In(time.UTC))
	if ev.Description != "" {
		ve.Props.SetText(ical.PropDescription, ev.Description)
	}
	if ev.Visibility != "" {
		ve.Props.SetText(ical.PropClass, strings.ToUpper(ev.Visibility))
	}
	return ve
}

// CalendarSummary returns the display name of the calendar collection.
func (c *Client) CalendarSummary(ctx context.Context, calendarID string) (string, error) {
	calendars, err := c.calendars(ctx)
	if err != nil {
		return "", err
	}
	for _, cal := range calendars {
		if strings.TrimSuffix(cal.Path, "/") == strings.TrimSuffix(calendarID, "/") {
			return cal.Name, nil
		}
	}
	return "", fmt.Errorf("no calendar found at '%s'", calendarID)
}

// Calendars lists the user's calendar collections as path -> name.
func (c *Client) Calendars(ctx context.Context) (map[string]string, error) {
	calendars, err := c.calendars(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(calendars))
	for _, cal := range calendars {
		out[cal.Path] = cal.Name
	}
	return out, nil
}

func (c *Client) calendars(ctx context.Context) ([]caldav.Calendar, error) {
	principalPath, err := c.caldavClient.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to find principal path: %w", err)
	}

	homeSetPath, err := c.caldavClient.FindCalendarHomeSet(ctx, principalPath)
	if err != nil {
		return nil, fmt.Errorf("failed to find calendar home set: %w", err)
	}

	calendars, err := c.caldavClient.FindCalendars(ctx, homeSetPath)
	if err != nil {
		return nil, fmt.Errorf("failed to find calendars: %w", err)
	}
	return calendars, nil
}

// GenerateUID creates a new unique identifier for an event.
func GenerateUID() string {
	return uuid.New().String()
}
