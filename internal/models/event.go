package models

import "time"

// Origin tells which side of a calendar pair an event was fetched from.
type Origin int

const (
	OriginSource Origin = iota
	OriginTarget
)

func (o Origin) String() string {
	if o == OriginTarget {
		return "target"
	}
	return "source"
}

// Event represents a whole-day calendar entry.
// This is an internal representation, independent of any specific calendar provider.
type Event struct {
	StartDate   Date   `json:"start"`                 // First day of the event
	EndDate     Date   `json:"end"`                   // Day after the last day (exclusive)
	Title       string `json:"summary"`               // Summary or title of the event
	Description string `json:"description,omitempty"` // Empty when the provider sent none
	Link        string `json:"link,omitempty"`        // Provider page for the event, if any
	Origin      Origin `json:"-"`
}

// EventTime is the provider's start or end value. Exactly one of Date or
// DateTime is set for a well-formed event.
type EventTime struct {
	Date     string // YYYY-MM-DD for whole-day events
	DateTime string // RFC3339 for timed events
}

// RawEvent is an event as returned by a backend, before whole-day filtering.
type RawEvent struct {
	Start       *EventTime
	End         *EventTime
	Summary     string
	Description string
	HTMLLink    string
}

// ToEvent converts a raw event into an Event. It reports false when either
// bound is missing, carries a time of day, or is not a valid date.
func (r RawEvent) ToEvent(origin Origin) (Event, bool) {
	if r.Start == nil || r.End == nil || r.Start.Date == "" || r.End.Date == "" {
		return Event{}, false
	}
	start, err := ParseDate(r.Start.Date)
	if err != nil {
		return Event{}, false
	}
	end, err := ParseDate(r.End.Date)
	if err != nil {
		return Event{}, false
	}
	return Event{
		StartDate:   start,
		EndDate:     end,
		Title:       r.Summary,
		Description: r.Description,
		Link:        r.HTMLLink,
		Origin:      origin,
	}, true
}

// NewEvent is a whole-day event to be inserted into a calendar.
type NewEvent struct {
	Start                 Date
	End                   Date
	Title                 string
	Description           string
	Visibility            string
	GuestsCanInviteOthers bool
	UseDefaultReminders   bool
}

// VisibilityPublic is the visibility given to every synchronised event.
const VisibilityPublic = "public"

// ListQuery describes a range query against one calendar.
type ListQuery struct {
	TimeMin      time.Time
	TimeMax      time.Time
	MaxResults   int64
	SingleEvents bool
	OrderBy      string
}
