package reconciler

import (
	"fmt"
	"net/url"
	"sort"

	"calsync/internal/models"
)

const embedURL = "https://calendar.google.com/calendar/embed?src="

// MergedEntry is one row of the diff view.
type MergedEntry struct {
	Key         string        `json:"key"`
	Summary     string        `json:"summary"`
	Description string        `json:"description,omitempty"`
	Date        models.Date   `json:"date"`
	SourceEvent *models.Event `json:"source_event,omitempty"`
	TargetEvent *models.Event `json:"target_event,omitempty"`
	Status      Status        `json:"status"`
}

// HasSource reports whether a source event contributed to the entry.
func (e MergedEntry) HasSource() bool { return e.SourceEvent != nil }

// HasTarget reports whether a target event contributed to the entry.
func (e MergedEntry) HasTarget() bool { return e.TargetEvent != nil }

// MergedView is the diff view, sorted by key ascending. Keys are unique.
type MergedView []MergedEntry

// Get returns the entry stored under key.
func (v MergedView) Get(key string) (MergedEntry, bool) {
	i := sort.Search(len(v), func(i int) bool { return v[i].Key >= key })
	if i < len(v) && v[i].Key == key {
		return v[i], true
	}
	return MergedEntry{}, false
}

// Keys returns the keys in view order.
func (v MergedView) Keys() []string {
	keys := make([]string, len(v))
	for i, e := range v {
		keys[i] = e.Key
	}
	return keys
}

// SourceKey is the diff key of a source event: "{date}_{name}: {title}".
func SourceKey(ev models.Event, pair models.CalendarPair) string {
	return fmt.Sprintf("%s_%s", ev.StartDate, NamespacedTitle(pair, ev.Title))
}

// TargetKey is the diff key of a target event: "{date}_{title}". Target
// events created by Synchronize carry the namespaced title, so their key
// coincides with the key of the source event they were copied from.
func TargetKey(ev models.Event) string {
	return fmt.Sprintf("%s_%s", ev.StartDate, ev.Title)
}

// NamespacedTitle is the title a source event gets in the target calendar.
func NamespacedTitle(pair models.CalendarPair, title string) string {
	return pair.Name + ": " + title
}

// BuildMergedView folds both event lists into one keyed view and classifies
// every entry. Within one side the last event for a key wins; the entry's
// summary, description and date come from whichever event created it.
func BuildMergedView(source, target []models.Event, pair models.CalendarPair) MergedView {
	entries := make(map[string]*MergedEntry, len(source)+len(target))

	seed := func(key string, ev models.Event) *MergedEntry {
		e, ok := entries[key]
		if !ok {
			e = &MergedEntry{
				Key:         key,
				Summary:     ev.Title,
				Description: ev.Description,
				Date:        ev.StartDate,
			}
			entries[key] = e
		}
		return e
	}

	for _, ev := range source {
		seed(SourceKey(ev, pair), ev).SourceEvent = &ev
	}
	for _, ev := range target {
		seed(TargetKey(ev), ev).TargetEvent = &ev
	}

	view := make(MergedView, 0, len(entries))
	for _, e := range entries {
		e.Status = Classify(*e, pair)
		view = append(view, *e)
	}
	sort.Slice(view, func(i, j int) bool { return view[i].Key < view[j].Key })
	return view
}

// Classify applies the status rules in order; the first match wins.
func Classify(e MergedEntry, pair models.CalendarPair) Status {
	ignored := pair.Ignores(e.Summary)
	switch {
	case !e.HasSource() || (e.HasTarget() && ignored):
		return StatusIgnoredManualAddition
	case !e.HasTarget() && !ignored:
		return StatusNeedsSync
	case e.HasTarget():
		return StatusSynced
	default:
		return StatusIgnoredExplicit
	}
}

// EmbedLink is the public web view of a calendar.
func EmbedLink(calendarID string) string {
	return embedURL + url.QueryEscape(calendarID)
}
