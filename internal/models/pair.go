package models

import "github.com/samber/lo"

// CalendarPair links an authoritative source calendar to the target calendar
// that should carry a copy of its whole-day events.
type CalendarPair struct {
	// Name is used in diff keys and as the title prefix of copied events.
	Name   string `yaml:"name" json:"name"`
	Source string `yaml:"source" json:"source"`
	Target string `yaml:"target" json:"target"`
	// IgnoreEvents lists exact source titles that are never copied.
	IgnoreEvents []string `yaml:"ignore_events" json:"ignore_events"`
}

// Ignores reports whether title is on the pair's ignore-list.
func (p CalendarPair) Ignores(title string) bool {
	return lo.Contains(p.IgnoreEvents, title)
}
