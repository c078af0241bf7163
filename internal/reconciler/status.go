package reconciler

import (
	"encoding/json"
	"fmt"
)

// Status is the classification of a diff entry.
type Status int

const (
	// Not classified yet.
	StatusUnknown Status = iota
	// Event only exists in the target, or is ignored but present there.
	StatusIgnoredManualAddition
	// Source event missing from the target.
	StatusNeedsSync
	// Source event present in the target.
	StatusSynced
	// Source event on the ignore-list and absent from the target.
	StatusIgnoredExplicit
)

var statusNames = map[Status]string{
	StatusUnknown:               "unknown",
	StatusIgnoredManualAddition: "ignored-manual-addition",
	StatusNeedsSync:             "needs-sync",
	StatusSynced:                "synced",
	StatusIgnoredExplicit:       "ignored-explicit",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// Class is the CSS class used when rendering the status.
func (s Status) Class() string {
	switch s {
	case StatusIgnoredManualAddition:
		return "info"
	case StatusNeedsSync:
		return "warning"
	case StatusSynced:
		return "success"
	default:
		return ""
	}
}

// Tooltip describes the status for a human; pairName names the target side.
func (s Status) Tooltip(pairName string) string {
	switch s {
	case StatusIgnoredManualAddition:
		return fmt.Sprintf("Event manually added to %s calendar", pairName)
	case StatusNeedsSync:
		return "Event need synchronisation"
	case StatusSynced:
		return "Event copied"
	case StatusIgnoredExplicit:
		return "Event ignored"
	default:
		return ""
	}
}
