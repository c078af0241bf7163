package reconciler

import (
	"cmp"
	"context"
	"log/slog"
	"slices"
	"sync/atomic"

	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"calsync/internal/models"
)

// Inserter is the write side of a calendar backend.
type Inserter interface {
	InsertEvent(ctx context.Context, calendarID string, ev models.NewEvent) error
}

// Tuple identifies an event for set comparison.
type Tuple struct {
	Start       models.Date
	End         models.Date
	Title       string
	Description string
}

// NewEvent is the insert request that creates t in a target calendar.
func (t Tuple) NewEvent() models.NewEvent {
	return models.NewEvent{
		Start:                 t.Start,
		End:                   t.End,
		Title:                 t.Title,
		Description:           t.Description,
		Visibility:            models.VisibilityPublic,
		GuestsCanInviteOthers: false,
		UseDefaultReminders:   false,
	}
}

// SyncOutcome reports a synchronisation run for one pair.
type SyncOutcome struct {
	Created   int // inserts the backend accepted
	Attempted int // size of the missing set
	Failed    int // inserts the backend rejected
}

// SourceTuples returns the set of source events not on the ignore-list,
// titled with the pair's namespace.
func SourceTuples(source []models.Event, pair models.CalendarPair) map[Tuple]struct{} {
	kept := lo.Filter(source, func(ev models.Event, _ int) bool { return !pair.Ignores(ev.Title) })
	return lo.SliceToMap(kept, func(ev models.Event) (Tuple, struct{}) {
		return Tuple{ev.StartDate, ev.EndDate, NamespacedTitle(pair, ev.Title), ev.Description}, struct{}{}
	})
}

// TargetTuples returns the set of target events with their bare titles.
func TargetTuples(target []models.Event) map[Tuple]struct{} {
	return lo.SliceToMap(target, func(ev models.Event) (Tuple, struct{}) {
		return Tuple{ev.StartDate, ev.EndDate, ev.Title, ev.Description}, struct{}{}
	})
}

// Missing returns source tuples minus target tuples. The result is sorted
// so logs and dry runs are stable; creation does not depend on the order.
func Missing(source, target []models.Event, pair models.CalendarPair) []Tuple {
	have := TargetTuples(target)
	var missing []Tuple
	for t := range SourceTuples(source, pair) {
		if _, ok := have[t]; !ok {
			missing = append(missing, t)
		}
	}
	slices.SortFunc(missing, func(a, b Tuple) int {
		return cmp.Or(
			cmp.Compare(a.Start.String(), b.Start.String()),
			cmp.Compare(a.End.String(), b.End.String()),
			cmp.Compare(a.Title, b.Title),
			cmp.Compare(a.Description, b.Description),
		)
	})
	return missing
}

// Synchronizer creates the source events missing from a pair's target.
type Synchronizer struct {
	logger   *slog.Logger
	inserter Inserter
	workers  int
	dryRun   bool
}

// NewSynchronizer creates a Synchronizer issuing at most workers inserts at once.
func NewSynchronizer(logger *slog.Logger, inserter Inserter, workers int, dryRun bool) *Synchronizer {
	if workers < 1 {
		workers = 1
	}
	return &Synchronizer{logger: logger, inserter: inserter, workers: workers, dryRun: dryRun}
}

// Synchronize attempts one insert per missing tuple. A failed insert is
// logged and does not stop the others; only accepted inserts are counted.
func (s *Synchronizer) Synchronize(ctx context.Context, source, target []models.Event, pair models.CalendarPair) SyncOutcome {
	missing := Missing(source, target, pair)
	s.logger.Info("Computed missing events.", "pair", pair.Name,
		"source", len(SourceTuples(source, pair)), "target", len(TargetTuples(target)), "new", len(missing))

	outcome := SyncOutcome{Attempted: len(missing)}
	if s.dryRun {
		for _, t := range missing {
			s.logger.Info("[DRY RUN] Would create event.", "pair", pair.Name, "title", t.Title, "start", t.Start)
		}
		return outcome
	}

	var created, failed atomic.Int64
	var g errgroup.Group
	g.SetLimit(s.workers)
	for _, t := range missing {
		g.Go(func() error {
			s.logger.Debug("Creating event.", "pair", pair.Name, "calendar", pair.Target, "title", t.Title, "start", t.Start, "end", t.End)
			if err := s.inserter.InsertEvent(ctx, pair.Target, t.NewEvent()); err != nil {
				s.logger.Error("Failed to create event", "pair", pair.Name, "title", t.Title, "start", t.Start, "error", err)
				failed.Add(1)
				return nil
			}
			created.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	outcome.Created = int(created.Load())
	outcome.Failed = int(failed.Load())
	return outcome
}
