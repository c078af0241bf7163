package fetcher

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"calsync/internal/models"
)

const (
	// WindowDays is the forward window: 18 months of 30 days.
	WindowDays = 18 * 30
	// MaxResults caps the events requested per calendar.
	MaxResults = 300
)

// Lister is the read side of a calendar backend.
type Lister interface {
	ListEvents(ctx context.Context, calendarID string, q models.ListQuery) ([]models.RawEvent, error)
}

// Fetcher retrieves the whole-day events of both sides of a calendar pair.
type Fetcher struct {
	lister Lister
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Fetcher. now defaults to time.Now.
func New(logger *slog.Logger, lister Lister, now func() time.Time) *Fetcher {
	if now == nil {
		now = time.Now
	}
	return &Fetcher{lister: lister, logger: logger, now: now}
}

// Window returns the query for the current window: from today (local date)
// to today plus WindowDays, both at midnight UTC.
func (f *Fetcher) Window() models.ListQuery {
	today := models.DateOf(f.now())
	return models.ListQuery{
		TimeMin:      today.In(time.UTC),
		TimeMax:      today.AddDays(WindowDays).In(time.UTC),
		MaxResults:   MaxResults,
		SingleEvents: true,
		OrderBy:      "startTime",
	}
}

// Fetch lists source and target events concurrently and drops every event
// that is not whole-day. Backend errors are returned wrapped, never retried.
func (f *Fetcher) Fetch(ctx context.Context, pair models.CalendarPair) (source, target []models.Event, err error) {
	q := f.Window()
	f.logger.Info("Fetching events in window.", "pair", pair.Name, "from", q.TimeMin.Format(time.DateOnly), "to", q.TimeMax.Format(time.DateOnly))

	var rawSource, rawTarget []models.RawEvent
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		rawSource, err = f.lister.ListEvents(gctx, pair.Source, q)
		if err != nil {
			return fmt.Errorf("failed to list source calendar %s: %w", pair.Source, err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		rawTarget, err = f.lister.ListEvents(gctx, pair.Target, q)
		if err != nil {
			return fmt.Errorf("failed to list target calendar %s: %w", pair.Target, err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	source = WholeDay(rawSource, models.OriginSource)
	target = WholeDay(rawTarget, models.OriginTarget)
	f.logger.Info("Ignoring non whole-day events.", "pair", pair.Name,
		"source", len(rawSource)-len(source), "target", len(rawTarget)-len(target))
	return source, target, nil
}

// WholeDay keeps the events whose start and end are both dates, in input order.
func WholeDay(raw []models.RawEvent, origin models.Origin) []models.Event {
	events := make([]models.Event, 0, len(raw))
	for _, r := range raw {
		if ev, ok := r.ToEvent(origin); ok {
			events = append(events, ev)
		}
	}
	return events
}
