package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/samber/lo"
	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"

	"calsync/internal/fetcher"
	"calsync/internal/models"
	"calsync/internal/reconciler"
)

// Backend is a calendar service able to list, describe and insert events.
type Backend interface {
	fetcher.Lister
	reconciler.Inserter
	CalendarSummary(ctx context.Context, calendarID string) (string, error)
}

// Comparison is the diff view of one calendar pair.
type Comparison struct {
	Pair          models.CalendarPair   `json:"pair"`
	SourceSummary string                `json:"source_summary"`
	TargetSummary string                `json:"target_summary"`
	Entries       reconciler.MergedView `json:"entries"`
	SourceLink    string                `json:"source_link"`
	TargetLink    string                `json:"target_link"`
	Err           error                 `json:"-"`
}

// MarshalJSON encodes Err as its message under "error".
func (c Comparison) MarshalJSON() ([]byte, error) {
	type plain Comparison
	out := struct {
		plain
		Error string `json:"error,omitempty"`
	}{plain: plain(c)}
	if c.Err != nil {
		out.Error = c.Err.Error()
	}
	return json.Marshal(out)
}

// Options tune a Syncer.
type Options struct {
	// Workers bounds concurrent pairs and concurrent inserts within a pair.
	Workers int
	// Retries re-runs a pair's fetch after a backend error, with exponential backoff.
	Retries uint64
	// RetryBase is the first backoff delay; defaults to one second.
	RetryBase time.Duration
	DryRun    bool
	// Now overrides the clock used for the fetch window.
	Now func() time.Time
}

// Syncer orchestrates comparison and synchronization over calendar pairs.
type Syncer struct {
	logger  *slog.Logger
	backend Backend
	pairs   []models.CalendarPair
	fetcher *fetcher.Fetcher
	sync    *reconciler.Synchronizer
	opts    Options
}

// NewSyncer creates a new Syncer.
func NewSyncer(logger *slog.Logger, backend Backend, pairs []models.CalendarPair, opts Options) *Syncer {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.RetryBase <= 0 {
		opts.RetryBase = time.Second
	}
	return &Syncer{
		logger:  logger,
		backend: backend,
		pairs:   pairs,
		fetcher: fetcher.New(logger, backend, opts.Now),
		sync:    reconciler.NewSynchronizer(logger, backend, opts.Workers, opts.DryRun),
		opts:    opts,
	}
}

// Pairs returns the configured calendar pairs.
func (s *Syncer) Pairs() []models.CalendarPair {
	return s.pairs
}

// Compare builds the diff view of every pair, in configuration order. A pair
// whose backend calls fail carries the error in Comparison.Err.
func (s *Syncer) Compare(ctx context.Context) []Comparison {
	out := make([]Comparison, len(s.pairs))
	s.forEachPair(ctx, func(ctx context.Context, i int, pair models.CalendarPair) {
		out[i] = s.compare(ctx, pair)
	})
	return out
}

func (s *Syncer) compare(ctx context.Context, pair models.CalendarPair) Comparison {
	c := Comparison{
		Pair:       pair,
		SourceLink: reconciler.EmbedLink(pair.Source),
		TargetLink: reconciler.EmbedLink(pair.Target),
	}
	err := s.withRetry(ctx, func(ctx context.Context) error {
		var err error
		c.SourceSummary, c.TargetSummary, err = s.describe(ctx, pair)
		if err != nil {
			return err
		}
		s.logger.Info("Comparing calendar.", "pair", pair.Name,
			"source", c.SourceSummary, "sourceID", pair.Source, "target", c.TargetSummary, "targetID", pair.Target)

		source, target, err := s.fetcher.Fetch(ctx, pair)
		if err != nil {
			return err
		}
		c.Entries = reconciler.BuildMergedView(source, target, pair)
		return nil
	})
	if err != nil {
		s.logger.Error("Failed to compare calendar", "pair", pair.Name, "error", err)
		c.Err = fmt.Errorf("failed to compare %s: %w", pair.Name, err)
	}
	return c
}

// Sync creates the missing events of every pair and returns the total number
// of events created. Pairs are independent: one failing pair does not stop
// the others, and its error is joined into the returned error.
func (s *Syncer) Sync(ctx context.Context) (int, error) {
	s.logger.Info("Starting sync cycle.", "pairs", len(s.pairs), "dryRun", s.opts.DryRun)

	outcomes := make([]reconciler.SyncOutcome, len(s.pairs))
	errs := make([]error, len(s.pairs))
	s.forEachPair(ctx, func(ctx context.Context, i int, pair models.CalendarPair) {
		outcomes[i], errs[i] = s.syncPair(ctx, pair)
	})

	created := lo.SumBy(outcomes, func(o reconciler.SyncOutcome) int { return o.Created })
	failed := lo.SumBy(outcomes, func(o reconciler.SyncOutcome) int { return o.Failed })
	s.logger.Info("Sync cycle finished.", "created", created, "failed", failed)
	return created, errors.Join(errs...)
}

func (s *Syncer) syncPair(ctx context.Context, pair models.CalendarPair) (reconciler.SyncOutcome, error) {
	var source, target []models.Event
	err := s.withRetry(ctx, func(ctx context.Context) error {
		sourceSummary, targetSummary, err := s.describe(ctx, pair)
		if err != nil {
			return err
		}
		s.logger.Info("Synchronising calendar.", "pair", pair.Name,
			"source", sourceSummary, "sourceID", pair.Source, "target", targetSummary, "targetID", pair.Target)

		source, target, err = s.fetcher.Fetch(ctx, pair)
		return err
	})
	if err != nil {
		s.logger.Error("Failed to fetch calendar pair", "pair", pair.Name, "error", err)
		return reconciler.SyncOutcome{}, fmt.Errorf("failed to sync %s: %w", pair.Name, err)
	}

	outcome := s.sync.Synchronize(ctx, source, target, pair)
	s.logger.Info("Synchronised calendar pair.", "pair", pair.Name,
		"created", outcome.Created, "attempted", outcome.Attempted, "failed", outcome.Failed)
	return outcome, nil
}

func (s *Syncer) describe(ctx context.Context, pair models.CalendarPair) (source, target string, err error) {
	if source, err = s.backend.CalendarSummary(ctx, pair.Source); err != nil {
		return "", "", err
	}
	if target, err = s.backend.CalendarSummary(ctx, pair.Target); err != nil {
		return "", "", err
	}
	return source, target, nil
}

// forEachPair runs fn for every pair, at most Workers at a time.
func (s *Syncer) forEachPair(ctx context.Context, fn func(ctx context.Context, i int, pair models.CalendarPair)) {
	var g errgroup.Group
	g.SetLimit(s.opts.Workers)
	for i, pair := range s.pairs {
		g.Go(func() error {
			fn(ctx, i, pair)
			return nil
		})
	}
	_ = g.Wait()
}

// withRetry runs fn once plus up to Retries more times while it fails.
// The last error is returned unchanged in kind.
func (s *Syncer) withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(s.opts.Retries, retry.NewExponential(s.opts.RetryBase))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := fn(ctx); err != nil {
			if s.opts.Retries > 0 {
				s.logger.Warn("Backend call failed, retrying.", "error", err)
			}
			return retry.RetryableError(err)
		}
		return nil
	})
}
