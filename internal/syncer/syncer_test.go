package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calsync/internal/models"
	"calsync/internal/reconciler"
)

// memoryBackend is an in-memory calendar service keyed by calendar id.
type memoryBackend struct {
	mu        sync.Mutex
	events    map[string][]models.RawEvent
	summaries map[string]string
	listErrs  map[string][]error
	listCalls map[string]int
}

func newMemoryBackend() *memoryBackend {
	return &memoryBackend{
		events:    map[string][]models.RawEvent{},
		summaries: map[string]string{},
		listErrs:  map[string][]error{},
		listCalls: map[string]int{},
	}
}

func (b *memoryBackend) add(calendarID, start, end, title string) {
	b.events[calendarID] = append(b.events[calendarID], models.RawEvent{
		Start:   &models.EventTime{Date: start},
		End:     &models.EventTime{Date: end},
		Summary: title,
	})
}

func (b *memoryBackend) ListEvents(_ context.Context, calendarID string, _ models.ListQuery) ([]models.RawEvent, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listCalls[calendarID]++
	if errs := b.listErrs[calendarID]; len(errs) > 0 {
		b.listErrs[calendarID] = errs[1:]
		return nil, errs[0]
	}
	return append([]models.RawEvent(nil), b.events[calendarID]...), nil
}

func (b *memoryBackend) InsertEvent(_ context.Context, calendarID string, ev models.NewEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events[calendarID] = append(b.events[calendarID], models.RawEvent{
		Start:       &models.EventTime{Date: ev.Start.String()},
		End:         &models.EventTime{Date: ev.End.String()},
		Summary:     ev.Title,
		Description: ev.Description,
	})
	return nil
}

func (b *memoryBackend) CalendarSummary(_ context.Context, calendarID string) (string, error) {
	if s, ok := b.summaries[calendarID]; ok {
		return s, nil
	}
	return calendarID, nil
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var (
	ukPair = models.CalendarPair{Name: "UK", Source: "uk-src", Target: "uk-tgt", IgnoreEvents: []string{"Boxing Day"}}
	frPair = models.CalendarPair{Name: "France", Source: "fr-src", Target: "fr-tgt"}
)

func now() time.Time { return time.Date(2024, time.January, 1, 8, 0, 0, 0, time.UTC) }

func TestSyncThenCompare(t *testing.T) {
	b := newMemoryBackend()
	b.add("uk-src", "2024-01-01", "2024-01-02", "New Year")
	b.add("uk-src", "2024-12-26", "2024-12-27", "Boxing Day")
	b.add("fr-src", "2024-07-14", "2024-07-15", "Fête nationale")
	b.add("fr-src", "2024-01-01", "2024-01-02", "Jour de l'an")
	b.add("fr-tgt", "2024-01-01", "2024-01-02", "France: Jour de l'an")

	s := NewSyncer(discard(), b, []models.CalendarPair{ukPair, frPair}, Options{Workers: 2, Now: now})

	created, err := s.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, created)

	again, err := s.Sync(context.Background())
	require.NoError(t, err)
	assert.Zero(t, again)

	comparisons := s.Compare(context.Background())
	require.Len(t, comparisons, 2)
	assert.Equal(t, "UK", comparisons[0].Pair.Name)
	assert.Equal(t, "France", comparisons[1].Pair.Name)

	uk := comparisons[0]
	require.NoError(t, uk.Err)
	e, ok := uk.Entries.Get("2024-01-01_UK: New Year")
	require.True(t, ok)
	assert.Equal(t, reconciler.StatusSynced, e.Status)
	boxing, ok := uk.Entries.Get("2024-12-26_UK: Boxing Day")
	require.True(t, ok)
	assert.Equal(t, reconciler.StatusIgnoredExplicit, boxing.Status)
	assert.Equal(t, "https://calendar.google.com/calendar/embed?src=uk-src", uk.SourceLink)
}

func TestSyncIsolatesFailingPair(t *testing.T) {
	b := newMemoryBackend()
	boom := errors.New("401 unauthorized")
	b.listErrs["uk-tgt"] = []error{boom}
	b.add("fr-src", "2024-07-14", "2024-07-15", "Fête nationale")

	s := NewSyncer(discard(), b, []models.CalendarPair{ukPair, frPair}, Options{Workers: 1, Now: now})

	created, err := s.Sync(context.Background())
	assert.Equal(t, 1, created)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "UK")
}

func TestRetryRecoversTransientError(t *testing.T) {
	b := newMemoryBackend()
	b.listErrs["uk-src"] = []error{errors.New("503")}
	b.add("uk-src", "2024-01-01", "2024-01-02", "New Year")

	s := NewSyncer(discard(), b, []models.CalendarPair{ukPair}, Options{Retries: 2, RetryBase: time.Millisecond, Now: now})

	created, err := s.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, created)
	assert.Equal(t, 2, b.listCalls["uk-src"])
}

func TestNoRetryByDefault(t *testing.T) {
	b := newMemoryBackend()
	b.listErrs["uk-src"] = []error{errors.New("503")}

	s := NewSyncer(discard(), b, []models.CalendarPair{ukPair}, Options{Now: now})

	comparisons := s.Compare(context.Background())
	require.Len(t, comparisons, 1)
	assert.Error(t, comparisons[0].Err)
	assert.Equal(t, 1, b.listCalls["uk-src"])
}

func TestDryRunCreatesNothing(t *testing.T) {
	b := newMemoryBackend()
	b.add("uk-src", "2024-01-01", "2024-01-02", "New Year")

	s := NewSyncer(discard(), b, []models.CalendarPair{ukPair}, Options{DryRun: true, Now: now})

	created, err := s.Sync(context.Background())
	require.NoError(t, err)
	assert.Zero(t, created)
	assert.Empty(t, b.events["uk-tgt"])
}

func TestCompareSummaries(t *testing.T) {
	b := newMemoryBackend()
	b.summaries["uk-src"] = "Holidays in United Kingdom"
	b.summaries["uk-tgt"] = "UK copy"

	comparisons := NewSyncer(discard(), b, []models.CalendarPair{ukPair}, Options{Now: now}).Compare(context.Background())

	require.Len(t, comparisons, 1)
	assert.Equal(t, "Holidays in United Kingdom", comparisons[0].SourceSummary)
	assert.Equal(t, "UK copy", comparisons[0].TargetSummary)
	assert.Empty(t, comparisons[0].Entries)
}

func TestComparisonJSON(t *testing.T) {
	day, err := models.ParseDate("2024-01-01")
	require.NoError(t, err)
	source := []models.Event{{StartDate: day, EndDate: day.AddDays(1), Title: "New Year"}}

	ok, err := json.Marshal(Comparison{Pair: ukPair, Entries: reconciler.BuildMergedView(source, nil, ukPair)})
	require.NoError(t, err)
	var got map[string]any
	require.NoError(t, json.Unmarshal(ok, &got))
	assert.NotContains(t, got, "error")
	assert.Equal(t, "UK", got["pair"].(map[string]any)["name"])
	require.Len(t, got["entries"], 1)

	failed, err := json.Marshal(Comparison{Pair: frPair, Err: errors.New("boom")})
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(failed, &got))
	assert.Equal(t, "boom", got["error"])
}
