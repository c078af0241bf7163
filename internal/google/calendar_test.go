package google

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"calsync/internal/models"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *CalendarClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	service, err := calendar.NewService(context.Background(),
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	return NewFromService(slog.New(slog.NewTextHandler(io.Discard, nil)), service)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestListEvents(t *testing.T) {
	var query map[string][]string
	var path string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		query = r.URL.Query()
		writeJSON(w, map[string]any{"items": []map[string]any{
			{"summary": "New Year", "start": map[string]string{"date": "2024-01-01"}, "end": map[string]string{"date": "2024-01-02"}, "htmlLink": "https://calendar/1"},
			{"summary": "Standup", "description": "daily", "start": map[string]string{"dateTime": "2024-01-02T09:00:00Z"}, "end": map[string]string{"dateTime": "2024-01-02T09:15:00Z"}},
			{"summary": "Broken"},
		}})
	})

	q := models.ListQuery{
		TimeMin:      time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		TimeMax:      time.Date(2025, 6, 24, 0, 0, 0, 0, time.UTC),
		MaxResults:   300,
		SingleEvents: true,
		OrderBy:      "startTime",
	}
	raw, err := client.ListEvents(context.Background(), "holidays@example.com", q)
	require.NoError(t, err)

	assert.True(t, strings.HasSuffix(path, "/calendars/holidays@example.com/events"), path)
	assert.Equal(t, []string{"2024-01-01T00:00:00Z"}, query["timeMin"])
	assert.Equal(t, []string{"2025-06-24T00:00:00Z"}, query["timeMax"])
	assert.Equal(t, []string{"300"}, query["maxResults"])
	assert.Equal(t, []string{"true"}, query["singleEvents"])
	assert.Equal(t, []string{"startTime"}, query["orderBy"])
	assert.Equal(t, []string{eventFields}, query["fields"])

	require.Len(t, raw, 3)
	assert.Equal(t, "2024-01-01", raw[0].Start.Date)
	assert.Equal(t, "https://calendar/1", raw[0].HTMLLink)
	assert.Equal(t, "2024-01-02T09:00:00Z", raw[1].Start.DateTime)
	assert.Empty(t, raw[1].Start.Date)
	assert.Nil(t, raw[2].Start)
}

func TestListEventsError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		writeJSON(w, map[string]any{"error": map[string]any{"code": 403, "message": "forbidden"}})
	})

	_, err := client.ListEvents(context.Background(), "x", models.ListQuery{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "forbidden")
}

func TestInsertEvent(t *testing.T) {
	var body map[string]any
	var method, path string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		method, path = r.Method, r.URL.Path
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		writeJSON(w, map[string]any{"id": "abc"})
	})

	start, _ := models.ParseDate("2024-01-01")
	err := client.InsertEvent(context.Background(), "copy@example.com", models.NewEvent{
		Start:      start,
		End:        start.AddDays(1),
		Title:      "UK: New Year",
		Visibility: models.VisibilityPublic,
	})
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, method)
	assert.True(t, strings.HasSuffix(path, "/calendars/copy@example.com/events"), path)
	assert.Equal(t, "UK: New Year", body["summary"])
	assert.NotContains(t, body, "description")
	assert.Equal(t, map[string]any{"date": "2024-01-01"}, body["start"])
	assert.Equal(t, map[string]any{"date": "2024-01-02"}, body["end"])
	assert.Equal(t, false, body["guestsCanInviteOthers"])
	assert.Equal(t, "public", body["visibility"])
	assert.Equal(t, map[string]any{"useDefault": false}, body["reminders"])
}

func TestCalendarSummary(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"id": "uk", "summary": "Holidays in United Kingdom"})
	})

	summary, err := client.CalendarSummary(context.Background(), "uk")
	require.NoError(t, err)
	assert.Equal(t, "Holidays in United Kingdom", summary)
}

func TestCalendars(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"items": []map[string]any{
			{"id": "primary@example.com", "summary": "Me"},
			{"id": "copy@example.com", "summary": "Holidays copy"},
		}})
	})

	cals, err := client.Calendars(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"primary@example.com": "Me", "copy@example.com": "Holidays copy"}, cals)
}
