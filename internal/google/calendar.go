package google

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"calsync/internal/models"
)

const eventFields = "items(end,start,summary,description,htmlLink)"

// CalendarClient provides a client for interacting with the Google Calendar API.
type CalendarClient struct {
	service *calendar.Service
	logger  *slog.Logger
}

// NewClient creates a new Google Calendar client.
// It handles loading credentials and setting up an authenticated HTTP client.
// The accountName selects the token file token-<accountName>.json written by the auth command.
func NewClient(ctx context.Context, logger *slog.Logger, clientID, clientSecret, accountName string) (*CalendarClient, error) {
	config, err := OAuthConfig(clientID, clientSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to get OAuth config: %w", err)
	}

	token, err := loadToken(TokenFile(".", accountName))
	if err != nil {
		return nil, fmt.Errorf("could not load token for account %s: %w. Please run the 'auth' command first", accountName, err)
	}

	service, err := calendar.NewService(ctx, option.WithHTTPClient(config.Client(ctx, token)))
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar service: %w", err)
	}
	return NewFromService(logger, service), nil
}

// NewFromService wraps an already configured calendar service.
func NewFromService(logger *slog.Logger, service *calendar.Service) *CalendarClient {
	return &CalendarClient{service: service, logger: logger}
}

// ListEvents fetches one page of events from the specified calendar.
func (c *CalendarClient) ListEvents(ctx context.Context, calendarID string, q models.ListQuery) ([]models.RawEvent, error) {
	c.logger.Debug("Fetching events", "calendarID", calendarID, "timeMin", q.TimeMin, "timeMax", q.TimeMax)

	call := c.service.Events.List(calendarID).
		TimeMin(q.TimeMin.Format(time.RFC3339)).
		TimeMax(q.TimeMax.Format(time.RFC3339)).
		SingleEvents(q.SingleEvents).
		Fields(eventFields).
		Context(ctx)
	if q.MaxResults > 0 {
		call = call.MaxResults(q.MaxResults)
	}
	if q.OrderBy != "" {
		call = call.OrderBy(q.OrderBy)
	}

	events, err := call.Do()
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve events: %w", err)
	}

	c.logger.Info("Successfully fetched events from Google Calendar", "count", len(events.Items), "calendarID", calendarID)
	return toRawEvents(events.Items), nil
}

// toRawEvents converts Google Calendar events to the internal RawEvent model.
func toRawEvents(items []*calendar.Event) []models.RawEvent {
	raw := make([]models.RawEvent, 0, len(items))
	for _, item := range items {
		raw = append(raw, models.RawEvent{
			Start:       toEventTime(item.Start),
			End:         toEventTime(item.End),
			Summary:     item.Summary,
			Description: item.Description,
			HTMLLink:    item.HtmlLink,
		})
	}
	return raw
}

func toEventTime(t *calendar.EventDateTime) *models.EventTime {
	if t == nil {
		return nil
	}
	return &models.EventTime{Date: t.Date, DateTime: t.DateTime}
}

// CalendarSummary returns the display name of a calendar.
func (c *CalendarClient) CalendarSummary(ctx context.Context, calendarID string) (string, error) {
	cal, err := c.service.Calendars.Get(calendarID).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to get calendar %s: %w", calendarID, err)
	}
	return cal.Summary, nil
}

// InsertEvent creates a whole-day event in the specified calendar.
func (c *CalendarClient) InsertEvent(ctx context.Context, calendarID string, ev models.NewEvent) error {
	_, err := c.service.Events.Insert(calendarID, toGoogleEvent(ev)).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to insert event %q: %w", ev.Title, err)
	}
	c.logger.Debug("Created event in Google Calendar", "calendarID", calendarID, "title", ev.Title, "start", ev.Start)
	return nil
}

func toGoogleEvent(ev models.NewEvent) *calendar.Event {
	return &calendar.Event{
		Summary:               ev.Title,
		Description:           ev.Description,
		Start:                 &calendar.EventDateTime{Date: ev.Start.String()},
		End:                   &calendar.EventDateTime{Date: ev.End.String()},
		GuestsCanInviteOthers: googleapi.Bool(ev.GuestsCanInviteOthers),
		Visibility:            ev.Visibility,
		Reminders: &calendar.EventReminders{
			UseDefault: ev.UseDefaultReminders,
			// useDefault=false would otherwise be dropped as a zero value.
			ForceSendFields: []string{"UseDefault"},
		},
	}
}

// Calendars lists the calendars of the authenticated account as id -> summary.
func (c *CalendarClient) Calendars(ctx context.Context) (map[string]string, error) {
	list, err := c.service.CalendarList.List().Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to list calendars: %w", err)
	}

	calendars := make(map[string]string, len(list.Items))
	for _, item := range list.Items {
		calendars[item.Id] = item.Summary
	}
	return calendars, nil
}
