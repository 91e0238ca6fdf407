package integration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/quantumflow/supportflow/internal/config"
)

// CalendarConnector books demos through the Google Calendar v3 API
type CalendarConnector struct {
	svc        *calendar.Service
	calendarID string
	timeZone   string
}

// NewCalendarConnector creates a calendar connector. Credentials come from
// cfg.CredentialsFile, then a static cfg.AccessToken, then Application
// Default Credentials. File and default credentials refresh their tokens.
// rateLimiter and auditor may be nil.
func NewCalendarConnector(ctx context.Context, cfg config.CalendarConfig, rateLimiter RateLimiter, auditor AuditLogger, logger *slog.Logger) (*CalendarConnector, error) {
	if cfg.CalendarID == "" {
		cfg.CalendarID = "primary"
	}
	if logger == nil {
		logger = slog.Default()
	}

	tokens, err := calendarTokenSource(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("calendar credentials: %w", err)
	}

	httpClient := &http.Client{
		Timeout: 30 * time.Second,
		Transport: &auditedTransport{
			base:     &oauth2.Transport{Source: tokens, Base: http.DefaultTransport},
			service:  ServiceTypeCalendar,
			limitKey: "calendar",
			limiter:  rateLimiter,
			auditor:  auditor,
			logger:   logger,
		},
	}

	opts := []option.ClientOption{option.WithHTTPClient(httpClient)}
	if cfg.APIURL != "" {
		opts = append(opts, option.WithEndpoint(strings.TrimSuffix(cfg.APIURL, "/")+"/"))
	}
	svc, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create calendar service: %w", err)
	}

	return &CalendarConnector{svc: svc, calendarID: cfg.CalendarID, timeZone: cfg.TimeZone}, nil
}

func calendarTokenSource(ctx context.Context, cfg config.CalendarConfig) (oauth2.TokenSource, error) {
	switch {
	case cfg.CredentialsFile != "":
		data, err := os.ReadFile(expandHome(cfg.CredentialsFile))
		if err != nil {
			return nil, err
		}
		creds, err := google.CredentialsFromJSON(ctx, data, calendar.CalendarScope)
		if err != nil {
			return nil, err
		}
		return creds.TokenSource, nil
	case cfg.AccessToken != "":
		return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.AccessToken, TokenType: "Bearer"}), nil
	default:
		return google.DefaultTokenSource(ctx, calendar.CalendarScope)
	}
}

// BusyPeriod is a blocked interval on the calendar
type BusyPeriod struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Overlaps reports whether the period intersects [start, end)
func (b BusyPeriod) Overlaps(start, end time.Time) bool {
	return b.Start.Before(end) && start.Before(b.End)
}

// CalendarEvent is an event to create
type CalendarEvent struct {
	Summary     string
	Description string
	Start       time.Time
	End         time.Time
	Attendees   []string
}

// CreatedEvent is the calendar's view of a created event
type CreatedEvent struct {
	ID       string `json:"id"`
	HTMLLink string `json:"htmlLink"`
	Status   string `json:"status"`
}

// FreeBusy returns busy periods on the configured calendar in [start, end)
func (c *CalendarConnector) FreeBusy(ctx context.Context, start, end time.Time) ([]BusyPeriod, error) {
	resp, err := c.svc.Freebusy.Query(&calendar.FreeBusyRequest{
		TimeMin:  start.Format(time.RFC3339),
		TimeMax:  end.Format(time.RFC3339),
		TimeZone: c.timeZone,
		Items:    []*calendar.FreeBusyRequestItem{{Id: c.calendarID}},
	}).Context(ctx).Do()
	if err != nil {
		return nil, calendarError(err)
	}

	cal, ok := resp.Calendars[c.calendarID]
	if !ok {
		return nil, fmt.Errorf("calendar %q missing from free/busy response", c.calendarID)
	}
	if len(cal.Errors) > 0 {
		return nil, fmt.Errorf("free/busy error for %q: %s", c.calendarID, cal.Errors[0].Reason)
	}

	busy := make([]BusyPeriod, 0, len(cal.Busy))
	for _, p := range cal.Busy {
		from, err := time.Parse(time.RFC3339, p.Start)
		if err != nil {
			return nil, fmt.Errorf("bad busy start %q: %w", p.Start, err)
		}
		to, err := time.Parse(time.RFC3339, p.End)
		if err != nil {
			return nil, fmt.Errorf("bad busy end %q: %w", p.End, err)
		}
		busy = append(busy, BusyPeriod{Start: from, End: to})
	}
	return busy, nil
}

// CreateEvent inserts an event and invites the attendees
func (c *CalendarConnector) CreateEvent(ctx context.Context, ev CalendarEvent) (*CreatedEvent, error) {
	attendees := make([]*calendar.EventAttendee, 0, len(ev.Attendees))
	for _, email := range ev.Attendees {
		attendees = append(attendees, &calendar.EventAttendee{Email: email})
	}

	created, err := c.svc.Events.Insert(c.calendarID, &calendar.Event{
		Summary:     ev.Summary,
		Description: ev.Description,
		Start:       &calendar.EventDateTime{DateTime: ev.Start.Format(time.RFC3339), TimeZone: c.timeZone},
		End:         &calendar.EventDateTime{DateTime: ev.End.Format(time.RFC3339), TimeZone: c.timeZone},
		Attendees:   attendees,
	}).SendUpdates("all").Context(ctx).Do()
	if err != nil {
		return nil, calendarError(err)
	}
	if created.Id == "" {
		return nil, fmt.Errorf("calendar returned no event id")
	}
	return &CreatedEvent{ID: created.Id, HTMLLink: created.HtmlLink, Status: created.Status}, nil
}

// calendarError maps API errors onto StatusError so callers can match
// ErrRateLimited across connectors.
func calendarError(err error) error {
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("%s request failed: %w", ServiceTypeCalendar, err)
	}
	body := apiErr.Message
	if body == "" {
		body = apiErr.Body
	}
	return &StatusError{Service: ServiceTypeCalendar, Code: apiErr.Code, Body: body}
}
