package scheduling

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/quantumflow/supportflow/internal/integration"
)

var (
	ErrPastTime = errors.New("requested time is in the past")
	ErrSlotBusy = errors.New("requested slot is not available")
)

// Calendar is the calendar surface the scheduler books against
type Calendar interface {
	FreeBusy(ctx context.Context, start, end time.Time) ([]integration.BusyPeriod, error)
	CreateEvent(ctx context.Context, ev integration.CalendarEvent) (*integration.CreatedEvent, error)
}

// DemoRequest is a customer's request for a product demo
type DemoRequest struct {
	Name          string
	Email         string
	Company       string
	RequestedTime string
	Duration      time.Duration
	Notes         string
}

// Booking is a confirmed demo
type Booking struct {
	EventID    string
	Link       string
	Start      time.Time
	End        time.Time
	Tier       Tier
	Confidence float64
}

// Scheduler books demos on the sales calendar
type Scheduler struct {
	parser          *TimeParser
	calendar        Calendar
	defaultDuration time.Duration
	logger          *slog.Logger
	now             func() time.Time
}

// NewScheduler creates a scheduler. A non-positive defaultDuration means
// 30 minutes.
func NewScheduler(parser *TimeParser, calendar Calendar, defaultDuration time.Duration, logger *slog.Logger) *Scheduler {
	if defaultDuration <= 0 {
		defaultDuration = 30 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		parser:          parser,
		calendar:        calendar,
		defaultDuration: defaultDuration,
		logger:          logger,
		now:             time.Now,
	}
}

// Schedule resolves the requested time, checks the calendar and books the demo
func (s *Scheduler) Schedule(ctx context.Context, req DemoRequest) (*Booking, error) {
	addr, err := mail.ParseAddress(req.Email)
	if err != nil {
		return nil, fmt.Errorf("invalid attendee email %q: %w", req.Email, err)
	}

	res, err := s.parser.Parse(ctx, req.RequestedTime)
	if err != nil {
		return nil, err
	}

	start := res.Time
	if !start.After(s.now()) {
		return nil, fmt.Errorf("%w: %s", ErrPastTime, start.Format(time.RFC1123))
	}

	duration := req.Duration
	if duration <= 0 {
		duration = s.defaultDuration
	}
	end := start.Add(duration)

	busy, err := s.calendar.FreeBusy(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to check availability: %w", err)
	}
	for _, b := range busy {
		if b.Overlaps(start, end) {
			return nil, fmt.Errorf("%w: %s overlaps a booking until %s", ErrSlotBusy,
				start.Format(time.Kitchen), b.End.In(start.Location()).Format(time.Kitchen))
		}
	}

	created, err := s.calendar.CreateEvent(ctx, integration.CalendarEvent{
		Summary:     demoSummary(req),
		Description: demoDescription(req, res),
		Start:       start,
		End:         end,
		Attendees:   []string{addr.Address},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar event: %w", err)
	}

	s.logger.Info("demo scheduled",
		"event_id", created.ID,
		"start", start,
		"tier", res.Tier,
		"attendee", addr.Address,
	)

	return &Booking{
		EventID:    created.ID,
		Link:       created.HTMLLink,
		Start:      start,
		End:        end,
		Tier:       res.Tier,
		Confidence: res.Confidence,
	}, nil
}

func demoSummary(req DemoRequest) string {
	who := strings.TrimSpace(req.Company)
	if who == "" {
		who = strings.TrimSpace(req.Name)
	}
	if who == "" {
		return "Product demo"
	}
	return "Product demo: " + who
}

func demoDescription(req DemoRequest, res *Resolution) string {
	var b strings.Builder
	if req.Name != "" {
		fmt.Fprintf(&b, "Requested by %s <%s>\n", req.Name, req.Email)
	}
	fmt.Fprintf(&b, "Requested time: %q\n", res.Expression)
	if req.Notes != "" {
		b.WriteString("\n")
		b.WriteString(req.Notes)
	}
	return strings.TrimRight(b.String(), "\n")
}
