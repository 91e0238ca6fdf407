// Package scheduling turns free-form time expressions into concrete times
// and books product demos on the sales calendar.
package scheduling

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

// ErrUnparseable is returned when no tier could resolve the expression
var ErrUnparseable = errors.New("could not understand the requested time")

// Tier names the parser that produced a resolution
type Tier string

const (
	TierPattern   Tier = "pattern"
	TierDateparse Tier = "dateparse"
	TierLLM       Tier = "llm"
)

// defaultHour is used when an expression names a day but no clock time
const defaultHour = 10

const minLLMConfidence = 0.5

// Resolution is a parsed time expression
type Resolution struct {
	Time       time.Time
	Tier       Tier
	Confidence float64
	Expression string
}

// JSONCompleter asks a language model for a JSON document
type JSONCompleter interface {
	CompleteJSON(ctx context.Context, prompt string, v interface{}) error
}

// TimeParser resolves expressions like "tomorrow at 3pm", "in 2 hours" or
// "March 5 2026 14:00". Cheap tiers run first; the language model is only
// asked when both fail. llm may be nil.
type TimeParser struct {
	loc    *time.Location
	llm    JSONCompleter
	logger *slog.Logger
	now    func() time.Time
}

// NewTimeParser creates a parser resolving times in loc (UTC when nil)
func NewTimeParser(loc *time.Location, llm JSONCompleter, logger *slog.Logger) *TimeParser {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TimeParser{loc: loc, llm: llm, logger: logger, now: time.Now}
}

var (
	clockExpr = `(?:\s+(?:at\s+)?(\d{1,2})(?::(\d{2}))?\s*(am|pm)?)?`

	relativeDayRe = regexp.MustCompile(`\b(today|tomorrow)\b` + clockExpr)
	inDurationRe  = regexp.MustCompile(`\bin\s+(\d+|an?|one)\s+(minute|min|hour|hr|day|week)s?\b`)
	weekdayRe     = regexp.MustCompile(`\b(?:on\s+)?(monday|tuesday|wednesday|thursday|friday|saturday|sunday)\b` + clockExpr)
	nextWeekdayRe = regexp.MustCompile(`\b(next|this coming)\s+(monday|tuesday|wednesday|thursday|friday|saturday|sunday|week)\b`)
	bareClockRe   = regexp.MustCompile(`\b(?:at\s+)?(\d{1,2}):(\d{2})\s*(am|pm)?\b|\b(?:at\s+)?(\d{1,2})\s*(am|pm)\b`)
	hasClockRe    = regexp.MustCompile(`(?i)\d{1,2}:\d{2}|\b\d{1,2}\s*(?:am|pm)\b`)

	dateLikeRes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\d{4}-\d{2}-\d{2}(?:[ T]\d{1,2}:\d{2}(?::\d{2})?)?`),
		regexp.MustCompile(`(?i)\d{1,2}/\d{1,2}/\d{2,4}(?:\s+\d{1,2}:\d{2}(?:\s*(?:am|pm))?)?`),
		regexp.MustCompile(`(?i)\b(?:jan|feb|mar|apr|may|jun|jul|aug|sep|sept|oct|nov|dec)[a-z]*\.?\s+\d{1,2}(?:st|nd|rd|th)?,?\s+\d{4}(?:\s+(?:at\s+)?\d{1,2}:\d{2}(?:\s*(?:am|pm))?)?`),
	}
)

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// Parse resolves text to a point in time
func (p *TimeParser) Parse(ctx context.Context, text string) (*Resolution, error) {
	expr := strings.ToLower(strings.TrimSpace(text))
	if expr == "" {
		return nil, ErrUnparseable
	}
	now := p.now().In(p.loc)

	// "next tuesday" style phrases are ambiguous; leave them to the model
	if !nextWeekdayRe.MatchString(expr) {
		if t, ok := p.parsePattern(expr, now); ok {
			return &Resolution{Time: t, Tier: TierPattern, Confidence: 0.95, Expression: text}, nil
		}
		if t, ok := p.parseDate(strings.TrimSpace(text)); ok {
			return &Resolution{Time: t, Tier: TierDateparse, Confidence: 0.85, Expression: text}, nil
		}
	}

	if p.llm == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnparseable, text)
	}
	res, err := p.parseLLM(ctx, text, now)
	if err != nil {
		p.logger.Debug("llm time parse failed", "expression", text, "error", err)
		return nil, fmt.Errorf("%w: %q", ErrUnparseable, text)
	}
	return res, nil
}

func (p *TimeParser) parsePattern(expr string, now time.Time) (time.Time, bool) {
	// Explicit dates belong to the date tier
	if containsDate(expr) {
		return time.Time{}, false
	}

	if m := inDurationRe.FindStringSubmatch(expr); m != nil {
		n := 1
		if v, err := strconv.Atoi(m[1]); err == nil {
			n = v
		}
		switch m[2] {
		case "minute", "min":
			return now.Add(time.Duration(n) * time.Minute), true
		case "hour", "hr":
			return now.Add(time.Duration(n) * time.Hour), true
		case "day":
			return now.AddDate(0, 0, n), true
		case "week":
			return now.AddDate(0, 0, 7*n), true
		}
	}

	if m := relativeDayRe.FindStringSubmatch(expr); m != nil {
		day := now
		if m[1] == "tomorrow" {
			day = now.AddDate(0, 0, 1)
		}
		h, mi, mer := clockParts(expr, m[2], m[3], m[4])
		return atClock(day, h, mi, mer, p.loc)
	}

	if m := weekdayRe.FindStringSubmatch(expr); m != nil {
		target := weekdays[m[1]]
		days := (int(target) - int(now.Weekday()) + 7) % 7
		if days == 0 {
			days = 7
		}
		h, mi, mer := clockParts(expr, m[2], m[3], m[4])
		return atClock(now.AddDate(0, 0, days), h, mi, mer, p.loc)
	}

	if m := bareClockRe.FindStringSubmatch(expr); m != nil {
		var t time.Time
		var ok bool
		if m[1] != "" {
			t, ok = atClock(now, m[1], m[2], m[3], p.loc)
		} else {
			t, ok = atClock(now, m[4], "", m[5], p.loc)
		}
		if !ok {
			return time.Time{}, false
		}
		if !t.After(now) {
			t = t.AddDate(0, 0, 1)
		}
		return t, true
	}

	return time.Time{}, false
}

// clockParts returns the clock captured after a day word, or else a clock
// written anywhere in expr ("3pm tomorrow").
func clockParts(expr, hour, minute, meridiem string) (string, string, string) {
	if hour != "" {
		return hour, minute, meridiem
	}
	m := bareClockRe.FindStringSubmatch(expr)
	switch {
	case m == nil:
		return "", "", ""
	case m[1] != "":
		return m[1], m[2], m[3]
	default:
		return m[4], "", m[5]
	}
}

// atClock places an optional clock time on day. An empty hour means the
// default meeting hour. Bare hours 1-7 are read as afternoon.
func atClock(day time.Time, hourStr, minStr, meridiem string, loc *time.Location) (time.Time, bool) {
	hour, minute := defaultHour, 0
	if hourStr != "" {
		h, err := strconv.Atoi(hourStr)
		if err != nil {
			return time.Time{}, false
		}
		hour = h
		if minStr != "" {
			m, err := strconv.Atoi(minStr)
			if err != nil || m > 59 {
				return time.Time{}, false
			}
			minute = m
		}

		switch meridiem {
		case "am":
			if hour < 1 || hour > 12 {
				return time.Time{}, false
			}
			if hour == 12 {
				hour = 0
			}
		case "pm":
			if hour < 1 || hour > 12 {
				return time.Time{}, false
			}
			if hour != 12 {
				hour += 12
			}
		default:
			if hour >= 1 && hour <= 7 {
				hour += 12
			}
		}
		if hour > 23 {
			return time.Time{}, false
		}
	}

	y, mo, d := day.Date()
	return time.Date(y, mo, d, hour, minute, 0, 0, loc), true
}

func containsDate(s string) bool {
	for _, re := range dateLikeRes {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

func (p *TimeParser) parseDate(text string) (time.Time, bool) {
	candidates := []string{text}
	for _, re := range dateLikeRes {
		if m := re.FindString(text); m != "" && m != text {
			candidates = append(candidates, m)
		}
	}

	for _, c := range candidates {
		t, err := dateparse.ParseIn(c, p.loc)
		if err != nil {
			continue
		}
		if !hasClockRe.MatchString(c) {
			y, mo, d := t.Date()
			t = time.Date(y, mo, d, defaultHour, 0, 0, 0, p.loc)
		}
		return t, true
	}
	return time.Time{}, false
}

func (p *TimeParser) parseLLM(ctx context.Context, text string, now time.Time) (*Resolution, error) {
	prompt := fmt.Sprintf(`Convert the requested meeting time into an exact timestamp.

Current time: %s (%s)
Requested time: %q

If no clock time is given, use %02d:00. Respond with JSON only:
{"datetime": "<RFC3339 timestamp>", "confidence": <0.0-1.0>}
Use an empty datetime if the text does not describe a time.`,
		now.Format(time.RFC3339), now.Weekday(), text, defaultHour)

	var out struct {
		Datetime   string  `json:"datetime"`
		Confidence float64 `json:"confidence"`
	}
	if err := p.llm.CompleteJSON(ctx, prompt, &out); err != nil {
		return nil, err
	}
	if out.Datetime == "" {
		return nil, fmt.Errorf("model found no time")
	}
	if out.Confidence < minLLMConfidence {
		return nil, fmt.Errorf("model confidence %.2f too low", out.Confidence)
	}
	t, err := time.Parse(time.RFC3339, out.Datetime)
	if err != nil {
		return nil, fmt.Errorf("model returned invalid datetime %q: %w", out.Datetime, err)
	}

	return &Resolution{
		Time:       t.In(p.loc),
		Tier:       TierLLM,
		Confidence: min(out.Confidence, 1),
		Expression: text,
	}, nil
}
