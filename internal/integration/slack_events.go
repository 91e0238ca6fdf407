package integration

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/quantumflow/supportflow/internal/models"
)

// Slack request signing
const (
	slackSignatureHeader = "X-Slack-Signature"
	slackTimestampHeader = "X-Slack-Request-Timestamp"
	slackSignatureScheme = "v0"

	// MaxSignatureAge bounds replayed requests
	MaxSignatureAge = 5 * time.Minute
)

var (
	ErrMissingSignature = errors.New("missing slack signature headers")
	ErrStaleRequest     = errors.New("slack request timestamp outside allowed window")
	ErrBadSignature     = errors.New("slack signature mismatch")
)

// SignatureVerifier checks the X-Slack-Signature header
type SignatureVerifier struct {
	secret []byte
	now    func() time.Time
}

// NewSignatureVerifier creates a verifier for the app's signing secret
func NewSignatureVerifier(signingSecret string) *SignatureVerifier {
	return &SignatureVerifier{secret: []byte(signingSecret), now: time.Now}
}

// Verify validates the signature of a raw request body
func (v *SignatureVerifier) Verify(header http.Header, body []byte) error {
	signature := header.Get(slackSignatureHeader)
	timestamp := header.Get(slackTimestampHeader)
	if signature == "" || timestamp == "" {
		return ErrMissingSignature
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid slack timestamp %q: %w", timestamp, err)
	}
	age := v.now().Sub(time.Unix(ts, 0))
	if math.Abs(float64(age)) > float64(MaxSignatureAge) {
		return ErrStaleRequest
	}

	expected := Sign(v.secret, timestamp, body)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrBadSignature
	}
	return nil
}

// Sign computes the v0 signature for a timestamp and body
func Sign(secret []byte, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(slackSignatureScheme + ":" + timestamp + ":"))
	mac.Write(body)
	return slackSignatureScheme + "=" + hex.EncodeToString(mac.Sum(nil))
}

// EventEnvelope is the outer Events API payload
type EventEnvelope struct {
	Type      string      `json:"type"`
	Token     string      `json:"token"`
	Challenge string      `json:"challenge,omitempty"`
	TeamID    string      `json:"team_id,omitempty"`
	EventID   string      `json:"event_id,omitempty"`
	EventTime int64       `json:"event_time,omitempty"`
	Event     *SlackEvent `json:"event,omitempty"`
}

// SlackEvent is the inner event of an event_callback
type SlackEvent struct {
	Type     string `json:"type"`
	Subtype  string `json:"subtype,omitempty"`
	User     string `json:"user"`
	BotID    string `json:"bot_id,omitempty"`
	Text     string `json:"text"`
	Channel  string `json:"channel"`
	TS       string `json:"ts"`
	ThreadTS string `json:"thread_ts,omitempty"`
}

// Envelope types
const (
	EnvelopeURLVerification = "url_verification"
	EnvelopeEventCallback   = "event_callback"
)

// IsCustomerMessage reports whether the event should enter the pipeline.
// Bot posts, edits and other subtypes are skipped.
func (e *SlackEvent) IsCustomerMessage() bool {
	if e == nil || e.BotID != "" || e.Subtype != "" || e.User == "" || e.Text == "" {
		return false
	}
	return e.Type == "message" || e.Type == "app_mention"
}

// ToMessage converts the event into a pipeline message. Replies go into
// the event's thread, or start one under the event itself.
func (e *SlackEvent) ToMessage(eventID string) *models.Message {
	id := eventID
	if id == "" {
		id = e.Channel + ":" + e.TS
	}
	msg := models.NewMessage(id, e.Channel, e.User, e.Text, slackTime(e.TS))
	msg.ThreadTS = e.ThreadTS
	if msg.ThreadTS == "" {
		msg.ThreadTS = e.TS
	}
	msg.Metadata["slack_ts"] = e.TS
	return msg
}

// slackTime parses a Slack "seconds.micros" timestamp
func slackTime(ts string) time.Time {
	f, err := strconv.ParseFloat(ts, 64)
	if err != nil || f <= 0 {
		return time.Now().UTC()
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*1e6)*int64(time.Microsecond)).UTC()
}
