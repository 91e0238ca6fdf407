package integration

import (
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)

func signedHeader(secret string, ts time.Time, body []byte) http.Header {
	stamp := strconv.FormatInt(ts.Unix(), 10)
	h := http.Header{}
	h.Set("X-Slack-Request-Timestamp", stamp)
	h.Set("X-Slack-Signature", Sign([]byte(secret), stamp, body))
	return h
}

func TestSignatureVerifier(t *testing.T) {
	body := []byte(`{"type":"event_callback"}`)

	tests := []struct {
		name    string
		header  http.Header
		wantErr error
	}{
		{"valid", signedHeader("s3cret", testNow, body), nil},
		{"slightly in the future", signedHeader("s3cret", testNow.Add(time.Minute), body), nil},
		{"wrong secret", signedHeader("other", testNow, body), ErrBadSignature},
		{"replayed", signedHeader("s3cret", testNow.Add(-6*time.Minute), body), ErrStaleRequest},
		{"missing headers", http.Header{}, ErrMissingSignature},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewSignatureVerifier("s3cret")
			v.now = func() time.Time { return testNow }

			err := v.Verify(tt.header, body)
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestSignatureVerifierRejectsTamperedBody(t *testing.T) {
	v := NewSignatureVerifier("s3cret")
	v.now = func() time.Time { return testNow }

	header := signedHeader("s3cret", testNow, []byte(`{"a":1}`))
	assert.ErrorIs(t, v.Verify(header, []byte(`{"a":2}`)), ErrBadSignature)
}

func TestSignKnownVector(t *testing.T) {
	// Example from Slack's request signing documentation
	body := []byte("token=xyzz0WbapA4vBCDEFasx0q6G&team_id=T1DC2JH3J&team_domain=testteamnow&channel_id=G8PSS9T3V&channel_name=foobar&user_id=U2CERLKJA&user_name=roadrunner&command=%2Fwebhook-collect&text=&response_url=https%3A%2F%2Fhooks.slack.com%2Fcommands%2FT1DC2JH3J%2F397700885554%2F96rGlfmibIGlgcZRskXaIFfN&trigger_id=398738663015.47445629121.803a0bc887a14d10d2c447fce8b6703c")
	got := Sign([]byte("8f742231b10e8888abcd99yyyzzz85a5"), "1531420618", body)
	assert.Equal(t, "v0=a2114d57b48eac39b9ad189dd8316235a7b4a8d21a10bd27519666489c69b503", got)
}

func TestSlackEventFiltering(t *testing.T) {
	tests := []struct {
		name  string
		event *SlackEvent
		want  bool
	}{
		{"user message", &SlackEvent{Type: "message", User: "U1", Text: "help"}, true},
		{"mention", &SlackEvent{Type: "app_mention", User: "U1", Text: "<@B> help"}, true},
		{"bot message", &SlackEvent{Type: "message", BotID: "B1", User: "U1", Text: "hi"}, false},
		{"edit", &SlackEvent{Type: "message", Subtype: "message_changed", User: "U1", Text: "hi"}, false},
		{"empty text", &SlackEvent{Type: "message", User: "U1"}, false},
		{"reaction", &SlackEvent{Type: "reaction_added", User: "U1", Text: "x"}, false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.event.IsCustomerMessage())
		})
	}
}

func TestSlackEventToMessage(t *testing.T) {
	ev := &SlackEvent{Type: "message", User: "U1", Text: "help", Channel: "C1", TS: "1700000000.000100"}

	msg := ev.ToMessage("Ev123")
	assert.Equal(t, "Ev123", msg.ID)
	assert.Equal(t, "C1", msg.ChannelID)
	assert.Equal(t, "U1", msg.UserID)
	assert.Equal(t, "1700000000.000100", msg.ThreadTS)
	assert.Equal(t, "1700000000.000100", msg.ReplyThread())
	assert.Equal(t, int64(1700000000), msg.Timestamp.Unix())

	reply := &SlackEvent{Type: "message", User: "U1", Text: "more", Channel: "C1", TS: "1700000001.000000", ThreadTS: "1700000000.000100"}
	msg = reply.ToMessage("")
	require.Equal(t, "C1:1700000001.000000", msg.ID)
	assert.Equal(t, "1700000000.000100", msg.ThreadTS)
}
