package integration

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/quantumflow/supportflow/internal/config"
	"github.com/quantumflow/supportflow/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type slackPost struct {
	Channel  string `json:"channel"`
	Text     string `json:"text"`
	ThreadTS string `json:"thread_ts"`
}

type fakeSlack struct {
	mu       sync.Mutex
	posts    []slackPost
	failFor  string
	status   int
	authSeen []string
}

func (f *fakeSlack) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.authSeen = append(f.authSeen, r.Header.Get("Authorization"))

		if f.status != 0 {
			w.Header().Set("Retry-After", "7")
			w.WriteHeader(f.status)
			return
		}

		switch r.URL.Path {
		case "/chat.postMessage":
			var p slackPost
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&p))
			f.posts = append(f.posts, p)
			if p.Channel == f.failFor {
				_, _ = w.Write([]byte(`{"ok":false,"error":"channel_not_found"}`))
				return
			}
			_, _ = w.Write([]byte(`{"ok":true,"channel":"` + p.Channel + `","ts":"1700000000.000200"}`))
		case "/auth.test":
			_, _ = w.Write([]byte(`{"ok":true,"user_id":"UBOT"}`))
		default:
			http.NotFound(w, r)
		}
	}
}

func newTestSlack(t *testing.T, fake *fakeSlack, auditor AuditLogger) *SlackConnector {
	t.Helper()
	srv := httptest.NewServer(fake.handler(t))
	t.Cleanup(srv.Close)
	return NewSlackConnector(config.SlackConfig{
		BotToken:          "xoxb-test",
		EscalationChannel: "C-ESC",
		APIURL:            srv.URL,
	}, nil, auditor, nil)
}

func slackMessage() *models.Message {
	msg := models.NewMessage("m-1", "C-CUST", "U-1", "Our SSO is broken\nplease help", testNow)
	msg.ThreadTS = "1700000000.000100"
	msg.Category = models.CategoryTechnical
	msg.Urgency = models.UrgencyHigh
	return msg
}

func TestSlackSendAckRepliesInThread(t *testing.T) {
	fake := &fakeSlack{}
	s := newTestSlack(t, fake, nil)

	require.NoError(t, s.SendAck(context.Background(), slackMessage(), "Thanks!"))

	require.Len(t, fake.posts, 1)
	assert.Equal(t, slackPost{Channel: "C-CUST", Text: "Thanks!", ThreadTS: "1700000000.000100"}, fake.posts[0])
	assert.Equal(t, "Bearer xoxb-test", fake.authSeen[0])
}

func TestSlackSendAnswerListsSources(t *testing.T) {
	fake := &fakeSlack{}
	s := newTestSlack(t, fake, nil)

	err := s.SendAnswer(context.Background(), slackMessage(), "Re-upload the certificate.", []string{"SSO guide (https://d/sso)", "SAML FAQ"})
	require.NoError(t, err)

	require.Len(t, fake.posts, 1)
	assert.Equal(t, "Re-upload the certificate.\n\n*Sources:*\n• SSO guide (https://d/sso)\n• SAML FAQ", fake.posts[0].Text)
}

func TestSlackSendEscalationAlertsTeamAndCustomer(t *testing.T) {
	fake := &fakeSlack{}
	s := newTestSlack(t, fake, nil)

	require.NoError(t, s.SendEscalation(context.Background(), slackMessage(), "critical urgency"))

	require.Len(t, fake.posts, 2)
	alert := fake.posts[0]
	assert.Equal(t, "C-ESC", alert.Channel)
	assert.Empty(t, alert.ThreadTS)
	assert.Contains(t, alert.Text, "Escalation for technical support")
	assert.Contains(t, alert.Text, "*Reason:* critical urgency")
	assert.Contains(t, alert.Text, "> Our SSO is broken\n> please help")

	notice := fake.posts[1]
	assert.Equal(t, "C-CUST", notice.Channel)
	assert.Equal(t, "1700000000.000100", notice.ThreadTS)
	assert.Contains(t, notice.Text, "technical support team")
}

func TestSlackSendEscalationStillNotifiesCustomerWhenAlertFails(t *testing.T) {
	fake := &fakeSlack{failFor: "C-ESC"}
	s := newTestSlack(t, fake, nil)

	err := s.SendEscalation(context.Background(), slackMessage(), "low confidence")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "channel_not_found")
	assert.Len(t, fake.posts, 2)
}

func TestSlackRateLimitedAndAudited(t *testing.T) {
	auditor := newTestAuditLogger(t)
	fake := &fakeSlack{status: http.StatusTooManyRequests}
	s := newTestSlack(t, fake, auditor)

	err := s.SendAck(context.Background(), slackMessage(), "hi")
	require.ErrorIs(t, err, ErrRateLimited)
	assert.Contains(t, err.Error(), "retry after 7s")

	calls, qerr := auditor.Calls(context.Background(), CallFilter{})
	require.NoError(t, qerr)
	require.Len(t, calls, 1)
	assert.False(t, calls[0].OK())
	assert.Equal(t, http.StatusTooManyRequests, calls[0].Status)
	assert.Equal(t, "/chat.postMessage", calls[0].Endpoint)
	assert.Equal(t, "C-CUST", calls[0].Channel)
}

func TestSlackInBandErrorIsAuditedAsFailure(t *testing.T) {
	auditor := newTestAuditLogger(t)
	fake := &fakeSlack{failFor: "C-CUST"}
	s := newTestSlack(t, fake, auditor)

	err := s.SendAck(context.Background(), slackMessage(), "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "channel_not_found")

	calls, qerr := auditor.Calls(context.Background(), CallFilter{FailedOnly: true})
	require.NoError(t, qerr)
	require.Len(t, calls, 1)
	assert.Equal(t, http.StatusOK, calls[0].Status)
	assert.Contains(t, calls[0].Err, "channel_not_found")
}

func TestSlackRequiresToken(t *testing.T) {
	s := NewSlackConnector(config.SlackConfig{}, nil, nil, nil)
	_, err := s.AuthTest(context.Background())
	assert.Error(t, err)
}

func TestSlackAuthTest(t *testing.T) {
	s := newTestSlack(t, &fakeSlack{}, nil)

	user, err := s.AuthTest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "UBOT", user)
}

func TestSlackPostMessageRequiresChannel(t *testing.T) {
	s := newTestSlack(t, &fakeSlack{}, nil)
	_, err := s.PostMessage(context.Background(), "", "x", "")
	assert.Error(t, err)
}
