package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/quantumflow/supportflow/internal/integration"
)

// Handlers holds HTTP handler dependencies
type Handlers struct {
	processor Processor
	verifier  *integration.SignatureVerifier
	checks    map[string]HealthChecker
	logger    *slog.Logger
	version   string
	maxBody   int64

	slots   chan struct{}
	seen    *eventDedup
	baseCtx context.Context
	wg      sync.WaitGroup
}

type responseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

type apiResponse struct {
	Data any          `json:"data"`
	Meta responseMeta `json:"meta"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type apiError struct {
	Error errorDetail  `json:"error"`
	Meta  responseMeta `json:"meta"`
}

// HealthResponse is the body of GET /healthz
type HealthResponse struct {
	Status  string            `json:"status"`
	Version string            `json:"version,omitempty"`
	Checks  map[string]string `json:"checks"`
}

// HandleSlackEvents handles POST /slack/events. Slack expects a 2xx within
// three seconds, so customer messages are processed in the background.
func (h *Handlers) HandleSlackEvents(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		writeError(w, r, http.StatusRequestEntityTooLarge, "body_too_large", "request body too large")
		return
	}

	if err := h.verifier.Verify(r.Header, body); err != nil {
		h.logger.Warn("rejected slack request", "error", err)
		writeError(w, r, http.StatusUnauthorized, "invalid_signature", "invalid slack signature")
		return
	}

	var env integration.EventEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_payload", "malformed event payload")
		return
	}

	switch env.Type {
	case integration.EnvelopeURLVerification:
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{"challenge": env.Challenge})
		return

	case integration.EnvelopeEventCallback:
		if !env.Event.IsCustomerMessage() {
			w.WriteHeader(http.StatusOK)
			return
		}
		// Retries of events that were accepted earlier stop here; a retry
		// of a shed event runs like a first delivery.
		if !h.seen.firstSeen(env.EventID) {
			h.logger.Debug("duplicate slack event", "event_id", env.EventID,
				"retry", r.Header.Get("X-Slack-Retry-Num"))
			w.WriteHeader(http.StatusOK)
			return
		}
		if !h.dispatch(env) {
			h.seen.forget(env.EventID)
			writeError(w, r, http.StatusServiceUnavailable, "busy", "too many messages in flight")
			return
		}
		w.WriteHeader(http.StatusOK)

	default:
		h.logger.Debug("ignoring slack envelope", "type", env.Type)
		w.WriteHeader(http.StatusOK)
	}
}

// dispatch starts the pipeline for an event unless every slot is taken
func (h *Handlers) dispatch(env integration.EventEnvelope) bool {
	select {
	case h.slots <- struct{}{}:
	default:
		return false
	}

	msg := env.Event.ToMessage(env.EventID)
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		defer func() { <-h.slots }()

		state := h.processor.Process(h.baseCtx, msg)
		h.logger.Info("slack message handled",
			"message_id", msg.ID,
			"channel", msg.ChannelID,
			"escalated", state.Escalated,
		)
	}()
	return true
}

// Wait blocks until background pipeline runs finish or ctx expires
func (h *Handlers) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HandleHealth handles GET /healthz
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:  "healthy",
		Version: h.version,
		Checks:  make(map[string]string, len(h.checks)),
	}
	httpStatus := http.StatusOK

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		err := h.checks[name].Health(ctx)
		cancel()
		switch {
		case err == nil:
			resp.Checks[name] = "ok"
		case errors.Is(err, context.DeadlineExceeded):
			resp.Checks[name] = "timeout"
		default:
			resp.Checks[name] = err.Error()
		}
		if err != nil {
			resp.Status = "unhealthy"
			httpStatus = http.StatusServiceUnavailable
		}
	}

	writeJSON(w, r, httpStatus, resp)
}

// writeJSON writes a JSON response with the standard envelope
func writeJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apiResponse{
		Data: data,
		Meta: responseMeta{
			RequestID: RequestIDFromContext(r.Context()),
			Timestamp: time.Now().UTC(),
		},
	})
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apiError{
		Error: errorDetail{Code: code, Message: message},
		Meta: responseMeta{
			RequestID: RequestIDFromContext(r.Context()),
			Timestamp: time.Now().UTC(),
		},
	})
}
