package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/quantumflow/supportflow/internal/config"
	"github.com/quantumflow/supportflow/internal/models"
	"github.com/quantumflow/supportflow/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// errNoMessage is reported for a nil message
var errNoMessage = errors.New("no message to process")

const workflowErrorResponse = "Something went wrong while handling your request. It has been passed to our support team."

// Workflow runs intake, then (unless escalated early) knowledge retrieval,
// then dispatches the outcome. Process never returns an error and never
// panics; each call owns its WorkflowState.
type Workflow struct {
	intake    Stage
	knowledge Stage
	notifier  Notifier
	config    config.WorkflowConfig
	logger    *slog.Logger
	now       func() time.Time

	sinksMu sync.RWMutex
	sinks   []OutcomeSink
	sinkWG  sync.WaitGroup

	tracer    trace.Tracer
	processed metric.Int64Counter
	escalated metric.Int64Counter
	duration  metric.Float64Histogram
}

// NewWorkflow wires the pipeline. A nil notifier discards notifications.
func NewWorkflow(cfg config.WorkflowConfig, intake, knowledge Stage, notifier Notifier, logger *slog.Logger) *Workflow {
	if notifier == nil {
		notifier = NoopNotifier{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	meter := telemetry.Meter("supportflow/workflow")
	processed, _ := meter.Int64Counter("supportflow.messages.processed",
		metric.WithDescription("Messages that completed the workflow"))
	escalated, _ := meter.Int64Counter("supportflow.messages.escalated",
		metric.WithDescription("Messages handed to a human"))
	duration, _ := meter.Float64Histogram("supportflow.workflow.duration",
		metric.WithDescription("End-to-end workflow time (ms)"),
		metric.WithUnit("ms"))

	return &Workflow{
		intake:    intake,
		knowledge: knowledge,
		notifier:  notifier,
		config:    cfg,
		logger:    logger,
		now:       time.Now,
		tracer:    telemetry.Tracer("supportflow/workflow"),
		processed: processed,
		escalated: escalated,
		duration:  duration,
	}
}

// RegisterSink adds an outcome sink. Sinks run after Process returns.
func (w *Workflow) RegisterSink(sink OutcomeSink) {
	w.sinksMu.Lock()
	defer w.sinksMu.Unlock()
	w.sinks = append(w.sinks, sink)
}

// Process runs one message through the pipeline
func (w *Workflow) Process(ctx context.Context, msg *models.Message) (state *models.WorkflowState) {
	missing := msg == nil
	if missing {
		msg = models.NewMessage("", "", "", "", w.now())
	}
	state = models.NewWorkflowState(msg, w.now())

	ctx, span := w.tracer.Start(ctx, "workflow.process",
		trace.WithAttributes(
			attribute.String("message.id", msg.ID),
			attribute.String("message.channel", msg.ChannelID),
		),
	)
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("workflow panic", "message_id", msg.ID, "panic", r, "stack", string(debug.Stack()))
			w.fail(ctx, state, fmt.Errorf("panic: %v", r))
		}
		w.finish(ctx, state, span)
	}()

	if missing {
		w.fail(ctx, state, errNoMessage)
		return state
	}
	if err := w.run(ctx, state); err != nil {
		w.fail(ctx, state, err)
	}
	return state
}

func (w *Workflow) run(ctx context.Context, state *models.WorkflowState) error {
	msg := state.Message

	intakeResp, err := w.runStage(ctx, w.intake, msg)
	if err != nil {
		return fmt.Errorf("intake stage: %w", err)
	}
	state.Append(intakeResp)

	w.notify(ctx, msg, "ack", func(ctx context.Context) error {
		return w.notifier.SendAck(ctx, msg, intakeResp.Response)
	})

	if intakeResp.Escalate && intakeResp.Confidence < w.config.EarlyEscalationThreshold {
		w.logger.Info("escalating before retrieval", "message_id", msg.ID, "confidence", intakeResp.Confidence)
		w.escalate(ctx, state, intakeResp.EscalationReason)
		return nil
	}

	knowledgeResp, err := w.runStage(ctx, w.knowledge, msg)
	if err != nil {
		return fmt.Errorf("knowledge stage: %w", err)
	}
	state.Append(knowledgeResp)

	if knowledgeResp.Escalate {
		w.escalate(ctx, state, knowledgeResp.EscalationReason)
		return nil
	}

	state.FinalResponse = knowledgeResp.Response
	w.notify(ctx, msg, "answer", func(ctx context.Context) error {
		return w.notifier.SendAnswer(ctx, msg, knowledgeResp.Response, knowledgeResp.Sources)
	})

	// Flagged at intake but answered: the humans are still notified.
	if state.Escalated {
		reason := state.EscalationReason
		w.notify(ctx, msg, "escalation", func(ctx context.Context) error {
			return w.notifier.SendEscalation(ctx, msg, reason)
		})
	}
	return nil
}

// runStage runs one stage under its own deadline and span
func (w *Workflow) runStage(ctx context.Context, stage Stage, msg *models.Message) (*models.StageResponse, error) {
	stageCtx, cancel := context.WithTimeout(ctx, w.config.StageTimeout)
	defer cancel()

	stageCtx, span := w.tracer.Start(stageCtx, "stage."+stage.Name())
	defer span.End()

	resp, err := stage.Handle(stageCtx, msg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if resp == nil {
		return nil, fmt.Errorf("%s returned no response", stage.Name())
	}

	span.SetAttributes(
		attribute.Float64("stage.confidence", resp.Confidence),
		attribute.Bool("stage.escalate", resp.Escalate),
	)
	return resp, nil
}

// escalate sets the fixed escalation message and notifies the humans
func (w *Workflow) escalate(ctx context.Context, state *models.WorkflowState, reason string) {
	state.MarkEscalated(reason)
	state.FinalResponse = w.config.EscalationMessage

	msg := state.Message
	w.notify(ctx, msg, "escalation", func(ctx context.Context) error {
		return w.notifier.SendEscalation(ctx, msg, reason)
	})
}

// fail converts an error into the terminal workflow_error response
func (w *Workflow) fail(ctx context.Context, state *models.WorkflowState, err error) {
	w.logger.Error("workflow failed", "message_id", state.Message.ID, "error", err)
	trace.SpanFromContext(ctx).RecordError(err)

	resp := models.NewStageResponse(WorkflowErrorName, workflowErrorResponse, 0)
	resp.Escalate = true
	resp.EscalationReason = fmt.Sprintf("workflow error: %v", err)
	state.Append(resp)
	state.FinalResponse = resp.Response

	msg := state.Message
	w.notify(ctx, msg, "escalation", func(ctx context.Context) error {
		return w.notifier.SendEscalation(ctx, msg, resp.EscalationReason)
	})
}

// notify performs one best-effort notification with its own deadline.
// Panics in the notifier are contained here too.
func (w *Workflow) notify(ctx context.Context, msg *models.Message, kind string, send func(context.Context) error) {
	notifyCtx, cancel := context.WithTimeout(ctx, w.config.NotifyTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("notifier panic", "kind", kind, "message_id", msg.ID, "panic", r)
		}
	}()

	if err := send(notifyCtx); err != nil {
		w.logger.Warn("notification failed", "kind", kind, "message_id", msg.ID, "error", err)
	}
}

// finish stamps completion, finalizes the message and hands a snapshot to sinks
func (w *Workflow) finish(ctx context.Context, state *models.WorkflowState, span trace.Span) {
	completed := w.now()
	if !state.Complete(completed) {
		return
	}

	msg := state.Message
	elapsed := completed.Sub(state.ProcessingStarted)
	msg.ResponseTime = &elapsed
	if state.Escalated {
		msg.Status = models.StatusEscalated
		msg.AssignedAgent = HumanHandler
	} else {
		msg.Status = models.StatusResolved
	}

	attrs := metric.WithAttributes(
		attribute.String("category", string(msg.Category)),
		attribute.Bool("escalated", state.Escalated),
	)
	w.processed.Add(ctx, 1, attrs)
	if state.Escalated {
		w.escalated.Add(ctx, 1, attrs)
	}
	w.duration.Record(ctx, float64(elapsed.Milliseconds()), attrs)

	span.SetAttributes(
		attribute.Bool("workflow.escalated", state.Escalated),
		attribute.Int("workflow.agents_used", state.AgentsUsed()),
	)

	w.logger.Info("workflow completed",
		"message_id", msg.ID,
		"category", msg.Category,
		"urgency", msg.Urgency,
		"escalated", state.Escalated,
		"agents_used", state.AgentsUsed(),
		"duration_ms", elapsed.Milliseconds(),
	)

	w.dispatchSinks(ctx, state.Snapshot())
}

func (w *Workflow) dispatchSinks(ctx context.Context, snapshot *models.WorkflowState) {
	w.sinksMu.RLock()
	sinks := append([]OutcomeSink(nil), w.sinks...)
	w.sinksMu.RUnlock()
	if len(sinks) == 0 {
		return
	}

	detached := context.WithoutCancel(ctx)
	w.sinkWG.Add(1)
	go func() {
		defer w.sinkWG.Done()
		for _, sink := range sinks {
			w.recordOutcome(detached, sink, snapshot)
		}
	}()
}

func (w *Workflow) recordOutcome(ctx context.Context, sink OutcomeSink, snapshot *models.WorkflowState) {
	ctx, cancel := context.WithTimeout(ctx, w.config.NotifyTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("outcome sink panic", "message_id", snapshot.Message.ID, "panic", r)
		}
	}()

	if err := sink.RecordOutcome(ctx, snapshot); err != nil {
		w.logger.Warn("outcome sink failed", "sink", fmt.Sprintf("%T", sink), "message_id", snapshot.Message.ID, "error", err)
	}
}

// Wait blocks until in-flight outcome sinks finish or ctx ends
func (w *Workflow) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		w.sinkWG.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
