package notification

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"promise-service.io/promise/internal/deliverylog"
	"promise-service.io/promise/internal/domain"
	apperrors "promise-service.io/promise/internal/pkg/errors"
	"promise-service.io/promise/internal/pkg/logger"
	"promise-service.io/promise/internal/pkg/worker"
)

const (
	ReasonIneligible = "RECIPIENT_INELIGIBLE"
	ReasonTimeout    = "DISPATCH_TIMEOUT"
	suffixNoFallback = "/NO_FALLBACK"
)

// Eligibility is the per channel consent check. Guard implements it.
type Eligibility interface {
	IsEligible(ctx context.Context, senderID, candidateID int64, channel domain.Channel) (bool, error)
}

// UserDirectory resolves display names for message rendering.
type UserDirectory interface {
	DisplayName(ctx context.Context, userID int64) (string, error)
}

type DispatchRequest struct {
	Meeting    domain.Meeting
	SenderID   int64
	Candidates []int64
	Intent     domain.Intent
	// TraceID groups the attempts of one logical dispatch. Reusing it makes
	// the call idempotent; empty generates a new one.
	TraceID  string
	Reason   string
	Response domain.ResponseState
}

type Failure struct {
	UserID int64  `json:"user_id"`
	Reason string `json:"reason"`
}

// AggregateResult lists every candidate exactly once, in candidate order.
type AggregateResult struct {
	TraceID string    `json:"trace_id"`
	Sent    []int64   `json:"sent"`
	Failed  []Failure `json:"failed"`
}

// Summary renders "sent/total notified".
func (r AggregateResult) Summary() string {
	return fmt.Sprintf("%d/%d notified", len(r.Sent), len(r.Sent)+len(r.Failed))
}

type DispatcherConfig struct {
	// RetryBackoff is the pause before the single in place retry.
	RetryBackoff time.Duration
	// ClaimWait bounds how long a claim loser waits for the winner's record.
	ClaimWait time.Duration
	// RecordTimeout bounds the delivery log write, which outlives the
	// caller's context so a sent message is never left unlogged.
	RecordTimeout time.Duration
}

func (c DispatcherConfig) withDefaults() DispatcherConfig {
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 200 * time.Millisecond
	}
	if c.ClaimWait <= 0 {
		c.ClaimWait = 30 * time.Second
	}
	if c.RecordTimeout <= 0 {
		c.RecordTimeout = 5 * time.Second
	}
	return c
}

// Dispatcher runs the adapter chain for each candidate.
type Dispatcher struct {
	adapters []Adapter
	guard    Eligibility
	log      deliverylog.Store
	claimer  Claimer
	catalog  *Catalog
	pool     *worker.Pool
	users    UserDirectory
	cfg      DispatcherConfig
	tracer   trace.Tracer
}

type DispatcherDeps struct {
	Adapters []Adapter
	Guard    Eligibility
	Log      deliverylog.Store
	Catalog  *Catalog
	// Claimer defaults to a LocalClaimer.
	Claimer Claimer
	// Pool runs candidates concurrently; nil runs them one by one.
	Pool  *worker.Pool
	Users UserDirectory
}

func NewDispatcher(deps DispatcherDeps, cfg DispatcherConfig) *Dispatcher {
	cfg = cfg.withDefaults()
	claimer := deps.Claimer
	if claimer == nil {
		claimer = NewLocalClaimer(cfg.ClaimWait)
	}
	return &Dispatcher{
		adapters: byPriority(deps.Adapters),
		guard:    deps.Guard,
		log:      deps.Log,
		claimer:  claimer,
		catalog:  deps.Catalog,
		pool:     deps.Pool,
		users:    deps.Users,
		cfg:      cfg,
		tracer:   otel.Tracer("promise/notification"),
	}
}

// outcome is the result of one candidate's chain.
type outcome struct {
	done   bool
	sent   bool
	reason string
}

// Dispatch notifies every candidate. Failures are per candidate and folded
// into the result; the error is only set when the whole call could not run
// or ctx ended first, in which case unprocessed candidates are reported as
// DISPATCH_TIMEOUT and the same trace id can be dispatched again.
func (d *Dispatcher) Dispatch(ctx context.Context, req DispatchRequest) (AggregateResult, error) {
	if req.TraceID == "" {
		req.TraceID = NewTraceID(req.Meeting.ID)
	}
	ctx, span := d.tracer.Start(ctx, "notification.Dispatch", trace.WithAttributes(
		attribute.Int64("meeting.id", req.Meeting.ID),
		attribute.String("notification.trace_id", req.TraceID),
		attribute.String("notification.intent", string(req.Intent)),
	))
	defer span.End()

	result := AggregateResult{TraceID: req.TraceID, Sent: []int64{}, Failed: []Failure{}}
	candidates := dedupe(req.Candidates)
	if len(candidates) == 0 {
		return result, nil
	}

	msg, err := d.catalog.Render(req.Intent, domain.MessageContext{
		Meeting:    req.Meeting,
		SenderID:   req.SenderID,
		SenderName: d.displayName(ctx, req.SenderID),
		Reason:     req.Reason,
		Response:   req.Response,
	})
	if err != nil {
		return result, apperrors.Wrap(err, apperrors.CodeUnknownIntent, err.Error(), http.StatusBadRequest)
	}

	outcomes := make([]outcome, len(candidates))
	tasks := make([]worker.Task, len(candidates))
	for i, userID := range candidates {
		tasks[i] = func(ctx context.Context) {
			outcomes[i] = d.deliver(ctx, req, msg, userID)
		}
	}

	var runErr error
	if d.pool != nil {
		runErr = d.pool.Run(ctx, tasks)
	} else {
		for _, task := range tasks {
			if ctx.Err() != nil {
				break
			}
			task(ctx)
		}
	}

	for i, userID := range candidates {
		o := outcomes[i]
		switch {
		case !o.done:
			result.Failed = append(result.Failed, Failure{UserID: userID, Reason: ReasonTimeout})
		case o.sent:
			result.Sent = append(result.Sent, userID)
		default:
			result.Failed = append(result.Failed, Failure{UserID: userID, Reason: o.reason})
		}
	}

	span.SetAttributes(
		attribute.Int("notification.sent", len(result.Sent)),
		attribute.Int("notification.failed", len(result.Failed)),
	)
	if runErr == nil {
		runErr = ctx.Err()
	}
	if runErr != nil {
		span.RecordError(runErr)
		span.SetStatus(otelcodes.Error, runErr.Error())
		return result, runErr
	}
	return result, nil
}

func (d *Dispatcher) displayName(ctx context.Context, userID int64) string {
	if d.users == nil {
		return ""
	}
	name, err := d.users.DisplayName(ctx, userID)
	if err != nil {
		logger.Warn("display name lookup failed", zap.Int64("user_id", userID), zap.Error(err))
		return ""
	}
	return name
}

// deliver walks the chain for one candidate. The first adapter gets the
// template, later ones the plain text rendering.
func (d *Dispatcher) deliver(ctx context.Context, req DispatchRequest, msg Message, userID int64) outcome {
	var (
		codes       []string
		firstTried  = -1
		fellBack    bool
		lookupError error
	)
	to := Recipient{UserID: userID}

	for i, a := range d.adapters {
		eligible, err := d.guard.IsEligible(ctx, req.SenderID, userID, a.Name())
		if err != nil {
			logger.Warn("eligibility lookup failed",
				zap.Int64("meeting_id", req.Meeting.ID),
				zap.Int64("user_id", userID),
				zap.String("channel", string(a.Name())),
				zap.Error(err),
			)
			lookupError = err
			continue
		}
		if !eligible {
			continue
		}
		if firstTried < 0 {
			firstTried = i
		} else {
			fellBack = true
		}

		r := d.attempt(ctx, req, a, i == 0, to, msg)
		if r.timedOut {
			return outcome{}
		}
		if r.success {
			return outcome{done: true, sent: true}
		}
		codes = append(codes, r.code)
	}

	if firstTried < 0 {
		reason := ReasonIneligible
		if lookupError != nil {
			reason += ": " + lookupError.Error()
		}
		return outcome{done: true, reason: reason}
	}
	reason := strings.Join(codes, ",")
	if !fellBack && firstTried < len(d.adapters)-1 {
		reason += suffixNoFallback
	}
	return outcome{done: true, reason: reason}
}

type attemptResult struct {
	success  bool
	code     string
	timedOut bool
}

func fromAttempt(a deliverylog.Attempt) attemptResult {
	if a.IsSuccess() {
		return attemptResult{success: true}
	}
	code := a.ErrorCode
	if code == "" {
		code = string(CodeTransportError)
	}
	return attemptResult{code: code}
}

// attempt sends on one channel unless the log already holds this key, in
// which case the stored outcome is reused and nothing is sent.
func (d *Dispatcher) attempt(ctx context.Context, req DispatchRequest, a Adapter, primary bool, to Recipient, msg Message) attemptResult {
	key := deliverylog.Key{MeetingID: req.Meeting.ID, UserID: to.UserID, Channel: a.Name(), TraceID: req.TraceID}
	fields := []zap.Field{
		zap.Int64("meeting_id", key.MeetingID),
		zap.Int64("user_id", key.UserID),
		zap.String("channel", string(key.Channel)),
		zap.String("trace_id", key.TraceID),
	}

	if existing, found, err := d.log.Find(ctx, key); err != nil {
		if ctx.Err() != nil {
			return attemptResult{timedOut: true}
		}
		logger.Error("delivery log lookup failed", append(fields, zap.Error(err))...)
		return attemptResult{code: string(CodeTransportError)}
	} else if found {
		logger.Debug("duplicate delivery attempt, reusing stored outcome", fields...)
		return fromAttempt(existing)
	}

	release, won, err := d.claimer.Claim(ctx, key)
	if err != nil {
		logger.Warn("delivery claim unavailable, sending unclaimed", append(fields, zap.Error(err))...)
		won = true
	}
	if !won {
		return d.awaitWinner(ctx, key, fields)
	}
	defer release()

	// Another dispatcher may have finished and released between the lookup
	// above and the claim.
	if existing, found, err := d.log.Find(ctx, key); err == nil && found {
		logger.Debug("delivery recorded while claiming, reusing stored outcome", fields...)
		return fromAttempt(existing)
	}

	res := d.send(ctx, a, primary, to, msg)
	if !res.Success && res.Retryable && ctx.Err() == nil {
		select {
		case <-ctx.Done():
		case <-time.After(d.cfg.RetryBackoff):
			logger.Debug("retrying delivery", append(fields, zap.String("error_code", string(res.ErrorCode)))...)
			res = d.send(ctx, a, primary, to, msg)
		}
	}
	if !res.Success && res.HTTPStatus == 0 && ctx.Err() != nil {
		return attemptResult{timedOut: true}
	}

	rec := deliverylog.Attempt{
		Key:          key,
		Payload:      res.Payload,
		HTTPStatus:   res.HTTPStatus,
		ResultCode:   res.ResultCode,
		ErrorPayload: res.ErrorPayload,
	}
	if !res.Success {
		rec.ErrorCode = string(res.ErrorCode)
		if rec.ErrorPayload == "" {
			rec.ErrorPayload = res.Message
		}
	}

	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.cfg.RecordTimeout)
	defer cancel()
	stored, created, err := d.log.Record(rctx, rec)
	if err != nil {
		logger.Error("failed to record delivery attempt", append(fields, zap.Error(err))...)
		stored = rec
	} else if !created {
		logger.Info("delivery attempt already recorded by another dispatcher", fields...)
	}

	r := fromAttempt(stored)
	if !r.success {
		logger.Info("delivery failed", append(fields,
			zap.String("error_code", r.code),
			zap.Int("http_status", stored.HTTPStatus),
		)...)
	}
	return r
}

func (d *Dispatcher) send(ctx context.Context, a Adapter, primary bool, to Recipient, msg Message) SendResult {
	if primary {
		return a.SendTemplate(ctx, to, msg.TemplateCode, msg.Variables)
	}
	return a.Send(ctx, to, msg.Text, msg.Link)
}

// awaitWinner polls the log until the claim holder's record shows up.
func (d *Dispatcher) awaitWinner(ctx context.Context, key deliverylog.Key, fields []zap.Field) attemptResult {
	deadline := time.NewTimer(d.cfg.ClaimWait)
	defer deadline.Stop()
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return attemptResult{timedOut: true}
		case <-deadline.C:
			logger.Warn("delivery claim holder never recorded an attempt", fields...)
			return attemptResult{code: string(CodeTransportError)}
		case <-tick.C:
			existing, found, err := d.log.Find(ctx, key)
			if err != nil {
				continue
			}
			if found {
				return fromAttempt(existing)
			}
		}
	}
}
