package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/mediaforge/internal/config"
	dispatchdomain "github.com/smallbiznis/mediaforge/internal/dispatch/domain"
	generationdomain "github.com/smallbiznis/mediaforge/internal/generation/domain"
	obscontext "github.com/smallbiznis/mediaforge/internal/observability/context"
	obslogger "github.com/smallbiznis/mediaforge/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/mediaforge/internal/observability/metrics"
	"github.com/smallbiznis/mediaforge/internal/observability/tracing"
	providerdomain "github.com/smallbiznis/mediaforge/internal/providers/domain"
	"github.com/smallbiznis/mediaforge/internal/ratelimit"
	refunddomain "github.com/smallbiznis/mediaforge/internal/refund/domain"
	subjectdomain "github.com/smallbiznis/mediaforge/internal/subject/domain"
	submissiondomain "github.com/smallbiznis/mediaforge/internal/submission/domain"
	usagedomain "github.com/smallbiznis/mediaforge/internal/usage/domain"
	"github.com/smallbiznis/mediaforge/pkg/telemetry/correlation"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	defaultInFlightWindow = 10 * time.Minute
	defaultPumpTimeout    = 45 * time.Second
)

type ServiceParam struct {
	fx.In

	Log        *zap.Logger
	GenID      *snowflake.Node
	Config     config.Config
	Catalog    providerdomain.Catalog
	Subjects   subjectdomain.Service
	Usage      usagedomain.Service
	Generation generationdomain.Service
	Dispatch   dispatchdomain.Service
	Refunds    refunddomain.Service
	Limiter    *ratelimit.GenerationLimiter `optional:"true"`
	Metrics    *obsmetrics.Metrics          `optional:"true"`
}

type Service struct {
	log            *zap.Logger
	genID          *snowflake.Node
	catalog        providerdomain.Catalog
	subjects       subjectdomain.Service
	usage          usagedomain.Service
	generation     generationdomain.Service
	dispatch       dispatchdomain.Service
	refunds        refunddomain.Service
	limiter        *ratelimit.GenerationLimiter
	metrics        *obsmetrics.Metrics
	inFlightWindow time.Duration
	pumpTimeout    time.Duration
}

func NewService(p ServiceParam) submissiondomain.Service {
	window := p.Config.InFlightGuardWindow
	if window <= 0 {
		window = defaultInFlightWindow
	}
	pumpTimeout := p.Config.Dispatch.LockTTL
	if pumpTimeout <= 0 {
		pumpTimeout = defaultPumpTimeout
	}
	return &Service{
		log:            p.Log.Named("submission.service"),
		genID:          p.GenID,
		catalog:        p.Catalog,
		subjects:       p.Subjects,
		usage:          p.Usage,
		generation:     p.Generation,
		dispatch:       p.Dispatch,
		refunds:        p.Refunds,
		limiter:        p.Limiter,
		metrics:        p.Metrics,
		inFlightWindow: window,
		pumpTimeout:    pumpTimeout,
	}
}

func (s *Service) RequestGeneration(ctx context.Context, req submissiondomain.Request) (submissiondomain.Outcome, error) {
	req.OwnerID = strings.TrimSpace(req.OwnerID)
	req.ProviderType = config.NormalizeProviderType(req.ProviderType)
	if req.OwnerID == "" || req.SubjectID == 0 || req.SubscriptionID == 0 || req.ProviderType == "" {
		return submissiondomain.Outcome{}, submissiondomain.ErrInvalidRequest
	}

	ctx, span := tracing.Tracer("submission").Start(ctx, "submission.request_generation")
	defer span.End()
	span.SetAttributes(attribute.String("provider.type", req.ProviderType))
	ctx = obscontext.WithOwnerID(ctx, req.OwnerID)
	ctx = obscontext.WithProviderType(ctx, req.ProviderType)
	log := s.logger(ctx).With(zap.String("subject_id", req.SubjectID.String()))

	outcome := submissiondomain.Outcome{ProviderType: req.ProviderType}

	allowed, err := s.allowOwner(ctx, req.OwnerID)
	if err != nil {
		return outcome, err
	}
	if !allowed {
		outcome.Reason = submissiondomain.ReasonRateLimited
		return outcome, nil
	}

	_, settings, err := s.catalog.Resolve(req.ProviderType)
	if err != nil {
		return outcome, err
	}
	outcome.Mode = settings.Mode

	content, err := s.subjects.GetForGeneration(ctx, req.SubjectID, req.OwnerID)
	if err != nil {
		return outcome, err
	}
	payload, err := mergeContent(req.Payload, content)
	if err != nil {
		return outcome, err
	}

	sub, err := s.usage.GetSubscription(ctx, req.SubscriptionID)
	if err != nil {
		return outcome, err
	}
	if sub.OwnerID != req.OwnerID {
		return outcome, usagedomain.ErrSubscriptionNotFound
	}

	busy, err := s.inFlight(ctx, req.SubjectID)
	if err != nil {
		return outcome, err
	}
	if busy {
		outcome.Reason = submissiondomain.ReasonInProgress
		return outcome, nil
	}

	reservation, err := s.usage.ReserveCredit(ctx, req.SubscriptionID, settings.CreditCost)
	if err != nil {
		return outcome, err
	}
	outcome.Usage = &reservation
	if !reservation.Allowed {
		outcome.Reason = reservation.Reason
		return outcome, nil
	}
	outcome.Allowed = true

	if settings.Mode == config.DispatchModeDirect {
		taskID, reason, err := s.submitDirect(ctx, settings, req, payload)
		if err != nil {
			return outcome, err
		}
		if reason != "" {
			outcome.Allowed = false
			outcome.Reason = reason
			outcome.Usage = released(reservation, settings.CreditCost, reason)
			log.Info("direct generation refused by provider limit", zap.String("reason", reason))
			return outcome, nil
		}
		outcome.TaskID = &taskID
		log.Info("generation submitted", zap.String("task_id", taskID))
		return outcome, nil
	}

	entry, err := s.dispatch.Enqueue(ctx, dispatchdomain.EnqueueRequest{
		ProviderType:   req.ProviderType,
		OwnerID:        req.OwnerID,
		SubjectID:      req.SubjectID,
		SubscriptionID: req.SubscriptionID,
		CreditCost:     settings.CreditCost,
		Payload:        payload,
	})
	if err != nil {
		if _, refundErr := s.refunds.RefundSubmission(ctx, refunddomain.SubmissionRefund{
			Key:            refunddomain.DirectKey(s.genID.Generate()),
			SubscriptionID: req.SubscriptionID,
			Cost:           settings.CreditCost,
			Reason:         refunddomain.ReasonSubmissionFailed,
		}); refundErr != nil {
			log.Error("refund after enqueue failure failed", zap.Error(refundErr))
		}
		return outcome, err
	}
	queueID := entry.ID.String()
	outcome.QueueID = &queueID

	s.pumpDetached(ctx, req.ProviderType, queueID)

	current, err := s.dispatch.GetEntry(context.WithoutCancel(ctx), entry.ID)
	if err != nil {
		log.Warn("reload queue entry failed", zap.String("queue_entry_id", queueID), zap.Error(err))
		return outcome, nil
	}
	switch {
	case current.Status == dispatchdomain.EntryStatusFailed:
		// The listener already refunded the entry.
		outcome.Allowed = false
		outcome.Usage = released(reservation, settings.CreditCost, "")
		return outcome, submitFailure(req.ProviderType, current)
	case current.TaskID != nil:
		outcome.TaskID = current.TaskID
	}
	return outcome, nil
}

// pumpDetached drains the provider queue on the request path. It outlives the caller's
// cancellation because the pump also submits entries that belong to other owners; the worker
// retries anything left behind.
func (s *Service) pumpDetached(ctx context.Context, providerType, queueID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.pumpTimeout)
	defer cancel()
	if _, err := s.dispatch.Pump(ctx, providerType); err != nil {
		s.logger(ctx).Warn("request-path pump failed", zap.String("queue_entry_id", queueID), zap.Error(err))
	}
}

// submitFailure rebuilds the provider error recorded on a failed queue entry.
func submitFailure(providerType string, entry *dispatchdomain.QueueEntry) error {
	detail := ""
	if entry.LastError != nil {
		detail = *entry.LastError
	}
	cause := providerdomain.ErrSubmissionRejected
	if strings.Contains(detail, providerdomain.ErrSubmissionTransport.Error()) {
		cause = providerdomain.ErrSubmissionTransport
	}
	return fmt.Errorf("submit queued generation: %w", &providerdomain.ProviderError{
		ProviderType: providerType,
		Body:         detail,
		Err:          cause,
	})
}

// released reports the counters after a reservation was handed back.
func released(r usagedomain.ReserveResult, cost int, reason string) *usagedomain.ReserveResult {
	out := r
	out.Allowed = false
	out.Reason = reason
	out.Consumed = max(0, r.Consumed-cost)
	out.Remaining = max(0, r.Limit-out.Consumed)
	return &out
}

func (s *Service) allowOwner(ctx context.Context, ownerID string) (bool, error) {
	if !s.limiter.Enabled() {
		return true, nil
	}
	result, err := s.limiter.AllowOwner(ctx, ownerID)
	if err != nil {
		s.logger(ctx).Warn("generation rate limiter unavailable", zap.Error(err))
		return true, nil
	}
	return result.Allowed, nil
}

func (s *Service) inFlight(ctx context.Context, subjectID snowflake.ID) (bool, error) {
	busy, err := s.generation.HasRecentInFlight(ctx, subjectID, s.inFlightWindow)
	if err != nil || busy {
		return busy, err
	}
	return s.dispatch.HasPendingForSubject(ctx, subjectID, s.inFlightWindow)
}

// submitDirect calls the provider synchronously inside a dispatch concurrency slot. A limit
// refusal or any failure refunds the reserved credit; only failures are returned as errors.
func (s *Service) submitDirect(
	ctx context.Context,
	settings config.ProviderSettings,
	req submissiondomain.Request,
	payload []byte,
) (string, string, error) {
	requestID := s.genID.Generate()
	ctx, _ = correlation.EnsureCorrelationID(ctx)

	result, err := s.dispatch.SubmitDirect(ctx, dispatchdomain.EnqueueRequest{
		ProviderType:   req.ProviderType,
		OwnerID:        req.OwnerID,
		SubjectID:      req.SubjectID,
		SubscriptionID: req.SubscriptionID,
		CreditCost:     settings.CreditCost,
		Payload:        payload,
	})
	if err != nil {
		s.refundDirect(ctx, requestID, req, settings, refunddomain.ReasonDirectSubmitError)
		return "", "", fmt.Errorf("submit generation: %w", err)
	}
	if result.Reason != "" {
		s.refundDirect(ctx, requestID, req, settings, refunddomain.ReasonProviderLimited)
		return "", result.Reason, nil
	}

	resp := result.Response
	outputCount := resp.OutputCount
	if outputCount <= 0 {
		outputCount = settings.OutputCount
	}
	entryID := result.Entry.ID
	if _, err := s.generation.CreatePendingOutputs(ctx, generationdomain.CreatePendingRequest{
		TaskID:         resp.TaskID,
		OwnerID:        req.OwnerID,
		SubjectID:      req.SubjectID,
		SubscriptionID: req.SubscriptionID,
		ProviderType:   req.ProviderType,
		CreditCost:     settings.CreditCost,
		OutputCount:    outputCount,
		QueueEntryID:   &entryID,
	}); err != nil {
		s.refundDirect(ctx, requestID, req, settings, refunddomain.ReasonDirectSubmitError)
		s.settle(ctx, s.logger(ctx), resp.TaskID, false)
		return "", "", fmt.Errorf("register generation task: %w", err)
	}
	return resp.TaskID, "", nil
}

func (s *Service) refundDirect(ctx context.Context, requestID snowflake.ID, req submissiondomain.Request, settings config.ProviderSettings, reason string) {
	if _, err := s.refunds.RefundSubmission(context.WithoutCancel(ctx), refunddomain.SubmissionRefund{
		Key:            refunddomain.DirectKey(requestID),
		SubscriptionID: req.SubscriptionID,
		Cost:           settings.CreditCost,
		Reason:         reason,
	}); err != nil {
		s.logger(ctx).Error("refund after direct submission failure failed", zap.Error(err))
	}
}

func (s *Service) HandleCallback(ctx context.Context, providerType string, body []byte) (submissiondomain.CallbackResult, error) {
	providerType = config.NormalizeProviderType(providerType)
	ctx = obscontext.WithProviderType(ctx, providerType)

	adapter, _, err := s.catalog.Resolve(providerType)
	if err != nil {
		return submissiondomain.CallbackResult{}, err
	}
	callback, err := adapter.ParseCallback(body)
	if err != nil {
		s.metrics.RecordCallback(ctx, providerType, "rejected")
		return submissiondomain.CallbackResult{}, err
	}

	result := submissiondomain.CallbackResult{
		Status: submissiondomain.CallbackStatusOK,
		TaskID: callback.TaskID,
		Kind:   callback.Subtype,
	}
	log := obslogger.WithTask(s.logger(ctx), providerType, callback.TaskID)

	switch callback.Kind {
	case providerdomain.CallbackComplete:
		completion, err := s.generation.CompleteTask(ctx, callback.TaskID, callback.Results)
		if err != nil {
			return result, err
		}
		result.Completion = &completion
		if completion.Unknown {
			result.Status = submissiondomain.CallbackStatusIgnored
			break
		}
		s.settle(ctx, log, callback.TaskID, completion.ReadyTotal > 0)
	case providerdomain.CallbackFailed:
		failure, err := s.generation.FailTask(ctx, callback.TaskID, callback.Reason)
		if err != nil {
			return result, err
		}
		result.Failure = &failure
		s.settle(ctx, log, callback.TaskID, false)
	default:
		result.Status = submissiondomain.CallbackStatusIgnored
		log.Debug("provider callback ignored", zap.String("subtype", callback.Subtype))
	}

	s.metrics.RecordCallback(ctx, providerType, result.Status)
	return result, nil
}

// settle closes the queue entry so the provider's concurrency slot frees up.
func (s *Service) settle(ctx context.Context, log *zap.Logger, taskID string, succeeded bool) {
	if _, err := s.dispatch.MarkSettled(ctx, taskID, succeeded); err != nil {
		log.Warn("settle queue entry failed", zap.Error(err))
	}
}

func (s *Service) logger(ctx context.Context) *zap.Logger {
	return obslogger.WithContext(ctx, s.log)
}

// mergeContent fills prompt and title from the subject unless the caller already set them.
func mergeContent(payload []byte, content *subjectdomain.Content) ([]byte, error) {
	body := []byte(`{}`)
	if len(bytes.TrimSpace(payload)) > 0 && !bytes.Equal(bytes.TrimSpace(payload), []byte("null")) {
		if !gjson.ValidBytes(payload) || !gjson.ParseBytes(payload).IsObject() {
			return nil, providerdomain.ErrMalformedPayload
		}
		body = append([]byte(nil), payload...)
	}
	if content == nil {
		return body, nil
	}

	var err error
	for _, field := range []struct{ key, value string }{
		{"prompt", content.Prompt},
		{"title", content.Title},
	} {
		if field.value == "" || gjson.GetBytes(body, field.key).Exists() {
			continue
		}
		if body, err = sjson.SetBytes(body, field.key, field.value); err != nil {
			return nil, errors.Join(providerdomain.ErrMalformedPayload, err)
		}
	}
	return body, nil
}
