package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/mediaforge/internal/clock"
	"github.com/smallbiznis/mediaforge/internal/config"
	dispatchdomain "github.com/smallbiznis/mediaforge/internal/dispatch/domain"
	obscontext "github.com/smallbiznis/mediaforge/internal/observability/context"
	obslogger "github.com/smallbiznis/mediaforge/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/mediaforge/internal/observability/metrics"
	"github.com/smallbiznis/mediaforge/internal/observability/tracing"
	providerdomain "github.com/smallbiznis/mediaforge/internal/providers/domain"
	"github.com/smallbiznis/mediaforge/internal/ratelimit"
	"github.com/smallbiznis/mediaforge/pkg/telemetry/correlation"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	pumpLockPrefix     = "mediaforge:dispatch:pump:"
	defaultPumpLockTTL = 45 * time.Second
	releaseTimeout     = 2 * time.Second
	maxErrorLength     = 1024
	directLockAttempts = 5
	directLockBackoff  = 50 * time.Millisecond
)

type ServiceParam struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Config    config.Config
	Repo      dispatchdomain.Repository
	Catalog   providerdomain.Catalog
	Locker    ratelimit.Locker
	Listener  dispatchdomain.SubmissionListener
	Metrics   *obsmetrics.Metrics         `optional:"true"`
	PumpStats *obsmetrics.DispatchMetrics `optional:"true"`
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	clock     clock.Clock
	repo      dispatchdomain.Repository
	catalog   providerdomain.Catalog
	locker    ratelimit.Locker
	listener  dispatchdomain.SubmissionListener
	metrics   *obsmetrics.Metrics
	pumpStats *obsmetrics.DispatchMetrics
	lockTTL   time.Duration
}

func NewService(p ServiceParam) dispatchdomain.Service {
	lockTTL := p.Config.Dispatch.LockTTL
	if lockTTL <= 0 {
		lockTTL = defaultPumpLockTTL
	}
	locker := p.Locker
	if locker == nil {
		locker = ratelimit.NewLocalLocker()
	}
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("dispatch.service"),
		genID:     p.GenID,
		clock:     p.Clock,
		repo:      p.Repo,
		catalog:   p.Catalog,
		locker:    locker,
		listener:  p.Listener,
		metrics:   p.Metrics,
		pumpStats: p.PumpStats,
		lockTTL:   lockTTL,
	}
}

func (s *Service) Enqueue(ctx context.Context, req dispatchdomain.EnqueueRequest) (*dispatchdomain.QueueEntry, error) {
	entry, err := s.newEntry(req)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Insert(ctx, s.db, entry); err != nil {
		return nil, fmt.Errorf("enqueue: %w", err)
	}

	s.logger(ctx).Info("generation enqueued",
		zap.String("queue_entry_id", entry.ID.String()),
		zap.String("provider_type", entry.ProviderType),
	)
	return entry, nil
}

func (s *Service) newEntry(req dispatchdomain.EnqueueRequest) (*dispatchdomain.QueueEntry, error) {
	providerType := config.NormalizeProviderType(req.ProviderType)
	if providerType == "" {
		return nil, dispatchdomain.ErrInvalidProvider
	}
	if strings.TrimSpace(req.OwnerID) == "" || req.SubscriptionID == 0 || req.CreditCost < 0 {
		return nil, dispatchdomain.ErrInvalidEntry
	}

	now := s.clock.Now()
	return &dispatchdomain.QueueEntry{
		ID:             s.genID.Generate(),
		ProviderType:   providerType,
		OwnerID:        req.OwnerID,
		SubjectID:      req.SubjectID,
		SubscriptionID: req.SubscriptionID,
		CreditCost:     req.CreditCost,
		Status:         dispatchdomain.EntryStatusPending,
		Payload:        datatypes.JSON(req.Payload),
		EnqueuedAt:     now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// Pump submits pending entries for providerType in FIFO order until the queue drains or the
// concurrency or rate limit is reached. Pumps for one provider type never overlap: the lock is
// extended before every claim and each provider call is bounded below the lock TTL.
func (s *Service) Pump(ctx context.Context, providerType string) (dispatchdomain.PumpResult, error) {
	providerType = config.NormalizeProviderType(providerType)
	result := dispatchdomain.PumpResult{ProviderType: providerType}

	ctx, span := tracing.Tracer("dispatch").Start(ctx, "dispatch.pump")
	defer span.End()
	span.SetAttributes(attribute.String("provider.type", providerType))
	ctx = obscontext.WithProviderType(ctx, providerType)

	adapter, settings, err := s.catalog.Resolve(providerType)
	if err != nil {
		return result, err
	}

	start := time.Now()
	s.pumpStats.IncPumpRun(providerType)
	defer func() {
		s.pumpStats.ObservePumpDuration(providerType, time.Since(start))
	}()

	key := pumpLockPrefix + providerType
	token, ok, err := s.locker.TryLock(ctx, key, s.lockTTL)
	if err != nil {
		s.pumpStats.IncPumpError(providerType, err)
		return result, fmt.Errorf("acquire pump lock: %w", err)
	}
	if !ok {
		s.pumpStats.IncPumpSkipped(providerType, dispatchdomain.ReasonBusy)
		result.Skipped = true
		result.Reason = dispatchdomain.ReasonBusy
		return result, nil
	}
	defer s.release(ctx, key, token)

	for {
		if err := ctx.Err(); err != nil {
			s.pumpStats.IncPumpError(providerType, err)
			return result, err
		}

		if result.Dispatched+result.Failed > 0 {
			held, err := s.locker.Extend(ctx, key, token, s.lockTTL)
			if err != nil {
				s.pumpStats.IncPumpError(providerType, err)
				return result, fmt.Errorf("extend pump lock: %w", err)
			}
			if !held {
				result.Reason = dispatchdomain.ReasonLockLost
				s.logger(ctx).Warn("pump lock lost, leaving remaining entries to the next pump")
				break
			}
		}

		reason, err := s.limitReason(ctx, providerType, settings)
		if err != nil {
			s.pumpStats.IncPumpError(providerType, err)
			return result, err
		}
		if reason != "" {
			result.Reason = reason
			result.Skipped = result.Dispatched == 0 && result.Failed == 0
			if result.Skipped {
				s.pumpStats.IncPumpSkipped(providerType, reason)
			}
			break
		}

		entry, err := s.claimNext(ctx, providerType)
		if err != nil {
			s.pumpStats.IncPumpError(providerType, err)
			return result, err
		}
		if entry == nil {
			break
		}

		if s.submit(ctx, adapter, entry) {
			result.Dispatched++
		} else {
			result.Failed++
		}
	}

	s.pumpStats.AddDispatched(providerType, result.Dispatched)
	if result.Dispatched > 0 || result.Failed > 0 || result.Skipped {
		s.logger(ctx).Info("dispatch pump finished",
			zap.Int("dispatched", result.Dispatched),
			zap.Int("failed", result.Failed),
			zap.Bool("skipped", result.Skipped),
			zap.String("reason", result.Reason),
		)
	}
	return result, nil
}

// SubmitDirect claims a concurrency slot as an in-flight entry and calls the provider without
// holding the pump lock. The slot is freed when the task's callback settles the entry.
func (s *Service) SubmitDirect(ctx context.Context, req dispatchdomain.EnqueueRequest) (dispatchdomain.DirectResult, error) {
	var result dispatchdomain.DirectResult
	entry, err := s.newEntry(req)
	if err != nil {
		return result, err
	}

	ctx, span := tracing.Tracer("dispatch").Start(ctx, "dispatch.submit_direct")
	defer span.End()
	span.SetAttributes(attribute.String("provider.type", entry.ProviderType))
	ctx = obscontext.WithProviderType(ctx, entry.ProviderType)

	adapter, settings, err := s.catalog.Resolve(entry.ProviderType)
	if err != nil {
		return result, err
	}

	reason, err := s.claimDirect(ctx, entry, settings)
	if err != nil || reason != "" {
		result.Reason = reason
		return result, err
	}
	result.Entry = entry

	cid := *entry.CorrelationID
	ctx = correlation.ContextWithCorrelationID(ctx, cid)
	log := s.logger(ctx).With(zap.String("queue_entry_id", entry.ID.String()))

	resp, err := adapter.Submit(ctx, providerdomain.SubmitRequest{
		ProviderType:  entry.ProviderType,
		OwnerID:       entry.OwnerID,
		Payload:       []byte(entry.Payload),
		CorrelationID: cid,
	})
	if err != nil {
		s.pumpStats.IncSubmissionFailed(entry.ProviderType)
		s.metrics.RecordSubmission(ctx, entry.ProviderType, "failed")
		bookkeeping := context.WithoutCancel(ctx)
		if _, markErr := s.repo.MarkFailed(bookkeeping, s.db, entry.ID, truncateError(err), s.clock.Now()); markErr != nil {
			log.Error("mark direct entry failed", zap.Error(markErr))
		}
		return result, err
	}

	rows, err := s.repo.MarkSubmitted(ctx, s.db, entry.ID, resp.TaskID, s.clock.Now())
	if err == nil && rows == 0 {
		err = dispatchdomain.ErrEntryNotFound
	}
	if err != nil {
		log.Error("provider accepted direct task but correlation failed",
			zap.String("task_id", resp.TaskID),
			zap.Error(err),
		)
		return result, fmt.Errorf("record direct submission: %w", err)
	}

	taskID := resp.TaskID
	entry.TaskID = &taskID
	result.Response = resp
	s.metrics.RecordSubmission(ctx, entry.ProviderType, "accepted")
	return result, nil
}

// claimDirect inserts entry as in_flight if the provider has a free slot. It shares the pump
// lock so the limit check and the insert cannot interleave with a pump or another claim.
func (s *Service) claimDirect(ctx context.Context, entry *dispatchdomain.QueueEntry, settings config.ProviderSettings) (string, error) {
	key := pumpLockPrefix + entry.ProviderType
	token, ok, err := s.waitLock(ctx, key)
	if err != nil {
		return "", fmt.Errorf("acquire pump lock: %w", err)
	}
	if !ok {
		return dispatchdomain.ReasonBusy, nil
	}
	defer s.release(ctx, key, token)

	reason, err := s.limitReason(ctx, entry.ProviderType, settings)
	if err != nil || reason != "" {
		return reason, err
	}

	now := s.clock.Now()
	_, cid := correlation.EnsureCorrelationID(ctx)
	entry.Status = dispatchdomain.EntryStatusInFlight
	entry.CorrelationID = &cid
	entry.StartedAt = &now
	if err := s.repo.Insert(ctx, s.db, entry); err != nil {
		return "", fmt.Errorf("claim direct slot: %w", err)
	}
	return "", nil
}

// waitLock retries briefly because a pump holds the lock for the length of its provider calls.
func (s *Service) waitLock(ctx context.Context, key string) (string, bool, error) {
	for attempt := 0; ; attempt++ {
		token, ok, err := s.locker.TryLock(ctx, key, s.lockTTL)
		if err != nil || ok || attempt+1 >= directLockAttempts {
			return token, ok, err
		}
		timer := time.NewTimer(directLockBackoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", false, ctx.Err()
		case <-timer.C:
		}
	}
}

func (s *Service) release(ctx context.Context, key, token string) {
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	if err := s.locker.Release(releaseCtx, key, token); err != nil {
		s.logger(ctx).Warn("release pump lock failed", zap.Error(err))
	}
}

func (s *Service) limitReason(ctx context.Context, providerType string, settings config.ProviderSettings) (string, error) {
	inFlight, err := s.repo.CountInFlight(ctx, s.db, providerType)
	if err != nil {
		return "", fmt.Errorf("count in-flight: %w", err)
	}
	if inFlight >= int64(settings.ConcurrencyLimit) {
		return dispatchdomain.ReasonConcurrency, nil
	}

	if settings.RateLimit.Enabled() {
		since := s.clock.Now().Add(-settings.RateLimit.Window)
		started, err := s.repo.CountStartedSince(ctx, s.db, providerType, since)
		if err != nil {
			return "", fmt.Errorf("count window starts: %w", err)
		}
		if started >= int64(settings.RateLimit.Max) {
			return dispatchdomain.ReasonRateLimit, nil
		}
	}
	return "", nil
}

// claimNext moves the FIFO head to in_flight and returns it, or nil when the queue is empty.
func (s *Service) claimNext(ctx context.Context, providerType string) (*dispatchdomain.QueueEntry, error) {
	var claimed *dispatchdomain.QueueEntry
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		entry, err := s.repo.NextPending(ctx, tx, providerType)
		if err != nil || entry == nil {
			return err
		}

		now := s.clock.Now()
		_, cid := correlation.EnsureCorrelationID(context.Background())
		rows, err := s.repo.MarkInFlight(ctx, tx, entry.ID, cid, now)
		if err != nil {
			return err
		}
		if rows == 0 {
			return nil
		}
		entry.Status = dispatchdomain.EntryStatusInFlight
		entry.CorrelationID = &cid
		entry.StartedAt = &now
		claimed = entry
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("claim queue entry: %w", err)
	}
	return claimed, nil
}

// submit reports whether the provider accepted the entry. Failures are terminal for the entry
// and hand the reserved credit back through the listener; there is no retry.
func (s *Service) submit(ctx context.Context, adapter providerdomain.Adapter, entry *dispatchdomain.QueueEntry) bool {
	cid := ""
	if entry.CorrelationID != nil {
		cid = *entry.CorrelationID
	}
	// A claimed entry is seen through even if the pump's caller goes away, so the provider call
	// must finish while this pump still owns the lease it extended before the claim.
	ctx = correlation.ContextWithCorrelationID(context.WithoutCancel(ctx), cid)
	ctx = obscontext.WithOwnerID(ctx, entry.OwnerID)
	log := s.logger(ctx).With(zap.String("queue_entry_id", entry.ID.String()))

	submitCtx, cancel := context.WithTimeout(ctx, s.submitBudget())
	resp, err := adapter.Submit(submitCtx, providerdomain.SubmitRequest{
		ProviderType:  entry.ProviderType,
		OwnerID:       entry.OwnerID,
		Payload:       []byte(entry.Payload),
		CorrelationID: cid,
	})
	cancel()
	if err == nil {
		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			rows, err := s.repo.MarkSubmitted(ctx, tx, entry.ID, resp.TaskID, s.clock.Now())
			if err != nil {
				return err
			}
			if rows == 0 {
				return dispatchdomain.ErrEntryNotFound
			}
			taskID := resp.TaskID
			entry.TaskID = &taskID
			return s.listener.OnSubmitted(ctx, tx, entry, resp)
		})
		if err == nil {
			s.metrics.RecordSubmission(ctx, entry.ProviderType, "accepted")
			log.Info("queued generation submitted", zap.String("task_id", resp.TaskID))
			return true
		}
		log.Error("provider accepted task but correlation failed",
			zap.String("task_id", resp.TaskID),
			zap.Error(err),
		)
	}

	s.fail(ctx, entry, err)
	return false
}

func (s *Service) submitBudget() time.Duration {
	return s.lockTTL - s.lockTTL/4
}

func (s *Service) fail(ctx context.Context, entry *dispatchdomain.QueueEntry, cause error) {
	log := s.logger(ctx).With(zap.String("queue_entry_id", entry.ID.String()))
	s.pumpStats.IncSubmissionFailed(entry.ProviderType)
	s.metrics.RecordSubmission(ctx, entry.ProviderType, "failed")

	if _, err := s.repo.MarkFailed(ctx, s.db, entry.ID, truncateError(cause), s.clock.Now()); err != nil {
		log.Error("mark queue entry failed", zap.Error(err))
	}
	if err := s.listener.OnSubmitFailed(ctx, entry, cause); err != nil {
		log.Error("submission failure handling failed", zap.Error(err))
	}
	log.Warn("queued generation submission failed", zap.Error(cause))
}

func (s *Service) MarkCompleted(ctx context.Context, taskID string) (bool, error) {
	return s.MarkSettled(ctx, taskID, true)
}

// MarkSettled moves the in-flight entry for taskID to completed or failed. A repeated callback
// finds no in-flight entry and returns false.
func (s *Service) MarkSettled(ctx context.Context, taskID string, succeeded bool) (bool, error) {
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		return false, nil
	}
	status := dispatchdomain.EntryStatusCompleted
	if !succeeded {
		status = dispatchdomain.EntryStatusFailed
	}
	rows, err := s.repo.SettleByTaskID(ctx, s.db, taskID, status, s.clock.Now())
	if err != nil {
		return false, fmt.Errorf("settle queue entry: %w", err)
	}
	return rows > 0, nil
}

func (s *Service) HasPendingForSubject(ctx context.Context, subjectID snowflake.ID, window time.Duration) (bool, error) {
	if subjectID == 0 || window <= 0 {
		return false, nil
	}
	return s.repo.HasActiveForSubject(ctx, s.db, subjectID, s.clock.Now().Add(-window))
}

func (s *Service) GetEntry(ctx context.Context, id snowflake.ID) (*dispatchdomain.QueueEntry, error) {
	entry, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, dispatchdomain.ErrEntryNotFound
	}
	return entry, nil
}

func (s *Service) logger(ctx context.Context) *zap.Logger {
	return obslogger.WithContext(ctx, s.log)
}

func truncateError(err error) string {
	if err == nil {
		return "unknown error"
	}
	msg := err.Error()
	var perr *providerdomain.ProviderError
	if errors.As(err, &perr) && perr.Body != "" {
		msg = fmt.Sprintf("%s: %s", msg, perr.Body)
	}
	if len(msg) > maxErrorLength {
		msg = msg[:maxErrorLength]
	}
	return msg
}
