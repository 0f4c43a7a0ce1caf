package metrics

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"gorm.io/gorm"
)

func TestClassifyDispatchReason(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{name: "deadline", err: context.DeadlineExceeded, want: DispatchReasonDeadlineExceeded},
		{name: "lock", err: fmt.Errorf("pump song: %w", ErrLockUnavailable), want: DispatchReasonLockUnavailable},
		{name: "db_lock_timeout", err: &pgconn.PgError{Code: "55P03"}, want: DispatchReasonDBLockTimeout},
		{name: "serialization_failure", err: &pgconn.PgError{Code: "40001"}, want: DispatchReasonSerializationFailure},
		{name: "deadlock", err: &pgconn.PgError{Code: "40P01"}, want: DispatchReasonSerializationFailure},
		{name: "unique_violation", err: gorm.ErrDuplicatedKey, want: DispatchReasonUniqueViolation},
		{name: "unknown", err: errors.New("boom"), want: DispatchReasonUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifyDispatchReason(tc.err); got != tc.want {
				t.Fatalf("expected reason %q, got %q", tc.want, got)
			}
		})
	}
}

func TestDispatchCounters(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewDispatchMetrics(registry, Config{ServiceName: "mediaforge", Environment: "test"})

	m.AddDispatched("song", 3)
	m.IncPumpSkipped("song", "concurrency")
	m.IncPumpSkipped("song", "concurrency")
	m.IncPumpError("clip", context.DeadlineExceeded)

	if got := testutil.ToFloat64(m.dispatched.WithLabelValues("song")); got != 3 {
		t.Fatalf("expected dispatched 3, got %v", got)
	}
	if got := testutil.ToFloat64(m.pumpSkipped.WithLabelValues("song", "concurrency")); got != 2 {
		t.Fatalf("expected skipped 2, got %v", got)
	}
	if got := testutil.ToFloat64(m.pumpErrors.WithLabelValues("clip", DispatchReasonDeadlineExceeded)); got != 1 {
		t.Fatalf("expected 1 pump error, got %v", got)
	}
}
