package logger

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/mediaforge/internal/observability/context"
	"github.com/smallbiznis/mediaforge/pkg/telemetry/correlation"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	gormlogger "gorm.io/gorm/logger"
)

func TestWithContextAddsCorrelationFields(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	base := zap.New(core)

	ctx := obscontext.WithRequestID(context.Background(), "req-1")
	ctx = obscontext.WithOwnerID(ctx, "owner-1")
	ctx = correlation.ContextWithCorrelationID(ctx, "cid-1")

	WithContext(ctx, base).Info("hello")

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["request_id"] != "req-1" {
		t.Fatalf("expected request_id req-1, got %v", fields["request_id"])
	}
	if fields["owner_id"] != "owner-1" {
		t.Fatalf("expected owner_id owner-1, got %v", fields["owner_id"])
	}
	if fields["correlation_id"] != "cid-1" {
		t.Fatalf("expected correlation_id cid-1, got %v", fields["correlation_id"])
	}
}

func TestGinMiddlewareSetsRequestAndOwner(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(GinMiddleware(MiddlewareConfig{}))

	var gotOwner, gotRequest string
	r.GET("/ping", func(c *gin.Context) {
		gotOwner = obscontext.OwnerIDFromContext(c.Request.Context())
		gotRequest = obscontext.RequestIDFromContext(c.Request.Context())
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(OwnerHeader, "owner-7")
	req.Header.Set("X-Request-Id", "req-7")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if gotOwner != "owner-7" {
		t.Fatalf("expected owner-7, got %q", gotOwner)
	}
	if gotRequest != "req-7" {
		t.Fatalf("expected req-7, got %q", gotRequest)
	}
	if w.Header().Get("X-Request-Id") != "req-7" {
		t.Fatalf("expected request id echoed")
	}
}

func TestOperationFromSQL(t *testing.T) {
	cases := map[string]string{
		"SELECT * FROM subscriptions":                        "SELECT",
		"WITH x AS (SELECT 1) UPDATE dispatch_queue_entries": "SELECT",
		"INSERT INTO credit_refunds":                         "INSERT",
		"":                                                   "UNKNOWN",
	}
	for sql, want := range cases {
		if got := operationFromSQL(sql); got != want {
			t.Fatalf("operationFromSQL(%q) = %q, want %q", sql, got, want)
		}
	}
}

func TestTableFromSQL(t *testing.T) {
	cases := map[string]string{
		`SELECT * FROM "subscriptions" WHERE id = $1`:        "subscriptions",
		"INSERT INTO credit_refunds (refund_key) VALUES (?)": "credit_refunds",
		"UPDATE `dispatch_queue_entries` SET status = ?":     "dispatch_queue_entries",
		"SELECT count(*) FROM (SELECT 1) AS x":               "unknown",
		"":                                                   "unknown",
	}
	for sql, want := range cases {
		if got := tableFromSQL(sql); got != want {
			t.Fatalf("tableFromSQL(%q) = %q, want %q", sql, got, want)
		}
	}
}

func TestGormLoggerDemotesExpectedErrors(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	restore := zap.ReplaceGlobals(zap.New(core))
	defer restore()

	errDuplicate := errors.New("duplicate key")
	cfg := DefaultGormLoggerConfig()
	cfg.Expected = func(err error) bool { return errors.Is(err, errDuplicate) }
	l := NewGormLogger(cfg)

	query := func() (string, int64) { return "INSERT INTO billing_webhook_events (dedupe_key) VALUES (?)", 0 }
	l.Trace(context.Background(), time.Now(), query, errDuplicate)
	l.Trace(context.Background(), time.Now(), query, errors.New("connection reset"))
	l.Trace(context.Background(), time.Now(), query, gormlogger.ErrRecordNotFound)

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Level != zapcore.DebugLevel {
		t.Fatalf("expected duplicate at debug, got %s", entries[0].Level)
	}
	if entries[1].Level != zapcore.ErrorLevel {
		t.Fatalf("expected unexpected error at error, got %s", entries[1].Level)
	}
	if table := entries[1].ContextMap()["table"]; table != "billing_webhook_events" {
		t.Fatalf("expected table field, got %v", table)
	}
}

func TestGormLoggerSilentModeDropsEverything(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	restore := zap.ReplaceGlobals(zap.New(core))
	defer restore()

	l := NewGormLogger(DefaultGormLoggerConfig()).LogMode(gormlogger.Silent)
	l.Trace(context.Background(), time.Now(), func() (string, int64) { return "SELECT 1", 1 }, errors.New("boom"))
	l.Error(context.Background(), "boom")

	if logs.Len() != 0 {
		t.Fatalf("expected no entries, got %d", logs.Len())
	}
}
