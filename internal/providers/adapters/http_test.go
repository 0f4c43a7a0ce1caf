package adapters

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/smallbiznis/mediaforge/internal/config"
	providerdomain "github.com/smallbiznis/mediaforge/internal/providers/domain"
	"github.com/smallbiznis/mediaforge/pkg/telemetry/correlation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPSubmitterSendsPayloadAndReadsTaskID(t *testing.T) {
	var (
		gotBody   map[string]any
		gotAuth   string
		gotCorrID string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotCorrID = r.Header.Get(correlation.Header)
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		_, _ = w.Write([]byte(`{"code":200,"msg":"success","data":{"taskId":"task-123"}}`))
	}))
	defer srv.Close()

	submitter, err := NewHTTPSubmitter(providerdomain.AdapterConfig{
		ProviderType: "song",
		Settings:     config.ProviderSettings{Endpoint: srv.URL, APIKey: "secret", Model: "v4", OutputCount: 2},
		CallbackURL:  "https://api.example.com/webhooks/generation/song",
	})
	require.NoError(t, err)

	resp, err := submitter.Submit(context.Background(), providerdomain.SubmitRequest{
		Prompt:        "lofi beats",
		Payload:       json.RawMessage(`{"style":"lofi","model":"v5"}`),
		CorrelationID: "corr-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "task-123", resp.TaskID)
	assert.Equal(t, 2, resp.OutputCount)

	assert.Equal(t, "Bearer secret", gotAuth)
	assert.Equal(t, "corr-1", gotCorrID)
	assert.Equal(t, "lofi", gotBody["style"])
	assert.Equal(t, "v5", gotBody["model"])
	assert.Equal(t, "lofi beats", gotBody["prompt"])
	assert.Equal(t, "https://api.example.com/webhooks/generation/song", gotBody["callBackUrl"])
}

func TestHTTPSubmitterProviderErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{name: "rejected", status: http.StatusTooManyRequests, body: `{"msg":"slow down"}`, want: providerdomain.ErrSubmissionRejected},
		{name: "envelope error code", status: http.StatusOK, body: `{"code":430,"msg":"insufficient credits"}`, want: providerdomain.ErrSubmissionRejected},
		{name: "missing task id", status: http.StatusOK, body: `{"code":200,"data":{}}`, want: providerdomain.ErrMissingTaskID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			submitter, err := NewHTTPSubmitter(providerdomain.AdapterConfig{
				ProviderType: "song",
				Settings:     config.ProviderSettings{Endpoint: srv.URL},
			})
			require.NoError(t, err)

			_, err = submitter.Submit(context.Background(), providerdomain.SubmitRequest{Prompt: "x"})
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)

			var perr *providerdomain.ProviderError
			require.True(t, errors.As(err, &perr))
			assert.Equal(t, "song", perr.ProviderType)
		})
	}
}

func TestHTTPSubmitterRejectsNonObjectPayload(t *testing.T) {
	submitter, err := NewHTTPSubmitter(providerdomain.AdapterConfig{
		Settings: config.ProviderSettings{Endpoint: "http://127.0.0.1:1"},
	})
	require.NoError(t, err)

	_, err = submitter.Submit(context.Background(), providerdomain.SubmitRequest{Payload: json.RawMessage(`[1,2]`)})
	assert.ErrorIs(t, err, providerdomain.ErrMalformedPayload)
}

func TestRegistry(t *testing.T) {
	registry := NewRegistry(nil)
	assert.False(t, registry.KindExists("audio"))

	_, err := registry.NewAdapter("audio", providerdomain.AdapterConfig{})
	assert.ErrorIs(t, err, providerdomain.ErrKindNotFound)

	var nilRegistry *Registry
	assert.False(t, nilRegistry.KindExists("audio"))
}

func TestExtractTaskID(t *testing.T) {
	assert.Equal(t, "a", ExtractTaskID([]byte(`{"data":{"taskId":"a"},"id":"z"}`)))
	assert.Equal(t, "b", ExtractTaskID([]byte(`{"task_id":"b"}`)))
	assert.Equal(t, "c", ExtractTaskID([]byte(`{"id":"c"}`)))
	assert.Empty(t, ExtractTaskID([]byte(`{"data":{}}`)))
}
