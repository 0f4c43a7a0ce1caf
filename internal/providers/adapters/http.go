package adapters

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	generationdomain "github.com/smallbiznis/mediaforge/internal/generation/domain"
	"github.com/smallbiznis/mediaforge/internal/observability/tracing"
	providerdomain "github.com/smallbiznis/mediaforge/internal/providers/domain"
	"github.com/smallbiznis/mediaforge/pkg/telemetry/correlation"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const (
	defaultTimeout   = 30 * time.Second
	maxResponseBytes = 1 << 20
	maxErrorBody     = 512
)

// taskIDPaths lists where providers report the created task id, in priority order.
var taskIDPaths = []string{"data.taskId", "taskId", "task_id", "data.task_id", "id"}

// HTTPSubmitter posts generation requests to a provider endpoint.
type HTTPSubmitter struct {
	providerType string
	endpoint     string
	apiKey       string
	model        string
	callbackURL  string
	outputCount  int
	client       *http.Client
}

func NewHTTPSubmitter(cfg providerdomain.AdapterConfig) (*HTTPSubmitter, error) {
	endpoint := strings.TrimSpace(cfg.Settings.Endpoint)
	if endpoint == "" {
		return nil, providerdomain.ErrInvalidConfig
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = cfg.Settings.Timeout
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	outputCount := cfg.Settings.OutputCount
	if outputCount <= 0 {
		outputCount = 1
	}

	return &HTTPSubmitter{
		providerType: cfg.ProviderType,
		endpoint:     endpoint,
		apiKey:       cfg.Settings.ResolvedAPIKey(),
		model:        strings.TrimSpace(cfg.Settings.Model),
		callbackURL:  cfg.CallbackURL,
		outputCount:  outputCount,
		client:       tracing.WrapHTTPClient(&http.Client{Timeout: timeout}),
	}, nil
}

// Submit sends the request body and reads the provider task id from the response.
func (s *HTTPSubmitter) Submit(ctx context.Context, req providerdomain.SubmitRequest) (providerdomain.SubmitResponse, error) {
	body, err := s.buildBody(req)
	if err != nil {
		return providerdomain.SubmitResponse{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return providerdomain.SubmitResponse{}, s.providerError(0, "", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if s.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+s.apiKey)
	}
	if req.CorrelationID != "" {
		httpReq.Header.Set(correlation.Header, req.CorrelationID)
	} else {
		correlation.Inject(ctx, httpReq)
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return providerdomain.SubmitResponse{}, s.providerError(0, "", fmt.Errorf("%w: %v", providerdomain.ErrSubmissionTransport, err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return providerdomain.SubmitResponse{}, s.providerError(resp.StatusCode, "", fmt.Errorf("%w: %v", providerdomain.ErrSubmissionTransport, err))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return providerdomain.SubmitResponse{}, s.providerError(resp.StatusCode, truncate(raw), providerdomain.ErrSubmissionRejected)
	}
	// Some providers answer 200 with an error code in the envelope.
	if code := gjson.GetBytes(raw, "code"); code.Exists() && code.Type == gjson.Number && code.Int() != 200 && code.Int() != 0 {
		return providerdomain.SubmitResponse{}, s.providerError(int(code.Int()), truncate(raw), providerdomain.ErrSubmissionRejected)
	}

	taskID := ExtractTaskID(raw)
	if taskID == "" {
		return providerdomain.SubmitResponse{}, s.providerError(resp.StatusCode, truncate(raw), providerdomain.ErrMissingTaskID)
	}
	return providerdomain.SubmitResponse{
		TaskID:      taskID,
		OutputCount: s.outputCount,
		StatusCode:  resp.StatusCode,
	}, nil
}

func (s *HTTPSubmitter) buildBody(req providerdomain.SubmitRequest) ([]byte, error) {
	body := []byte(`{}`)
	if len(bytes.TrimSpace(req.Payload)) > 0 {
		if !gjson.ValidBytes(req.Payload) || !gjson.ParseBytes(req.Payload).IsObject() {
			return nil, providerdomain.ErrMalformedPayload
		}
		body = append([]byte(nil), req.Payload...)
	}

	var err error
	for _, field := range []struct{ key, value string }{
		{"prompt", req.Prompt},
		{"title", req.Title},
		{"model", s.model},
	} {
		if field.value == "" || gjson.GetBytes(body, field.key).String() != "" {
			continue
		}
		if body, err = sjson.SetBytes(body, field.key, field.value); err != nil {
			return nil, providerdomain.ErrMalformedPayload
		}
	}
	if s.callbackURL != "" {
		if body, err = sjson.SetBytes(body, "callBackUrl", s.callbackURL); err != nil {
			return nil, providerdomain.ErrMalformedPayload
		}
	}
	return body, nil
}

func (s *HTTPSubmitter) providerError(status int, body string, err error) error {
	return &providerdomain.ProviderError{
		ProviderType: s.providerType,
		StatusCode:   status,
		Body:         body,
		Err:          err,
	}
}

// ExtractTaskID returns the first non-empty task id found in a provider payload.
func ExtractTaskID(raw []byte) string {
	for _, path := range taskIDPaths {
		if v := gjson.GetBytes(raw, path); v.Exists() {
			if id := strings.TrimSpace(v.String()); id != "" {
				return id
			}
		}
	}
	return ""
}

// FirstString returns the first non-empty string among the given paths of r.
func FirstString(r gjson.Result, paths ...string) string {
	for _, path := range paths {
		if v := r.Get(path); v.Exists() {
			if s := strings.TrimSpace(v.String()); s != "" {
				return s
			}
		}
	}
	return ""
}

// FirstFloat returns the first numeric value among the given paths of r.
func FirstFloat(r gjson.Result, paths ...string) *float64 {
	for _, path := range paths {
		v := r.Get(path)
		if !v.Exists() {
			continue
		}
		switch v.Type {
		case gjson.Number:
			f := v.Float()
			return &f
		case gjson.String:
			if parsed := gjson.Parse(v.Str); parsed.Type == gjson.Number {
				f := parsed.Float()
				return &f
			}
		}
	}
	return nil
}

func truncate(raw []byte) string {
	if len(raw) > maxErrorBody {
		return string(raw[:maxErrorBody])
	}
	return string(raw)
}

// ResultList maps the first array found at arrayPaths into results, reading the media
// reference from refPaths. Entries without a reference are kept so they fail their output.
func ResultList(root gjson.Result, arrayPaths, refPaths []string) []generationdomain.Result {
	for _, path := range arrayPaths {
		list := root.Get(path)
		if !list.IsArray() {
			continue
		}
		items := list.Array()
		results := make([]generationdomain.Result, 0, len(items))
		for _, item := range items {
			results = append(results, generationdomain.Result{
				ID:              FirstString(item, "id", "clipId", "clip_id"),
				MediaRef:        FirstString(item, refPaths...),
				Title:           FirstString(item, "title"),
				DurationSeconds: FirstFloat(item, "duration", "durationSeconds", "duration_seconds"),
			})
		}
		return results
	}
	return nil
}
