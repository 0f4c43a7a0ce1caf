package tracing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestCallbackSamplerKeepsWebhookSpans(t *testing.T) {
	sampler := callbackSampler{ratio: sdktrace.NeverSample()}

	webhook := sampler.ShouldSample(sdktrace.SamplingParameters{Name: "HTTP POST /webhooks/generation/song"})
	assert.Equal(t, sdktrace.RecordAndSample, webhook.Decision)

	other := sampler.ShouldSample(sdktrace.SamplingParameters{Name: "HTTP GET /v1/usage"})
	assert.Equal(t, sdktrace.Drop, other.Decision)
	assert.Contains(t, sampler.Description(), "CallbackSampler")
}

func TestSamplingRatioBounds(t *testing.T) {
	assert.Equal(t, defaultSamplingRatio, samplingRatio(0))
	assert.Equal(t, 1.0, samplingRatio(3))
	assert.Equal(t, 0.25, samplingRatio(0.25))
}

func TestNewExporterRejectsUnknownProtocol(t *testing.T) {
	_, err := newExporter(Config{ExporterProtocol: "zipkin"})
	assert.ErrorContains(t, err, "unsupported OTLP protocol")
}
