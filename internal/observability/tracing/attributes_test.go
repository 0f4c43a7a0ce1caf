package tracing

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
)

func TestSafeAttributesDropsSensitiveKeys(t *testing.T) {
	attrs := SafeAttributes(
		attribute.String("provider.type", "song"),
		attribute.String("provider.api_key", "secret"),
		attribute.String("callback_url", "https://x"),
		attribute.String("generation.prompt", "rainy day jazz"),
	)

	assert.Len(t, attrs, 1)
	assert.Equal(t, attribute.Key("provider.type"), attrs[0].Key)
}

func TestSafeErrorHidesMessage(t *testing.T) {
	err := SafeError(errors.New("token=abc"))
	assert.NotContains(t, err.Error(), "abc")
	assert.Nil(t, SafeError(nil))
}

func TestSafeErrorKeepsSentinelCode(t *testing.T) {
	errEntryNotFound := errors.New("queue_entry_not_found")
	err := SafeError(fmt.Errorf("settle entry for owner-7: %w", errEntryNotFound))
	assert.EqualError(t, err, "queue_entry_not_found")
}
