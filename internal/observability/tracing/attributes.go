package tracing

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"go.opentelemetry.io/otel/attribute"
)

// redactedKeys are key fragments for credentials and user content. Prompts and payloads are
// user text and never leave the process.
var redactedKeys = []string{
	"secret",
	"token",
	"api_key",
	"authorization",
	"password",
	"callback_url",
	"prompt",
	"payload",
}

// errorCode matches the snake_case sentinels the domain packages return.
var errorCode = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// SafeAttributes drops attributes whose key names a credential or user content.
func SafeAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	kept := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if !redacted(string(attr.Key)) {
			kept = append(kept, attr)
		}
	}
	return kept
}

// SafeError reduces err to its root sentinel code, such as provider_submission_rejected, or to
// the root's type when the root message is free text.
func SafeError(err error) error {
	if err == nil {
		return nil
	}
	root := err
	for next := errors.Unwrap(root); next != nil; next = errors.Unwrap(root) {
		root = next
	}
	if msg := root.Error(); errorCode.MatchString(msg) {
		return errors.New(msg)
	}
	return fmt.Errorf("%T", root)
}

func redacted(key string) bool {
	key = strings.ToLower(key)
	for _, fragment := range redactedKeys {
		if strings.Contains(key, fragment) {
			return true
		}
	}
	return false
}
