package video

import (
	"testing"

	providerdomain "github.com/smallbiznis/mediaforge/internal/providers/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCallback(t *testing.T) {
	adapter := &Adapter{}

	tests := []struct {
		name     string
		body     string
		wantKind providerdomain.CallbackKind
		wantRef  string
		err      error
	}{{
		name:     "results list",
		body:     `{"taskId":"v1","status":"succeeded","results":[{"id":"c1","videoUrl":"https://cdn/c1.mp4","coverUrl":"https://cdn/c1.jpg","duration":8}]}`,
		wantKind: providerdomain.CallbackComplete,
		wantRef:  "https://cdn/c1.mp4",
	}, {
		name:     "inline single clip",
		body:     `{"data":{"taskId":"v2","status":"completed","video_url":"https://cdn/c2.mp4"}}`,
		wantKind: providerdomain.CallbackComplete,
		wantRef:  "https://cdn/c2.mp4",
	}, {
		name:     "failed",
		body:     `{"task_id":"v3","status":"failed","error":"nsfw"}`,
		wantKind: providerdomain.CallbackFailed,
	}, {
		name:     "progress",
		body:     `{"id":"v4","status":"processing"}`,
		wantKind: providerdomain.CallbackIgnored,
	}, {
		name: "missing task id",
		body: `{"status":"succeeded"}`,
		err:  providerdomain.ErrMissingTaskID,
	}}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cb, err := adapter.ParseCallback([]byte(tt.body))
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantKind, cb.Kind)
			if tt.wantRef != "" {
				require.NotEmpty(t, cb.Results)
				assert.Equal(t, tt.wantRef, cb.Results[0].MediaRef)
			}
		})
	}
}
