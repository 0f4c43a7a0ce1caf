package audio

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
		wantTask string
		results  int
		err      error
	}{{
		name: "complete with two tracks",
		body: `{"code":200,"msg":"All generated successfully.","data":{"callbackType":"complete","task_id":"t1","data":[
			{"id":"a","audio_url":"https://cdn/a.mp3","title":"A","duration":198.4},
			{"id":"b","streamAudioUrl":"https://cdn/b.mp3","title":"B","duration":"201.2"}]}}`,
		wantKind: providerdomain.CallbackComplete,
		wantTask: "t1",
		results:  2,
	}, {
		name:     "intermediate text callback",
		body:     `{"code":200,"data":{"callbackType":"text","task_id":"t1","data":[]}}`,
		wantKind: providerdomain.CallbackIgnored,
		wantTask: "t1",
	}, {
		name:     "first callback",
		body:     `{"code":200,"data":{"callbackType":"first","taskId":"t2"}}`,
		wantKind: providerdomain.CallbackIgnored,
		wantTask: "t2",
	}, {
		name:     "error callback",
		body:     `{"code":200,"data":{"callbackType":"error","task_id":"t3"}}`,
		wantKind: providerdomain.CallbackFailed,
		wantTask: "t3",
	}, {
		name:     "non-200 code fails the task",
		body:     `{"code":531,"msg":"generation failed","data":{"task_id":"t4"}}`,
		wantKind: providerdomain.CallbackFailed,
		wantTask: "t4",
	}, {
		name: "missing task id",
		body: `{"code":200,"data":{"callbackType":"complete"}}`,
		err:  providerdomain.ErrMissingTaskID,
	}, {
		name: "malformed json",
		body: `{"code":`,
		err:  providerdomain.ErrMalformedPayload,
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
			assert.Equal(t, tt.wantTask, cb.TaskID)
			assert.Len(t, cb.Results, tt.results)
		})
	}
}

func TestParseCallbackReadsResultFields(t *testing.T) {
	adapter := &Adapter{}
	cb, err := adapter.ParseCallback([]byte(`{"code":200,"data":{"callbackType":"complete","task_id":"t1","data":[
		{"id":"a","audioUrl":"https://cdn/a.mp3","title":"Morning","duration":"120.5"},
		{"id":"b","title":"no audio yet"}]}}`))
	require.NoError(t, err)
	require.Len(t, cb.Results, 2)

	assert.Equal(t, "https://cdn/a.mp3", cb.Results[0].MediaRef)
	assert.Equal(t, "Morning", cb.Results[0].Title)
	require.NotNil(t, cb.Results[0].DurationSeconds)
	assert.InDelta(t, 120.5, *cb.Results[0].DurationSeconds, 0.001)
	assert.Empty(t, cb.Results[1].MediaRef)
}
