package audio

import (
	"context"
	"strings"

	"github.com/smallbiznis/mediaforge/internal/providers/adapters"
	providerdomain "github.com/smallbiznis/mediaforge/internal/providers/domain"
	"github.com/tidwall/gjson"
)

const Kind = "audio"

var (
	resultArrays = []string{"data.data", "data.results", "results", "data"}
	audioRefs    = []string{"audioUrl", "audio_url", "streamAudioUrl", "stream_audio_url"}
)

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Kind() string {
	return Kind
}

func (f *Factory) NewAdapter(cfg providerdomain.AdapterConfig) (providerdomain.Adapter, error) {
	submitter, err := adapters.NewHTTPSubmitter(cfg)
	if err != nil {
		return nil, err
	}
	return &Adapter{submitter: submitter}, nil
}

// Adapter talks to song-generation providers that stream intermediate "text" and "first"
// callbacks before a final "complete".
type Adapter struct {
	submitter *adapters.HTTPSubmitter
}

func (a *Adapter) Submit(ctx context.Context, req providerdomain.SubmitRequest) (providerdomain.SubmitResponse, error) {
	return a.submitter.Submit(ctx, req)
}

func (a *Adapter) ParseCallback(body []byte) (providerdomain.Callback, error) {
	if !gjson.ValidBytes(body) {
		return providerdomain.Callback{}, providerdomain.ErrMalformedPayload
	}
	root := gjson.ParseBytes(body)

	taskID := adapters.FirstString(root, "data.task_id", "data.taskId", "taskId", "task_id")
	if taskID == "" {
		return providerdomain.Callback{}, providerdomain.ErrMissingTaskID
	}

	subtype := strings.ToLower(adapters.FirstString(root, "data.callbackType", "callbackType", "data.callback_type", "type"))
	callback := providerdomain.Callback{TaskID: taskID, Subtype: subtype}

	if code := root.Get("code"); code.Exists() && code.Type == gjson.Number && code.Int() != 200 {
		callback.Kind = providerdomain.CallbackFailed
		callback.Reason = adapters.FirstString(root, "msg", "data.errorMessage", "error")
		return callback, nil
	}

	switch subtype {
	case "complete":
		callback.Kind = providerdomain.CallbackComplete
		callback.Results = adapters.ResultList(root, resultArrays, audioRefs)
	case "error", "failed":
		callback.Kind = providerdomain.CallbackFailed
		callback.Reason = adapters.FirstString(root, "msg", "data.errorMessage", "error")
	default:
		callback.Kind = providerdomain.CallbackIgnored
	}
	return callback, nil
}
