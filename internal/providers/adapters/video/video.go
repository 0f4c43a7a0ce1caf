package video

import (
	"context"
	"strings"

	generationdomain "github.com/smallbiznis/mediaforge/internal/generation/domain"
	"github.com/smallbiznis/mediaforge/internal/providers/adapters"
	providerdomain "github.com/smallbiznis/mediaforge/internal/providers/domain"
	"github.com/tidwall/gjson"
)

const Kind = "video"

var (
	resultArrays = []string{"results", "data.results", "videos", "data.videos"}
	videoRefs    = []string{"videoUrl", "video_url", "url"}
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

// Adapter handles clip providers that report a single terminal status per task.
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

	taskID := adapters.ExtractTaskID(body)
	if taskID == "" {
		return providerdomain.Callback{}, providerdomain.ErrMissingTaskID
	}

	subtype := strings.ToLower(adapters.FirstString(root, "status", "data.status", "state"))
	callback := providerdomain.Callback{TaskID: taskID, Subtype: subtype}

	switch subtype {
	case "succeeded", "success", "completed":
		callback.Kind = providerdomain.CallbackComplete
		callback.Results = adapters.ResultList(root, resultArrays, videoRefs)
		if callback.Results == nil {
			callback.Results = singleResult(root)
		}
	case "failed", "error":
		callback.Kind = providerdomain.CallbackFailed
		callback.Reason = adapters.FirstString(root, "error", "data.error", "message", "msg")
	default:
		callback.Kind = providerdomain.CallbackIgnored
	}
	return callback, nil
}

// singleResult covers providers that inline one clip on the envelope instead of a list.
func singleResult(root gjson.Result) []generationdomain.Result {
	for _, prefix := range []string{"", "data."} {
		ref := adapters.FirstString(root, prefix+"videoUrl", prefix+"video_url", prefix+"url")
		if ref == "" {
			continue
		}
		return []generationdomain.Result{{
			ID:              adapters.FirstString(root, prefix+"videoId", prefix+"id"),
			MediaRef:        ref,
			Title:           adapters.FirstString(root, prefix+"title"),
			DurationSeconds: adapters.FirstFloat(root, prefix+"duration"),
		}}
	}
	return nil
}
