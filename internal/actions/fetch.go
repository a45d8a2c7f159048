package actions

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/cgradwohl/backend-services-2-sub001/internal/services"
	"github.com/cgradwohl/backend-services-2-sub001/pkg/schema"
)

const fetchDataInputSchema = `{
  "type": "object",
  "properties": {
    "webhook": {
      "type": "object",
      "properties": {
        "url": {"type": "string", "minLength": 1},
        "method": {"type": "string", "enum": ["GET", "POST", "PUT", "PATCH", "DELETE", "get", "post", "put", "patch", "delete"]},
        "headers": {"type": "object"},
        "params": {"type": "object"},
        "body": {},
        "timeout": {"type": ["string", "number"]}
      },
      "required": ["url"]
    },
    "merge_strategy": {"type": "string", "enum": ["replace", "overwrite", "soft-merge", "none"]},
    "idempotency_key": {"type": "string"},
    "idempotency_expiry": {"type": ["string", "number"]}
  },
  "required": ["webhook"]
}`

// FetchDataAction implements the "fetch-data" action: it calls a webhook
// and merges the response into the run context data. A failed call leaves
// the context untouched; the step still completes with an empty result.
type FetchDataAction struct {
	webhook  services.Webhook
	contexts ContextStore
	logger   *slog.Logger
}

// NewFetchDataAction creates a fetch-data action.
func NewFetchDataAction(w services.Webhook, contexts ContextStore, logger *slog.Logger) *FetchDataAction {
	if logger == nil {
		logger = slog.Default()
	}
	return &FetchDataAction{webhook: w, contexts: contexts, logger: logger}
}

func (a *FetchDataAction) Name() string { return string(schema.ActionFetchData) }

func (a *FetchDataAction) Schema() ActionSchema {
	return ActionSchema{
		Description: "Fetch JSON from a webhook and merge it into the run data.",
		InputSchema: json.RawMessage(fetchDataInputSchema),
	}
}

func (a *FetchDataAction) Validate(params map[string]any) error {
	_, err := ParseMergeStrategy(stringParam(params, "merge_strategy", ""), MergeSoft)
	return err
}

func (a *FetchDataAction) Execute(ctx context.Context, input ActionInput) (*ActionOutput, error) {
	strategy, err := ParseMergeStrategy(stringParam(input.Params, "merge_strategy", ""), MergeSoft)
	if err != nil {
		return nil, err
	}

	hook := mapParam(input.Params, "webhook")
	req := services.FetchRequest{
		Method:  stringParam(hook, "method", "GET"),
		URL:     stringParam(hook, "url", ""),
		Headers: stringMapParam(hook, "headers"),
		Params:  stringMapParam(hook, "params"),
		Body:    hook["body"],
		Timeout: durationParam(hook, "timeout"),
	}

	result, err := a.webhook.Fetch(ctx, req)
	if err != nil {
		a.logger.WarnContext(ctx, "fetch-data webhook failed",
			slog.String("url", req.URL),
			slog.String("error", err.Error()),
		)
		return processed(map[string]any{
			"data":           map[string]any{},
			"merge_strategy": string(strategy),
		}), nil
	}

	rc, err := a.contexts.GetRunContext(ctx, input.Run.ContextRef)
	if err != nil {
		return nil, err
	}
	merged, write := Merge(strategy, rc.Data, len(rc.Data) > 0, result)
	if write {
		rc.Data = merged
		if err := a.contexts.PutRunContext(ctx, input.Run.ContextRef, rc); err != nil {
			return nil, err
		}
	}

	return processed(map[string]any{
		"data":           result,
		"merge_strategy": string(strategy),
	}), nil
}
