// Package services holds the contracts of the collaborators the engine calls
// out to: the delivery pipeline, list and profile services, the template
// service and webhook endpoints. In-process implementations back the serve
// command and the tests.
package services

import (
	"context"
	"time"
)

// SendRequest is a prepared message handed to the delivery pipeline.
type SendRequest struct {
	TenantID  string
	RunID     string
	StepID    string
	Scope     string
	Source    []string
	DryRunKey string
	Payload   map[string]any
}

// Delivery is the notification delivery pipeline.
type Delivery interface {
	Send(ctx context.Context, req SendRequest) (messageID string, err error)
	SendList(ctx context.Context, req SendRequest) (messageID string, err error)
	// Status returns the pipeline's current status string for a message.
	Status(ctx context.Context, tenantID, messageID string) (string, error)
}

// Lists manages list subscriptions. Subscribing to an archived list fails
// with a CONFLICT error.
type Lists interface {
	Subscribe(ctx context.Context, tenantID, listID, recipientID string, prefs map[string]any) error
}

// Profiles stores recipient profiles. Get reports ok=false when the
// recipient has no profile yet.
type Profiles interface {
	Get(ctx context.Context, tenantID, recipientID string) (profile map[string]any, ok bool, err error)
	Put(ctx context.Context, tenantID, recipientID string, profile map[string]any) error
}

// Templates resolves a template id or alias into a step list, rendering
// expression templates against data and profile.
type Templates interface {
	Steps(ctx context.Context, tenantID, idOrAlias string, data, profile map[string]any) ([]map[string]any, error)
}

// FetchRequest describes one webhook call.
type FetchRequest struct {
	Method  string
	URL     string
	Headers map[string]string
	Params  map[string]string
	Body    any
	Timeout time.Duration
}

// Webhook calls external HTTP endpoints for fetch-data steps.
type Webhook interface {
	Fetch(ctx context.Context, req FetchRequest) (map[string]any, error)
}
