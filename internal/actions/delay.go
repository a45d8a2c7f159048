package actions

import (
	"context"
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/cgradwohl/backend-services-2-sub001/pkg/schema"
)

const delayInputSchema = `{
  "type": "object",
  "properties": {
    "duration": {"type": "string", "minLength": 1},
    "until": {"type": "string", "minLength": 1}
  },
  "oneOf": [
    {"required": ["duration"]},
    {"required": ["until"]}
  ]
}`

// Step context keys written by the delay action.
const (
	ExpectedWakeAtKey = "expected_wake_at"
	WokeAtKey         = "woke_at"
)

var durationPattern = regexp.MustCompile(`^\s*(\d+(?:\.\d+)?)\s*([A-Za-z]+)\s*$`)

// ParseDuration parses "<number> <unit>" where unit is second, minute,
// hour, day, week, month or year, singular or plural, and returns the
// instant that far after now. Months and years follow the calendar.
func ParseDuration(s string, now time.Time) (time.Time, error) {
	m := durationPattern.FindStringSubmatch(s)
	if m == nil {
		return time.Time{}, invalidDelay("invalid duration %q", s)
	}
	n, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return time.Time{}, invalidDelay("invalid duration %q", s)
	}
	unit := strings.TrimSuffix(strings.ToLower(m[2]), "s")

	var step time.Duration
	switch unit {
	case "second", "sec":
		step = time.Second
	case "minute", "min":
		step = time.Minute
	case "hour":
		step = time.Hour
	case "day":
		step = 24 * time.Hour
	case "week":
		step = 7 * 24 * time.Hour
	case "month", "year":
		whole, frac := math.Modf(n)
		t := now
		if unit == "month" {
			t = t.AddDate(0, int(whole), 0)
			return t.Add(time.Duration(frac * float64(30*24*time.Hour))), nil
		}
		t = t.AddDate(int(whole), 0, 0)
		return t.Add(time.Duration(frac * float64(365*24*time.Hour))), nil
	default:
		return time.Time{}, invalidDelay("unknown duration unit %q", m[2])
	}
	return now.Add(time.Duration(n * float64(step))), nil
}

var untilLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseUntil parses an ISO-8601 instant. Values without a zone are UTC.
func ParseUntil(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range untilLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, invalidDelay("invalid until %q", s)
}

// TargetTime resolves the wake instant of a delay step. Exactly one of
// duration and until must be set.
func TargetTime(params map[string]any, now time.Time) (time.Time, error) {
	duration := stringParam(params, "duration", "")
	until := stringParam(params, "until", "")
	switch {
	case duration != "" && until != "":
		return time.Time{}, invalidDelay("delay declares both duration and until")
	case duration != "":
		return ParseDuration(duration, now)
	case until != "":
		return ParseUntil(until)
	default:
		return time.Time{}, invalidDelay("delay declares neither duration nor until")
	}
}

func invalidDelay(format string, args ...any) *schema.AutomationError {
	return schema.NewErrorf(schema.ErrCodeValidation, format, args...)
}

// DelayAction implements the "delay" action. The first delivery parks the
// step in WAITING and schedules a wake; a delivery that finds the recorded
// wake time completes it.
type DelayAction struct {
	waker Waker
	now   func() time.Time
}

// NewDelayAction creates a delay action. now defaults to time.Now.
func NewDelayAction(w Waker, now func() time.Time) *DelayAction {
	if now == nil {
		now = time.Now
	}
	return &DelayAction{waker: w, now: now}
}

func (a *DelayAction) Name() string { return string(schema.ActionDelay) }

func (a *DelayAction) Schema() ActionSchema {
	return ActionSchema{
		Description: "Pause the run for a duration or until an instant.",
		InputSchema: json.RawMessage(delayInputSchema),
	}
}

func (a *DelayAction) Validate(params map[string]any) error {
	_, err := TargetTime(params, a.now())
	return err
}

func (a *DelayAction) Execute(ctx context.Context, input ActionInput) (*ActionOutput, error) {
	if _, woken := ExpectedWakeAt(input.Step); woken {
		out := schema.CopyMap(input.Step.Context)
		if out == nil {
			out = map[string]any{}
		}
		out[WokeAtKey] = input.Now.UTC().Format(time.RFC3339Nano)
		return processed(out), nil
	}

	target, err := TargetTime(input.Params, input.Now)
	if err != nil {
		return nil, err
	}
	if err := a.waker.ScheduleWake(ctx, schema.MessageFor(input.Run, input.Step.StepID), target); err != nil {
		return nil, err
	}
	return &ActionOutput{
		Status:  schema.StepStatusWaiting,
		Context: map[string]any{ExpectedWakeAtKey: target.UTC().Format(time.RFC3339Nano)},
	}, nil
}

// ExpectedWakeAt reads the wake instant recorded on a waiting delay step.
func ExpectedWakeAt(step *schema.Step) (time.Time, bool) {
	s, _ := step.Context[ExpectedWakeAtKey].(string)
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
