package actions

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cgradwohl/backend-services-2-sub001/internal/services"
	"github.com/cgradwohl/backend-services-2-sub001/internal/store"
	"github.com/cgradwohl/backend-services-2-sub001/pkg/schema"
)

var testNow = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func testInput(action schema.StepAction, params map[string]any) ActionInput {
	run := &schema.Run{
		RunID:      "run-1",
		TenantID:   "t1",
		Source:     []string{"api"},
		Scope:      "published/production",
		ContextRef: "ctx-1",
	}
	step := &schema.Step{
		StepID:   "step-1",
		RunID:    run.RunID,
		TenantID: run.TenantID,
		Action:   action,
		Status:   schema.StepStatusProcessing,
		Params:   params,
	}
	return ActionInput{
		Run:        run,
		Step:       step,
		Params:     params,
		RunContext: &schema.RunContext{Recipient: "r1", Data: map[string]any{"plan": "free"}},
		Now:        testNow,
	}
}

func TestMerge_Strategies(t *testing.T) {
	existing := map[string]any{"a": 1}
	incoming := map[string]any{"a": 2, "b": 3}

	cases := []struct {
		strategy MergeStrategy
		want     map[string]any
		write    bool
	}{
		{MergeReplace, map[string]any{"a": 2, "b": 3}, true},
		{MergeOverwrite, map[string]any{"a": 2, "b": 3}, true},
		{MergeSoft, map[string]any{"a": 1, "b": 3}, true},
		{MergeNone, map[string]any{"a": 1}, false},
	}
	for _, tc := range cases {
		t.Run(string(tc.strategy), func(t *testing.T) {
			got, write := Merge(tc.strategy, existing, true, incoming)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, tc.write, write)
		})
	}
	assert.Equal(t, map[string]any{"a": 1}, existing)
}

func TestMerge_Nested(t *testing.T) {
	existing := map[string]any{"address": map[string]any{"city": "London", "zip": "N1"}, "tags": []any{"x"}}
	incoming := map[string]any{"address": map[string]any{"city": "Paris"}, "tags": []any{"y"}}

	over, _ := Merge(MergeOverwrite, existing, true, incoming)
	assert.Equal(t, map[string]any{"city": "Paris", "zip": "N1"}, over["address"])
	assert.Equal(t, []any{"y"}, over["tags"])

	soft, _ := Merge(MergeSoft, existing, true, incoming)
	assert.Equal(t, map[string]any{"city": "London", "zip": "N1"}, soft["address"])
	assert.Equal(t, []any{"x"}, soft["tags"])

	replaced, _ := Merge(MergeReplace, existing, true, incoming)
	assert.Equal(t, map[string]any{"city": "Paris"}, replaced["address"])
}

func TestMerge_NoneWithoutExisting(t *testing.T) {
	got, write := Merge(MergeNone, nil, false, map[string]any{"a": 2})
	assert.True(t, write)
	assert.Equal(t, map[string]any{"a": 2}, got)
}

func TestParseMergeStrategy(t *testing.T) {
	s, err := ParseMergeStrategy("", MergeSoft)
	require.NoError(t, err)
	assert.Equal(t, MergeSoft, s)

	_, err = ParseMergeStrategy("blend", MergeSoft)
	assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))
}

func TestParseDuration_SingularAndPlural(t *testing.T) {
	for _, in := range []string{"2 days", "2 day", "2days", " 2 Days "} {
		got, err := ParseDuration(in, testNow)
		require.NoError(t, err, in)
		assert.Equal(t, testNow.Add(48*time.Hour), got, in)
	}

	cases := map[string]time.Time{
		"30 seconds": testNow.Add(30 * time.Second),
		"1 minute":   testNow.Add(time.Minute),
		"1.5 hours":  testNow.Add(90 * time.Minute),
		"1 week":     testNow.Add(7 * 24 * time.Hour),
		"1 month":    testNow.AddDate(0, 1, 0),
		"2 years":    testNow.AddDate(2, 0, 0),
	}
	for in, want := range cases {
		got, err := ParseDuration(in, testNow)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}

func TestParseDuration_Invalid(t *testing.T) {
	for _, in := range []string{"", "soon", "2 fortnights", "-1 day", "day 2"} {
		_, err := ParseDuration(in, testNow)
		assert.True(t, schema.HasCode(err, schema.ErrCodeValidation), in)
	}
}

func TestParseUntil_Layouts(t *testing.T) {
	cases := map[string]time.Time{
		"2025-04-01T09:30:00Z":      time.Date(2025, 4, 1, 9, 30, 0, 0, time.UTC),
		"2025-04-01T09:30:00+02:00": time.Date(2025, 4, 1, 7, 30, 0, 0, time.UTC),
		"2025-04-01T09:30:00":       time.Date(2025, 4, 1, 9, 30, 0, 0, time.UTC),
		"2025-04-01":                time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC),
	}
	for in, want := range cases {
		got, err := ParseUntil(in)
		require.NoError(t, err, in)
		assert.True(t, want.Equal(got), in)
	}

	_, err := ParseUntil("next tuesday")
	assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))
}

func TestTargetTime_DurationXorUntil(t *testing.T) {
	_, err := TargetTime(map[string]any{"duration": "1 hour", "until": "2025-04-01"}, testNow)
	assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))

	_, err = TargetTime(map[string]any{}, testNow)
	assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))

	got, err := TargetTime(map[string]any{"duration": "1 hour"}, testNow)
	require.NoError(t, err)
	assert.Equal(t, testNow.Add(time.Hour), got)
}

type recordingWaker struct {
	msgs    []schema.StepMessage
	targets []time.Time
}

func (w *recordingWaker) ScheduleWake(_ context.Context, msg schema.StepMessage, target time.Time) error {
	w.msgs = append(w.msgs, msg)
	w.targets = append(w.targets, target)
	return nil
}

func TestDelayAction_TwoPhases(t *testing.T) {
	waker := &recordingWaker{}
	act := NewDelayAction(waker, func() time.Time { return testNow })

	in := testInput(schema.ActionDelay, map[string]any{"duration": "1 hour"})
	out, err := act.Execute(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, schema.StepStatusWaiting, out.Status)
	require.Len(t, waker.msgs, 1)
	assert.Equal(t, "step-1", waker.msgs[0].StepID)
	assert.Equal(t, testNow.Add(time.Hour), waker.targets[0])

	in.Step.Status = schema.StepStatusWaiting
	in.Step.Context = out.Context
	wake, ok := ExpectedWakeAt(in.Step)
	require.True(t, ok)
	assert.True(t, testNow.Add(time.Hour).Equal(wake))

	in.Now = testNow.Add(time.Hour)
	out, err = act.Execute(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, schema.StepStatusProcessed, out.Status)
	assert.NotEmpty(t, out.Context[WokeAtKey])
	assert.NotEmpty(t, out.Context[ExpectedWakeAtKey])
	assert.Len(t, waker.msgs, 1)
}

func TestDelayAction_ValidateUsesInjectedClock(t *testing.T) {
	calls := 0
	act := NewDelayAction(&recordingWaker{}, func() time.Time {
		calls++
		return testNow
	})

	require.NoError(t, act.Validate(map[string]any{"duration": "2 days"}))
	assert.Equal(t, 1, calls)

	err := act.Validate(map[string]any{"duration": "2 fortnights"})
	assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))
	assert.Equal(t, 2, calls)
}

func TestSendAction_RecordsMessageID(t *testing.T) {
	d := services.NewMemoryDelivery()
	in := testInput(schema.ActionSend, map[string]any{
		"template":        "welcome",
		"recipient":       "r1",
		"idempotency_key": "k1",
	})

	out, err := NewSendAction(d).Execute(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, schema.StepStatusProcessed, out.Status)

	sent := d.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, sent[0].MessageID, out.Context["messageId"])
	assert.False(t, sent[0].List)
	assert.Equal(t, "welcome", sent[0].Request.Payload["template"])
	assert.NotContains(t, sent[0].Request.Payload, "idempotency_key")
}

func TestSendListAction_UsesList(t *testing.T) {
	d := services.NewMemoryDelivery()
	act := NewSendListAction(d)
	assert.Equal(t, "send-list", act.Name())

	_, err := act.Execute(context.Background(), testInput(schema.ActionSendList, map[string]any{"list": "news", "template": "t"}))
	require.NoError(t, err)
	require.Len(t, d.Sent(), 1)
	assert.True(t, d.Sent()[0].List)
}

func TestHasMessage(t *testing.T) {
	assert.True(t, HasMessage(map[string]any{"message": map[string]any{"to": map[string]any{"email": "a@b.c"}}}))
	assert.False(t, HasMessage(map[string]any{"message": map[string]any{}}))
	assert.False(t, HasMessage(map[string]any{"template": "t"}))
}

func TestFetchDataAction_MergesIntoRunData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"plan": "pro", "seats": 5})
	}))
	defer srv.Close()

	ctx := context.Background()
	s := store.NewMemoryStore()
	require.NoError(t, s.PutRunContext(ctx, "ctx-1", &schema.RunContext{Data: map[string]any{"plan": "free", "org": "acme"}}))

	act := NewFetchDataAction(services.NewHTTPWebhook(services.WebhookConfig{AllowPrivate: true}), s, nil)
	in := testInput(schema.ActionFetchData, map[string]any{
		"webhook":        map[string]any{"url": srv.URL},
		"merge_strategy": "overwrite",
	})
	require.NoError(t, act.Validate(in.Params))

	out, err := act.Execute(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, schema.StepStatusProcessed, out.Status)

	rc, err := s.GetRunContext(ctx, "ctx-1")
	require.NoError(t, err)
	assert.Equal(t, "pro", rc.Data["plan"])
	assert.Equal(t, "acme", rc.Data["org"])
	assert.Equal(t, float64(5), rc.Data["seats"])
}

func TestFetchDataAction_DefaultSoftMerge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"plan":"pro","seats":5}`))
	}))
	defer srv.Close()

	ctx := context.Background()
	s := store.NewMemoryStore()
	require.NoError(t, s.PutRunContext(ctx, "ctx-1", &schema.RunContext{Data: map[string]any{"plan": "free"}}))

	act := NewFetchDataAction(services.NewHTTPWebhook(services.WebhookConfig{AllowPrivate: true}), s, nil)
	out, err := act.Execute(ctx, testInput(schema.ActionFetchData, map[string]any{"webhook": map[string]any{"url": srv.URL}}))
	require.NoError(t, err)
	assert.Equal(t, "soft-merge", out.Context["merge_strategy"])

	rc, err := s.GetRunContext(ctx, "ctx-1")
	require.NoError(t, err)
	assert.Equal(t, "free", rc.Data["plan"])
	assert.Equal(t, float64(5), rc.Data["seats"])
}

func TestFetchDataAction_WebhookFailureIsEmptyResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx := context.Background()
	s := store.NewMemoryStore()
	require.NoError(t, s.PutRunContext(ctx, "ctx-1", &schema.RunContext{Data: map[string]any{"plan": "free"}}))

	act := NewFetchDataAction(services.NewHTTPWebhook(services.WebhookConfig{AllowPrivate: true}), s, nil)
	out, err := act.Execute(ctx, testInput(schema.ActionFetchData, map[string]any{
		"webhook":        map[string]any{"url": srv.URL},
		"merge_strategy": "replace",
	}))
	require.NoError(t, err)
	assert.Equal(t, schema.StepStatusProcessed, out.Status)
	assert.Equal(t, map[string]any{}, out.Context["data"])

	rc, err := s.GetRunContext(ctx, "ctx-1")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"plan": "free"}, rc.Data)
}

func TestFetchDataAction_UnsafeURLIsEmptyResult(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	require.NoError(t, s.PutRunContext(ctx, "ctx-1", &schema.RunContext{}))

	act := NewFetchDataAction(services.NewHTTPWebhook(services.WebhookConfig{}), s, nil)
	out, err := act.Execute(ctx, testInput(schema.ActionFetchData, map[string]any{
		"webhook": map[string]any{"url": "http://169.254.169.254/latest"},
	}))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{}, out.Context["data"])
}

func TestSubscribeAction(t *testing.T) {
	lists := services.NewMemoryLists()
	act := NewSubscribeAction(lists)

	out, err := act.Execute(context.Background(), testInput(schema.ActionSubscribe, map[string]any{
		"list_id": "news", "recipient_id": "r1", "preferences": map[string]any{"email": true},
	}))
	require.NoError(t, err)
	assert.Equal(t, "news", out.Context["listId"])
	require.Len(t, lists.Subscriptions(), 1)

	lists.Archive("t1", "old")
	_, err = act.Execute(context.Background(), testInput(schema.ActionSubscribe, map[string]any{
		"list_id": "old", "recipient_id": "r1",
	}))
	assert.True(t, schema.HasCode(err, schema.ErrCodeConflict))
}

func TestUpdateProfileAction_MergePolicies(t *testing.T) {
	cases := map[string]map[string]any{
		"replace":    {"a": 2, "b": 3},
		"overwrite":  {"a": 2, "b": 3},
		"soft-merge": {"a": 1, "b": 3},
		"none":       {"a": 1},
		"":           {"a": 2, "b": 3},
	}
	for merge, want := range cases {
		t.Run("merge="+merge, func(t *testing.T) {
			ctx := context.Background()
			profiles := services.NewMemoryProfiles()
			require.NoError(t, profiles.Put(ctx, "t1", "r1", map[string]any{"a": 1}))

			params := map[string]any{"recipient_id": "r1", "profile": map[string]any{"a": 2, "b": 3}}
			if merge != "" {
				params["merge"] = merge
			}
			_, err := NewUpdateProfileAction(profiles).Execute(ctx, testInput(schema.ActionUpdateProfile, params))
			require.NoError(t, err)

			got, ok, err := profiles.Get(ctx, "t1", "r1")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, want, got)
		})
	}
}

func TestUpdateProfileAction_NoneWritesNewProfile(t *testing.T) {
	ctx := context.Background()
	profiles := services.NewMemoryProfiles()
	_, err := NewUpdateProfileAction(profiles).Execute(ctx, testInput(schema.ActionUpdateProfile, map[string]any{
		"recipient_id": "r2", "profile": map[string]any{"a": 2}, "merge": "none",
	}))
	require.NoError(t, err)

	got, ok, err := profiles.Get(ctx, "t1", "r2")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, map[string]any{"a": 2}, got)
}

type recordingCanceler struct {
	tenantID, token, except string
}

func (c *recordingCanceler) Cancel(_ context.Context, tenantID, token, except string) (int, error) {
	c.tenantID, c.token, c.except = tenantID, token, except
	return 2, nil
}

func TestCancelAction_TokenAndAlias(t *testing.T) {
	for _, key := range []string{"cancelation_token", "token"} {
		c := &recordingCanceler{}
		out, err := NewCancelAction(c).Execute(context.Background(), testInput(schema.ActionCancel, map[string]any{key: "tok"}))
		require.NoError(t, err, key)
		assert.Equal(t, "tok", c.token)
		assert.Equal(t, "t1", c.tenantID)
		assert.Equal(t, "run-1", c.except)
		assert.Equal(t, 2, out.Context["canceled"])
	}

	_, err := NewCancelAction(&recordingCanceler{}).Execute(context.Background(), testInput(schema.ActionCancel, map[string]any{}))
	assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))
}

type recordingInvoker struct {
	calls []schema.TemplateInvocation
	err   error
}

func (i *recordingInvoker) InvokeTemplate(_ context.Context, inv schema.TemplateInvocation) (string, error) {
	i.calls = append(i.calls, inv)
	return inv.RunID, i.err
}

func TestInvokeAction_ChildRun(t *testing.T) {
	inv := &recordingInvoker{}
	in := testInput(schema.ActionInvoke, map[string]any{
		"template": "tplA",
		"context":  map[string]any{"data": map[string]any{"x": 1}},
	})

	out, err := NewInvokeAction(inv).Execute(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, inv.calls, 1)

	call := inv.calls[0]
	assert.Equal(t, []string{"api", "invoke/tplA"}, call.Source)
	assert.Equal(t, ChildRunID("run-1", "step-1"), call.RunID)
	assert.Equal(t, call.RunID, out.Context["runId"])
	assert.Equal(t, map[string]any{"x": 1}, call.Context.Data)
	assert.Equal(t, "r1", call.Context.Recipient)
	assert.Equal(t, []string{"api"}, in.Run.Source)
}

func TestInvokeAction_ConflictMeansAlreadyInvoked(t *testing.T) {
	inv := &recordingInvoker{err: schema.NewError(schema.ErrCodeConflict, "run exists")}
	out, err := NewInvokeAction(inv).Execute(context.Background(), testInput(schema.ActionInvoke, map[string]any{"template": "tplA"}))
	require.NoError(t, err)
	assert.Equal(t, true, out.Context["alreadyInvoked"])
}

func TestInvokeAction_OtherErrorsPropagate(t *testing.T) {
	inv := &recordingInvoker{err: schema.NewError(schema.ErrCodeNotFound, "template missing")}
	_, err := NewInvokeAction(inv).Execute(context.Background(), testInput(schema.ActionInvoke, map[string]any{"template": "nope"}))
	assert.True(t, schema.HasCode(err, schema.ErrCodeNotFound))
}

func TestChildRunID_Deterministic(t *testing.T) {
	assert.Equal(t, ChildRunID("r", "s"), ChildRunID("r", "s"))
	assert.NotEqual(t, ChildRunID("r", "s"), ChildRunID("r", "s2"))
}
