package expressions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cgradwohl/backend-services-2-sub001/pkg/schema"
)

func forEachEngine(t *testing.T, fn func(t *testing.T, c *ConditionEvaluator)) {
	for _, name := range []string{"expr", "cel"} {
		t.Run(name, func(t *testing.T) {
			engine, err := NewConditionEngine(name)
			require.NoError(t, err)
			fn(t, NewConditionEvaluator(engine))
		})
	}
}

func TestRefNames(t *testing.T) {
	names := RefNames(`refs.wait1.status != 'SKIPPED' && refs.send_a.status == 2 || refs.wait1.x`)
	assert.Equal(t, []string{"wait1", "send_a"}, names)
	assert.Empty(t, RefNames(`status == "PROCESSED"`))
	assert.Empty(t, RefNames(`prefs.a == 1`))
	assert.Empty(t, RefNames(`data.refs.x == 1`))
	assert.Equal(t, []string{"a", "b"}, RefNames(`refs.a.status==refs.b.status`))
}

func TestNormalizeExpression(t *testing.T) {
	tests := []struct {
		in, expr, cel string
	}{
		{`a === 1`, `a == 1`, `a == 1`},
		{`a !== null`, `a != nil`, `a != null`},
		{`a == undefined`, `a == nil`, `a == null`},
		{`a == "x === null"`, `a == "x === null"`, `a == "x === null"`},
		{`a == 'it\'s null'`, `a == 'it\'s null'`, `a == 'it\'s null'`},
		{`obj.null == 1`, `obj.null == 1`, `obj.null == 1`},
		{`nullable == 1`, `nullable == 1`, `nullable == 1`},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expr, NormalizeExpression(tt.in, DialectExpr), tt.in)
		assert.Equal(t, tt.cel, NormalizeExpression(tt.in, DialectCEL), tt.in)
	}
}

func TestCondition_OwnFields(t *testing.T) {
	forEachEngine(t, func(t *testing.T, c *ConditionEvaluator) {
		fields := map[string]any{"action": "send", "plan": "pro", "count": 3.0}
		ok, err := c.Evaluate(context.Background(), `plan === 'pro' && count > 2`, fields, nil)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = c.Evaluate(context.Background(), `plan == "free"`, fields, nil)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestCondition_RefsDelayExample(t *testing.T) {
	forEachEngine(t, func(t *testing.T, c *ConditionEvaluator) {
		refs, _ := stubRefs(map[string]map[string]any{
			"wait1": {"action": "delay", "status": "PROCESSED", "context": map[string]any{}},
		})
		ok, err := c.Evaluate(context.Background(), `refs.wait1.status !== 'SKIPPED'`, map[string]any{"action": "send"}, refs)
		require.NoError(t, err)
		assert.True(t, ok)
	})
}

func TestCondition_MessageStatusBinding(t *testing.T) {
	forEachEngine(t, func(t *testing.T, c *ConditionEvaluator) {
		refs, _ := stubRefs(map[string]map[string]any{
			"welcome": {"action": "send", "status": int(schema.MessageStatusOpened)},
		})
		ok, err := c.Evaluate(context.Background(),
			`refs.welcome.status >= MessageStatus.OPENED`, map[string]any{}, refs)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = c.Evaluate(context.Background(),
			`refs.welcome.status == MessageStatus.UNDELIVERABLE`, map[string]any{}, refs)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestCondition_NonBoolean(t *testing.T) {
	forEachEngine(t, func(t *testing.T, c *ConditionEvaluator) {
		_, err := c.Evaluate(context.Background(), `1 + 1`, map[string]any{}, nil)
		require.Error(t, err)
		assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))
	})
}

func TestCondition_UnknownRef(t *testing.T) {
	forEachEngine(t, func(t *testing.T, c *ConditionEvaluator) {
		refs, _ := stubRefs(nil)
		_, err := c.Evaluate(context.Background(), `refs.ghost.status == 'PROCESSED'`, map[string]any{}, refs)
		require.Error(t, err)
		assert.True(t, schema.IsDomainError(err))
	})
}

func TestCondition_CompileError(t *testing.T) {
	forEachEngine(t, func(t *testing.T, c *ConditionEvaluator) {
		_, err := c.Evaluate(context.Background(), `(((`, map[string]any{}, nil)
		require.Error(t, err)
		assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))
	})
}

func TestValidateRefs(t *testing.T) {
	declared := map[string]bool{"a": true}
	assert.NoError(t, ValidateRefs([]string{`refs.a.status == 1`, `x == 2`}, declared))
	err := ValidateRefs([]string{`refs.b.status == 1`}, declared)
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))
}

func TestNewConditionEngine_Unknown(t *testing.T) {
	_, err := NewConditionEngine("lua")
	assert.Error(t, err)
}
