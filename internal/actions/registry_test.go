package actions

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cgradwohl/backend-services-2-sub001/internal/services"
	"github.com/cgradwohl/backend-services-2-sub001/pkg/schema"
)

// stubAction is a minimal Action for registry tests.
type stubAction struct {
	name string
	desc string
}

func (s *stubAction) Name() string { return s.name }
func (s *stubAction) Schema() ActionSchema {
	return ActionSchema{Description: s.desc}
}
func (s *stubAction) Execute(_ context.Context, _ ActionInput) (*ActionOutput, error) {
	return processed(map[string]any{"ok": true}), nil
}
func (s *stubAction) Validate(_ map[string]any) error { return nil }

func codeOf(t *testing.T, err error) string {
	t.Helper()
	var ae *schema.AutomationError
	require.True(t, errors.As(err, &ae), "want AutomationError, got %v", err)
	return ae.Code
}

func TestRegistry_Register(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&stubAction{name: "send", desc: "deliver"}))

	act, err := reg.Get(schema.ActionSend)
	require.NoError(t, err)
	assert.Equal(t, "send", act.Name())

	assert.Equal(t, schema.ErrCodeConflict, codeOf(t, reg.Register(&stubAction{name: "send"})))
	assert.Equal(t, schema.ErrCodeValidation, codeOf(t, reg.Register(nil)))
	assert.Equal(t, schema.ErrCodeValidation, codeOf(t, reg.Register(&stubAction{})))
}

func TestRegistry_GetUnknownIsDomainError(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Get("teleport")
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, codeOf(t, err))
	assert.True(t, schema.IsDomainError(err))
}

func TestRegistry_ListIsSortedAndFlagsGuardedActions(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&stubAction{name: "update-profile", desc: "last"}))
	require.NoError(t, reg.Register(&stubAction{name: "cancel", desc: "first"}))
	require.NoError(t, reg.Register(&stubAction{name: "send", desc: "middle"}))

	infos := reg.List()
	require.Len(t, infos, 3)
	assert.Equal(t, ActionInfo{Name: "cancel", Description: "first"}, infos[0])
	assert.Equal(t, ActionInfo{Name: "send", Description: "middle", Guarded: true}, infos[1])
	assert.Equal(t, "update-profile", infos[2].Name)
	assert.False(t, infos[2].Guarded)
}

func TestRegistry_Missing(t *testing.T) {
	reg := NewRegistry()
	assert.Equal(t, schema.StepActions, reg.Missing())

	require.NoError(t, reg.Register(&stubAction{name: "send"}))
	missing := reg.Missing()
	assert.Len(t, missing, len(schema.StepActions)-1)
	assert.NotContains(t, missing, schema.ActionSend)
}

func TestRegisterBuiltins_CoversEveryAction(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, RegisterBuiltins(reg, Deps{
		Delivery: services.NewMemoryDelivery(),
		Lists:    services.NewMemoryLists(),
		Profiles: services.NewMemoryProfiles(),
	}))

	for _, a := range schema.StepActions {
		act, err := reg.Get(a)
		require.NoError(t, err, a)
		assert.NotEmpty(t, act.Schema().InputSchema, a)
	}
	assert.Empty(t, reg.Missing())
	assert.Len(t, reg.List(), len(schema.StepActions))
}

func TestRegisterBuiltins_RejectsPrefilledRegistry(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&stubAction{name: "delay"}))
	err := RegisterBuiltins(reg, Deps{})
	assert.Equal(t, schema.ErrCodeConflict, codeOf(t, err))
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	reg := NewRegistry()
	const n = 100

	var wg sync.WaitGroup
	wg.Add(n * 3)
	for i := range n {
		go func() {
			defer wg.Done()
			_ = reg.Register(&stubAction{name: fmt.Sprintf("custom-%d", i)})
		}()
		go func() {
			defer wg.Done()
			_, _ = reg.Get("custom-0")
		}()
		go func() {
			defer wg.Done()
			_ = reg.List()
		}()
	}
	wg.Wait()

	assert.Len(t, reg.List(), n)
}
