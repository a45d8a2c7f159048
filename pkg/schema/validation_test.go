package schema

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidationResult_EmptyIsValid(t *testing.T) {
	r := &ValidationResult{}
	assert.True(t, r.Valid())
	assert.Nil(t, r.ToError())
}

func TestValidationResult_AddError(t *testing.T) {
	r := &ValidationResult{}
	r.AddError("steps[1].if", `unknown ref "welcome"`)

	assert.False(t, r.Valid())
	require.Len(t, r.Errors, 1)
	assert.Equal(t, "steps[1].if", r.Errors[0].Path)
	assert.Equal(t, `steps[1].if: unknown ref "welcome"`, r.Errors[0].String())
}

func TestValidationResult_ToError(t *testing.T) {
	r := &ValidationResult{}
	r.AddError("steps[0].ref", `duplicate ref "a"`)

	var ae *AutomationError
	require.True(t, errors.As(r.ToError(), &ae))
	assert.Equal(t, ErrCodeValidation, ae.Code)
	assert.Equal(t, `steps[0].ref: duplicate ref "a"`, ae.Message)
	assert.Len(t, ae.Details["issues"], 1)
}

func TestValidationResult_ToErrorCapsMessage(t *testing.T) {
	r := &ValidationResult{}
	for _, p := range []string{"steps[0].action", "steps[1].ref", "steps[2].if", "steps[3].if", "steps[4].if"} {
		r.AddError(p, "bad")
	}

	var ae *AutomationError
	require.True(t, errors.As(r.ToError(), &ae))
	assert.Equal(t, "steps[0].action: bad; steps[1].ref: bad; steps[2].if: bad (and 2 more)", ae.Message)
	assert.Len(t, ae.Details["issues"], 5)
}
