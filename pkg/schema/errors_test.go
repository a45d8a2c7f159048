package schema

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAutomationError_Format(t *testing.T) {
	err := NewError(ErrCodeNotFound, "brand not found")
	assert.Equal(t, "[NOT_FOUND] brand not found", err.Error())

	err = NewErrorf(ErrCodeValidation, "bad %s", "delay").WithStep("s1")
	assert.Equal(t, "[VALIDATION_ERROR] step s1: bad delay", err.Error())
}

func TestAutomationError_Classification(t *testing.T) {
	for _, code := range []string{ErrCodeValidation, ErrCodeNotFound, ErrCodeConflict, ErrCodeCycleDetected} {
		assert.True(t, IsDomainError(NewError(code, "x")), code)
	}
	for _, code := range []string{ErrCodeExecution, ErrCodeStore} {
		assert.False(t, IsDomainError(NewError(code, "x")), code)
	}
	assert.False(t, IsDomainError(errors.New("boom")))

	wrapped := fmt.Errorf("subscribe: %w", NewError(ErrCodeConflict, "list archived"))
	assert.True(t, IsDomainError(wrapped))
	assert.True(t, HasCode(wrapped, ErrCodeConflict))
}

func TestAutomationError_UnwrapAndUserMessage(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := NewError(ErrCodeExecution, "delivery failed").WithCause(cause)

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "delivery failed", UserMessage(err))
	assert.Equal(t, "internal error", UserMessage(cause))
}

func TestMapDeliveryStatus(t *testing.T) {
	assert.Equal(t, MessageStatusQueued, MapDeliveryStatus("ENQUEUED"))
	assert.Equal(t, MessageStatusOpened, MapDeliveryStatus("OPENED"))
	assert.Equal(t, MessageStatusClicked, MapDeliveryStatus("CLICKED"))
	assert.Equal(t, MessageStatusUndeliverable, MapDeliveryStatus("UNROUTABLE"))
	assert.Equal(t, 4, MessageStatusEnum()["OPENED"])
}
