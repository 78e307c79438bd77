package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, KindInternal},
		{"plain error", stderrors.New("boom"), KindInternal},
		{"cart empty", ErrCartEmpty, KindCartEmpty},
		{"wrapped insufficient stock", fmt.Errorf("decrement: %w", InsufficientStock("p1")), KindInsufficientStock},
		{"validation", NewValidationError("quantity", "must be positive"), KindValidation},
		{"provider", PaymentProvider(stderrors.New("timeout")), KindPaymentProvider},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestSentinelMatching(t *testing.T) {
	err := fmt.Errorf("get order: %w", &Error{Kind: KindNotFound, Message: "order o1"})

	assert.True(t, stderrors.Is(err, ErrNotFound))
	assert.False(t, stderrors.Is(err, ErrConflict))
	assert.True(t, stderrors.Is(ProductNotFound("p1"), ErrProductNotFound))
}

func TestErrorMessage(t *testing.T) {
	assert.Equal(t, "quantity: must be positive", NewValidationError("quantity", "must be positive").Error())
	assert.Equal(t, "payment provider error: timeout", PaymentProvider(stderrors.New("timeout")).Error())
	assert.Equal(t, "not_found", ErrNotFound.Error())
	assert.Equal(t, "insufficient_stock", KindInsufficientStock.String())
}
