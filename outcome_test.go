package main

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusString(t *testing.T) {
	assert.Equal(t, "success", StatusSuccess.String())
	assert.Equal(t, "retryable", StatusRetryable.String())
	assert.Equal(t, "fatal", StatusFatal.String())
	assert.Equal(t, "status(7)", Status(7).String())
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "success", success().String())
	assert.Equal(t, "retryable: invalid code", retryable("invalid code").String())
	assert.True(t, success().OK())
	assert.False(t, fatal("page unrecognized", nil).OK())
}

func TestStageRecoverable(t *testing.T) {
	tests := []struct {
		stage Stage
		want  bool
	}{
		{StageAuth, true},
		{StageCart, true},
		{StageScan, true},
		{StageCheckout, false},
		{StagePostPurchase, false},
		{StageRotation, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.stage.Recoverable(), string(tt.stage))
	}
}

func TestCycleError(t *testing.T) {
	cause := errors.New("boom")
	err := stageError(StageCart, fatal("cart count unreadable", cause))

	assert.Equal(t, "cart: cart count unreadable: boom", err.Error())
	assert.ErrorIs(t, err, cause)

	bare := &CycleError{Stage: StageCheckout, Reason: "submit not found"}
	assert.Equal(t, "checkout: submit not found", bare.Error())
	assert.NoError(t, bare.Unwrap())
}

func TestIsRecoverable(t *testing.T) {
	assert.True(t, isRecoverable(&CycleError{Stage: StageAuth}))
	assert.True(t, isRecoverable(fmt.Errorf("cycle: %w", &CycleError{Stage: StageScan})))
	assert.False(t, isRecoverable(&CycleError{Stage: StageCheckout}))
	assert.False(t, isRecoverable(&CycleError{Stage: StageAuth, Terminal: true}))
	assert.False(t, isRecoverable(errors.New("plain")))
	assert.False(t, isRecoverable(nil))
}
