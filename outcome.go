package main

import (
	"errors"
	"fmt"
)

// Status classifies the result of a workflow step.
type Status int

const (
	StatusSuccess Status = iota
	StatusRetryable
	StatusFatal
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusRetryable:
		return "retryable"
	case StatusFatal:
		return "fatal"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Outcome is returned from every classification point in the workflow.
type Outcome struct {
	Status Status
	Reason string
	Err    error
}

func success() Outcome {
	return Outcome{Status: StatusSuccess}
}

func retryable(reason string) Outcome {
	return Outcome{Status: StatusRetryable, Reason: reason}
}

func fatal(reason string, err error) Outcome {
	return Outcome{Status: StatusFatal, Reason: reason, Err: err}
}

func (o Outcome) OK() bool {
	return o.Status == StatusSuccess
}

func (o Outcome) String() string {
	if o.Reason == "" {
		return o.Status.String()
	}
	return o.Status.String() + ": " + o.Reason
}

// Stage names the part of a cycle an error came from.
type Stage string

const (
	StageAuth         Stage = "auth"
	StageCart         Stage = "cart"
	StageScan         Stage = "scan"
	StageCheckout     Stage = "checkout"
	StagePostPurchase Stage = "post-purchase"
	StageRotation     Stage = "rotation"
)

// Recoverable reports whether a failure in this stage may be retried after
// a hard reset. Nothing at or after checkout is retried, since an order
// may already exist.
func (s Stage) Recoverable() bool {
	switch s {
	case StageAuth, StageCart, StageScan:
		return true
	default:
		return false
	}
}

// CycleError is the error surfaced by a failed purchase cycle. Terminal
// marks a failure that was already classified as fatal, which no hard
// reset may retry regardless of stage.
type CycleError struct {
	Stage    Stage
	Reason   string
	Err      error
	Terminal bool
}

func (e *CycleError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Stage, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Stage, e.Reason)
}

func (e *CycleError) Unwrap() error {
	return e.Err
}

func stageError(stage Stage, o Outcome) *CycleError {
	return &CycleError{Stage: stage, Reason: o.Reason, Err: o.Err}
}

// isRecoverable reports whether err is a non-terminal CycleError from a
// stage that a hard reset can recover.
func isRecoverable(err error) bool {
	var ce *CycleError
	if errors.As(err, &ce) {
		return ce.Stage.Recoverable() && !ce.Terminal
	}
	return false
}

var (
	ErrRotationExhausted = errors.New("active account is the last in rotation")
	ErrCheckoutInFlight  = errors.New("account change requested during checkout")
	ErrUnknownAccount    = errors.New("unknown account")
	ErrNoShippingOptions = errors.New("no shipping options found")
	ErrNoSession         = errors.New("no open browser session")
)
