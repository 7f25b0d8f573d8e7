package types

import (
	"errors"
	"fmt"
	"testing"
)

func TestError_ErrorString(t *testing.T) {
	err := NewError(ErrNoRetrievalResults, "all strategies failed")
	if err.Error() != "[NO_RETRIEVAL_RESULTS] all strategies failed" {
		t.Errorf("unexpected error string: %s", err.Error())
	}

	withCause := NewError(ErrExternalTimeout, "embed timeout").WithCause(errors.New("deadline exceeded"))
	if withCause.Error() != "[EXTERNAL_TIMEOUT] embed timeout: deadline exceeded" {
		t.Errorf("unexpected error string: %s", withCause.Error())
	}
}

func TestIsErrorCode_UnwrapsChain(t *testing.T) {
	inner := NewError(ErrSessionLockConflict, "session owned by another worker")
	wrapped := fmt.Errorf("process: %w", inner)

	if !IsErrorCode(wrapped, ErrSessionLockConflict) {
		t.Error("expected code match through wrap chain")
	}
	if IsErrorCode(wrapped, ErrInternalError) {
		t.Error("unexpected code match")
	}
}

func TestIsRetryable(t *testing.T) {
	err := NewError(ErrExternalTimeout, "timeout").WithRetryable(true)
	if !IsRetryable(err) {
		t.Error("expected retryable")
	}
	if IsRetryable(errors.New("plain")) {
		t.Error("plain errors are not retryable")
	}
}

func TestGetErrorCode(t *testing.T) {
	if code := GetErrorCode(NewError(ErrValidationFailed, "x")); code != ErrValidationFailed {
		t.Errorf("expected VALIDATION_FAILED, got %s", code)
	}
	if code := GetErrorCode(errors.New("plain")); code != "" {
		t.Errorf("expected empty code, got %s", code)
	}
}
