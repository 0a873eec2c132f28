package exception

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBatchErrorFormatting(t *testing.T) {
	cause := errors.New("disk full")
	err := NewBatchError("span", "upload failed", cause, false)
	assert.Equal(t, "[span] upload failed: disk full", err.Error())
	assert.Same(t, cause, errors.Unwrap(err))

	bare := NewBatchError("trigger", "no run", nil, false)
	assert.Equal(t, "[trigger] no run", bare.Error())
}

func TestNewBatchErrorfTakesTrailingError(t *testing.T) {
	cause := errors.New("eof")
	err := NewBatchErrorf("evaluator", "file %s line %d", "a.jsonl", 3, cause)
	assert.Equal(t, "file a.jsonl line 3", err.Message)
	assert.Same(t, cause, err.OriginalErr)

	err = NewBatchErrorf("evaluator", "bad: %v", cause)
	assert.Equal(t, "bad: eof", err.Message)
	assert.Nil(t, err.OriginalErr)
}

func TestIsTemporary(t *testing.T) {
	assert.False(t, IsTemporary(nil))
	assert.True(t, IsTemporary(NewTransientError("storage", "list", errors.New("503"))))
	assert.True(t, IsTemporary(fmt.Errorf("wrapped: %w", ErrTransientIO)))
	assert.False(t, IsTemporary(Wrap("evaluator", "bad line", ErrMalformedRecord, nil)))
	assert.False(t, IsTemporary(NewTimeoutError("storage", "read", context.DeadlineExceeded)))
	assert.False(t, IsTemporary(context.Canceled))

	assert.True(t, IsFatal(Wrap("span", "none", ErrNoSamples, nil)))
	assert.False(t, IsFatal(nil))
}

func TestWrapChainsKindAndCause(t *testing.T) {
	cause := errors.New("json: unexpected end")
	err := Wrap("evaluator", "line 4", ErrMalformedRecord, cause)
	assert.ErrorIs(t, err, ErrMalformedRecord)
	assert.ErrorIs(t, err, cause)
	assert.True(t, IsBatchError(fmt.Errorf("outer: %w", err)))
}

func TestFromContext(t *testing.T) {
	err := FromContext("storage", "download", context.DeadlineExceeded)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	other := errors.New("x")
	assert.Same(t, other, FromContext("storage", "download", other))
	assert.NoError(t, FromContext("storage", "download", nil))
}

func TestErrorRegistry(t *testing.T) {
	assert.True(t, IsErrorTypeRegistered("MalformedRecord"))
	assert.True(t, IsErrorOfType(Wrap("evaluator", "x", ErrMalformedRecord, nil), "MalformedRecord"))
	assert.True(t, IsErrorOfType(errors.New("connection refused"), "connection refused"))
	assert.False(t, IsErrorOfType(errors.New("ok"), "Timeout"))
	assert.Panics(t, func() { RegisterErrorType("", errors.New("x")) })
	assert.Equal(t, "line 4", ExtractErrorMessage(Wrap("evaluator", "line 4", ErrMalformedRecord, nil)))
}
