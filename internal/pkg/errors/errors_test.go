package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorMatchesKindSentinel(t *testing.T) {
	err := Validation("INVALID_SUFFIX", "suffix too long")
	err.Action = "createFineTuningJob"
	require.True(t, errors.Is(err, ErrInvalid))
	require.False(t, errors.Is(err, ErrNotFound))
	require.True(t, IsInvalid(err))
	require.Equal(t, "createFineTuningJob: INVALID_SUFFIX: suffix too long", err.Error())

	wrapped := fmt.Errorf("outer: %w", NotFound("X", "gone"))
	require.True(t, IsNotFound(wrapped))
	require.Equal(t, KindNotFound, KindOf(wrapped))
}

func TestErrorCause(t *testing.T) {
	cause := errors.New("socket closed")
	err := New(KindProvider, "P", "provider failed").WithCause(cause)
	require.True(t, errors.Is(err, cause))
	require.True(t, errors.Is(err, ErrProvider))
	require.Equal(t, "P: provider failed", err.Error())
}

func TestKindOf(t *testing.T) {
	require.Equal(t, KindParse, KindOf(fmt.Errorf("%w: bad", ErrParse)))
	require.Equal(t, KindValidation, KindOf(ErrInvalid))
	require.Equal(t, KindUnexpected, KindOf(errors.New("x")))
	require.Equal(t, "provider", KindProvider.String())
	require.Equal(t, "unknown", Kind(0).String())
}
