package sopflow

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassifyError(t *testing.T) {
	t.Run("explicit workflow error passes through", func(t *testing.T) {
		original := NewStructuralError(errors.New("no documents"))
		classified := ClassifyError(fmt.Errorf("wrapped: %w", original))
		require.Equal(t, ErrorTypeStructural, classified.Type)
	})

	t.Run("malformed output is structural", func(t *testing.T) {
		err := fmt.Errorf("%w: no JSON found", ErrMalformedOutput)
		require.Equal(t, ErrorTypeStructural, ClassifyError(err).Type)
		require.True(t, IsStructural(err))
	})

	t.Run("cancellation is fatal", func(t *testing.T) {
		err := fmt.Errorf("call failed: %w", context.Canceled)
		require.Equal(t, ErrorTypeFatal, ClassifyError(err).Type)
	})

	t.Run("rate limits are transient", func(t *testing.T) {
		err := errors.New("rate limit exceeded")
		require.Equal(t, ErrorTypeTransient, ClassifyError(err).Type)
		require.True(t, IsTransient(err))
	})

	t.Run("unknown errors default to transient", func(t *testing.T) {
		err := errors.New("something odd happened")
		require.Equal(t, ErrorTypeTransient, ClassifyError(err).Type)
	})
}

func TestWorkflowErrorUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := NewTransientError(cause)
	require.ErrorIs(t, err, cause)
	require.Equal(t, "transient: boom", err.Error())
}
