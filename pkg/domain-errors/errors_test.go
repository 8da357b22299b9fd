package domainerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetCode(t *testing.T) {
	t.Run("coded error returns its code", func(t *testing.T) {
		err := New(CodeQuorumNotMet, "2 of 3 signatures valid")
		assert.Equal(t, CodeQuorumNotMet, GetCode(err))
	})

	t.Run("wrapped coded error survives fmt wrapping", func(t *testing.T) {
		err := fmt.Errorf("submit update: %w", New(CodeTooEarly, "cooling off"))
		assert.Equal(t, CodeTooEarly, GetCode(err))
	})

	t.Run("uncoded error maps to internal", func(t *testing.T) {
		assert.Equal(t, CodeInternal, GetCode(errors.New("boom")))
	})

	t.Run("nil maps to empty code", func(t *testing.T) {
		assert.Equal(t, Code(""), GetCode(nil))
	})
}

func TestIs(t *testing.T) {
	t.Run("matches code through wrap chain", func(t *testing.T) {
		cause := errors.New("pq: connection refused")
		err := Wrap(cause, CodeInternal, "failed to load window")
		assert.True(t, Is(err, CodeInternal))
		assert.False(t, Is(err, CodeNotFound))
	})

	t.Run("outermost code wins", func(t *testing.T) {
		inner := New(CodeNotFound, "claim not found")
		outer := Wrap(inner, CodeWrongState, "settle rejected")
		assert.True(t, Is(outer, CodeWrongState))
	})
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("dial tcp: timeout")
	err := Wrap(cause, CodeExternalCallFailed, "custodial payment failed")
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "external_call_failed")
	assert.Contains(t, err.Error(), "timeout")
}
