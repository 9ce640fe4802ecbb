package status

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestCodeOf verifies wrapped sentinels collapse to their codes.
func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Code
	}{
		{"nil", nil, OK},
		{"invalid argument", fmt.Errorf("%w: size 0", ErrInvalidArgument), InvalidArgument},
		{"exhausted", fmt.Errorf("%w: group full", ErrResourceExhausted), ResourceExhausted},
		{"empty", ErrEmpty, Empty},
		{"would block", ErrWouldBlock, Empty},
		{"timeout", fmt.Errorf("get frame: %w", ErrTimeout), Empty},
		{"invalid index", fmt.Errorf("%w: slot 40", ErrInvalidIndex), InvalidIndex},
		{"hardware", fmt.Errorf("%w: wait", ErrHardwareFailure), HardwareFailure},
		{"closed", ErrClosed, Closed},
		{"foreign", errors.New("boom"), Unknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CodeOf(tt.err))
		})
	}
}

// TestWouldBlockIsEmpty verifies the polling outcomes share the Empty sentinel.
func TestWouldBlockIsEmpty(t *testing.T) {
	assert.ErrorIs(t, ErrWouldBlock, ErrEmpty)
	assert.ErrorIs(t, ErrTimeout, ErrEmpty)
	assert.NotErrorIs(t, ErrWouldBlock, ErrTimeout)
	assert.Equal(t, "empty: would block", ErrWouldBlock.Error())
}

func TestCodeString(t *testing.T) {
	assert.Equal(t, "resource_exhausted", ResourceExhausted.String())
	assert.Equal(t, "unknown", Code(99).String())
}
