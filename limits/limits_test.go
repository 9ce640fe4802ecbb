package limits

import (
	"errors"
	"testing"

	"github.com/opd-ai/hwcodec/status"
)

// TestLimitErrorsAreInvalidArgument verifies every limit error classifies as
// InvalidArgument for the top-level API.
func TestLimitErrorsAreInvalidArgument(t *testing.T) {
	for _, err := range []error{ErrEmpty, ErrTooLarge, ErrOutOfRange} {
		if status.CodeOf(err) != status.InvalidArgument {
			t.Errorf("CodeOf(%v) = %v, want InvalidArgument", err, status.CodeOf(err))
		}
	}
}

// TestValidateSize tests the generic size validation with various inputs
func TestValidateSize(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		max     int
		wantErr error
	}{
		{"zero", 0, 100, ErrEmpty},
		{"negative", -1, 100, ErrEmpty},
		{"within", 50, 100, nil},
		{"at limit", 100, 100, nil},
		{"over", 101, 100, ErrTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSize(tt.size, tt.max)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("ValidateSize(%d, %d) unexpected error: %v", tt.size, tt.max, err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateSize(%d, %d) = %v, want %v", tt.size, tt.max, err, tt.wantErr)
			}
		})
	}
}

func TestValidatePacket(t *testing.T) {
	if err := ValidatePacket(nil); !errors.Is(err, ErrEmpty) {
		t.Errorf("ValidatePacket(nil) = %v, want ErrEmpty", err)
	}
	if err := ValidatePacket([]byte{0, 0, 1}); err != nil {
		t.Errorf("ValidatePacket(3 bytes) unexpected error: %v", err)
	}
}

// TestValidateSlotCount verifies the slot table bounds.
func TestValidateSlotCount(t *testing.T) {
	for _, n := range []int{MinSlots, DefaultSlots, MaxSlots} {
		if err := ValidateSlotCount(n); err != nil {
			t.Errorf("ValidateSlotCount(%d) unexpected error: %v", n, err)
		}
	}
	for _, n := range []int{0, -3, MaxSlots + 1} {
		if err := ValidateSlotCount(n); !errors.Is(err, ErrOutOfRange) {
			t.Errorf("ValidateSlotCount(%d) = %v, want ErrOutOfRange", n, err)
		}
	}
}

func TestValidateTaskCount(t *testing.T) {
	if err := ValidateTaskCount(DefaultTasks); err != nil {
		t.Errorf("ValidateTaskCount(%d) unexpected error: %v", DefaultTasks, err)
	}
	if err := ValidateTaskCount(MaxTasks + 1); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("ValidateTaskCount(%d) = %v, want ErrOutOfRange", MaxTasks+1, err)
	}
}

func TestValidateDimensions(t *testing.T) {
	if err := ValidateDimensions(0, 0); err != nil {
		t.Errorf("ValidateDimensions(0, 0) unexpected error: %v", err)
	}
	if err := ValidateDimensions(1920, 1080); err != nil {
		t.Errorf("ValidateDimensions(1920, 1080) unexpected error: %v", err)
	}
	if err := ValidateDimensions(-1, 10); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("ValidateDimensions(-1, 10) = %v, want ErrOutOfRange", err)
	}
	if err := ValidateDimensions(MaxDimension+1, 10); !errors.Is(err, ErrTooLarge) {
		t.Errorf("ValidateDimensions(%d, 10) = %v, want ErrTooLarge", MaxDimension+1, err)
	}
	if !IsLimitError(ValidateDimensions(-1, 0)) {
		t.Error("IsLimitError should recognise dimension errors")
	}
}
