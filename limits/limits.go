// Package limits provides centralized size and count bounds for the codec core.
// This ensures consistent validation across buffers, slot tables, task pools
// and the pipeline configuration.
package limits

import (
	"errors"
	"fmt"

	"github.com/opd-ai/hwcodec/status"
)

const (
	// MinSlots is the smallest slot table a codec plugin may request.
	MinSlots = 1

	// MaxSlots bounds the slot table. get_unused is a linear scan, so the
	// table is kept small (H.264 needs 16 references plus display headroom).
	MaxSlots = 32

	// DefaultSlots is the slot count used when configuration leaves it unset.
	DefaultSlots = 16

	// MinTasks is the smallest task pool (one job in flight).
	MinTasks = 1

	// MaxTasks bounds the number of in-flight parse/hardware jobs.
	MaxTasks = 16

	// DefaultTasks lets the parse stage run one job ahead of the hardware stage.
	DefaultTasks = 2

	// MaxPacketSize is the largest compressed packet accepted on the input port (64MB).
	MaxPacketSize = 64 * 1024 * 1024

	// MaxBufferSize is the largest single buffer a group may hand out (256MB).
	MaxBufferSize = 256 * 1024 * 1024

	// MaxDimension bounds frame width and height (8K plus alignment headroom).
	MaxDimension = 16384

	// MaxInputQueue bounds the number of packets queued ahead of the parse stage.
	MaxInputQueue = 256
)

var (
	// ErrEmpty indicates an empty or zero-sized input was provided.
	ErrEmpty = fmt.Errorf("%w: empty input", status.ErrInvalidArgument)

	// ErrTooLarge indicates a value exceeds its upper bound.
	ErrTooLarge = fmt.Errorf("%w: value too large", status.ErrInvalidArgument)

	// ErrOutOfRange indicates a count outside its allowed range.
	ErrOutOfRange = fmt.Errorf("%w: value out of range", status.ErrInvalidArgument)
)

// ValidateSize validates a byte size against the specified maximum.
// Returns an error with context including the actual and maximum sizes.
func ValidateSize(size, maxSize int) error {
	if size <= 0 {
		return ErrEmpty
	}
	if size > maxSize {
		return fmt.Errorf("%w: size %d exceeds limit %d", ErrTooLarge, size, maxSize)
	}
	return nil
}

// ValidatePacket validates a packet payload against MaxPacketSize.
func ValidatePacket(data []byte) error {
	if len(data) == 0 {
		return ErrEmpty
	}
	if len(data) > MaxPacketSize {
		return fmt.Errorf("%w: packet size %d exceeds limit %d", ErrTooLarge, len(data), MaxPacketSize)
	}
	return nil
}

// ValidateBufferSize validates a buffer request against MaxBufferSize.
func ValidateBufferSize(size int) error {
	return ValidateSize(size, MaxBufferSize)
}

// ValidateSlotCount validates a slot table size against [MinSlots, MaxSlots].
func ValidateSlotCount(count int) error {
	return validateRange("slot count", count, MinSlots, MaxSlots)
}

// ValidateTaskCount validates a task pool capacity against [MinTasks, MaxTasks].
func ValidateTaskCount(count int) error {
	return validateRange("task count", count, MinTasks, MaxTasks)
}

// ValidateInputQueue validates the input queue depth against [1, MaxInputQueue].
func ValidateInputQueue(depth int) error {
	return validateRange("input queue", depth, 1, MaxInputQueue)
}

// ValidateDimensions validates frame geometry. Zero dimensions are allowed
// for frames that carry only flags (EOS).
func ValidateDimensions(width, height int) error {
	if width < 0 || height < 0 {
		return fmt.Errorf("%w: negative dimensions %dx%d", ErrOutOfRange, width, height)
	}
	if width > MaxDimension || height > MaxDimension {
		return fmt.Errorf("%w: dimensions %dx%d exceed %d", ErrTooLarge, width, height, MaxDimension)
	}
	return nil
}

func validateRange(what string, v, lo, hi int) error {
	if v < lo || v > hi {
		return fmt.Errorf("%w: %s %d not in [%d, %d]", ErrOutOfRange, what, v, lo, hi)
	}
	return nil
}

// IsLimitError reports whether err came from this package.
func IsLimitError(err error) bool {
	return errors.Is(err, ErrEmpty) || errors.Is(err, ErrTooLarge) || errors.Is(err, ErrOutOfRange)
}
