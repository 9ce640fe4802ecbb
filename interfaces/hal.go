package interfaces

import (
	"github.com/opd-ai/hwcodec/buffer"
	"github.com/opd-ai/hwcodec/slot"
)

// HALConfig is handed to a hardware backend at Init.
type HALConfig struct {
	Coding Coding
	// Slots is the decoder's slot table, from which the backend reads the
	// buffers of output and reference slots. Nil for encoders.
	Slots *slot.Table
	// Groups resolve the integer handles the backend receives.
	FrameGroup  *buffer.Group
	PacketGroup *buffer.Group
}

// Validate checks that the configuration can drive a backend.
func (c *HALConfig) Validate() error {
	if c.FrameGroup == nil && c.PacketGroup == nil {
		return ErrNilGroup
	}
	return nil
}

// IHAL is the hardware backend capability consumed by the hardware stage.
// T is the task payload: task.Decode for decoders, task.Encode for encoders.
//
// Buffers reach the backend as integer handles (buffer.Buffer.Handle), never
// as Go pointers into the caller's memory. Wait is the one call allowed to
// block for the duration of a hardware job.
type IHAL[T any] interface {
	Init(cfg HALConfig) error
	GenRegs(t *T) error
	Start(t *T) error
	Wait(t *T) error
	Reset() error
	Flush() error
	Control(cmd Command, param any) error
	Deinit() error
}
