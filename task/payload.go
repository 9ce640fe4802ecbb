package task

import (
	"github.com/opd-ai/hwcodec/frame"
)

// Flag carries per-task state bits shared by the decode and encode paths.
type Flag uint32

const (
	// FlagEOS marks the end-of-stream marker task. It carries no hardware job.
	FlagEOS Flag = 1 << iota
	// FlagParseErr marks a task whose plugin parse failed.
	FlagParseErr
	// FlagRefErr marks a task with at least one errored reference.
	FlagRefErr
	// FlagHWErr marks a task the hardware backend failed on.
	FlagHWErr
	// FlagNoOutput marks a task that consumed input without producing a slot,
	// such as a header-only packet.
	FlagNoOutput
)

// NoSlot is the Output value of a task with no claimed slot.
const NoSlot = -1

// Decode is the payload of a decode task.
type Decode struct {
	// Packet is the input the plugin consumed; the task holds its buffer
	// reference until the task is recycled.
	Packet *frame.Packet
	// Output is the slot the hardware writes, or NoSlot.
	Output int
	// Refs are the slots the hardware reads.
	Refs []int
	// Syntax is the plugin-defined parsed picture, opaque to the pipeline.
	Syntax any
	Flags  Flag
}

// NewDecode returns an empty decode payload with no output slot.
func NewDecode() Decode { return Decode{Output: NoSlot} }

// HasOutput reports whether the task claimed an output slot.
func (d Decode) HasOutput() bool { return d.Output != NoSlot }

// Encode is the payload of an encode task.
type Encode struct {
	// Frame is the picture to encode; the task holds its buffer reference.
	Frame *frame.Frame
	// Packet receives the bitstream.
	Packet *frame.Packet
	// Syntax is the plugin-defined rate control and header state.
	Syntax any
	Flags  Flag
	// Seq numbers input frames so output packets leave in submission order.
	Seq uint64
}
