package interfaces

import (
	"errors"
	"fmt"

	"github.com/opd-ai/hwcodec/buffer"
	"github.com/opd-ai/hwcodec/frame"
	"github.com/opd-ai/hwcodec/slot"
	"github.com/opd-ai/hwcodec/status"
	"github.com/opd-ai/hwcodec/task"
)

// Coding identifies a compression format.
type Coding int

const (
	CodingUnknown Coding = iota
	CodingAVC
	CodingHEVC
	CodingVP9
	CodingAV1
	CodingMPEG2
	// CodingSim is the synthetic format of the sim package.
	CodingSim
)

// String returns the coding name.
func (c Coding) String() string {
	switch c {
	case CodingAVC:
		return "avc"
	case CodingHEVC:
		return "hevc"
	case CodingVP9:
		return "vp9"
	case CodingAV1:
		return "av1"
	case CodingMPEG2:
		return "mpeg2"
	case CodingSim:
		return "sim"
	default:
		return fmt.Sprintf("coding(%d)", int(c))
	}
}

// Validation errors for plugin and backend configuration.
var (
	// ErrNilSlots indicates a decoder configuration without a slot table.
	ErrNilSlots = fmt.Errorf("%w: slot table is required", status.ErrInvalidArgument)
	// ErrNilGroup indicates a configuration without a buffer group.
	ErrNilGroup = fmt.Errorf("%w: buffer group is required", status.ErrInvalidArgument)
	// ErrUnsupportedCommand is returned by Control for commands a component
	// does not handle. The pipeline forwards such commands to the next
	// component.
	ErrUnsupportedCommand = fmt.Errorf("%w: unsupported command", status.ErrInvalidArgument)
)

// IsUnsupported reports whether err means the command was not handled.
func IsUnsupported(err error) bool {
	return errors.Is(err, ErrUnsupportedCommand)
}

// ParserConfig is handed to a codec plugin at Init.
type ParserConfig struct {
	Coding Coding
	// Slots is the decoder's slot table. The plugin claims, references and
	// queues slots for display itself.
	Slots *slot.Table
	// FrameGroup supplies the buffers bound to claimed slots. It may be
	// replaced at runtime through CmdSetFrameGroup.
	FrameGroup *buffer.Group
	// FastMode allows more than one task in flight between the stages.
	FastMode bool
}

// Validate checks that the configuration can drive a plugin.
func (c *ParserConfig) Validate() error {
	if c.Slots == nil {
		return ErrNilSlots
	}
	if c.FrameGroup == nil {
		return ErrNilGroup
	}
	return nil
}

// TaskResult reports a finished decode task back to the plugin.
type TaskResult struct {
	Output int
	Refs   []int
	Flags  task.Flag
	// Err is the hardware error, if any.
	Err error
}

// IParser is the codec plugin capability consumed by the parse stage.
//
// Prepare takes bytes from the packet into the task (it may consume only
// part of the packet, in which case it is called again with the remainder).
// Parse turns the prepared task into syntax for the hardware, claiming the
// output slot and its buffer and marking reference and display state on
// the slot table. A Parse returning status.ErrResourceExhausted because the
// frame group is full is retried with the same task once a buffer returns.
type IParser interface {
	Init(cfg ParserConfig) error
	Prepare(pkt *frame.Packet, t *task.Decode) error
	Parse(t *task.Decode) error
	// Flush drains held pictures to the display queue at end of stream.
	Flush() error
	// Reset drops all codec state; the slot table is reset separately.
	Reset() error
	Control(cmd Command, param any) error
	Callback(res TaskResult) error
	Deinit() error
}

// EncoderConfig is handed to an encoder plugin at Init.
type EncoderConfig struct {
	Coding Coding
	// PacketGroup supplies output bitstream buffers.
	PacketGroup *buffer.Group
}

// Validate checks that the configuration can drive an encoder plugin.
func (c *EncoderConfig) Validate() error {
	if c.PacketGroup == nil {
		return ErrNilGroup
	}
	return nil
}

// IEncoder is the encoder plugin capability. Prepare fills a task from an
// input frame, allocating the output packet; Finish runs after the
// hardware stage and may trim or annotate the packet.
type IEncoder interface {
	Init(cfg EncoderConfig) error
	Prepare(f *frame.Frame, t *task.Encode) error
	Finish(t *task.Encode) error
	Reset() error
	Control(cmd Command, param any) error
	Deinit() error
}
