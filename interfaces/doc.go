// Package interfaces defines the capabilities the codec core drives but does
// not implement: codec plugins (bitstream parsers), encoder plugins and
// hardware backends.
//
// This package provides the foundational interfaces that let the same
// pipeline run real per-codec parsers and per-ASIC register generators, or
// the simulated implementations in the sim package for deterministic tests.
//
// # Core Interfaces
//
// [IParser] is consumed by the parse stage. It receives packets and fills
// decode tasks, claiming slots from the slot table it was given at Init:
//
//	func (p *MyParser) Parse(t *task.Decode) error {
//	    idx, err := p.slots.GetUnused()
//	    if err != nil {
//	        return err
//	    }
//	    t.Output = idx
//	    return p.slots.SetOutput(idx)
//	}
//
// [IHAL] is consumed by the hardware stage. It is generic over the task
// payload so one backend type serves decoding (task.Decode) or encoding
// (task.Encode). Buffers are passed as integer handles which the backend
// resolves with buffer.Group.Lookup:
//
//	func (h *MyHAL) Start(t *task.Decode) error {
//	    b, err := h.slots.Buffer(t.Output)
//	    if err != nil {
//	        return err
//	    }
//	    return h.dev.Submit(h.regs, b.Handle())
//	}
//
// [IEncoder] mirrors IParser for the encode direction.
//
// # Configuration
//
// [ParserConfig], [EncoderConfig] and [HALConfig] carry the shared objects
// (slot table, buffer groups) a component needs. Each has a Validate method
// that Init implementations call first.
//
// # Commands
//
// Control takes a [Command]. Components return [ErrUnsupportedCommand] for
// commands they do not handle; the pipeline handles its own commands and
// forwards everything else to the plugin, then the backend.
//
// # Thread Safety
//
// A plugin is called from the parse stage and a backend from the hardware
// stage. Reset, Control and Deinit are called with the owning stage paused.
// IParser.Callback is the exception: the hardware stage calls it after each
// job, concurrently with Parse, so plugins synchronize any state it touches.
package interfaces
