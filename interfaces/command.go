package interfaces

// Command selects a Control operation.
type Command int

const (
	// CmdSetInputTimeout sets the input port timeout (param time.Duration).
	CmdSetInputTimeout Command = iota + 1
	// CmdSetOutputTimeout sets the output port timeout (param time.Duration).
	CmdSetOutputTimeout
	// CmdSetFrameGroup replaces the decoder's frame group with an external
	// one (param *buffer.Group).
	CmdSetFrameGroup
	// CmdGetStats copies pipeline statistics into param (*pipeline.Stats).
	CmdGetStats
	// CmdSetDisableError toggles delivery of errored frames (param bool).
	CmdSetDisableError

	// CmdCodecBase is the first command reserved for codec plugins and
	// backends. The pipeline forwards these to the plugin, then the backend.
	CmdCodecBase Command = 0x1000
)

// String returns the command name.
func (c Command) String() string {
	switch c {
	case CmdSetInputTimeout:
		return "set_input_timeout"
	case CmdSetOutputTimeout:
		return "set_output_timeout"
	case CmdSetFrameGroup:
		return "set_frame_group"
	case CmdGetStats:
		return "get_stats"
	case CmdSetDisableError:
		return "set_disable_error"
	default:
		if c >= CmdCodecBase {
			return "codec_command"
		}
		return "unknown_command"
	}
}
