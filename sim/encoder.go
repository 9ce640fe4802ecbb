package sim

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/hwcodec/buffer"
	"github.com/opd-ai/hwcodec/frame"
	"github.com/opd-ai/hwcodec/interfaces"
	"github.com/opd-ai/hwcodec/status"
	"github.com/opd-ai/hwcodec/task"
)

var (
	_ interfaces.IEncoder          = (*Encoder)(nil)
	_ interfaces.IHAL[task.Encode] = (*EncHAL)(nil)
)

// DefaultGOPLength is the distance between I pictures of the Encoder.
const DefaultGOPLength = 8

// Encoder is a toy encoder plugin producing packets the Parser decodes:
// an I picture every GOP length frames and P pictures in between.
type Encoder struct {
	log *logrus.Entry

	mu     sync.Mutex
	group  *buffer.Group
	gopLen int
	count  int

	finished atomic.Int64
}

// NewEncoder returns an encoder with an I picture every gopLen frames.
func NewEncoder(gopLen int) *Encoder {
	if gopLen <= 0 {
		gopLen = DefaultGOPLength
	}
	return &Encoder{
		log:    logrus.WithField("component", "sim.Encoder"),
		gopLen: gopLen,
	}
}

// Init binds the encoder to its packet group.
func (e *Encoder) Init(cfg interfaces.EncoderConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.group = cfg.PacketGroup
	e.log.WithFields(logrus.Fields{
		"function": "Init",
		"gop":      e.gopLen,
	}).Debug("Simulated encoder initialized")
	return nil
}

// Prepare allocates the output packet and picks the picture type.
func (e *Encoder) Prepare(f *frame.Frame, t *task.Encode) error {
	src := f.Buffer()
	if src == nil {
		return fmt.Errorf("%w: frame without buffer", status.ErrInvalidArgument)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	typ := PictureP
	if e.count%e.gopLen == 0 {
		typ = PictureI
	}

	b, err := e.group.Acquire(HeaderSize + src.Size())
	if err != nil {
		return err
	}
	pkt, err := frame.NewPacketFromBuffer(b, 0)
	_ = b.DecRef()
	if err != nil {
		return err
	}
	pkt.PTS = f.PTS
	pkt.DTS = f.PTS

	t.Frame = f
	t.Packet = pkt
	t.Syntax = &Picture{Header: Header{Type: typ, POC: e.count}, Width: f.Width, Height: f.Height}
	e.count++
	return nil
}

// Finish flags intra packets.
func (e *Encoder) Finish(t *task.Encode) error {
	pic, ok := t.Syntax.(*Picture)
	if !ok {
		return fmt.Errorf("%w: task without picture syntax", status.ErrInvalidArgument)
	}
	if pic.Type == PictureI {
		t.Packet.Flags |= frame.PacketIntra
	}
	e.finished.Add(1)
	return nil
}

// Reset restarts the GOP.
func (e *Encoder) Reset() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.count = 0
	return nil
}

// Control supports no commands.
func (e *Encoder) Control(cmd interfaces.Command, param any) error {
	return fmt.Errorf("%w: %s", interfaces.ErrUnsupportedCommand, cmd)
}

// Deinit releases nothing.
func (e *Encoder) Deinit() error { return nil }

// Finished returns the number of tasks passed to Finish.
func (e *Encoder) Finished() int { return int(e.finished.Load()) }

type encRegisters struct {
	set    bool
	src    int
	srcGrp *buffer.Group
	dst    int
	header Header
}

// EncHAL is a simulated encode backend: it writes the picture header
// followed by the raw frame bytes into the task packet.
type EncHAL struct {
	log *logrus.Entry

	mu          sync.Mutex
	opts        halOptions
	packetGroup *buffer.Group
	regs        encRegisters

	completed atomic.Int64
}

// NewEncHAL returns an uninitialized encode backend.
func NewEncHAL(opts ...HALOption) *EncHAL {
	return &EncHAL{
		log:  logrus.WithField("component", "sim.EncHAL"),
		opts: buildOptions(opts),
	}
}

// Init binds the backend to its packet group. Frame handles are resolved
// in the group of each frame's buffer, so callers may encode frames from
// any group.
func (h *EncHAL) Init(cfg interfaces.HALConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.PacketGroup == nil {
		return interfaces.ErrNilGroup
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.packetGroup = cfg.PacketGroup
	return nil
}

// GenRegs records the source and destination handles.
func (h *EncHAL) GenRegs(t *task.Encode) error {
	pic, ok := t.Syntax.(*Picture)
	if !ok {
		return fmt.Errorf("%w: task without picture syntax", status.ErrInvalidArgument)
	}
	if t.Frame == nil || t.Frame.Buffer() == nil || t.Packet == nil || t.Packet.Buffer() == nil {
		return fmt.Errorf("%w: encode task without buffers", status.ErrInvalidArgument)
	}
	src := t.Frame.Buffer()

	h.mu.Lock()
	defer h.mu.Unlock()
	h.regs = encRegisters{
		set:    true,
		src:    src.Handle(),
		srcGrp: src.Group(),
		dst:    t.Packet.Buffer().Handle(),
		header: pic.Header,
	}
	return nil
}

// Start submits the registers.
func (h *EncHAL) Start(t *task.Encode) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.regs.set {
		return fmt.Errorf("%w: start without registers", status.ErrInvalidArgument)
	}
	return nil
}

// Wait produces the bitstream and sets the packet length.
func (h *EncHAL) Wait(t *task.Encode) error {
	h.mu.Lock()
	regs := h.regs
	h.regs = encRegisters{}
	opts := h.opts
	packets := h.packetGroup
	h.mu.Unlock()

	hold(opts, regs.header.POC)
	if opts.failPOC[regs.header.POC] {
		return fmt.Errorf("%w: injected failure at poc %d", status.ErrHardwareFailure, regs.header.POC)
	}

	src, err := regs.srcGrp.Lookup(regs.src)
	if err != nil {
		return err
	}
	defer src.DecRef()
	dst, err := packets.Lookup(regs.dst)
	if err != nil {
		return err
	}
	defer dst.DecRef()
	raw, err := src.Map()
	if err != nil {
		return err
	}
	out := EncodePacket(regs.header.Type, regs.header.POC, raw)
	if _, err := dst.Write(0, out); err != nil {
		return err
	}
	if err := t.Packet.SetLength(len(out)); err != nil {
		return err
	}
	h.completed.Add(1)
	return nil
}

// Reset drops pending registers.
func (h *EncHAL) Reset() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.regs = encRegisters{}
	return nil
}

// Flush has nothing to drain.
func (h *EncHAL) Flush() error { return nil }

// Control supports no commands.
func (h *EncHAL) Control(cmd interfaces.Command, param any) error {
	return fmt.Errorf("%w: %s", interfaces.ErrUnsupportedCommand, cmd)
}

// Deinit releases nothing.
func (h *EncHAL) Deinit() error { return nil }

// Completed returns the number of finished jobs.
func (h *EncHAL) Completed() int { return int(h.completed.Load()) }
