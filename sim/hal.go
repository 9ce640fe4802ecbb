package sim

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/hwcodec/buffer"
	"github.com/opd-ai/hwcodec/interfaces"
	"github.com/opd-ai/hwcodec/slot"
	"github.com/opd-ai/hwcodec/status"
	"github.com/opd-ai/hwcodec/task"
)

var _ interfaces.IHAL[task.Decode] = (*HAL)(nil)

// HALOption configures a simulated backend.
type HALOption func(*halOptions)

type halOptions struct {
	delay   time.Duration
	failPOC map[int]bool
	gate    <-chan struct{}
	entered chan<- int
}

// WithDelay makes every job take d.
func WithDelay(d time.Duration) HALOption {
	return func(o *halOptions) { o.delay = d }
}

// WithFailPOC makes jobs for the given POCs fail with status.ErrHardwareFailure.
func WithFailPOC(pocs ...int) HALOption {
	return func(o *halOptions) {
		for _, poc := range pocs {
			o.failPOC[poc] = true
		}
	}
}

// WithGate holds every Wait until gate is closed (or receives). If entered
// is non-nil, Wait sends the job's POC on it, without blocking, before
// waiting on the gate.
func WithGate(gate <-chan struct{}, entered chan<- int) HALOption {
	return func(o *halOptions) {
		o.gate = gate
		o.entered = entered
	}
}

func buildOptions(opts []HALOption) halOptions {
	o := halOptions{failPOC: make(map[int]bool)}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

type registers struct {
	set    bool
	poc    int
	out    int
	outGrp *buffer.Group
	pkt    int
	pktGrp *buffer.Group
	offset int
	length int
}

// HAL is a simulated decode backend. A job copies the picture payload from
// the packet buffer into the output slot buffer, both resolved from their
// integer handles, and fills the rest of the picture with the POC. Each
// handle is resolved in the group its buffer came from, so a frame group
// replaced at runtime needs no notification and packets may come from
// another context's group.
type HAL struct {
	log *logrus.Entry

	mu          sync.Mutex
	opts        halOptions
	slots       *slot.Table
	regs        registers

	jobs      atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
}

// NewHAL returns an uninitialized backend.
func NewHAL(opts ...HALOption) *HAL {
	return &HAL{
		log:  logrus.WithField("component", "sim.HAL"),
		opts: buildOptions(opts),
	}
}

// Init binds the backend to the decoder's slot table and groups.
func (h *HAL) Init(cfg interfaces.HALConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.Slots == nil {
		return interfaces.ErrNilSlots
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.slots = cfg.Slots
	h.log.WithFields(logrus.Fields{
		"function": "Init",
		"delay":    h.opts.delay,
		"failures": len(h.opts.failPOC),
	}).Debug("Simulated decode backend initialized")
	return nil
}

// GenRegs translates the task into handles and offsets.
func (h *HAL) GenRegs(t *task.Decode) error {
	pic, ok := t.Syntax.(*Picture)
	if !ok {
		return fmt.Errorf("%w: task without picture syntax", status.ErrInvalidArgument)
	}
	out, err := h.slots.Buffer(t.Output)
	if err != nil {
		return err
	}
	if out == nil {
		return fmt.Errorf("%w: output slot %d has no buffer", status.ErrInvalidIndex, t.Output)
	}
	if t.Packet == nil || t.Packet.Buffer() == nil {
		return fmt.Errorf("%w: packet is not buffer backed", status.ErrInvalidArgument)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.regs = registers{
		set:    true,
		poc:    pic.POC,
		out:    out.Handle(),
		outGrp: out.Group(),
		pkt:    t.Packet.Buffer().Handle(),
		pktGrp: t.Packet.Buffer().Group(),
		offset: pic.PayloadOffset,
		length: pic.PayloadLen,
	}
	return nil
}

// Start submits the registers.
func (h *HAL) Start(t *task.Decode) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.regs.set {
		return fmt.Errorf("%w: start without registers", status.ErrInvalidArgument)
	}
	h.jobs.Add(1)
	return nil
}

// Wait runs the job to completion.
func (h *HAL) Wait(t *task.Decode) error {
	h.mu.Lock()
	regs := h.regs
	h.regs = registers{}
	opts := h.opts
	h.mu.Unlock()

	hold(opts, regs.poc)
	if opts.failPOC[regs.poc] {
		h.failed.Add(1)
		return fmt.Errorf("%w: injected failure at poc %d", status.ErrHardwareFailure, regs.poc)
	}

	src, err := regs.pktGrp.Lookup(regs.pkt)
	if err != nil {
		return err
	}
	defer src.DecRef()
	dst, err := regs.outGrp.Lookup(regs.out)
	if err != nil {
		return err
	}
	defer dst.DecRef()
	payload := make([]byte, regs.length)
	if _, err := src.Read(regs.offset, payload); err != nil {
		return err
	}
	data, err := dst.Map()
	if err != nil {
		return err
	}
	n := copy(data, payload)
	for i := n; i < len(data); i++ {
		data[i] = byte(regs.poc)
	}

	h.completed.Add(1)
	return nil
}

func hold(opts halOptions, poc int) {
	if opts.entered != nil {
		select {
		case opts.entered <- poc:
		default:
		}
	}
	if opts.gate != nil {
		<-opts.gate
	}
	if opts.delay > 0 {
		time.Sleep(opts.delay)
	}
}

// Reset drops pending registers.
func (h *HAL) Reset() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.regs = registers{}
	return nil
}

// Flush has nothing to drain; every job finishes in Wait.
func (h *HAL) Flush() error { return nil }

// Control handles CmdSetDelay.
func (h *HAL) Control(cmd interfaces.Command, param any) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	switch cmd {
	case CmdSetDelay:
		d, ok := param.(time.Duration)
		if !ok || d < 0 {
			return fmt.Errorf("%w: delay param %v", status.ErrInvalidArgument, param)
		}
		h.opts.delay = d
		return nil
	default:
		return fmt.Errorf("%w: %s", interfaces.ErrUnsupportedCommand, cmd)
	}
}

// Deinit releases nothing.
func (h *HAL) Deinit() error { return nil }

// Jobs returns the number of started jobs.
func (h *HAL) Jobs() int { return int(h.jobs.Load()) }

// Completed returns the number of jobs that finished successfully.
func (h *HAL) Completed() int { return int(h.completed.Load()) }

// Failed returns the number of jobs that reported a hardware failure.
func (h *HAL) Failed() int { return int(h.failed.Load()) }
