package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/hwcodec/buffer"
	"github.com/opd-ai/hwcodec/config"
	"github.com/opd-ai/hwcodec/frame"
	"github.com/opd-ai/hwcodec/interfaces"
	"github.com/opd-ai/hwcodec/status"
	"github.com/opd-ai/hwcodec/task"
)

const encodeWake = EventPacketEnqueued | EventTaskReturned | EventReset

type encPending struct {
	h task.Handle
	t task.Encode
}

// Encoder is the encode coordinator. Frames enter through PutFrame, the
// plugin prepares one task per frame, the backend fills the task packet,
// and packets leave through GetPacket in submission order.
type Encoder struct {
	*runner

	cfg    *config.Config
	coding interfaces.Coding
	enc    interfaces.IEncoder
	hal    interfaces.IHAL[task.Encode]

	tasks   *task.Pool[task.Encode]
	hwq     chan task.Handle
	frames  *buffer.Group
	packets *buffer.Group

	// guarded by runner.mu
	input        []*frame.Frame
	output       []*frame.Packet
	seq          uint64
	disableError bool

	// guarded by parseMu
	cur *encPending

	stats counters
}

// NewEncoder wires enc and hal into a running encode pipeline. A nil cfg
// uses config.Default.
func NewEncoder(cfg *config.Config, coding interfaces.Coding, enc interfaces.IEncoder, hal interfaces.IHAL[task.Encode]) (*Encoder, error) {
	if enc == nil || hal == nil {
		return nil, fmt.Errorf("%w: encoder needs a plugin and a backend", status.ErrInvalidArgument)
	}
	if cfg == nil {
		cfg = config.Default()
	} else {
		cfg = cfg.Clone()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	r := newRunner("encoder", cfg.InputTimeout, cfg.OutputTimeout)
	short := r.id[:8]

	tasks, err := task.NewPool[task.Encode]("enc-"+short, cfg.Tasks)
	if err != nil {
		return nil, err
	}
	frames, err := newGroup("enc-"+short+"-frames", cfg.FrameGroup)
	if err != nil {
		return nil, err
	}
	packets, err := newGroup("enc-"+short+"-packets", cfg.PacketGroup)
	if err != nil {
		closeGroups(frames)
		return nil, err
	}

	e := &Encoder{
		runner:       r,
		cfg:          cfg,
		coding:       coding,
		enc:          enc,
		hal:          hal,
		tasks:        tasks,
		hwq:          make(chan task.Handle, tasks.Capacity()),
		frames:       frames,
		packets:      packets,
		disableError: cfg.DisableError,
	}

	if err := enc.Init(interfaces.EncoderConfig{Coding: coding, PacketGroup: packets}); err != nil {
		closeGroups(frames, packets)
		return nil, fmt.Errorf("encoder init: %w", err)
	}
	if err := hal.Init(interfaces.HALConfig{Coding: coding, FrameGroup: frames, PacketGroup: packets}); err != nil {
		_ = enc.Deinit()
		closeGroups(frames, packets)
		return nil, fmt.Errorf("hal init: %w", err)
	}

	e.start(e.prepareLoop, e.hwLoop)

	e.log.WithFields(logrus.Fields{
		"function": "NewEncoder",
		"coding":   coding.String(),
		"tasks":    cfg.Tasks,
	}).Info("Encoder started")
	return e, nil
}

// ID returns the encoder's context identifier.
func (e *Encoder) ID() string { return e.id }

// FrameGroup returns the group callers may draw input frame buffers from.
// Frames backed by any other group are accepted as well.
func (e *Encoder) FrameGroup() *buffer.Group { return e.frames }

// PutFrame queues f for encoding, waiting per the input timeout while the
// input queue is full. The pipeline takes its own reference on the frame
// buffer; the caller keeps f. A frame flagged frame.FlagEOS may carry no
// buffer and ends the stream.
func (e *Encoder) PutFrame(f *frame.Frame) error {
	in, _ := e.timeouts()
	return e.PutFrameTimeout(f, in)
}

// PutFrameTimeout is PutFrame with an explicit timeout.
func (e *Encoder) PutFrameTimeout(f *frame.Frame, to Timeout) error {
	if f == nil {
		return fmt.Errorf("%w: nil frame", status.ErrInvalidArgument)
	}
	if f.Buffer() == nil && !f.IsEOS() {
		return fmt.Errorf("%w: frame without buffer", status.ErrInvalidArgument)
	}
	if err := validTimeout(to); err != nil {
		return err
	}
	if err := e.checkOpen(); err != nil {
		return err
	}

	cp := frame.NewWithInfo(f.Info)
	if b := f.Buffer(); b != nil {
		if err := cp.SetBuffer(b); err != nil {
			return err
		}
	}
	_, err := poll(e.ctx, e.apiEv, to, func() (struct{}, error) {
		return struct{}{}, e.enqueueInput(cp)
	})
	if err != nil {
		_ = cp.Release()
		return err
	}

	e.stats.packetsIn.Add(1)
	e.parseEv.Signal(EventPacketEnqueued)
	return nil
}

func (e *Encoder) enqueueInput(f *frame.Frame) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed.Load() {
		return fmt.Errorf("%w: pipeline %s", status.ErrClosed, e.id)
	}
	if len(e.input) >= e.cfg.InputQueue {
		return fmt.Errorf("%w: input queue full (%d)", status.ErrWouldBlock, len(e.input))
	}
	e.input = append(e.input, f)
	return nil
}

// GetPacket returns the next encoded packet in submission order, waiting
// per the output timeout. A packet whose hardware job failed carries
// frame.MetaKeyErrInfo in its metadata unless errors are disabled, in
// which case it is dropped. After the end of stream an empty packet
// flagged frame.PacketEOS is returned. The caller must Release packets.
func (e *Encoder) GetPacket() (*frame.Packet, error) {
	_, out := e.timeouts()
	return e.GetPacketTimeout(out)
}

// GetPacketTimeout is GetPacket with an explicit timeout.
func (e *Encoder) GetPacketTimeout(to Timeout) (*frame.Packet, error) {
	if err := validTimeout(to); err != nil {
		return nil, err
	}
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	return poll(e.ctx, e.apiEv, to, e.nextPacket)
}

func (e *Encoder) nextPacket() (*frame.Packet, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.output) == 0 {
		return nil, status.ErrWouldBlock
	}
	pkt := e.output[0]
	e.output[0] = nil
	e.output = e.output[1:]
	e.stats.framesOut.Add(1)
	return pkt, nil
}

func (e *Encoder) prepareLoop(ctx context.Context) error {
	var retry <-chan struct{}
	for {
		ev, wake := e.parseEv.Take(encodeWake)
		if ev == 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-wake:
				continue
			case <-retry:
			}
		}
		retry = nil
		for ctx.Err() == nil {
			progressed, notify := e.prepareOnce()
			if notify != nil {
				retry = notify
			}
			if !progressed {
				break
			}
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// prepareOnce turns the head input frame into a task for the backend.
func (e *Encoder) prepareOnce() (bool, <-chan struct{}) {
	e.parseMu.Lock()
	defer e.parseMu.Unlock()

	if e.cur == nil {
		e.mu.Lock()
		if len(e.input) == 0 {
			e.mu.Unlock()
			return false, nil
		}
		f := e.input[0]
		e.mu.Unlock()

		if !e.cfg.FastMode {
			if _, used := e.tasks.Counts(); used > 0 {
				return false, nil
			}
		}
		h, err := e.tasks.Acquire(task.StateUnused)
		if err != nil {
			return false, nil
		}

		e.mu.Lock()
		e.input[0] = nil
		e.input = e.input[1:]
		e.seq++
		t := task.Encode{Frame: f, Seq: e.seq}
		e.mu.Unlock()
		e.apiEv.Signal(EventInputConsumed)

		if f.IsEOS() {
			t.Flags |= task.FlagEOS
			e.submit(h, t)
			return true, nil
		}
		e.cur = &encPending{h: h, t: t}
	}

	cur := e.cur
	notify := e.packets.Notify()
	err := e.enc.Prepare(cur.t.Frame, &cur.t)
	switch {
	case err == nil:
	case errors.Is(err, buffer.ErrGroupFull):
		e.log.WithField("function", "prepare").Debug("Packet group full, waiting for a buffer")
		return false, notify
	default:
		e.stats.parseErrors.Add(1)
		e.log.WithFields(logrus.Fields{
			"function": "prepare",
			"seq":      cur.t.Seq,
			"error":    err.Error(),
		}).Warn("Frame rejected by encoder")
		e.cur = nil
		e.discardTask(&cur.t)
		_ = e.tasks.Release(cur.h)
		return true, nil
	}

	e.cur = nil
	e.submit(cur.h, cur.t)
	return true, nil
}

func (e *Encoder) submit(h task.Handle, t task.Encode) {
	if err := e.tasks.Write(h, t); err != nil {
		e.log.WithFields(logrus.Fields{
			"function": "submit",
			"task":     h.String(),
			"error":    err.Error(),
		}).Error("Task write failed")
		return
	}
	qh, err := e.tasks.Transfer(h, task.StateUsed)
	if err != nil {
		e.log.WithFields(logrus.Fields{
			"function": "submit",
			"task":     h.String(),
			"error":    err.Error(),
		}).Error("Task transfer failed")
		return
	}
	e.hwq <- qh
}

func (e *Encoder) hwLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case qh := <-e.hwq:
			e.runJob(qh)
		}
	}
}

func (e *Encoder) runJob(qh task.Handle) {
	e.hwMu.Lock()
	defer e.hwMu.Unlock()

	h, err := e.tasks.Claim(qh)
	if err != nil {
		e.log.WithFields(logrus.Fields{
			"function": "hw",
			"task":     qh.String(),
		}).Debug("Dropping stale task")
		return
	}
	t, err := e.tasks.Read(h)
	if err != nil {
		return
	}

	if t.Flags&task.FlagEOS != 0 {
		if err := e.hal.Flush(); err != nil {
			e.log.WithFields(logrus.Fields{
				"function": "hw",
				"error":    err.Error(),
			}).Warn("Backend flush failed")
		}
		eos := frame.NewEOSPacket()
		eos.PTS = t.Frame.PTS
		e.deliver(eos)
		e.finishTask(h, &t)
		return
	}

	hwErr := e.runHardware(&t)
	if hwErr == nil {
		hwErr = e.enc.Finish(&t)
	}
	pkt := t.Packet
	t.Packet = nil
	if hwErr != nil {
		e.stats.hardwareErrors.Add(1)
		t.Flags |= task.FlagHWErr
		e.log.WithFields(logrus.Fields{
			"function": "hw",
			"seq":      t.Seq,
			"error":    hwErr.Error(),
		}).Warn("Hardware job failed")

		e.mu.Lock()
		drop := e.disableError
		e.mu.Unlock()
		switch {
		case drop:
			e.stats.discarded.Add(1)
			_ = pkt.Release()
			pkt = nil
		case pkt == nil:
			pkt = frame.NewPacket(nil)
			pkt.PTS = t.Frame.PTS
			fallthrough
		default:
			pkt.Meta().SetInt(frame.MetaKeyErrInfo, int64(frame.ErrInfoHardware))
		}
	}
	if pkt != nil {
		e.deliver(pkt)
	}
	e.finishTask(h, &t)
}

// runHardware programs, starts and waits for one job. Every failure is
// reported as status.ErrHardwareFailure.
func (e *Encoder) runHardware(t *task.Encode) error {
	steps := []struct {
		name string
		fn   func(*task.Encode) error
	}{
		{"gen_regs", e.hal.GenRegs},
		{"start", e.hal.Start},
		{"wait", e.hal.Wait},
	}
	for _, s := range steps {
		if err := s.fn(t); err != nil {
			if errors.Is(err, status.ErrHardwareFailure) {
				return err
			}
			return fmt.Errorf("%w: %s: %v", status.ErrHardwareFailure, s.name, err)
		}
	}
	return nil
}

func (e *Encoder) deliver(pkt *frame.Packet) {
	e.mu.Lock()
	e.output = append(e.output, pkt)
	e.mu.Unlock()
	e.apiEv.Signal(EventFrameReady)
}

func (e *Encoder) discardTask(t *task.Encode) {
	if t.Frame != nil {
		_ = t.Frame.Release()
	}
	if t.Packet != nil {
		_ = t.Packet.Release()
	}
}

func (e *Encoder) finishTask(h task.Handle, t *task.Encode) {
	e.discardTask(t)
	_ = e.tasks.Write(h, task.Encode{})
	if _, err := e.tasks.Transfer(h, task.StateUnused); err != nil {
		e.log.WithFields(logrus.Fields{
			"function": "hw",
			"task":     h.String(),
			"error":    err.Error(),
		}).Error("Task return failed")
	}
	e.parseEv.Signal(EventTaskReturned)
	e.apiEv.Signal(EventTaskReturned)
}

// Reset discards queued frames, in-flight tasks and undelivered packets
// and resets the plugin and backend. A hardware job already running is
// allowed to finish first.
func (e *Encoder) Reset() error {
	if err := e.checkOpen(); err != nil {
		return err
	}
	resume := e.pause()
	defer resume()
	if err := e.checkOpen(); err != nil {
		return err
	}

	dropped := e.discardAll()
	var errs []error
	if err := e.enc.Reset(); err != nil {
		errs = append(errs, fmt.Errorf("encoder reset: %w", err))
	}
	if err := e.hal.Reset(); err != nil {
		errs = append(errs, fmt.Errorf("hal reset: %w", err))
	}
	e.stats.clearErrors()

	e.log.WithFields(logrus.Fields{
		"function": "Reset",
		"tasks":    dropped,
	}).Info("Encoder reset")

	e.parseEv.Signal(EventReset)
	e.apiEv.Signal(EventReset)
	return errors.Join(errs...)
}

func (e *Encoder) discardAll() int {
drain:
	for {
		select {
		case <-e.hwq:
		default:
			break drain
		}
	}
	if e.cur != nil {
		e.discardTask(&e.cur.t)
		e.cur = nil
	}
	moved := e.tasks.Reset(e.discardTask)

	e.mu.Lock()
	for _, f := range e.input {
		_ = f.Release()
	}
	for _, p := range e.output {
		_ = p.Release()
	}
	e.input, e.output = nil, nil
	e.mu.Unlock()
	return moved
}

// Control executes a pipeline command, forwarding codec commands to the
// plugin and then to the backend.
func (e *Encoder) Control(cmd interfaces.Command, param any) error {
	if err := e.checkOpen(); err != nil {
		return err
	}
	switch cmd {
	case interfaces.CmdSetInputTimeout:
		return e.setTimeout(true, param)
	case interfaces.CmdSetOutputTimeout:
		return e.setTimeout(false, param)
	case interfaces.CmdSetDisableError:
		v, ok := param.(bool)
		if !ok {
			return fmt.Errorf("%w: disable_error param %T", status.ErrInvalidArgument, param)
		}
		e.mu.Lock()
		e.disableError = v
		e.mu.Unlock()
		return nil
	case interfaces.CmdGetStats:
		out, ok := param.(*Stats)
		if !ok || out == nil {
			return fmt.Errorf("%w: stats param %T", status.ErrInvalidArgument, param)
		}
		*out = e.Stats()
		return nil
	case interfaces.CmdSetFrameGroup:
		return fmt.Errorf("%w: %s on encoder", interfaces.ErrUnsupportedCommand, cmd)
	default:
		return forward(&e.parseMu, &e.hwMu, e.enc.Control, e.hal.Control, cmd, param)
	}
}

// Stats returns a snapshot of the encoder counters.
func (e *Encoder) Stats() Stats {
	var s Stats
	e.stats.fill(&s)
	s.TasksUnused, s.TasksUsed = e.tasks.Counts()
	e.mu.Lock()
	s.InputQueued = len(e.input)
	e.mu.Unlock()
	return s
}

// Close stops both stages and releases every pipeline resource. Packets
// the caller still holds stay valid. Close is idempotent.
func (e *Encoder) Close() error {
	stopped, err := e.stop()
	if !stopped {
		return nil
	}
	errs := []error{err}

	resume := e.pause()
	e.discardAll()
	if err := e.enc.Deinit(); err != nil {
		errs = append(errs, fmt.Errorf("encoder deinit: %w", err))
	}
	if err := e.hal.Deinit(); err != nil {
		errs = append(errs, fmt.Errorf("hal deinit: %w", err))
	}
	resume()
	closeGroups(e.frames, e.packets)

	e.log.WithFields(logrus.Fields{
		"function": "Close",
		"stats":    fmt.Sprintf("%+v", e.Stats()),
	}).Info("Encoder closed")
	return errors.Join(errs...)
}
