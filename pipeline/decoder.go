package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/hwcodec/buffer"
	"github.com/opd-ai/hwcodec/config"
	"github.com/opd-ai/hwcodec/frame"
	"github.com/opd-ai/hwcodec/interfaces"
	"github.com/opd-ai/hwcodec/limits"
	"github.com/opd-ai/hwcodec/slot"
	"github.com/opd-ai/hwcodec/status"
	"github.com/opd-ai/hwcodec/task"
)

// parseWake are the events that can unblock the decode parse stage.
const parseWake = EventPacketEnqueued | EventTaskReturned | EventFrameDequeued | EventReset

// pending is the task the parse stage is working on across retries.
type pending struct {
	h task.Handle
	t task.Decode
}

// Decoder is the decode coordinator. Packets enter through PutPacket, a
// parse goroutine turns them into tasks with the codec plugin, a hardware
// goroutine runs the backend on each task in order, and decoded frames
// leave through GetFrame in the display order chosen by the plugin.
type Decoder struct {
	*runner

	cfg    *config.Config
	coding interfaces.Coding
	parser interfaces.IParser
	hal    interfaces.IHAL[task.Decode]

	slots   *slot.Table
	tasks   *task.Pool[task.Decode]
	hwq     chan task.Handle
	packets *buffer.Group

	// guarded by runner.mu
	frames       *buffer.Group
	ownFrames    bool
	input        []*frame.Packet
	disableError bool
	eosReached   int
	eosSent      int

	// guarded by parseMu
	cur *pending

	stats counters
}

// NewDecoder wires parser and hal into a running decode pipeline. A nil
// cfg uses config.Default. The decoder owns the slot table, the task pool
// and both buffer groups; Close releases them.
func NewDecoder(cfg *config.Config, coding interfaces.Coding, parser interfaces.IParser, hal interfaces.IHAL[task.Decode]) (*Decoder, error) {
	if parser == nil || hal == nil {
		return nil, fmt.Errorf("%w: decoder needs a parser and a backend", status.ErrInvalidArgument)
	}
	if cfg == nil {
		cfg = config.Default()
	} else {
		cfg = cfg.Clone()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	r := newRunner("decoder", cfg.InputTimeout, cfg.OutputTimeout)
	short := r.id[:8]

	n := cfg.Slots
	if n == 0 {
		n = limits.DefaultSlots
	}
	slots, err := slot.NewTable(n)
	if err != nil {
		return nil, err
	}
	tasks, err := task.NewPool[task.Decode]("dec-"+short, cfg.Tasks)
	if err != nil {
		return nil, err
	}
	frames, err := newGroup("dec-"+short+"-frames", cfg.FrameGroup)
	if err != nil {
		return nil, err
	}
	packets, err := newGroup("dec-"+short+"-packets", cfg.PacketGroup)
	if err != nil {
		closeGroups(frames)
		return nil, err
	}

	d := &Decoder{
		runner:       r,
		cfg:          cfg,
		coding:       coding,
		parser:       parser,
		hal:          hal,
		slots:        slots,
		tasks:        tasks,
		hwq:          make(chan task.Handle, tasks.Capacity()),
		packets:      packets,
		frames:       frames,
		ownFrames:    true,
		disableError: cfg.DisableError,
	}

	if err := parser.Init(interfaces.ParserConfig{
		Coding:     coding,
		Slots:      slots,
		FrameGroup: frames,
		FastMode:   cfg.FastMode,
	}); err != nil {
		closeGroups(frames, packets)
		return nil, fmt.Errorf("parser init: %w", err)
	}
	if err := hal.Init(interfaces.HALConfig{
		Coding:      coding,
		Slots:       slots,
		FrameGroup:  frames,
		PacketGroup: packets,
	}); err != nil {
		_ = parser.Deinit()
		closeGroups(frames, packets)
		return nil, fmt.Errorf("hal init: %w", err)
	}

	d.start(d.parseLoop, d.hwLoop)

	d.log.WithFields(logrus.Fields{
		"function":  "NewDecoder",
		"coding":    coding.String(),
		"slots":     n,
		"tasks":     cfg.Tasks,
		"fast_mode": cfg.FastMode,
	}).Info("Decoder started")

	return d, nil
}

// ID returns the decoder's context identifier.
func (d *Decoder) ID() string { return d.id }

// Slots returns the decoder's slot table.
func (d *Decoder) Slots() *slot.Table { return d.slots }

// PutPacket queues pkt for decoding, waiting per the input timeout while
// the input queue is full. The pipeline keeps its own copy: a raw payload
// is copied into the packet group, a buffer-backed one gains a reference.
// The caller keeps ownership of pkt. An empty packet must carry PacketEOS.
func (d *Decoder) PutPacket(pkt *frame.Packet) error {
	in, _ := d.timeouts()
	return d.PutPacketTimeout(pkt, in)
}

// PutPacketTimeout is PutPacket with an explicit timeout.
func (d *Decoder) PutPacketTimeout(pkt *frame.Packet, to Timeout) error {
	if pkt == nil {
		return fmt.Errorf("%w: nil packet", status.ErrInvalidArgument)
	}
	if pkt.Len() == 0 && !pkt.IsEOS() {
		return fmt.Errorf("%w: empty packet without end of stream", status.ErrInvalidArgument)
	}
	if err := validTimeout(to); err != nil {
		return err
	}
	if err := d.checkOpen(); err != nil {
		return err
	}

	cp, err := pkt.Copy(d.packets)
	if err != nil {
		return err
	}
	_, err = poll(d.ctx, d.apiEv, to, func() (struct{}, error) {
		return struct{}{}, d.enqueueInput(cp)
	})
	if err != nil {
		_ = cp.Release()
		return err
	}

	d.stats.packetsIn.Add(1)
	d.parseEv.Signal(EventPacketEnqueued)
	return nil
}

func (d *Decoder) enqueueInput(pkt *frame.Packet) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed.Load() {
		return fmt.Errorf("%w: pipeline %s", status.ErrClosed, d.id)
	}
	if len(d.input) >= d.cfg.InputQueue {
		return fmt.Errorf("%w: input queue full (%d)", status.ErrWouldBlock, len(d.input))
	}
	d.input = append(d.input, pkt)
	return nil
}

// GetFrame returns the next frame in display order, waiting per the output
// timeout. Once the end of stream has been decoded and every frame before
// it delivered, one frame flagged frame.FlagEOS, without a buffer, is
// returned. The caller owns the frame and must Release it.
func (d *Decoder) GetFrame() (*frame.Frame, error) {
	_, out := d.timeouts()
	return d.GetFrameTimeout(out)
}

// GetFrameTimeout is GetFrame with an explicit timeout.
func (d *Decoder) GetFrameTimeout(to Timeout) (*frame.Frame, error) {
	if err := validTimeout(to); err != nil {
		return nil, err
	}
	if err := d.checkOpen(); err != nil {
		return nil, err
	}
	return poll(d.ctx, d.apiEv, to, d.nextFrame)
}

func (d *Decoder) nextFrame() (*frame.Frame, error) {
	for {
		if err := d.checkOpen(); err != nil {
			return nil, err
		}
		idx, info, buf, err := d.slots.DequeueDisplay()
		if err != nil {
			if buf != nil {
				_ = buf.DecRef()
			}
			if !errors.Is(err, status.ErrEmpty) {
				return nil, err
			}
			return d.endOfStream()
		}
		f, err := d.deliverFrame(idx, info, buf)
		if err != nil {
			return nil, err
		}
		if f != nil {
			return f, nil
		}
	}
}

// deliverFrame builds the output frame of a dequeued slot from the info and
// buffer reference DequeueDisplay captured; the slot itself is not touched
// again. It returns nil for an errored frame dropped by disable_error.
func (d *Decoder) deliverFrame(idx int, info frame.Info, buf *buffer.Buffer) (*frame.Frame, error) {
	defer d.parseEv.Signal(EventFrameDequeued)

	d.mu.Lock()
	drop := info.ErrInfo != 0 && d.disableError
	d.mu.Unlock()

	if drop {
		if buf != nil {
			_ = buf.DecRef()
		}
		d.stats.discarded.Add(1)
		d.log.WithFields(logrus.Fields{
			"function": "GetFrame",
			"slot":     idx,
			"poc":      info.POC,
			"err_info": info.ErrInfo,
		}).Debug("Errored frame discarded")
		return nil, nil
	}

	f := frame.NewWithInfo(info)
	if buf != nil {
		err := f.SetBuffer(buf)
		_ = buf.DecRef()
		if err != nil {
			return nil, err
		}
	}
	d.stats.framesOut.Add(1)
	return f, nil
}

// endOfStream delivers the end-of-stream frame once per EOS decoded, after
// every frame queued before it.
func (d *Decoder) endOfStream() (*frame.Frame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.eosSent >= d.eosReached || d.slots.DisplayPending() > 0 {
		return nil, status.ErrWouldBlock
	}
	d.eosSent++
	d.stats.framesOut.Add(1)
	f := frame.New()
	f.Flags = frame.FlagEOS
	d.log.WithField("function", "GetFrame").Debug("End of stream delivered")
	return f, nil
}

func (d *Decoder) parseLoop(ctx context.Context) error {
	var retry <-chan struct{}
	for {
		ev, wake := d.parseEv.Take(parseWake)
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
			progressed, notify := d.parseOnce()
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

// parseOnce advances the parse stage by one step. It reports whether it
// made progress and, when the frame group was full, the channel to wait on
// before retrying.
func (d *Decoder) parseOnce() (bool, <-chan struct{}) {
	d.parseMu.Lock()
	defer d.parseMu.Unlock()

	if d.cur == nil {
		cur, progressed := d.prepareTask()
		if cur == nil {
			return progressed, nil
		}
		d.cur = cur
	}
	return d.parseTask()
}

// prepareTask takes an unused task and feeds the head packet to the plugin.
func (d *Decoder) prepareTask() (*pending, bool) {
	d.mu.Lock()
	if len(d.input) == 0 {
		d.mu.Unlock()
		return nil, false
	}
	pkt := d.input[0]
	d.mu.Unlock()

	if !d.cfg.FastMode {
		if _, used := d.tasks.Counts(); used > 0 {
			return nil, false
		}
	}
	if pkt.Len() > 0 && d.slots.UsedCount() >= d.slots.Count() {
		return nil, false
	}
	h, err := d.tasks.Acquire(task.StateUnused)
	if err != nil {
		return nil, false
	}

	if pkt.IsEOS() && pkt.Len() == 0 {
		d.popInput(false, false)
		if err := d.parser.Flush(); err != nil {
			d.log.WithFields(logrus.Fields{
				"function": "parse",
				"error":    err.Error(),
			}).Warn("Parser flush failed")
		}
		t := task.NewDecode()
		t.Flags = task.FlagEOS
		d.submit(h, t)
		return nil, true
	}

	t := task.NewDecode()
	err = d.parser.Prepare(pkt, &t)
	owned := t.Packet == pkt
	if err != nil {
		d.stats.parseErrors.Add(1)
		d.log.WithFields(logrus.Fields{
			"function": "parse",
			"pts":      pkt.PTS,
			"error":    err.Error(),
		}).Warn("Packet rejected by parser")
		if t.Packet != nil && !owned {
			_ = t.Packet.Release()
		}
		d.popInput(false, true)
		_ = d.tasks.Release(h)
		return nil, true
	}

	switch {
	case pkt.Len() == 0:
		d.popInput(owned, true)
	case owned:
		cp, err := pkt.Copy(d.packets)
		if err != nil {
			d.popInput(false, true)
			_ = d.tasks.Release(h)
			return nil, true
		}
		t.Packet = cp
	}
	return &pending{h: h, t: t}, true
}

// popInput removes the head packet, dropping its reference unless the
// task took it over. With marker set, an end-of-stream packet leaves an
// empty end-of-stream packet behind so the marker is still processed.
func (d *Decoder) popInput(keep, marker bool) {
	d.mu.Lock()
	if len(d.input) == 0 {
		d.mu.Unlock()
		return
	}
	pkt := d.input[0]
	if marker && pkt.IsEOS() {
		eos := frame.NewEOSPacket()
		eos.PTS = pkt.PTS
		d.input[0] = eos
	} else {
		d.input[0] = nil
		d.input = d.input[1:]
	}
	d.mu.Unlock()

	if !keep {
		_ = pkt.Release()
	}
	d.apiEv.Signal(EventInputConsumed)
}

func (d *Decoder) parseTask() (bool, <-chan struct{}) {
	cur := d.cur
	d.mu.Lock()
	notify := d.frames.Notify()
	d.mu.Unlock()

	err := d.parser.Parse(&cur.t)
	switch {
	case err == nil:
	case errors.Is(err, buffer.ErrGroupFull):
		d.log.WithField("function", "parse").Debug("Frame group full, waiting for a buffer")
		return false, notify
	default:
		d.stats.parseErrors.Add(1)
		entry := d.log.WithFields(logrus.Fields{
			"function": "parse",
			"error":    err.Error(),
		})
		if errors.Is(err, status.ErrResourceExhausted) {
			entry.Error("Parse failed: slot table exhausted")
		} else {
			entry.Warn("Parse failed")
		}
		d.cur = nil
		if !cur.t.HasOutput() {
			if cur.t.Packet != nil {
				_ = cur.t.Packet.Release()
			}
			_ = d.tasks.Release(cur.h)
			return true, nil
		}
		_ = d.slots.SetError(cur.t.Output, frame.ErrInfoParse)
		cur.t.Flags |= task.FlagParseErr
		cur.t.Refs = nil
		d.submit(cur.h, cur.t)
		return true, nil
	}

	pinned := cur.t.Refs[:0:0]
	for _, ref := range cur.t.Refs {
		if err := d.slots.SetHWInput(ref); err != nil {
			d.log.WithFields(logrus.Fields{
				"function": "parse",
				"slot":     ref,
				"error":    err.Error(),
			}).Warn("Reference slot not pinned")
			continue
		}
		pinned = append(pinned, ref)
	}
	cur.t.Refs = pinned

	d.cur = nil
	d.submit(cur.h, cur.t)
	return true, nil
}

// submit stores t in the held task and hands it to the hardware stage.
func (d *Decoder) submit(h task.Handle, t task.Decode) {
	if err := d.tasks.Write(h, t); err != nil {
		d.log.WithFields(logrus.Fields{
			"function": "submit",
			"task":     h.String(),
			"error":    err.Error(),
		}).Error("Task write failed")
		return
	}
	qh, err := d.tasks.Transfer(h, task.StateUsed)
	if err != nil {
		d.log.WithFields(logrus.Fields{
			"function": "submit",
			"task":     h.String(),
			"error":    err.Error(),
		}).Error("Task transfer failed")
		return
	}
	d.hwq <- qh
}

func (d *Decoder) hwLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case qh := <-d.hwq:
			d.runJob(qh)
		}
	}
}

// runJob runs one task through the backend and returns it to the pool.
func (d *Decoder) runJob(qh task.Handle) {
	d.hwMu.Lock()
	defer d.hwMu.Unlock()

	h, err := d.tasks.Claim(qh)
	if err != nil {
		d.log.WithFields(logrus.Fields{
			"function": "hw",
			"task":     qh.String(),
		}).Debug("Dropping stale task")
		return
	}
	t, err := d.tasks.Read(h)
	if err != nil {
		return
	}

	if t.Flags&task.FlagEOS != 0 {
		if err := d.hal.Flush(); err != nil {
			d.log.WithFields(logrus.Fields{
				"function": "hw",
				"error":    err.Error(),
			}).Warn("Backend flush failed")
		}
		d.mu.Lock()
		d.eosReached++
		d.mu.Unlock()
		d.finishTask(h, &t)
		return
	}

	var hwErr error
	if t.Flags&task.FlagParseErr == 0 {
		if d.refErrored(t.Refs) {
			_ = d.slots.SetError(t.Output, frame.ErrInfoRef)
			t.Flags |= task.FlagRefErr
		}
		hwErr = d.runHardware(&t)
		if hwErr != nil {
			d.stats.hardwareErrors.Add(1)
			t.Flags |= task.FlagHWErr
			_ = d.slots.SetError(t.Output, frame.ErrInfoHardware)
			d.log.WithFields(logrus.Fields{
				"function": "hw",
				"slot":     t.Output,
				"error":    hwErr.Error(),
			}).Warn("Hardware job failed")
		}
	} else if st, err := d.slots.Status(t.Output); err == nil && st&slot.StatusOutput == 0 {
		_ = d.slots.SetOutput(t.Output)
	}

	if err := d.slots.SetHWReady(t.Output); err != nil {
		d.log.WithFields(logrus.Fields{
			"function": "hw",
			"slot":     t.Output,
			"error":    err.Error(),
		}).Error("Slot not ready for completion")
	}
	for _, ref := range t.Refs {
		_ = d.slots.ClearHWInput(ref)
		_, _ = d.slots.Release(ref)
	}
	if err := d.parser.Callback(interfaces.TaskResult{
		Output: t.Output,
		Refs:   t.Refs,
		Flags:  t.Flags,
		Err:    hwErr,
	}); err != nil {
		d.log.WithFields(logrus.Fields{
			"function": "hw",
			"error":    err.Error(),
		}).Warn("Parser callback failed")
	}
	_, _ = d.slots.Release(t.Output)
	d.finishTask(h, &t)
}

func (d *Decoder) refErrored(refs []int) bool {
	for _, ref := range refs {
		if bad, err := d.slots.HasError(ref); err == nil && bad {
			return true
		}
	}
	return false
}

// runHardware programs, starts and waits for one job. Every failure is
// reported as status.ErrHardwareFailure.
func (d *Decoder) runHardware(t *task.Decode) error {
	steps := []struct {
		name string
		fn   func(*task.Decode) error
	}{
		{"gen_regs", d.hal.GenRegs},
		{"start", d.hal.Start},
		{"wait", d.hal.Wait},
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

// finishTask drops the task's packet and returns it to the unused list.
func (d *Decoder) finishTask(h task.Handle, t *task.Decode) {
	if t.Packet != nil {
		_ = t.Packet.Release()
	}
	_ = d.tasks.Write(h, task.NewDecode())
	if _, err := d.tasks.Transfer(h, task.StateUnused); err != nil {
		d.log.WithFields(logrus.Fields{
			"function": "hw",
			"task":     h.String(),
			"error":    err.Error(),
		}).Error("Task return failed")
	}
	d.parseEv.Signal(EventTaskReturned)
	d.apiEv.Signal(EventFrameReady)
}

// Reset discards every queued packet, in-flight task and undisplayed frame
// and resets the plugin, backend and slot table. A hardware job already
// running is allowed to finish first. Frames already returned by GetFrame
// stay valid.
func (d *Decoder) Reset() error {
	if err := d.checkOpen(); err != nil {
		return err
	}
	resume := d.pause()
	defer resume()
	if err := d.checkOpen(); err != nil {
		return err
	}

	dropped := d.discardAll()
	var errs []error
	if err := d.parser.Reset(); err != nil {
		errs = append(errs, fmt.Errorf("parser reset: %w", err))
	}
	if err := d.hal.Reset(); err != nil {
		errs = append(errs, fmt.Errorf("hal reset: %w", err))
	}
	recycled := d.slots.Reset()
	d.stats.clearErrors()

	d.log.WithFields(logrus.Fields{
		"function": "Reset",
		"tasks":    dropped,
		"slots":    recycled,
	}).Info("Decoder reset")

	d.parseEv.Signal(EventReset)
	d.apiEv.Signal(EventReset)
	return errors.Join(errs...)
}

// discardAll empties the hardware queue, the task pool and the input
// queue. Both stages must be paused or stopped.
func (d *Decoder) discardAll() int {
drain:
	for {
		select {
		case <-d.hwq:
		default:
			break drain
		}
	}
	if d.cur != nil {
		if d.cur.t.Packet != nil {
			_ = d.cur.t.Packet.Release()
		}
		d.cur = nil
	}
	moved := d.tasks.Reset(func(t *task.Decode) {
		if t.Packet != nil {
			_ = t.Packet.Release()
		}
	})

	d.mu.Lock()
	for _, p := range d.input {
		_ = p.Release()
	}
	d.input = nil
	d.eosReached, d.eosSent = 0, 0
	d.mu.Unlock()
	return moved
}

// Control executes a pipeline command, forwarding codec commands to the
// plugin and then to the backend.
func (d *Decoder) Control(cmd interfaces.Command, param any) error {
	if err := d.checkOpen(); err != nil {
		return err
	}
	switch cmd {
	case interfaces.CmdSetInputTimeout:
		return d.setTimeout(true, param)
	case interfaces.CmdSetOutputTimeout:
		return d.setTimeout(false, param)
	case interfaces.CmdSetDisableError:
		v, ok := param.(bool)
		if !ok {
			return fmt.Errorf("%w: disable_error param %T", status.ErrInvalidArgument, param)
		}
		d.mu.Lock()
		d.disableError = v
		d.mu.Unlock()
		return nil
	case interfaces.CmdGetStats:
		out, ok := param.(*Stats)
		if !ok || out == nil {
			return fmt.Errorf("%w: stats param %T", status.ErrInvalidArgument, param)
		}
		*out = d.Stats()
		return nil
	case interfaces.CmdSetFrameGroup:
		return d.setFrameGroup(param)
	default:
		return forward(&d.parseMu, &d.hwMu, d.parser.Control, d.hal.Control, cmd, param)
	}
}

// setFrameGroup swaps in a caller-provided internal group for the frames
// claimed from now on. Frames already decoded keep their buffers.
func (d *Decoder) setFrameGroup(param any) error {
	g, ok := param.(*buffer.Group)
	if !ok || g == nil {
		return fmt.Errorf("%w: frame group param %T", status.ErrInvalidArgument, param)
	}
	if g.Mode() != buffer.ModeInternal {
		return fmt.Errorf("%w: frame group %s must allocate its own buffers", status.ErrInvalidArgument, g.Name())
	}

	resume := d.pause()
	defer resume()
	if err := d.checkOpen(); err != nil {
		return err
	}

	for _, ctl := range []func(interfaces.Command, any) error{d.parser.Control, d.hal.Control} {
		if err := ctl(interfaces.CmdSetFrameGroup, g); err != nil && !interfaces.IsUnsupported(err) {
			return err
		}
	}

	d.mu.Lock()
	old, own := d.frames, d.ownFrames
	d.frames, d.ownFrames = g, false
	d.mu.Unlock()
	if own && old != g {
		_ = old.Close()
	}

	d.log.WithFields(logrus.Fields{
		"function": "Control",
		"group":    g.Name(),
	}).Info("Frame group replaced")
	d.parseEv.Signal(EventFrameDequeued)
	return nil
}

// forward sends a codec command to the plugin under its stage lock and,
// if the plugin does not handle it, to the backend under its own.
func forward(parseMu, hwMu sync.Locker, parser, hal func(interfaces.Command, any) error, cmd interfaces.Command, param any) error {
	parseMu.Lock()
	err := parser(cmd, param)
	parseMu.Unlock()
	if !interfaces.IsUnsupported(err) {
		return err
	}
	hwMu.Lock()
	defer hwMu.Unlock()
	return hal(cmd, param)
}

// Stats returns a snapshot of the decoder counters.
func (d *Decoder) Stats() Stats {
	var s Stats
	d.stats.fill(&s)
	s.DecodeCount = d.slots.DecodeCount()
	s.DisplayCount = d.slots.DisplayCount()
	s.TasksUnused, s.TasksUsed = d.tasks.Counts()
	d.mu.Lock()
	s.InputQueued = len(d.input)
	d.mu.Unlock()
	return s
}

// Close stops both stages, waiting for a hardware job in flight, then
// releases every pipeline resource. Frames the caller still holds stay
// valid. Close is idempotent.
func (d *Decoder) Close() error {
	stopped, err := d.stop()
	if !stopped {
		return nil
	}
	errs := []error{err}

	resume := d.pause()
	d.discardAll()
	d.slots.Reset()
	if err := d.parser.Deinit(); err != nil {
		errs = append(errs, fmt.Errorf("parser deinit: %w", err))
	}
	if err := d.hal.Deinit(); err != nil {
		errs = append(errs, fmt.Errorf("hal deinit: %w", err))
	}
	resume()

	d.mu.Lock()
	frames, own := d.frames, d.ownFrames
	d.mu.Unlock()
	if own {
		closeGroups(frames)
	}
	closeGroups(d.packets)

	d.log.WithFields(logrus.Fields{
		"function": "Close",
		"stats":    fmt.Sprintf("%+v", d.Stats()),
	}).Info("Decoder closed")
	return errors.Join(errs...)
}
