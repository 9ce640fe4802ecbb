package slot

import (
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/hwcodec/buffer"
	"github.com/opd-ai/hwcodec/frame"
	"github.com/opd-ai/hwcodec/limits"
	"github.com/opd-ai/hwcodec/status"
)

// Status is the bit set describing a slot.
type Status uint32

// StatusUnused is the empty status: the slot may be claimed.
const StatusUnused Status = 0

const (
	// StatusUsed is set while the slot is claimed by the codec plugin.
	StatusUsed Status = 1 << iota
	// StatusRef is set while the slot is a decode reference.
	StatusRef
	// StatusOutput is set while the hardware has yet to write the slot.
	StatusOutput
	// StatusDisplayQueued is set while the slot waits in the display queue.
	StatusDisplayQueued
	// StatusHWReady is set once the hardware finished writing the slot.
	StatusHWReady
	// StatusHWInput is set while queued hardware jobs still read the slot.
	StatusHWInput
)

// pinned are the bits that keep a slot from being recycled.
const pinned = StatusRef | StatusOutput | StatusDisplayQueued | StatusHWInput

// String renders the set bits, e.g. "used|ref|hw_ready".
func (s Status) String() string {
	if s == StatusUnused {
		return "unused"
	}
	names := []struct {
		bit  Status
		name string
	}{
		{StatusUsed, "used"},
		{StatusRef, "ref"},
		{StatusOutput, "output"},
		{StatusDisplayQueued, "display_queued"},
		{StatusHWReady, "hw_ready"},
		{StatusHWInput, "hw_input"},
	}
	var parts []string
	for _, n := range names {
		if s&n.bit != 0 {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}

type entry struct {
	status Status
	buf    *buffer.Buffer
	info   frame.Info
	// inputs counts queued hardware jobs reading the slot.
	inputs int
}

// Table is the decoded picture buffer: a fixed array of slots, each binding
// a buffer and frame info to a status bit set, plus the display queue.
//
// Every transition is an explicit call made by the codec plugin, the
// hardware stage or the consumer side; the table never changes a slot on its
// own. All methods are safe for concurrent use and serialize on one lock.
type Table struct {
	mu           sync.Mutex
	slots        []entry
	display      []int
	bufferSize   int
	decodeCount  uint64
	displayCount uint64
	log          *logrus.Entry
}

// NewTable creates a table of count slots, all unused.
func NewTable(count int) (*Table, error) {
	if err := limits.ValidateSlotCount(count); err != nil {
		return nil, err
	}
	t := &Table{
		slots: make([]entry, count),
		log:   logrus.WithField("component", "slot_table"),
	}
	t.log.WithFields(logrus.Fields{
		"function": "NewTable",
		"count":    count,
	}).Debug("Slot table created")
	return t, nil
}

// Count returns the number of slots.
func (t *Table) Count() int { return len(t.slots) }

func (t *Table) check(idx int) error {
	if idx < 0 || idx >= len(t.slots) {
		return fmt.Errorf("%w: slot %d of %d", status.ErrInvalidIndex, idx, len(t.slots))
	}
	return nil
}

func (t *Table) checkUsed(idx int, op string) error {
	if err := t.check(idx); err != nil {
		return err
	}
	if t.slots[idx].status&StatusUsed == 0 {
		return fmt.Errorf("%w: %s on unclaimed slot %d", status.ErrInvalidIndex, op, idx)
	}
	return nil
}

// GetUnused claims the first unused slot and returns its index. Running out
// of slots means the DPB was sized wrongly upstream, so it is reported as
// status.ErrResourceExhausted and logged as an error rather than waited on.
func (t *Table) GetUnused() (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.slots {
		if t.slots[i].status == StatusUnused {
			t.slots[i].status = StatusUsed
			t.slots[i].info = frame.Info{}
			return i, nil
		}
	}
	t.log.WithFields(logrus.Fields{
		"function": "GetUnused",
		"count":    len(t.slots),
		"slots":    t.dumpLocked(),
	}).Error("No unused slot: DPB size too small for stream")
	return -1, fmt.Errorf("%w: all %d slots in use", status.ErrResourceExhausted, len(t.slots))
}

// SetRef marks the slot as a decode reference.
func (t *Table) SetRef(idx int) error {
	return t.update(idx, "SetRef", func(e *entry) error {
		e.status |= StatusRef
		return nil
	})
}

// ClearRef drops the reference mark. It does not recycle the slot; call
// Release afterwards.
func (t *Table) ClearRef(idx int) error {
	return t.update(idx, "ClearRef", func(e *entry) error {
		e.status &^= StatusRef
		return nil
	})
}

// SetOutput marks the slot as the pending target of a hardware job.
func (t *Table) SetOutput(idx int) error {
	return t.update(idx, "SetOutput", func(e *entry) error {
		e.status |= StatusOutput
		e.status &^= StatusHWReady
		return nil
	})
}

// SetHWReady records hardware completion: clears Output, sets HWReady and
// counts one decoded frame. Called exactly once per finished job.
func (t *Table) SetHWReady(idx int) error {
	return t.update(idx, "SetHWReady", func(e *entry) error {
		if e.status&StatusOutput == 0 {
			return fmt.Errorf("%w: slot %d not pending output (%s)", status.ErrInvalidArgument, idx, e.status)
		}
		e.status &^= StatusOutput
		e.status |= StatusHWReady
		t.decodeCount++
		return nil
	})
}

// SetHWInput pins the slot as an input of one more queued hardware job.
// A reference dropped by the plugin stays readable until every job that
// read it called ClearHWInput.
func (t *Table) SetHWInput(idx int) error {
	return t.update(idx, "SetHWInput", func(e *entry) error {
		e.inputs++
		e.status |= StatusHWInput
		return nil
	})
}

// ClearHWInput drops one hardware job pin. It does not recycle the slot;
// call Release afterwards.
func (t *Table) ClearHWInput(idx int) error {
	return t.update(idx, "ClearHWInput", func(e *entry) error {
		if e.inputs == 0 {
			return fmt.Errorf("%w: slot %d has no hardware input pin", status.ErrInvalidArgument, idx)
		}
		e.inputs--
		if e.inputs == 0 {
			e.status &^= StatusHWInput
		}
		return nil
	})
}

// EnqueueDisplay appends the slot to the display queue. Frames leave the
// queue in enqueue order, which the plugin chooses (display order).
func (t *Table) EnqueueDisplay(idx int) error {
	return t.update(idx, "EnqueueDisplay", func(e *entry) error {
		if e.status&StatusDisplayQueued != 0 {
			return fmt.Errorf("%w: slot %d already queued for display", status.ErrInvalidArgument, idx)
		}
		e.status |= StatusDisplayQueued
		t.display = append(t.display, idx)
		return nil
	})
}

// DequeueDisplay pops the head of the display queue once the hardware has
// finished it, clearing DisplayQueued. It returns status.ErrEmpty when the
// queue is empty or its head is still being decoded; later entries wait
// behind the head so display order is preserved.
//
// The slot's info and buffer are captured under the same lock: the returned
// buffer carries a reference owned by the caller (nil if the slot has no
// buffer). A slot that nothing else pins is recycled before returning, so
// the consumer never touches the slot index again.
func (t *Table) DequeueDisplay() (int, frame.Info, *buffer.Buffer, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.display) == 0 {
		return -1, frame.Info{}, nil, status.ErrEmpty
	}
	idx := t.display[0]
	e := &t.slots[idx]
	if e.status&StatusHWReady == 0 {
		return -1, frame.Info{}, nil, fmt.Errorf("%w: slot %d not decoded yet", status.ErrEmpty, idx)
	}
	buf := e.buf
	if buf != nil {
		if err := buf.IncRef(); err != nil {
			return -1, frame.Info{}, nil, err
		}
	}
	info := e.info
	t.display = t.display[1:]
	e.status &^= StatusDisplayQueued
	if e.status&pinned == 0 {
		if err := t.setUnusedLocked(idx); err != nil {
			return idx, info, buf, err
		}
	}
	return idx, info, buf, nil
}

// DisplayPending returns the number of slots waiting in the display queue.
func (t *Table) DisplayPending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.display)
}

// SetUnused recycles the slot: clears every bit, counts one displayed frame
// and drops the slot's buffer reference. It is rejected while the slot is
// still a reference, pending hardware output, read by a queued hardware job
// or queued for display.
func (t *Table) SetUnused(idx int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkUsed(idx, "SetUnused"); err != nil {
		return err
	}
	if st := t.slots[idx].status; st&pinned != 0 {
		return fmt.Errorf("%w: slot %d still needed (%s)", status.ErrInvalidArgument, idx, st)
	}
	return t.setUnusedLocked(idx)
}

// Release recycles the slot if nothing pins it any more. It reports whether
// the slot was recycled; a slot already unused is not an error. Both the
// consumer side (after display) and the plugin (after dropping a reference)
// call it, and only one of them recycles.
func (t *Table) Release(idx int) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.check(idx); err != nil {
		return false, err
	}
	st := t.slots[idx].status
	if st == StatusUnused || st&pinned != 0 {
		return false, nil
	}
	return true, t.setUnusedLocked(idx)
}

func (t *Table) setUnusedLocked(idx int) error {
	e := &t.slots[idx]
	e.status = StatusUnused
	e.info = frame.Info{}
	e.inputs = 0
	t.displayCount++
	buf := e.buf
	e.buf = nil
	if buf != nil {
		return buf.DecRef()
	}
	return nil
}

// SetBuffer binds b to the slot; the table takes its own reference and
// drops the reference on any previous buffer.
func (t *Table) SetBuffer(idx int, b *buffer.Buffer) error {
	if b == nil {
		return fmt.Errorf("%w: nil buffer for slot %d", status.ErrInvalidArgument, idx)
	}
	if err := b.IncRef(); err != nil {
		return err
	}
	var old *buffer.Buffer
	err := t.update(idx, "SetBuffer", func(e *entry) error {
		old = e.buf
		e.buf = b
		return nil
	})
	if err != nil {
		_ = b.DecRef()
		return err
	}
	if old != nil {
		return old.DecRef()
	}
	return nil
}

// Buffer returns the slot's buffer without taking a reference, or nil.
func (t *Table) Buffer(idx int) (*buffer.Buffer, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.check(idx); err != nil {
		return nil, err
	}
	return t.slots[idx].buf, nil
}

// SetFrame stores the frame info delivered with the slot.
func (t *Table) SetFrame(idx int, info frame.Info) error {
	return t.update(idx, "SetFrame", func(e *entry) error {
		errInfo := e.info.ErrInfo
		e.info = info
		e.info.ErrInfo |= errInfo
		return nil
	})
}

// Frame returns the frame info stored for the slot.
func (t *Table) Frame(idx int) (frame.Info, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.check(idx); err != nil {
		return frame.Info{}, err
	}
	return t.slots[idx].info, nil
}

// SetError ORs code into the slot's error info. Error info survives
// SetFrame and is cleared when the slot is recycled.
func (t *Table) SetError(idx int, code uint32) error {
	return t.update(idx, "SetError", func(e *entry) error {
		e.info.ErrInfo |= code
		return nil
	})
}

// HasError reports whether the slot carries error info.
func (t *Table) HasError(idx int) (bool, error) {
	info, err := t.Frame(idx)
	return info.ErrInfo != 0, err
}

// Status returns the slot's status bits.
func (t *Table) Status(idx int) (Status, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.check(idx); err != nil {
		return 0, err
	}
	return t.slots[idx].status, nil
}

// SetBufferSize records the buffer size new slots need (on info change).
func (t *Table) SetBufferSize(size int) error {
	if err := limits.ValidateBufferSize(size); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.bufferSize = size
	return nil
}

// BufferSize returns the size recorded by SetBufferSize.
func (t *Table) BufferSize() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.bufferSize
}

// DecodeCount returns the number of SetHWReady calls.
func (t *Table) DecodeCount() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.decodeCount
}

// DisplayCount returns the number of recycled slots.
func (t *Table) DisplayCount() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.displayCount
}

// UsedCount returns the number of claimed slots.
func (t *Table) UsedCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for i := range t.slots {
		if t.slots[i].status != StatusUnused {
			n++
		}
	}
	return n
}

// Reset clears Ref, Output and hardware input pins on every slot, empties the display queue and
// recycles every slot left unpinned. It returns the number recycled.
func (t *Table) Reset() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.display = t.display[:0]
	recycled := 0
	for i := range t.slots {
		e := &t.slots[i]
		if e.status == StatusUnused {
			continue
		}
		e.status &^= pinned
		_ = t.setUnusedLocked(i)
		recycled++
	}

	t.log.WithFields(logrus.Fields{
		"function": "Reset",
		"recycled": recycled,
	}).Info("Slot table reset")
	return recycled
}

func (t *Table) update(idx int, op string, fn func(*entry) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkUsed(idx, op); err != nil {
		return err
	}
	return fn(&t.slots[idx])
}

func (t *Table) dumpLocked() string {
	parts := make([]string, len(t.slots))
	for i := range t.slots {
		parts[i] = fmt.Sprintf("%d:%s", i, t.slots[i].status)
	}
	return strings.Join(parts, " ")
}
