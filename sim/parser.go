package sim

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/hwcodec/buffer"
	"github.com/opd-ai/hwcodec/frame"
	"github.com/opd-ai/hwcodec/interfaces"
	"github.com/opd-ai/hwcodec/slot"
	"github.com/opd-ai/hwcodec/status"
	"github.com/opd-ai/hwcodec/task"
)

var _ interfaces.IParser = (*Parser)(nil)

// Codec commands understood by the simulated components.
const (
	// CmdSetGeometry sets the picture size for following pictures (param [2]int).
	CmdSetGeometry = interfaces.CmdCodecBase + iota
	// CmdGetParsed stores the number of parsed pictures into param (*int).
	CmdGetParsed
	// CmdSetDelay sets the hardware job duration (param time.Duration).
	CmdSetDelay
)

// Default picture geometry.
const (
	DefaultWidth  = 16
	DefaultHeight = 16
)

// ErrMissingReference is returned by Parse for a predicted picture whose
// anchors were lost, e.g. a P picture right after a reset.
var ErrMissingReference = errors.New("missing reference picture")

// Picture is the syntax a Parser hands to the hardware stage.
type Picture struct {
	Header
	Width  int
	Height int
	// PayloadOffset and PayloadLen locate the payload in the task packet's
	// buffer.
	PayloadOffset int
	PayloadLen    int
}

// Parser is a toy codec plugin. Each packet carries one picture; I and P
// pictures are anchors kept as references, B pictures reference the two
// latest anchors and are displayed before the newest one.
type Parser struct {
	log *logrus.Entry

	mu     sync.Mutex
	slots  *slot.Table
	group  *buffer.Group
	width  int
	height int
	// anchors[1] is the newest anchor, still waiting for display.
	anchors [2]int

	parsed   atomic.Int64
	hwErrors atomic.Int64
}

// NewParser returns an uninitialized Parser.
func NewParser() *Parser {
	return &Parser{
		log:     logrus.WithField("component", "sim.Parser"),
		width:   DefaultWidth,
		height:  DefaultHeight,
		anchors: [2]int{task.NoSlot, task.NoSlot},
	}
}

// Init binds the parser to its slot table and frame group.
func (p *Parser) Init(cfg interfaces.ParserConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.slots = cfg.Slots
	p.group = cfg.FrameGroup
	p.log.WithFields(logrus.Fields{
		"function": "Init",
		"slots":    cfg.Slots.Count(),
		"group":    cfg.FrameGroup.Name(),
	}).Debug("Simulated parser initialized")
	return p.slots.SetBufferSize(p.frameSize())
}

func (p *Parser) frameSize() int {
	return frame.Info{Width: p.width, Height: p.height}.Size()
}

// Prepare reads the picture header and consumes the whole packet.
func (p *Parser) Prepare(pkt *frame.Packet, t *task.Decode) error {
	data, err := pkt.Data()
	if err != nil {
		return err
	}
	h, err := ParseHeader(data)
	if err != nil {
		_ = pkt.Consume(pkt.Len())
		return err
	}
	p.mu.Lock()
	pic := &Picture{
		Header:        h,
		Width:         p.width,
		Height:        p.height,
		PayloadOffset: pkt.Pos() + HeaderSize,
		PayloadLen:    len(data) - HeaderSize,
	}
	p.mu.Unlock()

	t.Packet = pkt
	t.Syntax = pic
	return pkt.Consume(len(data))
}

// Parse claims the output slot and its buffer, resolves references and
// updates display order.
func (p *Parser) Parse(t *task.Decode) error {
	pic, ok := t.Syntax.(*Picture)
	if !ok {
		return fmt.Errorf("%w: task without picture syntax", status.ErrInvalidArgument)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	var refs []int
	switch pic.Type {
	case PictureP:
		if p.anchors[1] == task.NoSlot {
			return fmt.Errorf("%w: P picture %d", ErrMissingReference, pic.POC)
		}
		refs = []int{p.anchors[1]}
	case PictureB:
		if p.anchors[0] == task.NoSlot || p.anchors[1] == task.NoSlot {
			return fmt.Errorf("%w: B picture %d", ErrMissingReference, pic.POC)
		}
		refs = []int{p.anchors[0], p.anchors[1]}
	}

	idx, err := p.slots.GetUnused()
	if err != nil {
		return err
	}
	b, err := p.group.Acquire(p.slots.BufferSize())
	if err != nil {
		_ = p.slots.SetUnused(idx)
		return err
	}
	err = p.slots.SetBuffer(idx, b)
	_ = b.DecRef()
	if err != nil {
		_ = p.slots.SetUnused(idx)
		return err
	}

	var pts, dts int64
	if t.Packet != nil {
		pts, dts = t.Packet.PTS, t.Packet.DTS
	}
	info := frame.Info{
		Width:  pic.Width,
		Height: pic.Height,
		Format: frame.FormatYUV420SP,
		PTS:    pts,
		DTS:    dts,
		POC:    pic.POC,
	}
	if err := p.slots.SetFrame(idx, info); err != nil {
		return err
	}
	if err := p.slots.SetOutput(idx); err != nil {
		return err
	}
	t.Output = idx
	t.Refs = refs

	if pic.Type == PictureB {
		if err := p.slots.EnqueueDisplay(idx); err != nil {
			return err
		}
	} else {
		if err := p.slots.SetRef(idx); err != nil {
			return err
		}
		if err := p.shiftAnchors(idx); err != nil {
			return err
		}
	}

	p.parsed.Add(1)
	p.log.WithFields(logrus.Fields{
		"function": "Parse",
		"type":     string(pic.Type),
		"poc":      pic.POC,
		"slot":     idx,
		"refs":     refs,
	}).Debug("Picture parsed")
	return nil
}

// shiftAnchors makes idx the newest anchor: the previous newest is queued
// for display and the oldest stops being a reference.
func (p *Parser) shiftAnchors(idx int) error {
	oldest, newest := p.anchors[0], p.anchors[1]
	if newest != task.NoSlot {
		if err := p.slots.EnqueueDisplay(newest); err != nil {
			return err
		}
	}
	if oldest != task.NoSlot {
		if err := p.dropRef(oldest); err != nil {
			return err
		}
	}
	p.anchors = [2]int{newest, idx}
	return nil
}

func (p *Parser) dropRef(idx int) error {
	if err := p.slots.ClearRef(idx); err != nil {
		return err
	}
	_, err := p.slots.Release(idx)
	return err
}

// Flush queues the newest anchor for display and drops both references.
func (p *Parser) Flush() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	oldest, newest := p.anchors[0], p.anchors[1]
	p.anchors = [2]int{task.NoSlot, task.NoSlot}
	if newest != task.NoSlot {
		if err := p.slots.EnqueueDisplay(newest); err != nil {
			return err
		}
	}
	for _, idx := range []int{oldest, newest} {
		if idx == task.NoSlot {
			continue
		}
		if err := p.dropRef(idx); err != nil {
			return err
		}
	}
	return nil
}

// Reset forgets the anchors. The slot table is reset by the caller.
func (p *Parser) Reset() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.anchors = [2]int{task.NoSlot, task.NoSlot}
	return nil
}

// Control handles CmdSetGeometry, CmdGetParsed and frame group replacement.
func (p *Parser) Control(cmd interfaces.Command, param any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch cmd {
	case CmdSetGeometry:
		wh, ok := param.([2]int)
		if !ok {
			return fmt.Errorf("%w: geometry param %T", status.ErrInvalidArgument, param)
		}
		p.width, p.height = wh[0], wh[1]
		if p.slots != nil {
			return p.slots.SetBufferSize(p.frameSize())
		}
		return nil
	case CmdGetParsed:
		out, ok := param.(*int)
		if !ok || out == nil {
			return fmt.Errorf("%w: parsed param %T", status.ErrInvalidArgument, param)
		}
		*out = int(p.parsed.Load())
		return nil
	case interfaces.CmdSetFrameGroup:
		g, ok := param.(*buffer.Group)
		if !ok || g == nil {
			return fmt.Errorf("%w: frame group param %T", status.ErrInvalidArgument, param)
		}
		p.group = g
		return nil
	default:
		return fmt.Errorf("%w: %s", interfaces.ErrUnsupportedCommand, cmd)
	}
}

// Callback counts hardware failures.
func (p *Parser) Callback(res interfaces.TaskResult) error {
	if res.Err != nil {
		p.hwErrors.Add(1)
	}
	return nil
}

// HardwareErrors returns the number of failed jobs reported by Callback.
func (p *Parser) HardwareErrors() int { return int(p.hwErrors.Load()) }

// Deinit releases nothing; slots and groups belong to the caller.
func (p *Parser) Deinit() error {
	p.log.WithField("function", "Deinit").Debug("Simulated parser deinitialized")
	return nil
}
