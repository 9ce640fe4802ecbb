package frame

import (
	"fmt"
	"sync"

	"github.com/opd-ai/hwcodec/buffer"
	"github.com/opd-ai/hwcodec/limits"
	"github.com/opd-ai/hwcodec/status"
)

// PacketFlag carries per-packet state bits.
type PacketFlag uint32

const (
	// PacketEOS marks the last packet of a stream. It may carry no data.
	PacketEOS PacketFlag = 1 << iota
	// PacketExtraData marks codec configuration (sequence headers).
	PacketExtraData
	// PacketIntra marks a packet starting with a random access point.
	PacketIntra
)

// Packet is a compressed bitstream chunk. Its payload is either a raw byte
// slice supplied by the caller or a window into a Buffer; the buffer-backed
// form is the zero-copy path.
type Packet struct {
	PTS   int64
	DTS   int64
	Flags PacketFlag

	mu     sync.Mutex
	raw    []byte
	buf    *buffer.Buffer
	pos    int
	length int
	meta   *Meta
}

// NewPacket wraps data without copying it.
func NewPacket(data []byte) *Packet {
	return &Packet{raw: data, length: len(data)}
}

// NewEOSPacket returns an empty packet flagged end-of-stream.
func NewEOSPacket() *Packet {
	return &Packet{Flags: PacketEOS}
}

// NewPacketFromBuffer returns a packet whose payload is the first length
// bytes of b. The packet takes its own reference on b.
func NewPacketFromBuffer(b *buffer.Buffer, length int) (*Packet, error) {
	if b == nil {
		return nil, fmt.Errorf("%w: nil buffer", status.ErrInvalidArgument)
	}
	if length < 0 || length > b.Size() {
		return nil, fmt.Errorf("%w: length %d outside buffer of %d", status.ErrInvalidArgument, length, b.Size())
	}
	p := &Packet{length: length}
	if err := p.SetBuffer(b); err != nil {
		return nil, err
	}
	return p, nil
}

// Buffer returns the backing buffer without taking a reference, or nil.
func (p *Packet) Buffer() *buffer.Buffer {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buf
}

// SetBuffer replaces the backing buffer, taking a reference on b and
// dropping the previous one.
func (p *Packet) SetBuffer(b *buffer.Buffer) error {
	if b != nil {
		if err := b.IncRef(); err != nil {
			return err
		}
	}
	p.mu.Lock()
	old := p.buf
	p.buf = b
	if b != nil {
		p.raw = nil
	}
	p.mu.Unlock()
	if old != nil {
		return old.DecRef()
	}
	return nil
}

// IsBacked reports whether the payload lives in a Buffer.
func (p *Packet) IsBacked() bool {
	return p.Buffer() != nil
}

// Data returns the payload window. For buffer-backed packets the slice
// aliases the buffer mapping.
func (p *Packet) Data() ([]byte, error) {
	p.mu.Lock()
	buf, raw, pos, length := p.buf, p.raw, p.pos, p.length
	p.mu.Unlock()

	src := raw
	if buf != nil {
		m, err := buf.Map()
		if err != nil {
			return nil, err
		}
		src = m
	}
	if pos+length > len(src) {
		return nil, fmt.Errorf("%w: window %d+%d outside payload of %d", status.ErrInvalidArgument, pos, length, len(src))
	}
	return src[pos : pos+length], nil
}

// Len returns the payload window length.
func (p *Packet) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.length
}

// Pos returns the payload window offset.
func (p *Packet) Pos() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pos
}

// Consume advances the window by n bytes, as a parser does when it takes
// part of a packet.
func (p *Packet) Consume(n int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n < 0 || n > p.length {
		return fmt.Errorf("%w: consume %d of %d", status.ErrInvalidArgument, n, p.length)
	}
	p.pos += n
	p.length -= n
	return nil
}

// SetLength sets the window length, for packets filled in place by an encoder.
func (p *Packet) SetLength(n int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	capacity := len(p.raw)
	if p.buf != nil {
		capacity = p.buf.Size()
	}
	if n < 0 || p.pos+n > capacity {
		return fmt.Errorf("%w: length %d at %d exceeds %d", status.ErrInvalidArgument, n, p.pos, capacity)
	}
	p.length = n
	return nil
}

// IsEOS reports whether the packet ends the stream.
func (p *Packet) IsEOS() bool { return p.Flags&PacketEOS != 0 }

// Meta returns the packet's metadata store, creating it on first use.
func (p *Packet) Meta() *Meta {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.meta == nil {
		p.meta = NewMeta()
	}
	return p.meta
}

// Copy returns an independent packet with the same timestamps, flags and
// payload. A buffer-backed source is aliased (one more reference on the same
// buffer); a raw source is deep-copied into a buffer acquired from g, or from
// buffer.Default when g is nil.
func (p *Packet) Copy(g *buffer.Group) (*Packet, error) {
	p.mu.Lock()
	buf, pos, length := p.buf, p.pos, p.length
	p.mu.Unlock()

	if buf != nil {
		cp := &Packet{PTS: p.PTS, DTS: p.DTS, Flags: p.Flags, pos: pos, length: length}
		if err := cp.SetBuffer(buf); err != nil {
			return nil, err
		}
		return cp, nil
	}

	data, err := p.Data()
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return &Packet{PTS: p.PTS, DTS: p.DTS, Flags: p.Flags}, nil
	}
	if err := limits.ValidatePacket(data); err != nil {
		return nil, err
	}
	if g == nil {
		g = buffer.Default()
	}
	nb, err := g.Acquire(len(data))
	if err != nil {
		return nil, err
	}
	if _, err := nb.Write(0, data); err != nil {
		_ = nb.DecRef()
		return nil, err
	}
	cp := &Packet{PTS: p.PTS, DTS: p.DTS, Flags: p.Flags, buf: nb, length: len(data)}
	return cp, nil
}

// Release drops the buffer reference. Safe to call more than once.
func (p *Packet) Release() error {
	if p == nil {
		return nil
	}
	return p.SetBuffer(nil)
}
