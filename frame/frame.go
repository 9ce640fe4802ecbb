package frame

import (
	"fmt"
	"sync"

	"github.com/opd-ai/hwcodec/buffer"
	"github.com/opd-ai/hwcodec/limits"
	"github.com/opd-ai/hwcodec/status"
)

// Flag carries per-frame state bits.
type Flag uint32

const (
	// FlagEOS marks the last frame of a stream. An EOS frame may carry no buffer.
	FlagEOS Flag = 1 << iota
	// FlagInfoChange marks a geometry change the consumer must acknowledge.
	FlagInfoChange
	// FlagDiscard marks a frame decoded only for reference, not for display.
	FlagDiscard
)

// ErrInfo bits set on frames produced with errors.
const (
	// ErrInfoParse marks a frame whose bitstream failed to parse.
	ErrInfoParse uint32 = 1 << iota
	// ErrInfoRef marks a frame predicted from an errored reference.
	ErrInfoRef
	// ErrInfoHardware marks a frame the hardware backend failed on.
	ErrInfoHardware
)

// Format is the pixel layout of a decoded frame.
type Format int

const (
	FormatYUV420SP Format = iota
	FormatYUV420P
	FormatYUV422SP
	FormatRGB888
)

// Info is the plain-value part of a frame: geometry, timestamps and flags.
// Slot tables store Info so a slot never points back at a Frame.
type Info struct {
	Width     int
	Height    int
	HorStride int
	VerStride int
	Format    Format
	PTS       int64
	DTS       int64
	POC       int
	Flags     Flag
	// ErrInfo is non-zero when the hardware or parser reported an error
	// while producing this frame.
	ErrInfo uint32
}

// Size returns the byte size of a YUV/RGB image with the info's strides.
func (i Info) Size() int {
	h, v := i.HorStride, i.VerStride
	if h == 0 {
		h = i.Width
	}
	if v == 0 {
		v = i.Height
	}
	switch i.Format {
	case FormatYUV422SP:
		return h * v * 2
	case FormatRGB888:
		return h * v * 3
	default:
		return h * v * 3 / 2
	}
}

// Frame is a decoded picture: Info plus a borrowed reference to a Buffer.
//
// A Frame holds one reference on its buffer. SetBuffer takes the new
// reference before dropping the old one; Release drops it. Frames are owned
// by one goroutine at a time; only the buffer swap is synchronized.
type Frame struct {
	Info

	mu   sync.Mutex
	buf  *buffer.Buffer
	meta *Meta
}

// New returns a zeroed frame.
func New() *Frame {
	return &Frame{}
}

// NewWithInfo returns a frame carrying info and no buffer.
func NewWithInfo(info Info) *Frame {
	return &Frame{Info: info}
}

// Buffer returns the frame's buffer without taking a reference.
func (f *Frame) Buffer() *buffer.Buffer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.buf
}

// SetBuffer replaces the frame's buffer, taking a reference on b and
// dropping the reference on the previous one. A nil b clears the buffer.
func (f *Frame) SetBuffer(b *buffer.Buffer) error {
	if b != nil {
		if err := b.IncRef(); err != nil {
			return err
		}
	}
	f.mu.Lock()
	old := f.buf
	f.buf = b
	f.mu.Unlock()
	if old != nil {
		return old.DecRef()
	}
	return nil
}

// Release drops the buffer reference. Safe to call more than once.
func (f *Frame) Release() error {
	if f == nil {
		return nil
	}
	return f.SetBuffer(nil)
}

// Meta returns the frame's metadata store, creating it on first use.
func (f *Frame) Meta() *Meta {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.meta == nil {
		f.meta = NewMeta()
	}
	return f.meta
}

// IsEOS reports whether the frame ends the stream.
func (f *Frame) IsEOS() bool { return f.Flags&FlagEOS != 0 }

// HasError reports whether the frame carries error information.
func (f *Frame) HasError() bool { return f.ErrInfo != 0 }

// ToMeta serializes the frame's Info into a new metadata store.
func (f *Frame) ToMeta() *Meta {
	m := NewMeta()
	m.SetInt(MetaKeyWidth, int64(f.Width))
	m.SetInt(MetaKeyHeight, int64(f.Height))
	m.SetInt(MetaKeyHorStride, int64(f.HorStride))
	m.SetInt(MetaKeyVerStride, int64(f.VerStride))
	m.SetInt(MetaKeyFormat, int64(f.Format))
	m.SetInt(MetaKeyPTS, f.PTS)
	m.SetInt(MetaKeyDTS, f.DTS)
	m.SetInt(MetaKeyPOC, int64(f.POC))
	m.SetInt(MetaKeyFlags, int64(f.Flags))
	m.SetInt(MetaKeyErrInfo, int64(f.ErrInfo))
	return m
}

// FromMeta rebuilds a frame from metadata written by ToMeta and attaches b
// (which may be nil). Geometry keys are required.
func FromMeta(m *Meta, b *buffer.Buffer) (*Frame, error) {
	if m == nil {
		return nil, fmt.Errorf("%w: nil meta", status.ErrInvalidArgument)
	}
	get := func(k MetaKey, required bool) (int64, error) {
		v, ok := m.Int(k)
		if !ok && required {
			return 0, fmt.Errorf("%w: meta key %d missing", status.ErrInvalidArgument, k)
		}
		return v, nil
	}

	var info Info
	fields := []struct {
		key      MetaKey
		required bool
		set      func(int64)
	}{
		{MetaKeyWidth, true, func(v int64) { info.Width = int(v) }},
		{MetaKeyHeight, true, func(v int64) { info.Height = int(v) }},
		{MetaKeyHorStride, false, func(v int64) { info.HorStride = int(v) }},
		{MetaKeyVerStride, false, func(v int64) { info.VerStride = int(v) }},
		{MetaKeyFormat, false, func(v int64) { info.Format = Format(v) }},
		{MetaKeyPTS, false, func(v int64) { info.PTS = v }},
		{MetaKeyDTS, false, func(v int64) { info.DTS = v }},
		{MetaKeyPOC, false, func(v int64) { info.POC = int(v) }},
		{MetaKeyFlags, false, func(v int64) { info.Flags = Flag(v) }},
		{MetaKeyErrInfo, false, func(v int64) { info.ErrInfo = uint32(v) }},
	}
	for _, fld := range fields {
		v, err := get(fld.key, fld.required)
		if err != nil {
			return nil, err
		}
		fld.set(v)
	}
	if err := limits.ValidateDimensions(info.Width, info.Height); err != nil {
		return nil, err
	}

	f := NewWithInfo(info)
	if err := f.SetBuffer(b); err != nil {
		return nil, err
	}
	return f, nil
}
