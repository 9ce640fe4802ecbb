package buffer

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/opd-ai/hwcodec/status"
)

// Kind identifies the memory backing a buffer.
type Kind int

const (
	// KindHeap buffers are ordinary Go byte slices.
	KindHeap Kind = iota
	// KindDMA buffers are file-descriptor backed and can be shared with
	// hardware or another process by handle.
	KindDMA
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindHeap:
		return "heap"
	case KindDMA:
		return "dma"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Buffer is a reference-counted handle to a block of memory owned by a Group.
//
// A Buffer starts with a reference count of one. Every holder that keeps it
// beyond the current call takes its own reference with IncRef and gives it
// back with DecRef. When the count reaches zero the memory returns to its
// group (internal groups) or the imported handle is unmapped and closed
// (external groups). A Buffer value is never revived after reaching zero:
// recycled memory is handed out under a fresh *Buffer, so a stale pointer
// fails with status.ErrInvalidIndex instead of aliasing the new owner.
type Buffer struct {
	id       uint32
	size     int
	kind     Kind
	group    *Group
	imported bool

	// heap memory, or the cached mapping of fd
	data []byte
	// descriptor for KindDMA, -1 otherwise
	fd int
	// descriptor the caller imported, -1 when allocated internally
	srcFD int

	refs   atomic.Int32
	mapped atomic.Pointer[[]byte]
	mapMu  sync.Mutex
}

// ID returns the stable identifier of the underlying memory block.
func (b *Buffer) ID() uint32 { return b.id }

// Size returns the allocated size in bytes.
func (b *Buffer) Size() int { return b.size }

// Kind returns the memory kind.
func (b *Buffer) Kind() Kind { return b.kind }

// Group returns the owning group.
func (b *Buffer) Group() *Group { return b.group }

// Imported reports whether the memory was supplied by the caller.
func (b *Buffer) Imported() bool { return b.imported }

// Handle returns the importable identifier handed to hardware backends:
// the descriptor for DMA buffers and the group-scoped id for heap buffers.
// Group.Lookup resolves it back to the Buffer.
func (b *Buffer) Handle() int {
	if b.kind == KindDMA {
		return b.fd
	}
	return int(b.id)
}

// RefCount returns the current reference count.
func (b *Buffer) RefCount() int32 { return b.refs.Load() }

// IncRef takes an additional reference. It fails with status.ErrInvalidIndex
// if the buffer has already been released.
func (b *Buffer) IncRef() error {
	if b == nil {
		return fmt.Errorf("%w: nil buffer", status.ErrInvalidArgument)
	}
	for {
		n := b.refs.Load()
		if n <= 0 {
			return fmt.Errorf("%w: buffer %d already released", status.ErrInvalidIndex, b.id)
		}
		if b.refs.CompareAndSwap(n, n+1) {
			return nil
		}
	}
}

// DecRef drops one reference. The call that takes the count to zero returns
// the buffer to its group; any further DecRef fails with status.ErrInvalidIndex.
func (b *Buffer) DecRef() error {
	if b == nil {
		return fmt.Errorf("%w: nil buffer", status.ErrInvalidArgument)
	}
	for {
		n := b.refs.Load()
		if n <= 0 {
			return fmt.Errorf("%w: buffer %d released twice", status.ErrInvalidIndex, b.id)
		}
		if b.refs.CompareAndSwap(n, n-1) {
			if n == 1 {
				b.group.release(b)
			}
			return nil
		}
	}
}

// Map returns the buffer contents, mapping DMA memory on first use.
// Subsequent calls return the cached mapping without locking. A released
// buffer fails with status.ErrInvalidIndex even if it was mapped before.
func (b *Buffer) Map() ([]byte, error) {
	if b.refs.Load() <= 0 {
		return nil, fmt.Errorf("%w: map of released buffer %d", status.ErrInvalidIndex, b.id)
	}
	if p := b.mapped.Load(); p != nil {
		return *p, nil
	}

	b.mapMu.Lock()
	defer b.mapMu.Unlock()
	if p := b.mapped.Load(); p != nil {
		return *p, nil
	}

	data := b.data
	if b.kind == KindDMA && data == nil {
		m, err := dmaMap(b.fd, b.size)
		if err != nil {
			return nil, err
		}
		data = m
		b.data = m
	}
	b.mapped.Store(&data)
	return data, nil
}

// Write copies p into the buffer at off.
func (b *Buffer) Write(off int, p []byte) (int, error) {
	data, err := b.Map()
	if err != nil {
		return 0, err
	}
	if off < 0 || off+len(p) > len(data) {
		return 0, fmt.Errorf("%w: write of %d bytes at %d overflows buffer of %d", status.ErrInvalidArgument, len(p), off, len(data))
	}
	return copy(data[off:], p), nil
}

// Read copies from the buffer at off into p.
func (b *Buffer) Read(off int, p []byte) (int, error) {
	data, err := b.Map()
	if err != nil {
		return 0, err
	}
	if off < 0 || off > len(data) {
		return 0, fmt.Errorf("%w: read at %d outside buffer of %d", status.ErrInvalidArgument, off, len(data))
	}
	return copy(p, data[off:]), nil
}

// successor hands the memory of a recycled buffer to a fresh Buffer value
// and detaches it from b. Called under the group lock.
func (b *Buffer) successor() *Buffer {
	nb := &Buffer{
		id:    b.id,
		size:  b.size,
		kind:  b.kind,
		group: b.group,
		data:  b.data,
		fd:    b.fd,
		srcFD: b.srcFD,
	}
	if p := b.mapped.Load(); p != nil {
		nb.mapped.Store(p)
	}
	nb.refs.Store(1)

	b.mapMu.Lock()
	b.data = nil
	b.fd = -1
	b.srcFD = -1
	b.mapped.Store(nil)
	b.mapMu.Unlock()
	return nb
}

// free returns the memory to the system. Called once, under the group lock.
func (b *Buffer) free() {
	if b.kind == KindDMA {
		if b.data != nil {
			_ = dmaUnmap(b.data)
		}
		if b.fd >= 0 {
			_ = dmaClose(b.fd)
		}
	}
	b.data = nil
	b.mapped.Store(nil)
}
