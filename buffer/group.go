package buffer

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/hwcodec/limits"
	"github.com/opd-ai/hwcodec/status"
)

// ErrGroupFull indicates an internal group reached its count or size limit
// with nothing left to evict. It clears once a buffer returns to the group;
// see Group.Notify.
var ErrGroupFull = fmt.Errorf("%w: buffer group full", status.ErrResourceExhausted)

// Mode selects how a group obtains memory.
type Mode int

const (
	// ModeInternal groups allocate and recycle their own buffers.
	ModeInternal Mode = iota
	// ModeExternal groups only wrap caller-supplied memory.
	ModeExternal
)

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case ModeInternal:
		return "internal"
	case ModeExternal:
		return "external"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Limits caps an internal group. Zero values mean unlimited.
type Limits struct {
	// Count bounds used+unused buffers.
	Count int
	// Size bounds the total bytes of used+unused buffers.
	Size int64
}

// ExternalInfo describes caller-supplied memory for Group.Import.
type ExternalInfo struct {
	// FD is the descriptor to import into a KindDMA group. The group keeps
	// its own duplicate, so the caller may close FD after Import returns.
	FD int
	// Data is wrapped without copying by a KindHeap group.
	Data []byte
	// Size of the memory. Defaults to len(Data) for heap imports.
	Size int
}

// Stats is a point-in-time snapshot of a group.
type Stats struct {
	Name      string
	Mode      Mode
	Kind      Kind
	Used      int
	Unused    int
	TotalSize int64
	Limits    Limits
	Allocated uint64
	Reused    uint64
	Recycled  uint64
	Freed     uint64
}

// Group is the allocation arena for a decoder, encoder or shared subsystem.
//
// All list mutation happens under mu. Buffers in use are indexed by handle so
// hardware backends can resolve the integer they receive through Lookup.
type Group struct {
	name   string
	mode   Mode
	kind   Kind
	limits Limits
	log    *logrus.Entry

	mu        sync.Mutex
	unused    []*Buffer
	used      map[int]*Buffer
	nextID    uint32
	totalSize int64
	closed    bool
	notify    chan struct{}

	allocated uint64
	reused    uint64
	recycled  uint64
	freed     uint64
}

// NewGroup creates a buffer group. An empty name gets a generated one.
func NewGroup(name string, mode Mode, kind Kind, lim Limits) (*Group, error) {
	if mode != ModeInternal && mode != ModeExternal {
		return nil, fmt.Errorf("%w: group mode %d", status.ErrInvalidArgument, int(mode))
	}
	if kind != KindHeap && kind != KindDMA {
		return nil, fmt.Errorf("%w: group kind %d", status.ErrInvalidArgument, int(kind))
	}
	if lim.Count < 0 || lim.Size < 0 {
		return nil, fmt.Errorf("%w: negative limits %+v", status.ErrInvalidArgument, lim)
	}
	if name == "" {
		name = "group-" + uuid.NewString()[:8]
	}

	g := &Group{
		name:   name,
		mode:   mode,
		kind:   kind,
		limits: lim,
		used:   make(map[int]*Buffer),
		notify: make(chan struct{}),
	}
	g.log = logrus.WithFields(logrus.Fields{
		"group": name,
		"mode":  mode.String(),
		"kind":  kind.String(),
	})

	g.log.WithFields(logrus.Fields{
		"function":    "NewGroup",
		"count_limit": lim.Count,
		"size_limit":  lim.Size,
	}).Info("Buffer group created")

	return g, nil
}

var (
	defaultOnce  sync.Once
	defaultGroup *Group
)

// Default returns the process-wide unlimited heap group, creating it on
// first use. It is never closed.
func Default() *Group {
	defaultOnce.Do(func() {
		g, err := NewGroup("default", ModeInternal, KindHeap, Limits{})
		if err != nil {
			panic(err)
		}
		defaultGroup = g
	})
	return defaultGroup
}

// Name returns the group name.
func (g *Group) Name() string { return g.name }

// Mode returns the allocation mode.
func (g *Group) Mode() Mode { return g.mode }

// Kind returns the memory kind.
func (g *Group) Kind() Kind { return g.kind }

// Acquire returns a buffer of at least size bytes with a reference count of
// one. A cached unused buffer large enough is reused without allocating;
// otherwise a new one is allocated if the limits allow it.
func (g *Group) Acquire(size int) (*Buffer, error) {
	if err := limits.ValidateBufferSize(size); err != nil {
		return nil, err
	}
	if g.mode != ModeInternal {
		return nil, fmt.Errorf("%w: acquire on external group %s", status.ErrInvalidArgument, g.name)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return nil, fmt.Errorf("%w: group %s", status.ErrClosed, g.name)
	}

	for i, old := range g.unused {
		if old.size >= size {
			g.unused = append(g.unused[:i], g.unused[i+1:]...)
			b := old.successor()
			g.used[b.Handle()] = b
			g.reused++
			return b, nil
		}
	}

	if !g.makeRoom(int64(size)) {
		g.log.WithFields(logrus.Fields{
			"function":   "Acquire",
			"size":       size,
			"used":       len(g.used),
			"unused":     len(g.unused),
			"total_size": g.totalSize,
		}).Warn("Buffer group exhausted")
		return nil, fmt.Errorf("%w: group %s (used %d, limit %d)", ErrGroupFull, g.name, len(g.used), g.limits.Count)
	}

	b, err := g.allocate(size)
	if err != nil {
		return nil, err
	}
	g.used[b.Handle()] = b
	g.totalSize += int64(size)
	g.allocated++

	g.log.WithFields(logrus.Fields{
		"function": "Acquire",
		"id":       b.id,
		"size":     size,
		"used":     len(g.used),
	}).Debug("Buffer allocated")

	return b, nil
}

// makeRoom evicts cached buffers that are too small until a new allocation of
// size fits the limits. Returns false if it cannot fit.
func (g *Group) makeRoom(size int64) bool {
	fits := func() bool {
		count := len(g.used) + len(g.unused)
		if g.limits.Count > 0 && count+1 > g.limits.Count {
			return false
		}
		if g.limits.Size > 0 && g.totalSize+size > g.limits.Size {
			return false
		}
		return true
	}
	for !fits() {
		if len(g.unused) == 0 {
			return false
		}
		victim := g.unused[0]
		g.unused = g.unused[1:]
		g.totalSize -= int64(victim.size)
		victim.free()
		g.freed++
	}
	return true
}

func (g *Group) allocate(size int) (*Buffer, error) {
	g.nextID++
	b := &Buffer{
		id:    g.nextID,
		size:  size,
		kind:  g.kind,
		group: g,
		fd:    -1,
		srcFD: -1,
	}
	if g.kind == KindDMA {
		fd, err := dmaAlloc(size)
		if err != nil {
			return nil, err
		}
		b.fd = fd
	} else {
		b.data = make([]byte, size)
	}
	b.refs.Store(1)
	return b, nil
}

// Import wraps caller-supplied memory. The group must be external.
func (g *Group) Import(info ExternalInfo) (*Buffer, error) {
	if g.mode != ModeExternal {
		return nil, fmt.Errorf("%w: import into internal group %s", status.ErrInvalidArgument, g.name)
	}
	size := info.Size
	if g.kind == KindHeap && size == 0 {
		size = len(info.Data)
	}
	if err := limits.ValidateBufferSize(size); err != nil {
		return nil, err
	}
	if g.kind == KindHeap && len(info.Data) < size {
		return nil, fmt.Errorf("%w: import of %d bytes declares size %d", status.ErrInvalidArgument, len(info.Data), size)
	}
	if g.kind == KindDMA && info.FD < 0 {
		return nil, fmt.Errorf("%w: import of descriptor %d", status.ErrInvalidArgument, info.FD)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return nil, fmt.Errorf("%w: group %s", status.ErrClosed, g.name)
	}
	if g.kind == KindDMA {
		for _, b := range g.used {
			if b.srcFD == info.FD {
				return nil, fmt.Errorf("%w: descriptor %d already imported as buffer %d", status.ErrInvalidArgument, info.FD, b.id)
			}
		}
	}

	g.nextID++
	b := &Buffer{
		id:       g.nextID,
		size:     size,
		kind:     g.kind,
		group:    g,
		imported: true,
		fd:       -1,
		srcFD:    -1,
	}
	if g.kind == KindDMA {
		fd, err := dmaDup(info.FD)
		if err != nil {
			return nil, err
		}
		b.fd = fd
		b.srcFD = info.FD
	} else {
		b.data = info.Data[:size]
	}
	b.refs.Store(1)

	g.used[b.Handle()] = b
	g.totalSize += int64(size)
	g.allocated++

	g.log.WithFields(logrus.Fields{
		"function": "Import",
		"id":       b.id,
		"size":     size,
		"handle":   b.Handle(),
	}).Debug("External buffer imported")

	return b, nil
}

// Lookup resolves a handle obtained from Buffer.Handle to a buffer still in
// use and takes a reference on it. The caller must DecRef the result.
func (g *Group) Lookup(handle int) (*Buffer, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	b, ok := g.used[handle]
	if !ok {
		return nil, fmt.Errorf("%w: handle %d not in use in group %s", status.ErrInvalidIndex, handle, g.name)
	}
	if err := b.IncRef(); err != nil {
		return nil, err
	}
	return b, nil
}

// release is called exactly once per Buffer value, by the DecRef that took
// the count to zero.
func (g *Group) release(b *Buffer) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if cur, ok := g.used[b.Handle()]; ok && cur == b {
		delete(g.used, b.Handle())
	}

	if g.mode == ModeInternal && !g.closed {
		g.unused = append(g.unused, b)
		g.recycled++
	} else {
		g.totalSize -= int64(b.size)
		b.free()
		g.freed++
	}

	close(g.notify)
	g.notify = make(chan struct{})
}

// Notify returns a channel closed the next time a buffer returns to the group.
func (g *Group) Notify() <-chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.notify
}

// Clear frees every cached unused buffer.
func (g *Group) Clear() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, b := range g.unused {
		g.totalSize -= int64(b.size)
		b.free()
		g.freed++
	}
	g.unused = nil
}

// Close frees cached buffers and rejects further Acquire/Import calls.
// Buffers still referenced free their memory on their last DecRef.
func (g *Group) Close() error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil
	}
	g.closed = true
	outstanding := len(g.used)
	g.mu.Unlock()

	g.Clear()

	g.log.WithFields(logrus.Fields{
		"function":    "Close",
		"outstanding": outstanding,
	}).Info("Buffer group closed")
	return nil
}

// Stats returns a snapshot of the group counters.
func (g *Group) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return Stats{
		Name:      g.name,
		Mode:      g.mode,
		Kind:      g.kind,
		Used:      len(g.used),
		Unused:    len(g.unused),
		TotalSize: g.totalSize,
		Limits:    g.limits,
		Allocated: g.allocated,
		Reused:    g.reused,
		Recycled:  g.recycled,
		Freed:     g.freed,
	}
}
