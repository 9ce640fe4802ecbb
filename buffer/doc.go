// Package buffer implements reference-counted buffers and the groups that
// own them.
//
// A Group is the allocation arena for one decoder, encoder or shared
// subsystem. Internal groups allocate memory themselves and recycle it when
// the last reference drops; external groups wrap memory the caller supplies
// (a heap slice or a DMA descriptor) and release it on the last reference.
//
//	g, err := buffer.NewGroup("frames", buffer.ModeInternal, buffer.KindHeap,
//	    buffer.Limits{Count: 8})
//	b, err := g.Acquire(1920 * 1088 * 3 / 2)
//	defer b.DecRef()
//
// # Reference Counting
//
// A Buffer is returned with one reference. Holders that keep it take their
// own reference with IncRef and drop it with DecRef. The memory is returned
// exactly once, by the DecRef that reaches zero; later IncRef/DecRef calls on
// the same value fail with status.ErrInvalidIndex.
//
// # Handles
//
// Hardware backends never receive Go pointers. Buffer.Handle returns an
// integer (the descriptor of a DMA buffer, the group id of a heap buffer)
// that Group.Lookup resolves while the buffer is in use. Lookup takes its
// own reference, which the backend drops with DecRef when it is done.
//
// # DMA Buffers
//
// On Linux, KindDMA groups allocate anonymous memory files and map them
// lazily on the first Map call. Imported descriptors are duplicated, so the
// caller keeps ownership of its own descriptor.
package buffer
