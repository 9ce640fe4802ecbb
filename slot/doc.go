// Package slot implements the decoded picture buffer slot table.
//
// Each slot binds a buffer and frame info to a status bit set:
//
//	unused --GetUnused--> used
//	used --SetRef/ClearRef--> used(+ref)
//	used --SetOutput--> used(+output) --SetHWReady--> used(+hw_ready)
//	used --SetHWInput/ClearHWInput--> used(+hw_input while jobs read it)
//	used --EnqueueDisplay--> used(+display_queued) --DequeueDisplay--> used, or unused if nothing else pins it
//	used --SetUnused/Release--> unused   (only with no ref, output, hw_input or display_queued bit)
//
// The codec plugin claims slots and manages references and display order;
// the hardware stage marks completion; the consumer side dequeues for
// display, taking its own buffer reference in the same locked step. The
// table never changes a slot on its own.
//
// GetUnused is a linear scan; tables hold at most limits.MaxSlots entries.
// Exhaustion is a configuration error (the DPB was sized too small) and is
// reported immediately instead of blocking.
package slot
