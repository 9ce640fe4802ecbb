// Package pipeline runs the two-stage codec pipeline behind a decoder or
// encoder context.
//
// A Decoder owns a slot table, a task pool and two buffer groups. Packets
// from PutPacket wait in a bounded input queue. The parse goroutine feeds
// them to the codec plugin (interfaces.IParser), which claims output slots
// and decides display order; the resulting tasks are handed over a channel
// to the hardware goroutine, which runs the backend (interfaces.IHAL) one
// job at a time and marks output slots ready. GetFrame returns frames from
// the head of the display queue as soon as the hardware has finished them.
//
//	dec, err := pipeline.NewDecoder(cfg, interfaces.CodingSim, parser, hal)
//	if err != nil {
//		return err
//	}
//	defer dec.Close()
//
//	_ = dec.PutPacket(frame.NewPacket(data))
//	f, err := dec.GetFrame()
//	if err == nil {
//		defer f.Release()
//	}
//
// Both ports honour a Timeout: TimeoutBlock waits, TimeoutNonBlock fails
// at once with status.ErrWouldBlock and a positive duration fails with
// status.ErrTimeout when it expires. Stages and callers wake each other
// through Events, a sticky bit set with a broadcast channel, so no signal
// is lost between a check and a wait.
//
// Reset and Close pause both stages between tasks: a hardware job that is
// already running finishes first, then every queued packet, task and
// undisplayed frame is discarded. Frames already handed to the caller keep
// their buffers.
//
// Encoder is the mirror image for encoding: frames in, packets out, in
// submission order.
package pipeline
