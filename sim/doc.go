// Package sim provides simulated codec plugins and hardware backends for
// deterministic testing of the codec core.
//
// # Overview
//
// The components here implement the interfaces package contracts without
// any real bitstream syntax or accelerator. They drive the pipeline through
// every path a real codec exercises: slot claims, reference management, B
// picture reordering, end-of-stream flush, hardware failures and slow or
// stalled hardware jobs.
//
// # Bitstream
//
// Every packet carries one picture: a 4 byte header (type 'I', 'P' or 'B',
// a reserved byte, big-endian POC) followed by the payload. Stream builds a
// decode-order sequence from a display-order GOP pattern:
//
//	pics, _ := sim.Stream("IBBP", 8, 64)
//	for _, p := range pics {
//	    ctx.PutPacket(frame.NewPacket(p.Data))
//	}
//
// # Decoding
//
// Parser keeps the two latest anchors (I or P) as references. A B picture
// references both and is queued for display at once; an anchor is queued
// when the next anchor arrives, or at Flush. HAL copies the payload into
// the output buffer, resolving both buffers from their integer handles, and
// fills the rest of the picture with the POC.
//
// # Fault Injection
//
// HAL options shape job timing and outcome:
//
//	hal := sim.NewHAL(
//	    sim.WithDelay(2*time.Millisecond),
//	    sim.WithFailPOC(3),
//	    sim.WithGate(gate, entered),
//	)
//
// WithGate holds Wait until the gate opens, which lets tests reset a
// decoder while a hardware job is in flight.
//
// # Encoding
//
// Encoder and EncHAL form the reverse path: the packet they produce is the
// picture header followed by the frame's raw bytes, so Parser can decode it.
package sim
