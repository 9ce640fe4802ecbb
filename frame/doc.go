// Package frame provides the Frame and Packet containers exchanged between
// the caller, the parse stage and the hardware stage.
//
// Both containers are plain values plus one borrowed buffer reference.
// Setting the buffer is the only operation with a side effect: the new
// buffer gains a reference before the old one loses its own. Release drops
// the reference; callers release every frame and packet they receive.
//
// Packet.Copy keeps the zero-copy fast path: a buffer-backed packet is
// aliased, a raw one is copied into a freshly acquired buffer.
//
// Info holds the plain-value part of a frame (geometry, timestamps, flags,
// error info) and is what a slot table stores per slot.
package frame
