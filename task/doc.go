// Package task provides the bounded task pool connecting the parse and
// hardware stages.
//
// A Pool holds a fixed array of descriptors. Tasks move between an unused
// and a used list; identity is the array index plus a generation that is
// bumped each time the task changes hands:
//
//	h, _ := pool.Acquire(task.StateUnused)   // held by the parse stage
//	_ = pool.Write(h, payload)
//	h, _ = pool.Transfer(h, task.StateUsed)  // queued for hardware
//	h, _ = pool.Claim(h)                     // held by the hardware stage
//	_, _ = pool.Transfer(h, task.StateUnused)
//
// The payload type is fixed per pool: Decode for decoders, Encode for
// encoders.
package task
