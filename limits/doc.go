// Package limits provides centralized size and count constants and validation
// functions for the codec core. This package ensures consistent bounds across
// buffer groups, slot tables, task pools and pipeline configuration.
//
// # Bounds
//
//   - MinSlots/MaxSlots (1..32): slot table size. get_unused is a linear scan,
//     so the table stays small; a DPB never needs more than 32 entries.
//
//   - MinTasks/MaxTasks (1..16): task pool capacity, i.e. the number of jobs
//     that may be in flight between the parse and hardware stages.
//
//   - MaxPacketSize (64MB): the largest compressed packet accepted on input.
//
//   - MaxBufferSize (256MB): the largest single buffer a group allocates.
//
//   - MaxDimension (16384): upper bound on frame width and height.
//
// # Validation Functions
//
//	if err := limits.ValidateSlotCount(n); err != nil {
//	    // ErrOutOfRange, classified as status.InvalidArgument
//	}
//
// # Error Types
//
//   - ErrEmpty: zero or negative size, nil payload
//   - ErrTooLarge: value exceeds its upper bound
//   - ErrOutOfRange: count outside its range
//
// All three wrap status.ErrInvalidArgument.
package limits
