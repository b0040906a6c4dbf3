// Package term models the values that cross the boundary between the host runtime
// and the binding layer, and implements the buffer bridge between host binaries and
// engine byte slices.
//
// Ownership rules:
//
//   - Decode borrows: the returned slice aliases the host's binary and is only valid
//     while the call that received it is running. Engines must copy anything they keep.
//   - Encode copies: engine buffers have a lifetime that is independent of the host's
//     memory management, so everything handed back to the host is a fresh Binary.
//   - A zero-length engine value encodes to a zero-length Binary. The nil atom is
//     reserved for absence.
//
// Resource handles (see package resource) implement Term with KindResource so that
// they can be passed through the same untyped argument lists as binaries and atoms.
package term
