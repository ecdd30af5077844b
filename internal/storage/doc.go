// Package storage defines the backend-agnostic storage instance contract and
// the logic every backend shares.
//
// A storage Instance serves one collection of one database on one backend.
// Backends implement the narrow Driver interface (transactional writes,
// point lookups, query, the (lwt, id) change index, tombstone purge). The
// Instance returned by NewInstance layers the shared semantics on top:
//
//   - revision-based optimistic concurrency and write categorization
//     (Categorize is pure and can be tested without a backend)
//   - last-write-time stamping from a monotonic clock, inside the backend
//     write transaction so (lwt, id) order follows commit order
//   - the change stream: one EventBulk per committed write, multicast to
//     every subscriber and completed by Close
//   - the conflict resolution task channel
//   - the Open -> Closing -> Closed lifecycle
//
// Data-level conflicts are returned as WriteError values inside a
// BulkWriteResponse. Programmer errors and backend failures are returned as
// *Error.
package storage
