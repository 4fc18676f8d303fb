// Package store is the durable, file-backed record store shared by every
// runboard component.
//
// Each run owns a directory tree under the store root:
//
//	runs/<run_id>/index.json                 run session
//	runs/<run_id>/tasks/<task_id>.json       task records
//	runs/<run_id>/locks/<lock_id>.json       path lock records
//	runs/<run_id>/mailbox/<msg_id>.json      messages (+ <msg_id>.ack.json)
//	runs/<run_id>/artifacts/<id>.json        artifact descriptors
//
// # Writes
//
// Every write validates the record against its embedded JSON schema and is
// then made atomic: the bytes go to a uniquely named ".tmp-*" file in the
// destination directory, are synced, and the temp file is renamed into
// place. When rename fails because source and target live on different
// devices, or because Windows reports the target as busy, the store falls
// back to copying the bytes over the target and deleting the temp file.
// Any other failure removes the temp file and is returned as ERR_IO.
//
// # Reads and listings
//
// Reading a missing record returns the entity's not-found code
// (ERR_TASK_NOT_FOUND, ERR_LOCK_NOT_FOUND, ...). A file that cannot be
// parsed or fails schema validation returns ERR_INVALID_ARGUMENT naming the
// file; corrupt records are never repaired. Listings skip temp remnants and
// sidecar files by glob pattern.
//
// # Run lock
//
// [Store.LockRun] serialises short read-check-write sequences (claim,
// acquire) across goroutines and, on a real filesystem, across processes via
// an advisory flock on runs/<run_id>/<scope>.lock. It is held only for the
// duration of a single operation, never across agent work.
//
// The filesystem is an [afero.Fs] so tests can substitute in-memory or
// fault-injecting implementations.
package store
