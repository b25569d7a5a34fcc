// Package history records finished batch runs in SQLite.
//
// The Store is an append-only ledger: when a batch finishes, the final
// snapshot is written as one run row plus one row per job. Nothing is read
// back into the queue; live queue state stays in memory and does not survive
// process restarts.
//
// Schema changes bump the version in schema.go; users clear the ledger to
// adopt a new schema.
package history
