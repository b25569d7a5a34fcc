// Package runner wires one batch run end to end.
//
// It composes the pieces the CLI needs: a fresh queue, the configured
// executor, the scheduler, ntfy notifications, the optional SQLite run
// ledger, and output verification. A flock on the work directory prevents
// two runs from sharing state. Run blocks until the batch has finished and
// returns the final snapshot.
package runner
