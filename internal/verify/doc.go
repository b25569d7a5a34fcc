// Package verify checks translated SRT files for completeness.
//
// A translation run can leave cues empty when the engine produced no text
// for them. VerifyFile parses an SRT file and reports how many cues carry
// text; VerifyDir aggregates a whole directory of outputs. The batch runner
// uses a file report to downgrade an otherwise successful job to
// completed-with-warning instead of guessing whether a partial output counts
// as a success.
package verify
