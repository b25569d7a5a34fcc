// Package engine adapts an external translation command to the batch
// Executor contract.
//
// The Command executor launches the configured binary once per job,
// substitutes the {input}, {output}, {source_lang}, and {target_lang}
// placeholders in its argument list, and forwards progress lines from the
// command's stdout into the job's progress callback. Lines of the form
// "PROGRESS <percent> [message]" update the percentage; everything else is
// ignored. Failures are classified: a missing input is a validation error, a
// non-zero exit a processing error, and a missing output file an io error.
//
// Which translation engine runs behind the command (Whisper, Argos, an LLM
// wrapper) is the caller's business; this package only owns the process
// plumbing.
package engine
