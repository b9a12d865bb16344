// Package pipeline sequences named stages over a persisted session.
//
// Each inbound message is one tick. A tick scans the stages in order,
// skipping terminal stages and conditional stages whose trigger does not
// hold, and gives the first runnable stage exactly one generate-then-
// validate step. Stages escalate when the validation gate passes, exhaust
// after MaxIterations generation calls, or pause while they wait for
// external input. Stage run state survives between ticks, so a returning
// conversation resumes at the stage it left.
//
// What happens after a stage turns terminal is a per-stage Fallthrough
// policy: StrictAbort stops the tick (and aborts the pipeline when the
// stage exhausted) while SoftContinue moves on within the same tick.
//
// Failures inside a stage never escape as errors. Generation errors,
// timeouts and panics are failed iterations; exhaustion is reported as a
// flag (ErrStageExhausted) on the Outcome. Tick returns errors only for
// invalid session ids and store failures.
package pipeline
