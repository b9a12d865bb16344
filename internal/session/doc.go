// Package session holds per-conversation state for the ClinicPulse pipeline.
//
// A Session carries three things across ticks:
//
//   - State: output key to Value, append-only (no delete operation)
//   - Runs: one StageRun per stage, tracking iterations and Status
//   - Turns: the ordered message/response history
//
// Values are a tagged variant of Structured (field mapping) or FreeText.
// Stores persist sessions as copies; the Locker serialises work on one
// session id while leaving other sessions free to proceed.
//
// Backends:
//
//	session.NewMemoryStore()          in-process
//	sqlite.Open(path)                 internal/session/sqlite
//	natskv.New(ctx, js, bucket)       internal/session/natskv
package session
