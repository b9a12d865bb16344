// Package mcp exposes ClinicPulse over the Model Context Protocol.
//
// The stdio server registers the six clinic tools, each bound to a
// session and side-writing its result into that session's state, plus
// send_message (one pipeline tick) and get_session (stage statuses and
// state).
package mcp
