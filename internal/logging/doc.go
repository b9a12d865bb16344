// Package logging wraps zap for ClinicPulse.
//
// Every Logger method takes a context and prepends the correlation ids it
// carries: the OpenTelemetry trace and span, session.id, patient.id,
// pipeline.stage and request.id. Console output goes through a redacting
// encoder; entries below Error are sampled; an otelzap core ships entries
// to the OTEL log provider when one is configured.
//
//	ctx = logging.WithSessionID(ctx, "sess_123")
//	ctx = logging.WithStage(ctx, "triage")
//	logger.Step(ctx, "record_triage_decision", "priority=Critical")
//
// Tests use NewTestLogger and its Assert helpers.
package logging
