package logging

import (
	"context"
	"fmt"
	"regexp"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type ctxKey int

const (
	sessionKey ctxKey = iota
	patientKey
	stageKey
	requestKey
)

// correlation maps context keys to the log field each one fills, in
// output order.
var correlation = []struct {
	key   ctxKey
	field string
}{
	{sessionKey, "session.id"},
	{patientKey, "patient.id"},
	{stageKey, "pipeline.stage"},
	{requestKey, "request.id"},
}

// ContextFields returns the trace ids and correlation ids carried by ctx.
func ContextFields(ctx context.Context) []zap.Field {
	var fields []zap.Field
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
		if sc.IsSampled() {
			fields = append(fields, zap.Bool("trace_sampled", true))
		}
	}
	for _, c := range correlation {
		if v := value(ctx, c.key); v != "" {
			fields = append(fields, zap.String(c.field, v))
		}
	}
	return fields
}

func value(ctx context.Context, k ctxKey) string {
	v, _ := ctx.Value(k).(string)
	return v
}

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// withID stores id under k. Session ids and stage names come from code
// and panic when malformed.
func withID(ctx context.Context, k ctxKey, id string) context.Context {
	if !idPattern.MatchString(id) {
		panic(fmt.Sprintf("logging: invalid correlation id %q", id))
	}
	return context.WithValue(ctx, k, id)
}

// WithSessionID tags ctx with the session id.
func WithSessionID(ctx context.Context, id string) context.Context {
	return withID(ctx, sessionKey, id)
}

// WithStage tags ctx with the running stage name.
func WithStage(ctx context.Context, stage string) context.Context {
	return withID(ctx, stageKey, stage)
}

// WithRequestID tags ctx with the HTTP request id. Clients may send their
// own X-Request-ID, so a malformed one is dropped.
func WithRequestID(ctx context.Context, id string) context.Context {
	return withExternalID(ctx, requestKey, id)
}

// WithPatientID tags ctx with the patient id. Patient ids are taken from
// conversation text, so a malformed one is dropped.
func WithPatientID(ctx context.Context, id string) context.Context {
	return withExternalID(ctx, patientKey, id)
}

func withExternalID(ctx context.Context, k ctxKey, id string) context.Context {
	if !idPattern.MatchString(id) {
		return ctx
	}
	return context.WithValue(ctx, k, id)
}
