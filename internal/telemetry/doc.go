// Package telemetry provides OpenTelemetry tracing and metrics for
// ClinicPulse.
//
// Spans cover each pipeline tick and stage step; meters count stage
// outcomes and generation latency. Export goes to an OTLP collector over
// gRPC or HTTP, or to stderr with the stdout protocol for local debugging.
//
// # Usage
//
//	tel, err := telemetry.New(ctx, telemetry.FromSettings(cfg.Telemetry, version))
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(ctx)
//
//	tracer := tel.Tracer("clinicpulse/pipeline")
//	ctx, span := tracer.Start(ctx, "pipeline.tick")
//	defer span.End()
//
// # Configuration
//
//	telemetry:
//	  enabled: true
//	  endpoint: "localhost:4317"
//	  protocol: grpc        # grpc, http/protobuf or stdout
//	  service_name: "clinicpulse"
//	  insecure: true
//	  sample_rate: 1.0
//
// # Testing
//
//	tt := telemetry.NewTestTelemetry()
//	_, span := tt.Tracer("test").Start(ctx, "test-span")
//	span.End()
//	tt.AssertSpanExists(t, "test-span")
package telemetry
