// Package telemetry provides observability instrumentation for the attribute engine.
//
// It integrates structured logging (zerolog), distributed tracing
// (OpenTelemetry), metrics (Prometheus) and in-process engine events.
//
// # Usage
//
// Initialize telemetry at application startup:
//
//	tel, err := telemetry.NewTelemetry(telemetry.DefaultConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
// Tests and embedded uses take telemetry.NewNop(), which discards logs, spans and
// metrics but still delivers events synchronously to subscribers.
//
// # Instrumenting an operation
//
//	op := tel.StartOperation(ctx, "component.resolve_attribute",
//	    telemetry.AttrComponentID.String(componentID))
//	defer func() { op.End(err) }()
//
// End records engine errors by class and code, and marks the span.
//
// # Metrics
//
//   - si_func_bindings_executed_total{backend,status}
//   - si_func_binding_duration_seconds{backend}
//   - si_attribute_writes_total{operation}
//   - si_attribute_cascade_depth
//   - si_attribute_proxies_created_total
//   - si_passes_run_total{pass,status}
//   - si_edges_created_total{kind}
//   - si_bus_messages_published_total{driver}
//   - si_bus_messages_skipped_total
//   - si_errors_by_class_total{class}, si_errors_by_code_total{code}
package telemetry
