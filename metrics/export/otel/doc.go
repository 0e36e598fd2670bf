// Package otel publishes authcore counters as OpenTelemetry observable
// instruments fed by a single callback reading [authcore.Engine.MetricsSnapshot].
//
// Every engine counter becomes an Int64ObservableCounter of the same name.
// ValidateAccess latency is published as authcore_validate_latency_seconds_bucket,
// one gauge series per le attribute, plus a _count counter. The caller owns
// the Meter and its provider.
package otel
