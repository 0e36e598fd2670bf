// Package prometheus serves authcore counters in the Prometheus text
// exposition format without a client library or global registry.
//
// Mount [Exporter.Handler] on the route of your choice. Counters are named
// authcore_*_total and ValidateAccess latency is the histogram
// authcore_validate_latency_seconds. Sources that can ping the identity store
// also get authcore_store_up and authcore_store_ping_seconds.
package prometheus
