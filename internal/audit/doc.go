// Package audit buffers authentication events and relays them to sinks.
//
// The Engine decides which events to emit; this package only delivers them.
// A [Dispatcher] runs a single goroutine that drains a bounded channel into
// a [Sink]. When the buffer is full it either drops the event and counts it,
// or blocks the caller until there is room or ctx is done.
package audit
