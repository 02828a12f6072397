// Package archive coordinates the telemetry bulk-load pipeline of one
// ground session.
//
// Architecture:
//
//	┌─────────┐   ┌─────────┐   ┌──────────┐   ┌──────────┐   ┌──────────┐
//	│   Bus   │──▶│  Store  │──▶│ Monitor  │──▶│ Gatherer │──▶│ Inserter │──▶ DB
//	└─────────┘   └─────────┘   └──────────┘   └──────────┘   └──────────┘
//	                   │             ▲               │              │
//	                   ▼             │               ▼              ▼
//	              ┌─────────┐        │          ┌─────────┐   ┌───────────┐
//	              │ SerialQ │────────┘          │ Export  │   │ Retention │
//	              └─────────┘                   └─────────┘   └───────────┘
//
// A Controller owns one monitor per store identifier for the whole
// session, the gatherer, one inserter per started store and the
// housekeeping loop (all-inactive watchdog, backpressure checks, retention
// sweeps). Stores reach it through the store.Archive interface; nothing in
// the pipeline is a process-wide singleton.
//
// Shutdown is two-phase: every store idles down its serialization queue,
// then the gatherer runs a full flush and the inserters drain their queues
// within the configured shutdown timeout.
package archive
