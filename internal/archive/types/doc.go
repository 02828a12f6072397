// Package types defines the shared data types of the archive pipeline.
//
// This package has no internal dependencies so that every other archive
// package can import it without creating cycles.
//
// # Store identifiers
//
// An Identifier names one telemetry category. Exactly one monitor exists
// per identifier during a session, and at most one inserter.
//
// # Insert items
//
// An InsertItem describes one closed load file. The gatherer creates it at
// the moment a stream is harvested and the owning inserter consumes it
// exactly once.
package types
