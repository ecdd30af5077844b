// Package canonical produces RFC 8785 canonical JSON and domain-separated
// content hashes.
//
// Canonical output is the ONLY serialization used for structural identity:
// two values that differ only in map key order always produce identical bytes.
// The schema package hashes normalized schemas with it so that peers agree on
// schema identity without exchanging anything but the hash.
//
// This package imports nothing internal.
package canonical
