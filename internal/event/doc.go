// Package event defines the canonical conflict-event record and the pure
// functions that produce it: the field validator, which turns untrusted
// extraction output into domain values with documented fallbacks, and the
// risk scorer. It also declares the Store interface implemented by memstore
// and pgstore.
package event
