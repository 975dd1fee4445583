// Package flows contains pure-function orchestrators for Manager operations.
//
// Each flow function (RunGate, RunExecute) accepts a typed dependency struct
// and returns a result carrying a failure kind, so the root package owns the
// mapping to public errors and the flows stay testable with plain functions.
//
// # Architecture boundaries
//
// Flow functions coordinate calls to the session store, the refresh
// coordinator and the caller's operation. They do NOT own any of these
// resources; ownership stays with the Manager.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import goRenew (to avoid import cycles).
//   - Perform I/O directly. All I/O is mediated through dependency functions.
package flows
