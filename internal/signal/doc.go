// Package signal implements the completion-signal protocol.
//
// A signal is a small "key: value" file written once, atomically, by the
// entity that finished a unit of work. Supervisors learn outcomes by
// counting and reading signals, never by opening a worker's output.
//
// Signals live under the session's .signals directory and are named
// <layer>-<name>.done on success or <layer>-<name>.fail on failure:
//
//	path: /sessions/s1/research/round-1/security.md
//	size: 4211
//	status: success
//	created_at: 2026-03-01T10:00:00Z
//	trace_id: 6f1c...
//
// Refined artifacts never overwrite an earlier one. A new signal carries a
// version number and the path of the signal it supersedes, forming an
// append-only chain.
package signal
