// Package ledger persists per-chapter render status for a project.
//
// The ledger maps chapter index to fingerprint, status (pending, ok, failed),
// cached audio location, duration, and the last error. It is written as a
// single versioned JSON document through an atomic temp-file rename, so a
// crash leaves either the previous document or the new one. Damage never
// fails a render: a corrupt or unsupported document loads as empty and every
// chapter is re-validated from scratch.
package ledger
