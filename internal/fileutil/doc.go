// Package fileutil provides crash-safe file writes and verified copies used by
// the chapter cache, the ledger, and final output placement.
package fileutil
