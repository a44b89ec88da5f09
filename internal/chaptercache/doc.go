// Package chaptercache stores rendered chapter audio under a project's cache
// root and decides whether a stored file can be reused.
//
// Files are keyed by chapter index (chapters/chapter_0007.wav) so the layout
// stays stable across runs, while validity is driven by the ledger's
// fingerprint. Check combines the ledger entry with the file on disk and
// answers absent, stale, or valid.
package chaptercache
