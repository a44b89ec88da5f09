// Package render is the resumable synthesis pipeline for one project.
//
// Render locks the project's cache root, fingerprints every chapter in
// parallel and checks it against the ledger and the chapter cache. Chapters
// with valid audio are reused; the rest are synthesized on a bounded worker
// pool. Workers only write chapter files. The goroutine running Render owns
// the ledger, the progress tracker and the result, and applies each
// completion as it arrives: audio is written before its ledger entry says
// ok, so an interrupted run never leaves an ok entry without a file.
//
// A chapter failure is recorded as failed in the ledger and in the failure
// report under the cache root. Without AllowPartial the run stops; with it,
// rendering continues and assembly skips the missing chapters. Configuration
// errors stop the run in both modes.
package render
