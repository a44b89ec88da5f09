// Package preflight verifies the directories a render writes to before any
// synthesis time is spent.
//
// Render never runs them itself. The deps command prints them next to the
// external binary checks and exits non-zero when one fails.
package preflight
