// Package logs reads the rotating audiobooker log file for the CLI.
//
// Last returns the final lines with bounded memory, and Follow polls for
// appended lines until its context ends. Both accept a line filter so one
// render run can be picked out by its run id.
package logs
