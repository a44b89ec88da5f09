// Package main hosts the audiobooker CLI entrypoint and command graph.
//
// The Cobra command tree loads configuration once, builds the synthesis and
// assembly pipeline from it and hands the project to the renderer. Cache,
// report and history commands read the state a render leaves behind so an
// interrupted or failed book can be inspected before it is resumed.
//
// Keep this package lean: behavior belongs in the internal packages, and
// commands here only translate flags into their options.
package main
