// Package book defines the compiled project model consumed by the render
// pipeline: chapters, their utterances with resolved voices, and the audio
// parameters that shape synthesis.
//
// The model is read-only for the duration of a render. Load parses the JSON
// document produced by the compile stage and validates it with
// go-playground/validator.
package book
