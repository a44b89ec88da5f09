// Package wav encodes and inspects 16-bit PCM WAV documents, the format in
// which chapter audio is cached.
package wav
