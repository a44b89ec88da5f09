// Package config loads, normalizes, and validates audiobooker configuration.
//
// Configuration lives in a TOML file (~/.config/audiobooker/config.toml or
// ./audiobooker.toml). Load decodes it over Default(), applies AUDIOBOOKER_*
// environment overrides, expands paths, and validates the result. The audio
// section feeds RenderParams, which is part of every chapter fingerprint, so
// changing it invalidates cached chapters.
package config
