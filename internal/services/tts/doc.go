// Package tts provides speech engines and the chapter synthesizer that turns
// a chapter's utterances into one WAV file.
//
// PiperEngine runs the local piper binary once per utterance. EdgeEngine
// streams MP3 audio from the Edge read-aloud service and decodes it to PCM.
// ChapterSynthesizer drives either engine, resamples every utterance to the
// configured rate and inserts the narrator or dialogue pause between them.
package tts
