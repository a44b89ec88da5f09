// Package synthesis defines the contract between the render pipeline and a
// speech engine. The pipeline never interprets why synthesis failed; it
// records the error, and UtteranceError lets an engine point at the exact
// utterance for the failure report.
package synthesis
