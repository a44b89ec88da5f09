// Package failure writes the structured diagnostic report left behind by a
// failed render run: which chapters failed, the utterance and voice involved,
// the captured error, and where the cache and ledger live.
//
// The report has a fixed path under the cache root and is replaced by each
// new failure. Callers treat a report write error as secondary: the original
// failure is still the one returned to the user.
package failure
