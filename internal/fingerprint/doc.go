// Package fingerprint derives the content digest that decides whether a
// chapter's cached audio is still valid.
package fingerprint
