// Package publish uploads finished audiobooks to S3-compatible object
// storage.
package publish
