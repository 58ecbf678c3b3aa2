// Package organizer decides where a backed-up file lives on a destination.
//
// Layout is a pure function of the run date and the file category, so
// re-uploads and folder creation are idempotent. Remote object names are
// derived from the source path so two files with the same base name in
// different source directories never overwrite each other.
package organizer
