// Package blobstore persists uploaded dataset payloads as flat files keyed by
// opaque identifiers minted at enqueue time.
//
// Writes land in a .partial file and are renamed into place once complete, so
// a crash mid-upload never leaves a readable half-blob. The store performs no
// expiry of its own: blobs live until the queue stops referencing them, at
// which point Sweep removes the orphans. Keys are restricted to a safe
// filename character set so a corrupted queue row can never direct deletes
// outside the blob directory.
package blobstore
