// Package cropstore persists crop images in a flat directory and keeps it
// bounded.
//
// Save encodes a crop as JPEG into a hidden temp file beside its final name,
// syncs it and renames it into place, so readers only ever see complete files.
// Sweep keeps the RetentionCount most recently modified crops and removes the
// rest, along with temp files orphaned by a crash.
//
// Saves share a read lock and Sweep takes the write lock, so a sweep never
// races an in-flight save. Files opened through Open are pinned and survive
// sweeps until closed.
//
// Retention uses a full directory scan. That is fine for hundreds of files but
// grows linearly with the directory.
package cropstore
