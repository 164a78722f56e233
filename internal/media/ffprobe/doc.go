// Package ffprobe provides a typed wrapper around ffprobe JSON output.
//
// This package has no lingopipe-specific dependencies and could be extracted
// as a standalone library.
package ffprobe
