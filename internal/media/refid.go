package media

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
	"time"
)

// Reference IDs join a stored upload, its queue job, and its output artifact.
// Format: {local ISO 8601 timestamp, second precision}_{sanitized basename}.
// The timestamp prefix keeps IDs chronologically sortable.

const refTimeLayout = "2006-01-02T15:04:05-07:00"

// NewReferenceID builds a reference ID for an upload received at the given time.
func NewReferenceID(now time.Time, filename string) string {
	return now.Format(refTimeLayout) + "_" + SanitizeFilename(filename)
}

// SanitizeFilename reduces a client-supplied filename to a safe basename.
// Path components (both separator styles) are stripped to prevent traversal,
// and leading dots are dropped so stored keys never look like hidden or
// in-progress files.
func SanitizeFilename(name string) string {
	// Clients on Windows may send backslash-separated paths.
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	name = strings.TrimSpace(name)
	name = strings.TrimLeft(name, ".")
	if name == "" {
		return "file"
	}
	return name
}

// WithCollisionSuffix appends a short random suffix to a reference ID.
// Used when two uploads share a filename within the same second.
func WithCollisionSuffix(referenceID string) string {
	b := make([]byte, 2)
	rand.Read(b)
	return referenceID + "-" + hex.EncodeToString(b)
}

// ArtifactKey is the artifact store key for a reference ID. The extension
// stays .txt even when the content is JSON.
func ArtifactKey(referenceID string) string {
	return referenceID + ".txt"
}
