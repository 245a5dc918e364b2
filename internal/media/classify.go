package media

import (
	"errors"
	"path/filepath"
	"strings"
)

// ErrUnsupported is returned when media falls outside the audio/video
// allow-list.
var ErrUnsupported = errors.New("unsupported media type")

// Type is the coarse media classification used for pipeline dispatch.
type Type string

const (
	TypeAudio       Type = "AUDIO"
	TypeVideo       Type = "VIDEO"
	TypeUnsupported Type = "UNSUPPORTED"
)

var videoExts = map[string]bool{
	".mp4": true,
	".mov": true,
	".avi": true,
	".mkv": true,
}

var audioExts = map[string]bool{
	".mp3":  true,
	".wav":  true,
	".flac": true,
}

// Classify maps a filename to its media type based on the extension.
// Anything outside the allow-list is UNSUPPORTED.
func Classify(name string) Type {
	base := filepath.Base(name)
	ext := filepath.Ext(base)
	if ext == base {
		// Hidden file like ".mp3" — that's a name, not an extension.
		ext = ""
	}
	ext = strings.ToLower(ext)
	switch {
	case videoExts[ext]:
		return TypeVideo
	case audioExts[ext]:
		return TypeAudio
	default:
		return TypeUnsupported
	}
}
