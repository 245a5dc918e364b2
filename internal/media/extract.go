package media

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// ExtractAudio pulls a mono 16kHz 16-bit PCM WAV track out of a video file
// using ffmpeg, writing it into scratchDir. The caller owns scratchDir and is
// responsible for removing it when done.
//
// ffmpeg's stderr is captured and returned verbatim on failure so the job's
// failure diagnostic shows the actual codec error.
func ExtractAudio(ctx context.Context, videoPath, scratchDir string) (string, error) {
	out := filepath.Join(scratchDir, "audio_16k.wav")

	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-y", "-i", videoPath,
		"-vn",
		"-ac", "1",
		"-ar", "16000",
		"-c:a", "pcm_s16le",
		"-f", "wav",
		out,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		os.Remove(out)
		return "", fmt.Errorf("ffmpeg audio extraction failed: %v: %s", err, stderr.String())
	}
	return out, nil
}

// CheckFFmpeg checks if ffmpeg is available in PATH. Call once at startup.
func CheckFFmpeg() bool {
	_, err := exec.LookPath("ffmpeg")
	return err == nil
}
