// Package media wraps the ffmpeg command line tools.
package media

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Tools locates the ffmpeg and ffprobe binaries
type Tools struct {
	FFmpeg  string
	FFprobe string
	TempDir string
}

// NewTools creates Tools. Empty binary paths resolve through $PATH.
func NewTools(ffmpeg, ffprobe, tempDir string) *Tools {
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}
	if ffprobe == "" {
		ffprobe = "ffprobe"
	}
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	return &Tools{FFmpeg: ffmpeg, FFprobe: ffprobe, TempDir: tempDir}
}

// ExtractWAV converts any media file to mono 16-bit PCM WAV in the temp dir.
// The caller removes the returned file.
func (t *Tools) ExtractWAV(ctx context.Context, input string) (string, error) {
	if err := os.MkdirAll(t.TempDir, 0o755); err != nil {
		return "", fmt.Errorf("create temp dir: %w", err)
	}
	out := filepath.Join(t.TempDir, uuid.New().String()+".wav")

	// ffmpeg -y -i input -acodec pcm_s16le -ac 1 output
	cmd := exec.CommandContext(ctx, t.FFmpeg,
		"-y", "-i", input,
		"-acodec", "pcm_s16le",
		"-ac", "1",
		out,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		_ = os.Remove(out)
		return "", fmt.Errorf("ffmpeg: %w: %s", err, lastLine(stderr.String()))
	}
	return out, nil
}

// Duration returns the media duration in seconds as reported by ffprobe
func (t *Tools) Duration(ctx context.Context, path string) (float64, error) {
	cmd := exec.CommandContext(ctx, t.FFprobe,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return 0, fmt.Errorf("ffprobe: %w: %s", err, lastLine(stderr.String()))
	}
	return ParseDuration(stdout.String())
}

// ParseDuration parses ffprobe's bare duration output
func ParseDuration(out string) (float64, error) {
	d, err := strconv.ParseFloat(strings.TrimSpace(out), 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", strings.TrimSpace(out), err)
	}
	return d, nil
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
