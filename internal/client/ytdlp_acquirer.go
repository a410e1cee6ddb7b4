package client

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/scriptorium/api/internal/pipeline"
)

// YtDlpAcquirer downloads media with the yt-dlp command line tool and
// optionally archives the file to object storage
type YtDlpAcquirer struct {
	binary  string
	dir     string
	storage StorageClient
	timeout time.Duration
	log     *logrus.Logger
}

// NewYtDlpAcquirer creates an acquirer writing into dir. storage may be nil.
func NewYtDlpAcquirer(binary, dir string, storage StorageClient, log *logrus.Logger) *YtDlpAcquirer {
	if binary == "" {
		binary = "yt-dlp"
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &YtDlpAcquirer{binary: binary, dir: dir, storage: storage, log: log}
}

// WithTimeout bounds each download
func (a *YtDlpAcquirer) WithTimeout(d time.Duration) *YtDlpAcquirer {
	a.timeout = d
	return a
}

// Fetch downloads the first item behind locator. The file is named after
// the media title plus a short random suffix so repeated downloads never collide.
func (a *YtDlpAcquirer) Fetch(ctx context.Context, locator string) (pipeline.Media, error) {
	if err := os.MkdirAll(a.dir, 0o755); err != nil {
		return pipeline.Media{}, fmt.Errorf("create media dir: %w", err)
	}
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	suffix := "_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:7]
	cmd := exec.CommandContext(ctx, a.binary,
		"--playlist-items", "1",
		"--paths", "home:"+a.dir,
		"--output", "%(title)s"+suffix+".%(ext)s",
		"--print", "after_move:filepath",
		"--print", "after_move:title",
		"--no-progress",
		"--", locator,
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return pipeline.Media{}, fmt.Errorf("yt-dlp: %w: %s", err, lastLine(stderr.String()))
	}

	media, err := parseYtDlpOutput(stdout.String())
	if err != nil {
		return pipeline.Media{}, err
	}

	info, err := os.Stat(media.Path)
	if err != nil {
		return pipeline.Media{}, fmt.Errorf("downloaded media missing: %w", err)
	}
	media.Size = info.Size()

	if a.storage != nil {
		url, err := a.archive(ctx, media.Path)
		if err != nil {
			// the local copy is enough to keep going
			a.log.WithError(err).WithField("path", media.Path).Warn("Failed to archive media")
		} else {
			media.URL = url
		}
	}

	return media, nil
}

func (a *YtDlpAcquirer) archive(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	contentType := mime.TypeByExtension(filepath.Ext(path))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return a.storage.Upload(ctx, "media/"+filepath.Base(path), f, contentType)
}

// parseYtDlpOutput reads the filepath and title lines printed after the move step
func parseYtDlpOutput(out string) (pipeline.Media, error) {
	lines := make([]string, 0, 2)
	for _, l := range strings.Split(out, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	if len(lines) < 2 {
		return pipeline.Media{}, fmt.Errorf("yt-dlp: unexpected output %q", out)
	}
	// with --playlist-items 1 only the first item is downloaded
	return pipeline.Media{Path: lines[0], Title: lines[1]}, nil
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
