package client

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStorage struct {
	uploads map[string][]byte
	err     error
}

func (f *fakeStorage) Upload(ctx context.Context, key string, body io.Reader, contentType string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	data, _ := io.ReadAll(body)
	if f.uploads == nil {
		f.uploads = map[string][]byte{}
	}
	f.uploads[key] = data
	return "https://cdn.example.com/" + key, nil
}

func (f *fakeStorage) Delete(ctx context.Context, key string) error {
	delete(f.uploads, key)
	return nil
}

func (f *fakeStorage) GetPublicURL(key string) string {
	return "https://cdn.example.com/" + key
}

func (f *fakeStorage) KeyFromURL(url string) (string, bool) {
	const prefix = "https://cdn.example.com/"
	if len(url) <= len(prefix) || url[:len(prefix)] != prefix {
		return "", false
	}
	return url[len(prefix):], true
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// fakeYtDlp writes a script that creates "<dir>/Talk_abc1234.mp4" and prints
// its path and title the way yt-dlp --print does
func fakeYtDlp(t *testing.T, dir string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported")
	}
	script := "#!/bin/sh\n" +
		"echo data > '" + dir + "/Talk_abc1234.mp4'\n" +
		"echo '" + dir + "/Talk_abc1234.mp4'\n" +
		"echo 'Talk'\n"
	path := filepath.Join(t.TempDir(), "yt-dlp")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func TestYtDlpAcquirer_Fetch(t *testing.T) {
	dir := t.TempDir()
	storage := &fakeStorage{}
	a := NewYtDlpAcquirer(fakeYtDlp(t, dir), dir, storage, quietLogger())

	media, err := a.Fetch(context.Background(), "https://www.youtube.com/watch?v=abc")
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "Talk_abc1234.mp4"), media.Path)
	assert.Equal(t, "Talk", media.Title)
	assert.Equal(t, int64(5), media.Size)
	assert.Equal(t, "https://cdn.example.com/media/Talk_abc1234.mp4", media.URL)
	assert.Equal(t, []byte("data\n"), storage.uploads["media/Talk_abc1234.mp4"])
}

func TestYtDlpAcquirer_ArchiveFailureKeepsLocalCopy(t *testing.T) {
	dir := t.TempDir()
	a := NewYtDlpAcquirer(fakeYtDlp(t, dir), dir, &fakeStorage{err: errors.New("r2 down")}, quietLogger())

	media, err := a.Fetch(context.Background(), "https://example.com/a")
	require.NoError(t, err)
	assert.Empty(t, media.URL)
	assert.FileExists(t, media.Path)
}

func TestYtDlpAcquirer_LocatorIsNeverAnOption(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported")
	}
	dir := t.TempDir()
	argsFile := filepath.Join(t.TempDir(), "args")
	script := "#!/bin/sh\n" +
		"printf '%s\\n' \"$@\" > '" + argsFile + "'\n" +
		"echo data > '" + dir + "/Talk_abc1234.mp4'\n" +
		"echo '" + dir + "/Talk_abc1234.mp4'\n" +
		"echo 'Talk'\n"
	bin := filepath.Join(t.TempDir(), "yt-dlp")
	require.NoError(t, os.WriteFile(bin, []byte(script), 0o755))

	a := NewYtDlpAcquirer(bin, dir, nil, quietLogger())
	_, err := a.Fetch(context.Background(), "--exec=touch /tmp/pwned")
	require.NoError(t, err)

	data, err := os.ReadFile(argsFile)
	require.NoError(t, err)
	args := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.GreaterOrEqual(t, len(args), 2)
	assert.Equal(t, []string{"--", "--exec=touch /tmp/pwned"}, args[len(args)-2:])
}

func TestYtDlpAcquirer_CommandFailure(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported")
	}
	bin := filepath.Join(t.TempDir(), "yt-dlp")
	require.NoError(t, os.WriteFile(bin, []byte("#!/bin/sh\necho 'ERROR: Unsupported URL' >&2\nexit 1\n"), 0o755))

	a := NewYtDlpAcquirer(bin, t.TempDir(), nil, quietLogger())
	_, err := a.Fetch(context.Background(), "https://example.com/nothing")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "Unsupported URL")
}

func TestParseYtDlpOutput(t *testing.T) {
	media, err := parseYtDlpOutput("/media/a_1234567.webm\nA title\n")
	require.NoError(t, err)
	assert.Equal(t, "/media/a_1234567.webm", media.Path)
	assert.Equal(t, "A title", media.Title)

	_, err = parseYtDlpOutput("\n")
	assert.Error(t, err)
}
