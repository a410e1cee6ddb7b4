// Package version resolves the running build's version string.
package version

import (
	"os"
	"runtime/debug"
	"strings"
	"sync"
)

// Loader produces a version string
type Loader func() (string, error)

// Cache memoises the result of a Loader. The zero value is not usable; use NewCache.
type Cache struct {
	once    sync.Once
	load    Loader
	version string
	err     error
}

// NewCache creates a cache around loader
func NewCache(loader Loader) *Cache {
	return &Cache{load: loader}
}

// Get returns the version, calling the loader at most once
func (c *Cache) Get() (string, error) {
	c.once.Do(func() {
		c.version, c.err = c.load()
	})
	return c.version, c.err
}

// FromFile reads the version from a file such as a VERSION file baked into the image
func FromFile(path string) Loader {
	return func() (string, error) {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(data)), nil
	}
}

// FromBuildInfo reads the main module version, or the VCS revision when the
// module version is not stamped.
func FromBuildInfo() (string, error) {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "dev", nil
	}
	if v := info.Main.Version; v != "" && v != "(devel)" {
		return v, nil
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" && len(s.Value) >= 7 {
			return s.Value[:7], nil
		}
	}
	return "dev", nil
}

// WithFallback tries primary and falls back to secondary on error
func WithFallback(primary, secondary Loader) Loader {
	return func() (string, error) {
		if v, err := primary(); err == nil && v != "" {
			return v, nil
		}
		return secondary()
	}
}
