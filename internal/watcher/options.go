package watcher

import (
	"path/filepath"
	"slices"
	"strings"
	"time"
)

// DefaultExtensions are the audiobook containers the service can register.
var DefaultExtensions = []string{".m4b", ".m4a", ".mp3"}

// Options configures the file watcher behavior.
type Options struct {
	// Extensions limits events to these file extensions (lowercase, with dot).
	Extensions     []string
	IgnorePatterns []string
	SettleDelay    time.Duration
	IgnoreHidden   bool
}

// setDefaults applies default values to unset options.
func (o *Options) setDefaults() {
	if o.SettleDelay == 0 {
		o.SettleDelay = 2 * time.Second
	}
	if o.Extensions == nil {
		o.Extensions = DefaultExtensions
	}

	// Explicit patterns (even empty) keep the caller's IgnoreHidden choice.
	if o.IgnorePatterns == nil {
		o.IgnorePatterns = []string{
			".DS_Store",
			"*.tmp",
			"*.temp",
			"*.part",
			"Thumbs.db",
		}
		o.IgnoreHidden = true
	}
}

// shouldIgnore checks if a path matches ignore patterns.
func (o *Options) shouldIgnore(path string) bool {
	if o.IgnoreHidden {
		for part := range strings.SplitSeq(filepath.Clean(path), string(filepath.Separator)) {
			if strings.HasPrefix(part, ".") && part != "." && part != ".." {
				return true
			}
		}
	}

	base := filepath.Base(path)
	for _, pattern := range o.IgnorePatterns {
		if matched, err := filepath.Match(pattern, base); err == nil && matched {
			return true
		}
	}

	return false
}

// wantsFile reports whether a file path has one of the watched extensions.
func (o *Options) wantsFile(path string) bool {
	return slices.Contains(o.Extensions, strings.ToLower(filepath.Ext(path)))
}
