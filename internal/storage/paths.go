package storage

import (
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/tonimelisma/clipcloud/internal/auth"
)

// ErrInvalidPath is returned for remote paths that cannot be used.
var ErrInvalidPath = errors.New("storage: invalid remote path")

// ExpandTemplate fills a folder template. Supported placeholders:
// {yyyy} {mm} {dd} {date} (yyyy-mm-dd) and {provider}.
func ExpandTemplate(tmpl string, p auth.Provider, now time.Time) string {
	r := strings.NewReplacer(
		"{yyyy}", now.Format("2006"),
		"{mm}", now.Format("01"),
		"{dd}", now.Format("02"),
		"{date}", now.Format("2006-01-02"),
		"{provider}", string(p),
	)

	return r.Replace(tmpl)
}

// CleanRemotePath normalizes a remote path to NFC, collapses duplicate and
// trailing slashes, and makes it absolute. Paths that climb above the root
// are rejected.
func CleanRemotePath(p string) (string, error) {
	p = norm.NFC.String(strings.ReplaceAll(p, "\\", "/"))

	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return "", fmt.Errorf("%w: %q climbs above the root", ErrInvalidPath, p)
		}

		if strings.ContainsAny(seg, "\x00") {
			return "", fmt.Errorf("%w: %q contains a NUL byte", ErrInvalidPath, p)
		}
	}

	return path.Clean("/" + p), nil
}

// Segments splits a cleaned path into its non-empty components.
func Segments(p string) []string {
	var out []string

	for _, s := range strings.Split(p, "/") {
		if s != "" {
			out = append(out, s)
		}
	}

	return out
}

// SplitRemote returns the parent directory and base name of a cleaned path.
func SplitRemote(p string) (dir, name string) {
	dir, name = path.Split(p)
	if dir != "/" {
		dir = strings.TrimSuffix(dir, "/")
	}

	return dir, name
}

// ValidateName rejects names that no provider accepts.
func ValidateName(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return fmt.Errorf("%w: name %q", ErrInvalidPath, name)
	case strings.ContainsAny(name, "/\\\x00"):
		return fmt.Errorf("%w: name %q contains a separator", ErrInvalidPath, name)
	}

	return nil
}
