package vfs

import (
	"path"
	"strings"
	"time"
)

// Root is the canonical path of the repository root.
const Root = "/"

// Clean returns the canonical absolute form of p.
func Clean(p string) string {
	return path.Clean("/" + p)
}

// Join resolves a client path against a base path.
func Join(base, p string) string {
	return path.Clean("/" + base + "/" + p)
}

// Parent returns the parent directory of a canonical path; the root is its
// own parent.
func Parent(p string) string {
	return path.Dir(p)
}

// Base returns the last element of a canonical path, or "" for the root.
func Base(p string) string {
	if p == Root {
		return ""
	}
	return path.Base(p)
}

// Ancestors returns p and every directory above it, deepest first, ending
// with the root.
func Ancestors(p string) []string {
	p = Clean(p)
	out := []string{p}
	for p != Root {
		p = path.Dir(p)
		out = append(out, p)
	}
	return out
}

// IsWithin reports whether p equals dir or lies below it.
func IsWithin(p, dir string) bool {
	if dir == Root || p == dir {
		return true
	}
	return strings.HasPrefix(p, dir+"/")
}

// Relative strips the leading slash, yielding the form used inside a Git tree.
func Relative(p string) string {
	return strings.TrimPrefix(Clean(p), "/")
}

// DateFormat is the timestamp layout used by svn:date and created-date.
const DateFormat = "2006-01-02T15:04:05.000000Z"

// FormatDate renders t in UTC using DateFormat.
func FormatDate(t time.Time) string {
	return t.UTC().Format(DateFormat)
}

// ParseDate accepts the svn timestamp layout and RFC 3339.
func ParseDate(s string) (time.Time, error) {
	if t, err := time.Parse(DateFormat, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}
