// Package identity derives deterministic path identifiers and normalizes
// the two path spellings the pipeline accepts (native drive-letter form and
// POSIX mount form).
package identity

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// DefaultNamespace is the uuid-v5 namespace for path ids. All tools writing
// to the same store must agree on it, otherwise the same path string yields
// different identities.
var DefaultNamespace = uuid.MustParse("f4f67a6f-90c6-4ee4-9c1a-2c0d25b3b0c4")

// Namer computes deterministic path ids within one namespace.
// The namespace is injected so tests can pin their own.
type Namer struct {
	ns uuid.UUID
}

// NewNamer creates a Namer for the given namespace
func NewNamer(ns uuid.UUID) *Namer {
	return &Namer{ns: ns}
}

// Default returns a Namer over DefaultNamespace
func Default() *Namer {
	return NewNamer(DefaultNamespace)
}

// PathID returns the deterministic id for a path string.
// Two spellings that normalize identically map to the same id.
func (n *Namer) PathID(p string) string {
	return uuid.NewSHA1(n.ns, []byte("winpath:"+NormalizeForID(p))).String()
}

// NormalizeForID unifies separators to backslash and lower-cases the path.
// This is the canonical form identity is computed over; it is never stored.
func NormalizeForID(p string) string {
	return strings.ToLower(strings.ReplaceAll(p, "/", "\\"))
}

// CanonicalizeWindowsPath converts a path to native form: forward slashes
// become backslashes and a leading drive letter is upper-cased
func CanonicalizeWindowsPath(s string) string {
	p := strings.ReplaceAll(s, "/", "\\")
	if len(p) >= 2 && p[1] == ':' {
		p = strings.ToUpper(p[:1]) + p[1:]
	}
	return p
}

var posixMountRe = regexp.MustCompile(`^/mnt/([a-zA-Z])(?:/(.*))?$`)

// WindowsToPosix converts C:\x\y to /mnt/c/x/y. Non-drive paths pass through.
func WindowsToPosix(s string) string {
	p := CanonicalizeWindowsPath(s)
	if len(p) < 2 || p[1] != ':' {
		return s
	}
	drive := strings.ToLower(p[:1])
	rest := strings.TrimLeft(p[2:], "\\")
	rest = strings.ReplaceAll(rest, "\\", "/")
	if rest == "" {
		return "/mnt/" + drive
	}
	return "/mnt/" + drive + "/" + rest
}

// PosixToWindows converts /mnt/c/x/y to C:\x\y. Anything else is
// canonicalized as a native path.
func PosixToWindows(s string) string {
	m := posixMountRe.FindStringSubmatch(s)
	if m == nil {
		return CanonicalizeWindowsPath(s)
	}
	drive := strings.ToUpper(m[1])
	rest := strings.ReplaceAll(m[2], "/", "\\")
	if rest == "" {
		return drive + ":\\"
	}
	return drive + ":\\" + rest
}

// SplitWindows splits a native path into drive (letter only, no colon),
// parent dir, file name and extension (with leading dot, original case).
func SplitWindows(p string) (drive, dir, name, ext string) {
	w := CanonicalizeWindowsPath(p)
	if len(w) >= 2 && w[1] == ':' {
		drive = w[:1]
	}
	if i := strings.LastIndexByte(w, '\\'); i >= 0 {
		dir = strings.TrimRight(w[:i+1], "\\")
		if dir == "" || strings.HasSuffix(dir, ":") {
			// Keep the root form ("C:\") for files directly under a drive.
			dir = w[:i+1]
		}
		name = w[i+1:]
	} else {
		name = w
	}
	if j := strings.LastIndexByte(name, '.'); j > 0 {
		ext = name[j:]
	}
	return drive, dir, name, ext
}

// NormalizeDriveKey maps "c", "C", "c:" to "C:". Anything longer is
// upper-cased unchanged.
func NormalizeDriveKey(d string) string {
	x := strings.ToUpper(strings.TrimSpace(d))
	if len(x) == 1 && x[0] >= 'A' && x[0] <= 'Z' {
		return x + ":"
	}
	return x
}

var driveKeyRe = regexp.MustCompile(`^[A-Z]:$`)

// BuildDriveMap normalizes a configured old-drive -> new-drive mapping,
// dropping entries that are not single drive letters
func BuildDriveMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		kk := NormalizeDriveKey(k)
		vv := NormalizeDriveKey(v)
		if driveKeyRe.MatchString(kk) && driveKeyRe.MatchString(vv) {
			out[kk] = vv
		}
	}
	return out
}

// InvertDriveMap flips a drive map for looking up where a path used to live
func InvertDriveMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[v] = k
	}
	return out
}

// DriveOf returns the "C:" prefix of a native path, or "" if it has none
func DriveOf(p string) string {
	w := CanonicalizeWindowsPath(p)
	if len(w) >= 2 && w[1] == ':' {
		return strings.ToUpper(w[:2])
	}
	return ""
}
