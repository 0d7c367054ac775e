package filestore

import (
	"fmt"
	"path"
	"strings"
)

// NormalizePath converts backslashes to forward slashes, rejects traversal
// segments, and strips a leading slash, per spec.md §4.3 "Path & content
// policy".
func NormalizePath(p string) (string, error) {
	p = strings.ReplaceAll(p, `\`, "/")
	p = strings.TrimPrefix(p, "/")
	if p == "" {
		return "", fmt.Errorf("%w: empty path", ErrValidation)
	}

	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return "", fmt.Errorf("%w: path must not contain ..", ErrValidation)
		}
	}
	return path.Clean(p), nil
}

// FileName returns basename(filePath).
func FileName(filePath string) string {
	return path.Base(filePath)
}

// ParentFolderPath returns dirname(filePath), or "" for a root-level file.
func ParentFolderPath(filePath string) string {
	dir := path.Dir(filePath)
	if dir == "." {
		return ""
	}
	return dir
}

// Extension returns the file extension including the leading dot, lowercased.
func Extension(filePath string) string {
	ext := path.Ext(filePath)
	return strings.ToLower(ext)
}

// ExtensionAllowed reports whether ext is present in allowed (case-insensitive).
func ExtensionAllowed(ext string, allowed []string) bool {
	for _, a := range allowed {
		if strings.EqualFold(a, ext) {
			return true
		}
	}
	return false
}

// ignoredSegments are directory/file names skipped during archive ingestion,
// per spec.md §4.3's ignore policy.
var ignoredSegments = map[string]bool{
	"__MACOSX":     true,
	".DS_Store":    true,
	"Thumbs.db":    true,
}

// ShouldIgnore reports whether an archive entry path should be skipped
// during ingestion: any path segment matching the ignore set, or a basename
// matching the AppleDouble "._*" convention.
func ShouldIgnore(entryPath string) bool {
	normalized := strings.ReplaceAll(entryPath, `\`, "/")
	for _, seg := range strings.Split(normalized, "/") {
		if ignoredSegments[seg] {
			return true
		}
	}
	base := path.Base(normalized)
	return strings.HasPrefix(base, "._")
}
