package scan

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ReasonPathTraversal is the stable reason reported when a local reference
// escapes the content root.
const ReasonPathTraversal = "path_traversal_detected"

// ErrPathTraversal is returned when a resolved path escapes the content root.
var ErrPathTraversal = errors.New(ReasonPathTraversal)

// ResolveContentPath resolves a local reference against the content root,
// refusing any path that escapes it.
func ResolveContentPath(root, ref string) (string, error) {
	resolved := filepath.Join(root, strings.TrimPrefix(ref, "/"))
	rootClean := filepath.Clean(root)
	if resolved != rootClean && !strings.HasPrefix(resolved, rootClean+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrPathTraversal, ref)
	}
	return resolved, nil
}

// isLocalReference reports whether a reference has no URL scheme and should
// be resolved against the content root.
func isLocalReference(url string) bool {
	return !strings.Contains(url, "://")
}
