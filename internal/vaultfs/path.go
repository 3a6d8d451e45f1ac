package vaultfs

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrPathEscape indicates a relative path fails validation or would resolve
// outside its root directory.
var ErrPathEscape = errors.New("path escapes root")

// SafeJoin joins rel onto root, rejecting absolute, unclean, or
// parent-referencing paths before the join, and re-validating the result
// via filepath.Rel so a clean-looking path can't escape root some other way
// (e.g. through a symlinked parent).
func SafeJoin(root, rel string) (string, error) {
	if rel == "" {
		return "", fmt.Errorf("%w: empty path", ErrPathEscape)
	}

	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("%w: absolute path", ErrPathEscape)
	}

	if filepath.Clean(rel) != rel {
		return "", fmt.Errorf("%w: path must be clean", ErrPathEscape)
	}

	if strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("%w: path escapes root", ErrPathEscape)
	}

	full := filepath.Join(root, rel)

	relCheck, err := filepath.Rel(root, full)
	if err != nil || strings.HasPrefix(relCheck, "..") {
		return "", fmt.Errorf("%w: path escapes root", ErrPathEscape)
	}

	return full, nil
}
