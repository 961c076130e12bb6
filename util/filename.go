package util

import (
	"errors"
	"strings"
)

var (
	ErrNoFilename = errors.New("cannot derive valid filename")
)

// SanitizeFilename reduces a remote display name to something safe to create
// in the local target directory: no path separators, no drive/NUL weirdness,
// and not a bare dot sequence.
func SanitizeFilename(name string) (string, error) {
	name = strings.TrimSpace(name)
	replacer := strings.NewReplacer("/", "_", "\\", "_", ":", "_", "\x00", "")
	name = replacer.Replace(name)
	name = strings.Trim(name, ".")
	if name == "" {
		return "", ErrNoFilename
	}
	return name, nil
}

// FilenameFromPath extracts the last element of a remote path as a display
// name, rejecting paths with no usable final element.
func FilenameFromPath(remotePath string) (string, error) {
	trimmed := strings.Trim(remotePath, "/")
	if trimmed == "" {
		return "", ErrNoFilename
	}
	elements := strings.Split(trimmed, "/")
	return SanitizeFilename(elements[len(elements)-1])
}
