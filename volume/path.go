package volume

import (
	"strings"

	"github.com/pkg/errors"
)

const separator = "/"

// splitPath returns the segments of the absolute path, empty segments are skipped.
func splitPath(path string) ([]string, error) {
	if len(path) > MaxPathLength {
		return nil, errors.Wrapf(ErrPathTooLong, "path has %d characters, maximum is %d", len(path), MaxPathLength)
	}
	if !strings.HasPrefix(path, separator) {
		return nil, errors.Wrapf(ErrInvalidPath, "path %q is not absolute", path)
	}

	segments := []string{}
	for _, s := range strings.Split(path, separator) {
		if s != "" {
			segments = append(segments, s)
		}
	}
	return segments, nil
}

func validateName(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return errors.Wrapf(ErrInvalidName, "name %q is reserved", name)
	case strings.Contains(name, separator):
		return errors.Wrapf(ErrInvalidName, "name %q contains separator", name)
	case strings.IndexByte(name, 0) >= 0:
		return errors.Wrapf(ErrInvalidName, "name %q contains zero character", name)
	case len(name) > MaxNameLength:
		return errors.Wrapf(ErrNameTooLong, "name %q has %d characters, maximum is %d", name, len(name), MaxNameLength)
	}
	return nil
}
