package util

import (
	"errors"
	"fmt"
	"regexp"
)

// ErrInvalidName is returned for queue names and fan-out ids that are not
// safe to use as a directory name.
var ErrInvalidName = errors.New("invalid name")

const maxNameLength = 255

var namePattern = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_\-.]*$`)

// ValidateName rejects empty names, path separators, relative path elements
// and anything outside [A-Za-z0-9_.-].
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty", ErrInvalidName)
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("%w: %q longer than %d bytes", ErrInvalidName, name, maxNameLength)
	}
	if name == "." || name == ".." || !namePattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}
