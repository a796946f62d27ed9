package file

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidName indicates a name with no usable final path component.
var ErrInvalidName = errors.New("invalid file name")

// Sanitize reduces name to its final path component. Both '/' and '\' count
// as separators so that a name produced on any platform cannot escape the
// output directory.
func Sanitize(name string) (string, error) {
	base := name
	if i := strings.LastIndexAny(base, `/\`); i >= 0 {
		base = base[i+1:]
	}

	switch base {
	case "", ".", "..":
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if strings.IndexByte(base, 0) >= 0 {
		return "", fmt.Errorf("%w: %q contains NUL", ErrInvalidName, name)
	}
	return base, nil
}
