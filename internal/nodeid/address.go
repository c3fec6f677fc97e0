package nodeid

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strings"
)

func (s PathSegment) String() string {
	if !s.HasIndex() {
		return s.Name
	}
	return fmt.Sprintf("%s[%d]", s.Name, s.Index)
}

// String serializes the Address into its canonical path string representation.
func (a *Address) String() string {
	if a == nil {
		return ""
	}

	var sb strings.Builder
	for i, segment := range a.Path {
		if i > 0 {
			sb.WriteRune('.')
		}
		sb.WriteString(segment.String())
	}

	return sb.String()
}

// Equal checks for deep equality between two Address pointers.
func (a *Address) Equal(other *Address) bool {
	if a == nil || other == nil {
		return a == other
	}
	return reflect.DeepEqual(a.Path, other.Path)
}

// Name returns the last segment of the address, the node name.
func (a *Address) Name() string {
	if a == nil || len(a.Path) == 0 {
		return ""
	}
	return a.Path[len(a.Path)-1].String()
}

// Hierarchy returns the segments leading up to the node name.
func (a *Address) Hierarchy() []string {
	if a == nil || len(a.Path) < 2 {
		return nil
	}
	out := make([]string, 0, len(a.Path)-1)
	for _, s := range a.Path[:len(a.Path)-1] {
		out = append(out, s.String())
	}
	return out
}

// Dir returns the working directory of the node under base.
func (a *Address) Dir(base string) string {
	parts := append([]string{base}, a.Hierarchy()...)
	return filepath.Join(append(parts, a.Name())...)
}

// HasPrefix reports whether every segment of prefix matches the leading
// segments of a.
func (a *Address) HasPrefix(prefix *Address) bool {
	if a == nil || prefix == nil || len(prefix.Path) > len(a.Path) {
		return false
	}
	return reflect.DeepEqual(a.Path[:len(prefix.Path)], prefix.Path)
}

// Child returns a new address with one more segment appended.
func (a *Address) Child(seg PathSegment) *Address {
	path := make([]PathSegment, 0, len(a.Path)+1)
	path = append(path, a.Path...)
	return &Address{Path: append(path, seg)}
}
