package nodeid

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// A segment becomes a directory name, so anything outside this alphabet is
// rejected rather than escaped.
var segmentPattern = regexp.MustCompile(`^([A-Za-z0-9_-]+)(?:\[(\d+)\])?$`)

// Parse reads a dotted node name such as `pipeline.sub-01.bold[2].despike`.
func Parse(name string) (*Address, error) {
	if name == "" {
		return nil, fmt.Errorf("node name is empty")
	}
	parts := strings.Split(name, ".")
	addr := &Address{Path: make([]PathSegment, 0, len(parts))}
	for i, part := range parts {
		seg, err := parseSegment(part)
		if err != nil {
			return nil, fmt.Errorf("node name %q, level %d: %w", name, i, err)
		}
		addr.Path = append(addr.Path, seg)
	}
	return addr, nil
}

func parseSegment(part string) (PathSegment, error) {
	if part == "" {
		return PathSegment{}, fmt.Errorf("empty level")
	}
	m := segmentPattern.FindStringSubmatch(part)
	if m == nil {
		return PathSegment{}, fmt.Errorf("malformed level %q", part)
	}
	// "-" and "__" would give directories that are hard to tell apart from
	// flags or from each other.
	if m[1] == "-" || strings.Trim(m[1], "_") == "" {
		return PathSegment{}, fmt.Errorf("level name %q is not usable as a directory", m[1])
	}
	if m[2] == "" {
		return NewPathSegment(m[1]), nil
	}
	index, err := strconv.Atoi(m[2])
	if err != nil {
		return PathSegment{}, fmt.Errorf("index of %q: %w", part, err)
	}
	return NewPathSegmentWithIndex(m[1], index), nil
}

// MustParse is Parse for names known to be valid; it panics otherwise.
func MustParse(name string) *Address {
	addr, err := Parse(name)
	if err != nil {
		panic(err)
	}
	return addr
}
