package nodeid

// noIndex marks a segment that was not expanded from an iterable.
const noIndex = -1

// PathSegment is one level of a node's hierarchy, `name` or `name[index]`.
type PathSegment struct {
	Name  string `json:"name" msgpack:"name"`
	Index int    `json:"index" msgpack:"index"`
}

// NewPathSegment returns an unindexed segment.
func NewPathSegment(name string) PathSegment {
	return PathSegment{Name: name, Index: noIndex}
}

// NewPathSegmentWithIndex returns the segment for iteration index of an
// expanded node.
func NewPathSegmentWithIndex(name string, index int) PathSegment {
	return PathSegment{Name: name, Index: index}
}

func (s PathSegment) HasIndex() bool { return s.Index != noIndex }

// Address is the hierarchy path of a node. The last segment is its name.
type Address struct {
	Path []PathSegment `json:"path" msgpack:"path"`
}
