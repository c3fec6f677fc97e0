package partition

import (
	"fmt"
	"regexp"

	"github.com/specialistvlad/chunkflow/internal/nodeid"
)

// DefaultKey is the key of the default partition.
const DefaultKey = ""

// Classifier maps a node address to its partition key. ok is false for
// nodes that belong to the default partition.
type Classifier interface {
	Classify(addr *nodeid.Address) (key string, ok bool)
}

// Describe returns a stable description of c for cache identities. A
// Classifier that implements fmt.Stringer describes itself; any other is
// described by its type alone.
func Describe(c Classifier) string {
	switch c := c.(type) {
	case nil:
		return "none"
	case fmt.Stringer:
		return c.String()
	default:
		return fmt.Sprintf("%T", c)
	}
}

// ClassifierFunc adapts a function to the Classifier interface.
type ClassifierFunc func(addr *nodeid.Address) (string, bool)

// Classify calls f.
func (f ClassifierFunc) Classify(addr *nodeid.Address) (string, bool) {
	return f(addr)
}

// RegexClassifier matches the full node name against a pattern. The key is
// the first capture group, or the whole match when the pattern has none.
type RegexClassifier struct {
	re *regexp.Regexp
}

// String implements fmt.Stringer.
func (c *RegexClassifier) String() string {
	return "regex:" + c.re.String()
}

// NewRegexClassifier compiles pattern, e.g. `\b(sub-[A-Za-z0-9]+)\b`.
func NewRegexClassifier(pattern string) (*RegexClassifier, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid partition pattern: %w", err)
	}
	return &RegexClassifier{re: re}, nil
}

// Classify implements Classifier.
func (c *RegexClassifier) Classify(addr *nodeid.Address) (string, bool) {
	m := c.re.FindStringSubmatch(addr.String())
	if m == nil {
		return "", false
	}
	key := m[0]
	if len(m) > 1 {
		key = m[1]
	}
	return key, key != DefaultKey
}

// SegmentClassifier uses the segment at a fixed depth of the hierarchy as
// the key when it carries the given prefix, e.g. depth 1 and "sub-" for
// `pipeline.sub-01.anat.reorient`.
type SegmentClassifier struct {
	Depth  int
	Prefix string
}

// String implements fmt.Stringer.
func (c SegmentClassifier) String() string {
	return fmt.Sprintf("segment:%d:%s", c.Depth, c.Prefix)
}

// Classify implements Classifier.
func (c SegmentClassifier) Classify(addr *nodeid.Address) (string, bool) {
	if c.Depth < 0 || c.Depth >= len(addr.Path)-1 {
		return "", false
	}
	seg := addr.Path[c.Depth].Name
	if len(seg) <= len(c.Prefix) || seg[:len(c.Prefix)] != c.Prefix {
		return "", false
	}
	return seg, true
}
