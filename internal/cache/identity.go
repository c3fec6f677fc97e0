package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// Artifact kinds.
const (
	KindGraph      = "graphs"
	KindPartitions = "partitions"
)

// ChunksKind returns the kind tag of a chunk plan built with the given
// planner mode description, e.g. "chunks-count-4".
func ChunksKind(mode string) string {
	return "chunks-" + mode
}

// namespace scopes all identities generated by this package.
var namespace = uuid.MustParse("6f0f4b8e-2a51-4c1e-9d3c-1f3b1b0d7a42")

// Source is the upstream content an artifact is derived from.
type Source struct {
	Spec     []byte
	Manifest []byte
	Version  string
	// BaseDir is the effective base directory. It is baked into every node
	// working directory of a built graph.
	BaseDir string
}

// Identity returns the cache identity of the artifact kind derived from s.
func (s Source) Identity(kind string) string {
	h := sha256.New()
	for _, part := range [][]byte{s.Spec, s.Manifest, []byte(s.Version), []byte(s.BaseDir)} {
		sum := sha256.Sum256(part)
		h.Write(sum[:])
	}
	digest := hex.EncodeToString(h.Sum(nil))
	return uuid.NewSHA1(namespace, []byte(fmt.Sprintf("%s:%s", kind, digest))).String()
}

// Derive returns the identity of an artifact computed from another artifact
// with identity parent. params describe any further setting the computation
// depends on.
func Derive(kind, parent string, params ...string) string {
	h := sha256.New()
	for _, p := range params {
		sum := sha256.Sum256([]byte(p))
		h.Write(sum[:])
	}
	name := kind + ":" + parent
	if len(params) > 0 {
		name += ":" + hex.EncodeToString(h.Sum(nil))
	}
	return uuid.NewSHA1(namespace, []byte(name)).String()
}
