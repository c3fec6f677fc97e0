package partition

import (
	"fmt"
	"strings"
)

// GraphMalformedError reports a boundary that cannot be resolved: the graph
// is not separable at Node.
type GraphMalformedError struct {
	Node   string
	Keys   []string
	Reason string
}

func (e *GraphMalformedError) Error() string {
	if len(e.Keys) == 0 {
		return fmt.Sprintf("graph not separable at %s: %s", e.Node, e.Reason)
	}
	return fmt.Sprintf("graph not separable at %s: %s (partitions: %s)", e.Node, e.Reason, strings.Join(e.Keys, ", "))
}
