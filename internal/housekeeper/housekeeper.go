// Package housekeeper reclaims node working directories as soon as nothing
// in the running graph can read them anymore.
//
// The housekeeper is driven exclusively by the scheduler coordinator, which
// calls Completed once per finished node; it carries no locks. A directory
// is removed at most once, and only after every successor of its node has
// completed. Sink nodes are never reclaimed: their results are what the run
// produces.
package housekeeper

import (
	"context"
	"fmt"
	"os"

	"github.com/specialistvlad/chunkflow/internal/ctxlog"
	"github.com/specialistvlad/chunkflow/internal/graph"
)

// Policy selects which intermediate directories are kept.
type Policy string

const (
	// KeepAll never deletes anything.
	KeepAll Policy = "all"
	// KeepSome protects the keep categories in addition to keep-flagged nodes.
	KeepSome Policy = "some"
	// KeepNone only honours the per-node keep flag.
	KeepNone Policy = "none"
)

// DefaultCategories are the shared preprocessing trees that independently
// rerun partitions read again later.
var DefaultCategories = []string{"anatomical_preproc", "functional_preproc"}

// ParsePolicy validates a policy name.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(s); p {
	case KeepAll, KeepSome, KeepNone:
		return p, nil
	case "":
		return KeepSome, nil
	default:
		return "", fmt.Errorf("invalid keep policy %q: must be 'all', 'some' or 'none'", s)
	}
}

// Config configures a Housekeeper.
type Config struct {
	Policy Policy
	// Categories overrides DefaultCategories when non-nil.
	Categories []string
}

// Remover deletes a directory tree. os.RemoveAll is the default.
type Remover func(dir string) error

// Housekeeper tracks outstanding successors per node.
type Housekeeper struct {
	g         *graph.Graph
	policy    Policy
	protected map[string]bool
	remove    Remover

	remaining []int
	done      []bool
	deleted   []bool
}

// New creates a housekeeper for g. A nil remover uses os.RemoveAll.
func New(g *graph.Graph, cfg Config, remove Remover) *Housekeeper {
	if remove == nil {
		remove = os.RemoveAll
	}
	if cfg.Policy == "" {
		cfg.Policy = KeepSome
	}
	categories := cfg.Categories
	if categories == nil {
		categories = DefaultCategories
	}

	h := &Housekeeper{
		g:         g,
		policy:    cfg.Policy,
		protected: make(map[string]bool, len(categories)),
		remove:    remove,
		remaining: make([]int, g.Len()),
		done:      make([]bool, g.Len()),
		deleted:   make([]bool, g.Len()),
	}
	for _, c := range categories {
		h.protected[c] = true
	}
	for id := 0; id < g.Len(); id++ {
		h.remaining[id] = g.OutDegree(graph.NodeID(id))
	}
	return h
}

// Completed records that id finished and removes the directories that just
// became unreachable. It returns the removed directories.
func (h *Housekeeper) Completed(ctx context.Context, id graph.NodeID) []string {
	if h.done[id] {
		return nil
	}
	h.done[id] = true

	var removed []string
	for _, pred := range h.g.Predecessors(id) {
		h.remaining[pred]--
		if h.remaining[pred] == 0 && h.eligible(pred) {
			if dir, ok := h.reclaim(ctx, pred); ok {
				removed = append(removed, dir)
			}
		}
	}
	return removed
}

// Deleted reports whether the directory of id was reclaimed.
func (h *Housekeeper) Deleted(id graph.NodeID) bool {
	return h.deleted[id]
}

func (h *Housekeeper) eligible(id graph.NodeID) bool {
	n := h.g.Node(id)
	switch {
	case h.deleted[id], !h.done[id]:
		return false
	case h.g.OutDegree(id) == 0:
		return false
	case h.policy == KeepAll, n.Keep:
		return false
	case h.policy == KeepSome && h.protected[n.Category]:
		return false
	}
	return n.WorkDir != ""
}

func (h *Housekeeper) reclaim(ctx context.Context, id graph.NodeID) (string, bool) {
	n := h.g.Node(id)
	logger := ctxlog.FromContext(ctx).With("node", n.FullName(), "dir", n.WorkDir)

	h.deleted[id] = true
	if err := h.remove(n.WorkDir); err != nil {
		logger.Warn("Failed to reclaim working directory.", "error", err)
		return "", false
	}
	logger.Debug("Reclaimed working directory.")
	return n.WorkDir, true
}
