package app

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/specialistvlad/chunkflow/internal/partition"
)

// plan prints the partitions and chunks without scheduling anything.
func (app *App) plan(ctx context.Context) error {
	p, err := app.engine.Prepare(ctx, app.buildGraph)
	if err != nil {
		return fmt.Errorf("planning failed: %w", err)
	}

	fmt.Fprintf(app.outW, "graph %s: %d nodes, %d partitions, %d inlined, %d collapsed\n",
		p.GraphIdentity, p.Graph.Len(), len(p.Partitions.Partitions), len(p.Partitions.Inlined), len(p.Partitions.Collapsed))

	tw := tabwriter.NewWriter(app.outW, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CHUNK\tNODES\tPARTITIONS")
	for _, c := range p.Chunks {
		fmt.Fprintf(tw, "%d\t%d\t%s\n", c.Index, c.Graph.Len(), strings.Join(names(c.Keys), ","))
	}
	return tw.Flush()
}

func names(keys []string) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		if k == partition.DefaultKey {
			k = partition.DefaultName
		}
		out[i] = k
	}
	return out
}
