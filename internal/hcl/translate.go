package hcl

import (
	"fmt"

	"github.com/specialistvlad/chunkflow/internal/config"
)

func mergeGraph(model *config.Model, gb *graphBlock) error {
	if model.Graph == nil {
		model.Graph = &config.GraphSpec{Config: map[string]string{}}
	}
	g := model.Graph
	if gb.BaseDir != nil {
		g.BaseDir = *gb.BaseDir
	}
	for k, v := range gb.Config {
		g.Config[k] = v
	}

	for _, nb := range gb.Nodes {
		n, err := translateNode(nb)
		if err != nil {
			return fmt.Errorf("node %q: %w", nb.Address, err)
		}
		g.Nodes = append(g.Nodes, n)
	}
	return nil
}

func translateNode(nb *nodeBlock) (*config.NodeSpec, error) {
	params, err := ctyToParams(nb.Params)
	if err != nil {
		return nil, fmt.Errorf("params: %w", err)
	}
	n := &config.NodeSpec{
		Address:   nb.Address,
		Kind:      deref(nb.Kind),
		MemoryGB:  deref(nb.MemoryGB),
		NProcs:    deref(nb.NProcs),
		Keep:      deref(nb.Keep),
		Category:  deref(nb.Category),
		Params:    params,
		DependsOn: nb.DependsOn,
	}

	for _, ib := range nb.Inputs {
		in := &config.InputSpec{Field: ib.Field, From: deref(ib.From), Output: deref(ib.Output)}
		if !ib.Value.IsNull() {
			v, err := ctyToNative(ib.Value)
			if err != nil {
				return nil, fmt.Errorf("input %q: %w", ib.Field, err)
			}
			in.Value, in.HasValue = v, true
		}
		if in.HasValue && in.From != "" {
			return nil, fmt.Errorf("input %q sets both from and value", ib.Field)
		}
		n.Inputs = append(n.Inputs, in)
	}
	return n, nil
}

func mergeRun(run *config.RunSettings, root *fileRoot) {
	if b := root.Scheduler; b != nil {
		if run.Scheduler == nil {
			run.Scheduler = &config.SchedulerSettings{}
		}
		s := run.Scheduler
		override(&s.Workers, b.Workers)
		override(&s.MemoryGB, b.MemoryGB)
		override(&s.Processors, b.Processors)
		override(&s.Isolation, b.Isolation)
		override(&s.Resume, b.Resume)
	}
	if b := root.Chunking; b != nil {
		if run.Chunking == nil {
			run.Chunking = &config.ChunkingSettings{}
		}
		c := run.Chunking
		override(&c.Mode, b.Mode)
		override(&c.N, b.N)
		override(&c.Only, b.Only)
		override(&c.ExcludeDefault, b.ExcludeDefault)
	}
	if b := root.Housekeeping; b != nil {
		if run.Housekeeping == nil {
			run.Housekeeping = &config.HousekeepingSettings{}
		}
		override(&run.Housekeeping.Keep, b.Keep)
		if b.Categories != nil {
			run.Housekeeping.Categories = b.Categories
		}
	}
	if b := root.Partition; b != nil {
		if run.Partition == nil {
			run.Partition = &config.PartitionSettings{}
		}
		override(&run.Partition.Pattern, b.Pattern)
	}
	if b := root.Cache; b != nil {
		if run.Cache == nil {
			run.Cache = &config.CacheSettings{}
		}
		override(&run.Cache.Dir, b.Dir)
		override(&run.Cache.Entries, b.Entries)
		if b.S3 != nil {
			run.Cache.S3 = &config.S3Settings{
				Endpoint:  b.S3.Endpoint,
				Bucket:    b.S3.Bucket,
				Region:    deref(b.S3.Region),
				Prefix:    deref(b.S3.Prefix),
				AccessKey: deref(b.S3.AccessKey),
				SecretKey: deref(b.S3.SecretKey),
				UseSSL:    deref(b.S3.UseSSL),
			}
		}
	}
}

func override[T any](dst **T, src *T) {
	if src != nil {
		v := *src
		*dst = &v
	}
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}
