// Package config defines the format-agnostic model of what a run reads from
// disk: graph definitions and run settings. Concrete loaders, such as the
// HCL one in internal/hcl, translate files into this model.
//
// Run settings use pointer fields so a layer only overrides what it sets.
// internal/app merges them over defaults, then environment and flags are
// applied on top.
package config
