// Package hcl loads graph definitions and run settings from HCL files into
// the config model. Attribute values are evaluated without variables and
// converted from cty into plain Go values: strings, float64 numbers, bools,
// []any and map[string]any.
package hcl
