// Package task defines the single capability every graph node executes: a
// Task that turns a set of named inputs into a set of named outputs.
//
// Nodes never carry code. They carry a Descriptor, a kind tag plus plain
// parameters, and a Registry turns the descriptor back into a runnable Task
// wherever the node ends up executing: in-process, or in an isolation worker
// that received the descriptor over a pipe.
package task
