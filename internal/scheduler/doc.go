// Package scheduler executes the graph of one chunk in dependency order
// under a memory and processor budget.
//
// A single coordinator goroutine owns all mutable run state: the ready
// heap, in-degree counters, budgets and the housekeeper. Admitted jobs run
// on a bounded set of worker slots and report back on a completion channel.
// The coordinator only ever blocks on that channel (or on cancellation),
// then re-evaluates admission for every ready job.
//
// Node states follow WAITING -> READY -> RUNNING -> DONE | FAILED. A node is
// READY once all its predecessors are DONE. It is admitted when
//
//	available_memory >= min(memory, memory_budget)
//	available_procs  >= min(procs, processor_budget)
//
// and the reservation is taken before the job is handed to a worker. Ready
// jobs are considered smallest footprint first.
//
// A task failure stops admission. Jobs already running are allowed to
// finish and the failure is returned once they have drained.
package scheduler
