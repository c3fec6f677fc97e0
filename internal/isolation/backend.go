package isolation

import (
	"os"
	"os/exec"
)

// Backend abstracts process-group and resource-accounting primitives.
type Backend interface {
	// Prepare configures cmd before it is started.
	Prepare(cmd *exec.Cmd)
	// Terminate asks the process and everything it spawned to stop.
	Terminate(p *os.Process) error
	// PeakMemoryBytes reads the peak resident memory of a finished process.
	// Zero means unknown.
	PeakMemoryBytes(state *os.ProcessState) int64
}

// Nop is a Backend without process groups or accounting.
type Nop struct{}

func (Nop) Prepare(*exec.Cmd) {}

func (Nop) Terminate(p *os.Process) error { return p.Kill() }

func (Nop) PeakMemoryBytes(*os.ProcessState) int64 { return 0 }
