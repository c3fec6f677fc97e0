//go:build unix

package isolation

import (
	"os"
	"os/exec"
	"runtime"
	"syscall"

	"golang.org/x/sys/unix"
)

// Unix runs workers in their own process group and reads peak memory from
// rusage.
type Unix struct{}

// DefaultBackend returns the backend for the current platform.
func DefaultBackend() Backend { return Unix{} }

func (Unix) Prepare(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}

// Terminate sends SIGTERM to the whole process group of p.
func (Unix) Terminate(p *os.Process) error {
	if err := unix.Kill(-p.Pid, unix.SIGTERM); err != nil {
		return p.Signal(os.Interrupt)
	}
	return nil
}

func (Unix) PeakMemoryBytes(state *os.ProcessState) int64 {
	if state == nil {
		return 0
	}
	ru, ok := state.SysUsage().(*syscall.Rusage)
	if !ok {
		return 0
	}
	return maxrssBytes(int64(ru.Maxrss))
}

// selfPeakMemory is the larger of this process' own peak and that of the
// children it waited for, i.e. the tools a command task launched.
func selfPeakMemory() int64 {
	var self, children unix.Rusage
	if err := unix.Getrusage(unix.RUSAGE_SELF, &self); err != nil {
		return 0
	}
	if err := unix.Getrusage(unix.RUSAGE_CHILDREN, &children); err != nil {
		return maxrssBytes(int64(self.Maxrss))
	}
	return maxrssBytes(max(int64(self.Maxrss), int64(children.Maxrss)))
}

// maxrssBytes converts ru_maxrss, which is in kilobytes except on darwin.
func maxrssBytes(v int64) int64 {
	if runtime.GOOS == "darwin" || runtime.GOOS == "ios" {
		return v
	}
	return v * 1024
}
