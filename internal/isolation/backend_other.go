//go:build !unix

package isolation

// DefaultBackend returns the backend for the current platform.
func DefaultBackend() Backend { return Nop{} }

func selfPeakMemory() int64 { return 0 }
