package scatter

import (
	"runtime"

	"github.com/grailbio/base/log"
	"golang.org/x/sys/unix"
)

// DefaultCapacity returns the machine's physical memory and CPU count.
// Free memory is not used: it excludes the page cache and is only a
// snapshot, while admission tracks what the clusters themselves hold.
func DefaultCapacity() Resources {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		log.Error.Printf("sysinfo: %v; assuming %v", err, fallbackCapacity())
		return fallbackCapacity()
	}
	return Resources{
		MemoryBytes: int64(info.Totalram) * int64(info.Unit),
		CPUs:        runtime.NumCPU(),
	}
}
