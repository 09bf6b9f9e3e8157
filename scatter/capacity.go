package scatter

import "runtime"

func fallbackCapacity() Resources {
	return Resources{MemoryBytes: 8 << 30, CPUs: runtime.NumCPU()}
}
