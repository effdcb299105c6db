package system

import (
	"log/slog"
	"runtime"
	"runtime/debug"

	"github.com/shirou/gopsutil/v3/mem"
)

// MemorySnapshot is a point-in-time view of host and process memory.
type MemorySnapshot struct {
	TotalBytes     uint64
	AvailableBytes uint64
	UsedPercent    float64
	HeapBytes      uint64
}

func (m MemorySnapshot) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Uint64("available_mb", m.AvailableBytes>>20),
		slog.Float64("used_percent", m.UsedPercent),
		slog.Uint64("heap_mb", m.HeapBytes>>20),
	)
}

// ReadMemory samples host memory through gopsutil and the Go heap through
// the runtime. Host figures are zero when the platform cannot report them.
func ReadMemory() MemorySnapshot {
	var snap MemorySnapshot
	if vm, err := mem.VirtualMemory(); err == nil {
		snap.TotalBytes = vm.Total
		snap.AvailableBytes = vm.Available
		snap.UsedPercent = vm.UsedPercent
	}
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	snap.HeapBytes = ms.HeapAlloc
	return snap
}

// Reclaim returns freed memory to the OS after a slide is finished.
func Reclaim() {
	debug.FreeOSMemory()
}

// MaxWorkersForMemory bounds parallel slide rendering by available memory.
// perSlide is the estimated working set of one slide. The result is never
// below 1 and never above requested.
func MaxWorkersForMemory(requested int, perSlide uint64) int {
	if requested < 1 {
		requested = 1
	}
	if perSlide == 0 {
		return requested
	}
	snap := ReadMemory()
	if snap.AvailableBytes == 0 {
		return requested
	}
	// Keep half of what is available for ffmpeg and the rest of the host.
	n := int(snap.AvailableBytes / 2 / perSlide)
	if n < 1 {
		return 1
	}
	if n > requested {
		return requested
	}
	return n
}

// FrameWorkingSet estimates the bytes one slide holds while rendering:
// background, a full-frame layer per shape, and the encoder's scratch frame.
func FrameWorkingSet(width, height, layers int) uint64 {
	frame := uint64(width) * uint64(height) * 4
	return frame * uint64(layers+3)
}
