package lua

import (
	"context"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/petervdpas/livepad/internal/log"
)

// memoryMonitor watches process memory growth while a plugin runs and
// cancels the call when the allocation delta exceeds the configured limit.
//
// gopher-lua has no per-VM memory accounting, so this reads the
// process-wide runtime.MemStats. Concurrent work skews the reading.
type memoryMonitor struct {
	limitBytes uint64
	baseline   uint64
	exceeded   atomic.Bool
}

// newMemoryMonitor returns nil when maxMB <= 0 (monitoring disabled).
func newMemoryMonitor(maxMB int) *memoryMonitor {
	if maxMB <= 0 {
		return nil
	}

	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)

	return &memoryMonitor{
		limitBytes: uint64(maxMB) * 1024 * 1024,
		baseline:   stats.Alloc,
	}
}

// watch polls memory until ctx ends and calls kill when the limit is
// exceeded. The returned func stops the monitor.
func (m *memoryMonitor) watch(ctx context.Context, kill context.CancelFunc, scriptName string) context.CancelFunc {
	if m == nil {
		return func() {}
	}

	monCtx, cancel := context.WithCancel(ctx)

	go func() {
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()

		for {
			select {
			case <-monCtx.Done():
				return
			case <-ticker.C:
				var stats runtime.MemStats
				runtime.ReadMemStats(&stats)

				delta := uint64(0)
				if stats.Alloc > m.baseline {
					delta = stats.Alloc - m.baseline
				}

				if delta > m.limitBytes {
					m.exceeded.Store(true)
					log.Warn("LUA: memory limit exceeded for %s (delta=%dMB, limit=%dMB), stopping",
						scriptName, delta/(1024*1024), m.limitBytes/(1024*1024))
					kill()
					return
				}
			}
		}
	}()

	return cancel
}

func (m *memoryMonitor) wasExceeded() bool {
	if m == nil {
		return false
	}
	return m.exceeded.Load()
}
