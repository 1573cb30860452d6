package host

import (
	"runtime"
	"sync"
	"time"
)

// Usage is a resource usage sample.
type Usage struct {
	CPUPercent float64
	MemoryMB   float64
}

type cpuSample struct {
	cpu time.Duration
	at  time.Time
}

// Sampler turns cumulative CPU time into a percentage between two calls.
// The first sample for a process reports 0% CPU.
type Sampler struct {
	now func() time.Time

	mu   sync.Mutex
	last map[int]cpuSample
}

func NewSampler() *Sampler {
	return &Sampler{now: time.Now, last: make(map[int]cpuSample)}
}

// Self samples the agent process.
func (s *Sampler) Self() Usage {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return s.sample(0, selfCPUTime(), ms.Sys)
}

// Process samples pid. A pid that cannot be read yields a zero Usage.
func (s *Sampler) Process(pid int) Usage {
	if pid <= 0 {
		return Usage{}
	}
	cpu, rss, err := processUsage(pid)
	if err != nil {
		s.mu.Lock()
		delete(s.last, pid)
		s.mu.Unlock()
		return Usage{}
	}
	return s.sample(pid, cpu, rss)
}

func (s *Sampler) sample(key int, cpu time.Duration, memBytes uint64) Usage {
	now := s.now()
	u := Usage{MemoryMB: float64(memBytes) / (1024 * 1024)}

	s.mu.Lock()
	prev, ok := s.last[key]
	s.last[key] = cpuSample{cpu: cpu, at: now}
	s.mu.Unlock()

	if !ok {
		return u
	}
	wall := now.Sub(prev.at)
	if wall <= 0 || cpu < prev.cpu {
		return u
	}
	u.CPUPercent = float64(cpu-prev.cpu) / float64(wall) * 100
	return u
}
