package relay

import (
	"math"
	"runtime/debug"
	"runtime/metrics"
)

const (
	totalMemoryMetric    = "/memory/classes/total:bytes"
	releasedMemoryMetric = "/memory/classes/heap/released:bytes"
)

// Probe reports memory pressure: true when the runtime's mapped memory is
// within lowWater bytes of the soft memory limit.
type Probe struct {
	limit    uint64
	lowWater uint64
}

// NewProbe builds a Probe. A limit <= 0 uses the runtime's current soft limit
// (debug.SetMemoryLimit); with no limit set the probe never reports pressure.
func NewProbe(limit, lowWater int64) *Probe {
	if limit <= 0 {
		limit = debug.SetMemoryLimit(-1)
	}
	if limit <= 0 || limit == math.MaxInt64 || lowWater <= 0 {
		return &Probe{}
	}
	return &Probe{limit: uint64(limit), lowWater: uint64(lowWater)}
}

// Pressure samples runtime/metrics; safe for concurrent use.
func (p *Probe) Pressure() bool {
	if p == nil || p.limit == 0 {
		return false
	}
	used, ok := memoryInUse()
	if !ok {
		return false
	}
	return used+p.lowWater > p.limit
}

// memoryInUse is the memory counted against the soft limit: everything the
// runtime mapped minus heap already returned to the OS.
func memoryInUse() (uint64, bool) {
	s := []metrics.Sample{{Name: totalMemoryMetric}, {Name: releasedMemoryMetric}}
	metrics.Read(s)
	if s[0].Value.Kind() != metrics.KindUint64 || s[1].Value.Kind() != metrics.KindUint64 {
		return 0, false
	}
	total, released := s[0].Value.Uint64(), s[1].Value.Uint64()
	if released > total {
		return 0, true
	}
	return total - released, true
}
