// Package cpuload computes per-tick CPU load fractions from /proc
// snapshots. Every controller tick, it reads
// (process_real, process_user, process_system) and (total_real,
// total_user, total_system); compute proc_user =
// clamp01(Δproc.user/(Δproc.real*ncpu)), proc_system symmetrically, and
// machine_total = clamp01((Δtotal.user+Δtotal.system)/Δtotal.real), with
// machine_total widened to be at least proc_user+proc_system.
//
// The /proc parsing itself lives in the procstat subpackage so the
// formula below can be unit tested against canned snapshots on any OS,
// independent of "read the file" concerns.
package cpuload

import (
	"os"
	"runtime"
	"time"

	"github.com/flightcore/recorder/pkg/cpuload/procstat"
)

// Sample is one CPU-load measurement, ready to become a CpuLoadEvent.
type Sample struct {
	ProcUser     float32
	ProcSystem   float32
	MachineTotal float32
}

type snapshot struct {
	at          time.Time
	procUser    uint64
	procSystem  uint64
	totalUser   uint64
	totalSystem uint64
}

// Monitor tracks the previous /proc snapshot so each tick can report a
// delta-based load fraction. It is not safe for concurrent use; the
// controller calls it from its own single-threaded tick path only.
type Monitor struct {
	ncpu int
	prev snapshot
	have bool

	readProcess func() (procstat.ProcessTimes, error)
	readMachine func() (procstat.MachineTimes, error)
}

// NewMonitor constructs a Monitor reading /proc/self/stat and
// /proc/stat, sized to the host's logical CPU count.
func NewMonitor() *Monitor {
	return &Monitor{
		ncpu: runtime.NumCPU(),
		readProcess: func() (procstat.ProcessTimes, error) {
			f, err := os.Open("/proc/self/stat")
			if err != nil {
				return procstat.ProcessTimes{}, err
			}
			defer f.Close()
			return procstat.ParseProcessStat(f)
		},
		readMachine: func() (procstat.MachineTimes, error) {
			f, err := os.Open("/proc/stat")
			if err != nil {
				return procstat.MachineTimes{}, err
			}
			defer f.Close()
			return procstat.ParseMachineStat(f)
		},
	}
}

// Sample reads the current snapshot and reports the load fractions
// since the previous call. The first call after construction (or after
// a gap with no prior snapshot) reports a clean zero sample, since a
// delta needs two points.
func (m *Monitor) Sample(now time.Time) (Sample, bool) {
	proc, err := m.readProcess()
	if err != nil {
		return Sample{}, false
	}
	total, err := m.readMachine()
	if err != nil {
		return Sample{}, false
	}

	cur := snapshot{
		at:          now,
		procUser:    proc.UserTicks,
		procSystem:  proc.SystemTicks,
		totalUser:   total.UserTicks,
		totalSystem: total.SystemTicks,
	}

	if !m.have {
		m.prev = cur
		m.have = true
		return Sample{}, true
	}

	realSeconds := now.Sub(m.prev.at).Seconds()
	sample := computeLoad(m.prev, cur, realSeconds, m.ncpu)

	m.prev = cur
	return sample, true
}

// computeLoad implements the clamp01 formulas directly against two
// snapshots, kept as a free function so it can be tested without
// touching /proc.
func computeLoad(prev, cur snapshot, realSeconds float64, ncpu int) Sample {
	if realSeconds <= 0 || ncpu < 1 {
		return Sample{}
	}
	ticksToSeconds := 1.0 / float64(procstat.ClockTicksPerSecond)

	deltaProcUser := ticksDelta(prev.procUser, cur.procUser) * ticksToSeconds
	deltaProcSystem := ticksDelta(prev.procSystem, cur.procSystem) * ticksToSeconds
	deltaTotalUser := ticksDelta(prev.totalUser, cur.totalUser) * ticksToSeconds
	deltaTotalSystem := ticksDelta(prev.totalSystem, cur.totalSystem) * ticksToSeconds

	procUser := clamp01(deltaProcUser / (realSeconds * float64(ncpu)))
	procSystem := clamp01(deltaProcSystem / (realSeconds * float64(ncpu)))
	machineTotal := clamp01((deltaTotalUser + deltaTotalSystem) / realSeconds)

	if floor := procUser + procSystem; machineTotal < floor {
		machineTotal = clamp01(floor)
	}

	return Sample{
		ProcUser:     float32(procUser),
		ProcSystem:   float32(procSystem),
		MachineTotal: float32(machineTotal),
	}
}

func ticksDelta(prev, cur uint64) float64 {
	if cur < prev {
		return 0
	}
	return float64(cur - prev)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
