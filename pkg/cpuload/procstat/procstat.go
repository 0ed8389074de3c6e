// Package procstat parses the two /proc files the CPU-load monitor
// needs, isolated from the formula so the formula's unit tests can run
// against canned snapshots on any OS (grounded on the bufio.Scanner
// idiom in yandex-perforator's pkg/linux/procfs/meminfo.go).
package procstat

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ClockTicksPerSecond is the conventional Linux USER_HZ value; /proc
// stat fields are reported in clock ticks at this rate on the vast
// majority of systems (those built with CONFIG_HZ=100).
const ClockTicksPerSecond = 100

// ProcessTimes holds one process's CPU accounting fields from
// /proc/<pid>/stat, fields 14 (utime) and 15 (stime), in clock ticks.
type ProcessTimes struct {
	UserTicks   uint64
	SystemTicks uint64
}

// ParseProcessStat parses a /proc/<pid>/stat line. Field 2 (comm) is
// parenthesized and may itself contain spaces, so fields are located by
// scanning from the last ')' rather than naive whitespace splitting.
func ParseProcessStat(r io.Reader) (ProcessTimes, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return ProcessTimes{}, err
	}
	line := strings.TrimSpace(string(data))

	parenClose := strings.LastIndexByte(line, ')')
	if parenClose < 0 || parenClose+2 > len(line) {
		return ProcessTimes{}, fmt.Errorf("procstat: malformed stat line")
	}
	fields := strings.Fields(line[parenClose+2:])
	// fields[0] is state (field 3); utime is field 14, i.e. fields[11].
	const utimeIdx, stimeIdx = 11, 12
	if len(fields) <= stimeIdx {
		return ProcessTimes{}, fmt.Errorf("procstat: stat line too short")
	}
	user, err := strconv.ParseUint(fields[utimeIdx], 10, 64)
	if err != nil {
		return ProcessTimes{}, err
	}
	sys, err := strconv.ParseUint(fields[stimeIdx], 10, 64)
	if err != nil {
		return ProcessTimes{}, err
	}
	return ProcessTimes{UserTicks: user, SystemTicks: sys}, nil
}

// MachineTimes holds the machine-wide CPU accounting fields from the
// "cpu " summary line of /proc/stat, in clock ticks.
type MachineTimes struct {
	UserTicks   uint64
	SystemTicks uint64
}

// ParseMachineStat scans /proc/stat for its leading "cpu " aggregate
// line (user, nice, system, idle, iowait, irq, softirq, steal, ...) and
// reports user = user+nice, system = system+irq+softirq, matching the
// common convention for "busy" time.
func ParseMachineStat(r io.Reader) (MachineTimes, error) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "cpu ") {
			continue
		}
		fields := strings.Fields(line)[1:]
		vals := make([]uint64, len(fields))
		for i, f := range fields {
			v, err := strconv.ParseUint(f, 10, 64)
			if err != nil {
				return MachineTimes{}, err
			}
			vals[i] = v
		}
		get := func(i int) uint64 {
			if i < len(vals) {
				return vals[i]
			}
			return 0
		}
		user := get(0) + get(1)
		sys := get(2) + get(5) + get(6)
		return MachineTimes{UserTicks: user, SystemTicks: sys}, nil
	}
	if err := sc.Err(); err != nil {
		return MachineTimes{}, err
	}
	return MachineTimes{}, fmt.Errorf("procstat: no cpu line found")
}
