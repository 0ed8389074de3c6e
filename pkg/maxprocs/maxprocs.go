// Package maxprocs adjusts GOMAXPROCS to the host's cgroup CPU quota
// before the per-thread lane count (pkg/lanes) is sized, so the number of
// sampling lanes tracks the CPUs the process can actually use rather than
// the machine's full core count.
package maxprocs

import (
	"go.uber.org/automaxprocs/maxprocs"
	"go.uber.org/zap"

	"github.com/flightcore/recorder/pkg/xlog"
)

// Adjust sets GOMAXPROCS from the cgroup quota and logs the outcome
// through l, so the decision shows up in the same structured log stream
// as everything else this process does.
func Adjust(l xlog.Logger) {
	_, err := maxprocs.Set(maxprocs.Logger(func(format string, args ...interface{}) {
		l.Raw().Sugar().Debugf(format, args...)
	}))
	if err != nil {
		l.Raw().Warn("failed to adjust GOMAXPROCS", zap.Error(err))
	}
}
