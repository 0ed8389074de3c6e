// Command recorder drives the flight-recording core's controller
// against synthetic/injected events. It exists to start, stop, and dump
// a recording end to end for demonstration and testing; it is not a
// sampling profiler and does no process introspection of its own.
package main

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/flightcore/recorder/internal/buildinfo/cobrabuildinfo"
	"github.com/flightcore/recorder/internal/xmetrics"
	"github.com/flightcore/recorder/pkg/chunk"
	"github.com/flightcore/recorder/pkg/config"
	"github.com/flightcore/recorder/pkg/constpool"
	"github.com/flightcore/recorder/pkg/dict"
	"github.com/flightcore/recorder/pkg/events"
	"github.com/flightcore/recorder/pkg/liveness"
	"github.com/flightcore/recorder/pkg/maxprocs"
	"github.com/flightcore/recorder/pkg/methodmap"
	"github.com/flightcore/recorder/pkg/recorder"
	"github.com/flightcore/recorder/pkg/xlog"
	"github.com/flightcore/recorder/pkg/xlog/logmetrics"
)

var (
	configPath string
	logLevel   string
	debug      bool
)

var rootCmd = &cobra.Command{
	Use:           "recorder",
	Short:         "Drive the flight-recording core against synthetic events",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to recorder config (yaml)")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "info", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "D", false, "force debug log level")

	rootCmd.AddCommand(newStartCommand())
	rootCmd.AddCommand(newDumpCommand())
	rootCmd.AddCommand(newInspectCommand())
	cobrabuildinfo.Init(rootCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %+v\n", err)
		os.Exit(1)
	}
}

func newLogger() (xlog.Logger, func(), error) {
	level := zapcore.InfoLevel
	if debug {
		level = zapcore.DebugLevel
	} else if err := level.Set(logLevel); err != nil {
		return nil, nil, fmt.Errorf("parse --log-level: %w", err)
	}
	return xlog.NewProduction(level)
}

func loadConfig(l xlog.Logger) (*config.Config, error) {
	c := &config.Config{}
	if configPath != "" {
		f, err := os.Open(configPath)
		if err != nil {
			return nil, err
		}
		defer f.Close()

		data, err := io.ReadAll(f)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, c); err != nil {
			return nil, err
		}
	} else {
		l.Raw().Sugar().Debug("no --config given, using defaults")
	}
	c.FillDefault()
	return c, nil
}

// fileOpener opens plain os.Files; *os.File already satisfies
// recorder.OutputFile (WriteAt/ReadAt/Close/Truncate all match its
// native method set) so no adapter type is needed.
type fileOpener struct{}

func (fileOpener) Open(path string) (recorder.OutputFile, error) {
	return os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
}

// systemClock drives the controller from the real wall clock and a
// monotonic tick count derived from time.Now, at a fixed nominal
// resolution — adequate for the CLI demo, where no real hardware
// timestamp counter is being sampled.
type systemClock struct {
	start time.Time
}

func newSystemClock() *systemClock { return &systemClock{start: time.Now()} }

func (c *systemClock) Now() time.Time { return time.Now() }
func (c *systemClock) Ticks() uint64  { return uint64(time.Since(c.start)) }
func (c *systemClock) TicksPerSecond() uint64 { return uint64(time.Second) }

var _ chunk.Clock = (*systemClock)(nil)

// noopRuntimeQuerier stands in for the managed-runtime introspection
// this CLI never performs: every method query degrades to the
// placeholder path the method map already has for that case.
type noopRuntimeQuerier struct{}

func (noopRuntimeQuerier) QueryMethod(uint64) (methodmap.RawMethodInfo, error) {
	return methodmap.RawMethodInfo{}, fmt.Errorf("recorder: no runtime attached, method queries are unavailable")
}

func (noopRuntimeQuerier) IsThreadRunSubclass(string) bool { return false }

func buildResolver() *constpool.Resolver {
	dicts := constpool.Dictionaries{
		Symbols:  dict.New(),
		Packages: dict.New(),
		Classes:  dict.New(),
	}
	methods := methodmap.New(methodmap.Config{
		Classes:  dicts.Classes,
		Packages: dicts.Packages,
		Symbols:  dicts.Symbols,
		Runtime:  noopRuntimeQuerier{},
	})
	return constpool.New(methods, dicts)
}

func newStartCommand() *cobra.Command {
	var duration time.Duration
	var eventRate time.Duration

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Record synthetic events for a fixed duration, then stop",
		RunE: func(cmd *cobra.Command, args []string) error {
			l, stop, err := newLogger()
			if err != nil {
				return err
			}
			defer stop()

			metrics := xmetrics.New()
			l = logmetrics.NewMeteredLogger(l, metrics.Registry)
			go serveMetrics(l, metrics)

			maxprocs.Adjust(l)

			cfg, err := loadConfig(l)
			if err != nil {
				return err
			}

			maxBytes, maxAge := cfg.RotationPolicy()
			ctrl := recorder.New(l, fileOpener{}, buildResolver(), newSystemClock())

			err = ctrl.Start(recorder.Config{
				Path:           cfg.File,
				RotationPolicy: chunk.RotationPolicy{MaxBytes: maxBytes, MaxAge: maxAge},
				LaneCount:      8,
				LaneBufferSize: 64 << 10,
				LivenessConfig: liveness.Config{
					MaxHeapBytes:          uint64(256 << 20),
					AllocSamplingInterval: cfg.AllocSamplingIntervalBytes(),
					HeapInfoAvailable:     true,
				},
				Preamble: chunk.PreambleOptions{
					NoSystemInfo:  cfg.Preamble.NoSystemInfo,
					NoSystemProps: cfg.Preamble.NoSystemProps,
					NoNativeLibs:  cfg.Preamble.NoNativeLibs,
					NoCPULoad:     cfg.Preamble.NoCPULoad,
				},
			})
			if err != nil {
				return fmt.Errorf("start recording: %w", err)
			}

			if len(cfg.Selector.Include) > 0 || len(cfg.Selector.Exclude) > 0 || len(cfg.Selector.Filter) > 0 {
				ctrl.ThreadFilter().Configure(cfg.Selector.Include, cfg.Selector.Exclude, cfg.Selector.Filter)
			} else {
				for _, tid := range []int32{1, 2, 3, 4} {
					ctrl.ThreadFilter().Add(tid)
				}
			}

			l.Raw().Sugar().Infof("recording to %s for %s", cfg.File, duration)
			runSyntheticLoad(cmd.Context(), ctrl, duration, eventRate, cfg.Preamble.NoCPULoad)

			if err := ctrl.Stop(); err != nil {
				return fmt.Errorf("stop recording: %w", err)
			}
			l.Raw().Sugar().Infof("dropped %d events", ctrl.DroppedEvents())
			return nil
		},
	}

	cmd.Flags().DurationVar(&duration, "duration", 5*time.Second, "how long to record")
	cmd.Flags().DurationVar(&eventRate, "rate", 10*time.Millisecond, "interval between synthetic samples")
	return cmd
}

func newDumpCommand() *cobra.Command {
	var source, target string
	var duration time.Duration

	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Record briefly, dump the active chunk to a second file, and keep recording",
		RunE: func(cmd *cobra.Command, args []string) error {
			l, stop, err := newLogger()
			if err != nil {
				return err
			}
			defer stop()

			ctrl := recorder.New(l, fileOpener{}, buildResolver(), newSystemClock())
			err = ctrl.Start(recorder.Config{
				Path:           source,
				RotationPolicy: chunk.RotationPolicy{MaxBytes: 64 << 20, MaxAge: time.Minute},
				LaneCount:      4,
				LaneBufferSize: 64 << 10,
			})
			if err != nil {
				return err
			}
			for _, tid := range []int32{1, 2} {
				ctrl.ThreadFilter().Add(tid)
			}

			runSyntheticLoad(cmd.Context(), ctrl, duration, 10*time.Millisecond, false)

			if err := ctrl.Dump(target, source, fileOpener{}); err != nil {
				return fmt.Errorf("dump to %s: %w", target, err)
			}
			l.Raw().Sugar().Infof("dumped active chunk from %s to %s", source, target)

			return ctrl.Stop()
		},
	}

	cmd.Flags().StringVar(&source, "source", "recording.flr", "active recording path")
	cmd.Flags().StringVar(&target, "target", "dump.flr", "path to copy the active chunk into")
	cmd.Flags().DurationVar(&duration, "duration", 2*time.Second, "how long to record before dumping")
	return cmd
}

func newInspectCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect <path>",
		Short: "Print the chunk headers found in a recording file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return inspectFile(args[0], cmd.OutOrStdout())
		},
	}
	return cmd
}

func inspectFile(path string, out io.Writer) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	var offset int64
	chunkIndex := 0
	buf := make([]byte, chunk.HeaderSize)
	for offset < info.Size() {
		n, err := f.ReadAt(buf, offset)
		if n < chunk.HeaderSize {
			if err != nil && err != io.EOF {
				return err
			}
			break
		}

		h, err := chunk.DecodeHeader(buf)
		if err != nil {
			return fmt.Errorf("chunk %d at offset %d: %w", chunkIndex, offset, err)
		}

		fmt.Fprintf(out, "chunk %d @ offset %s: size=%s cpool=+%d meta=+%d duration=%s ticks/s=%d\n",
			chunkIndex, humanize.Bytes(uint64(offset)), humanize.Bytes(h.ChunkSize),
			h.CPoolOffset, h.MetaOffset, time.Duration(h.DurationNanos), h.TicksPerSecond)

		if h.ChunkSize == 0 || h.ChunkSize >= chunk.PlaceholderChunkSize {
			break
		}
		offset += int64(h.ChunkSize)
		chunkIndex++
	}
	return nil
}

// runSyntheticLoad feeds the controller a steady stream of fabricated
// execution samples, a periodic log line, and CPU-load samples,
// standing in for the sampling collaborators this core is designed to
// sit behind.
func runSyntheticLoad(ctx context.Context, ctrl *recorder.Controller, duration, rate time.Duration, noCPULoad bool) {
	deadline := time.Now().Add(duration)
	tick := time.NewTicker(rate)
	defer tick.Stop()

	threadStates := []uint8{0, 1, 2}
	traceID := uint32(0)

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
		}

		tid := int32(1 + rand.Intn(4))
		traceID++
		ctrl.RecordEvent(tid, traceID, events.Execution, recorder.EventPayload{
			ThreadState: threadStates[rand.Intn(len(threadStates))],
		})

		if traceID%50 == 0 {
			ctrl.RecordLog(events.LogInfo, fmt.Sprintf("recorded %d synthetic samples", traceID))
			if !noCPULoad {
				ctrl.SampleCPULoad(time.Now())
			}
		}
		ctrl.TimerTick(time.Now())
	}
}

func serveMetrics(l xlog.Logger, reg *xmetrics.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", reg.HTTPHandler())
	if err := http.ListenAndServe(":9157", mux); err != nil {
		l.Raw().Sugar().Warnf("metrics server stopped: %v", err)
	}
}
