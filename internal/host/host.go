// Package host drives the process lifecycle: a fixed number of warm-up ticks
// before the HTTP side starts, then periodic sweeps on every tick.
package host

import (
	"io"
	"log/slog"
	"sync"
	"time"
)

const DefaultStartupTicks = 5

// SweepFunc removes stale state older than now and reports how many items went.
type SweepFunc func(now time.Time) int

type sweeper struct {
	name string
	fn   SweepFunc
}

type Options struct {
	// StartupTicks is the number of ticks before Start runs (default 5).
	StartupTicks int
	// Start runs once, on the tick that completes warm-up. It must not block.
	Start  func()
	Logger *slog.Logger
}

// Host is safe for concurrent use, though Tick is normally called from one
// scheduler goroutine.
type Host struct {
	mu       sync.Mutex
	opts     Options
	ticks    int
	started  bool
	sweepers []sweeper
	log      *slog.Logger
}

func New(opts Options) *Host {
	if opts.StartupTicks <= 0 {
		opts.StartupTicks = DefaultStartupTicks
	}
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Host{opts: opts, log: log}
}

// AddSweeper registers fn to run on every tick after startup.
func (h *Host) AddSweeper(name string, fn SweepFunc) {
	h.mu.Lock()
	h.sweepers = append(h.sweepers, sweeper{name: name, fn: fn})
	h.mu.Unlock()
}

// Started reports whether the start hook has run.
func (h *Host) Started() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.started
}

// Tick advances the warm-up counter or, once started, runs the sweepers.
func (h *Host) Tick(now time.Time) {
	h.mu.Lock()
	if !h.started {
		h.ticks++
		if h.ticks < h.opts.StartupTicks {
			h.mu.Unlock()
			return
		}
		h.started = true
		start := h.opts.Start
		h.mu.Unlock()
		h.log.Info("warm-up complete, starting", "ticks", h.opts.StartupTicks)
		if start != nil {
			start()
		}
		return
	}
	sweepers := append([]sweeper(nil), h.sweepers...)
	h.mu.Unlock()

	for _, s := range sweepers {
		if n := s.fn(now); n > 0 {
			h.log.Debug("sweep", "sweeper", s.name, "removed", n)
		}
	}
}
