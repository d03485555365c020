package scope

import (
	"github.com/joeycumines/cascada/logging"
	"github.com/joeycumines/cascada/metrics"
)

// schedulerOptions holds configuration for a new Scheduler.
type schedulerOptions struct {
	logger          logging.Logger
	asyncOptimized  bool
	reenterIsolated bool
	metrics         *metrics.Metrics
	delay           DelayHook
}

// DelayHook is invoked through Scheduler.Delay at the start of each
// spawned closure's goroutine, before its body runs. The compiler passes
// the spawning node's "<kind>@<line>:<col>" key (not the async block id)
// as the blockID argument, so it is never empty. Tests use it to
// force a deterministic interleaving of otherwise-concurrent closures
// when checking spec §8's "output order invariance" property; it is
// nil (no-op) in production.
type DelayHook func(blockID string)

// Option configures a Scheduler instance.
type Option interface {
	applyScheduler(*schedulerOptions)
}

type optionFunc func(*schedulerOptions)

func (f optionFunc) applyScheduler(o *schedulerOptions) { f(o) }

// WithLogger attaches a structured logger; the default is logging.Discard.
func WithLogger(l logging.Logger) Option {
	return optionFunc(func(o *schedulerOptions) {
		if l != nil {
			o.logger = l
		}
	})
}

// WithAsyncOptimized records whether the isAsync analysis pass is
// honored (true, the default) or whether every node is treated as async
// (false). The Scheduler stores the setting but nothing reads it; the
// all-nodes-async mode is selected at compile time with
// compiler.WithAsyncDisabled.
func WithAsyncOptimized(enabled bool) Option {
	return optionFunc(func(o *schedulerOptions) {
		o.asyncOptimized = enabled
	})
}

// WithReentrantIsolation controls whether a recursive activation of the
// same async block is given a fresh promiseDataById map
// (reenterWriteCounters), avoiding collisions between the outer and
// inner activation's pending reads.
func WithReentrantIsolation(enabled bool) Option {
	return optionFunc(func(o *schedulerOptions) {
		o.reenterIsolated = enabled
	})
}

// WithMetrics attaches a *metrics.Metrics the scheduler reports closure
// counts, write-counter resolutions, and sequence-lock wait latency
// into. The default is nil (no metrics collected).
func WithMetrics(m *metrics.Metrics) Option {
	return optionFunc(func(o *schedulerOptions) {
		o.metrics = m
	})
}

// WithDeterministicDelay installs a DelayHook the scheduler calls
// before running each spawned closure's body, letting a test pin down
// the resolution order of otherwise-concurrent async blocks.
func WithDeterministicDelay(hook DelayHook) Option {
	return optionFunc(func(o *schedulerOptions) {
		o.delay = hook
	})
}

func resolveOptions(opts []Option) *schedulerOptions {
	cfg := &schedulerOptions{
		logger:          logging.Discard{},
		asyncOptimized:  true,
		reenterIsolated: false,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt.applyScheduler(cfg)
	}
	return cfg
}
