package evio

import (
	"github.com/joeycumines/logiface"
)

// loopOptions holds configuration resolved from Option values.
type loopOptions struct {
	logger  *logiface.Logger[logiface.Event]
	clockID int32
	uring   bool
	metrics bool
}

// Option configures a Loop instance.
type Option interface {
	applyLoop(*loopOptions) error
}

// loopOptionImpl implements Option.
type loopOptionImpl struct {
	applyLoopFunc func(*loopOptions) error
}

func (l *loopOptionImpl) applyLoop(opts *loopOptions) error {
	return l.applyLoopFunc(opts)
}

// WithURing enables the io_uring submission path for descriptor-control
// operations. When the running kernel does not support batched epoll control
// the loop silently falls back to direct epoll_ctl calls.
func WithURing(enabled bool) Option {
	return &loopOptionImpl{func(opts *loopOptions) error {
		opts.uring = enabled
		return nil
	}}
}

// WithClock overrides the loop's monotonic clock source (a CLOCK_* id from
// golang.org/x/sys/unix). The default prefers CLOCK_MONOTONIC_COARSE when
// its resolution is 1ms or better.
func WithClock(clockID int32) Option {
	return &loopOptionImpl{func(opts *loopOptions) error {
		opts.clockID = clockID
		return nil
	}}
}

// WithLogger attaches a structured logger. Only slow paths log; a nil logger
// (the default) disables logging entirely.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &loopOptionImpl{func(opts *loopOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithMetrics enables runtime counters, accessible via Loop.Metrics.
func WithMetrics(enabled bool) Option {
	return &loopOptionImpl{func(opts *loopOptions) error {
		opts.metrics = enabled
		return nil
	}}
}

// resolveLoopOptions applies Option instances to loopOptions.
func resolveLoopOptions(opts []Option) (*loopOptions, error) {
	cfg := &loopOptions{
		clockID: -1, // probe
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyLoop(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
