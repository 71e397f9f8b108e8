// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package guestloop

import (
	"fmt"
	"time"

	"github.com/joeycumines/logiface"
)

// DefaultPumpInterval is the interval at which the pump callback fires on
// the host loop: short enough that tasks feel responsive, long enough that
// an idle bridge costs the host next to nothing. It is deliberately a fixed
// constant; see WithPumpInterval for the escape hatch.
const DefaultPumpInterval = 10 * time.Millisecond

// options holds configuration shared by New and NewScheduler.
type options struct {
	logger       *logiface.Logger[logiface.Event]
	pumpInterval time.Duration
}

// Option configures a Bridge or a Scheduler.
type Option interface {
	apply(*options) error
}

// optionImpl implements Option.
type optionImpl struct {
	applyFunc func(*options) error
}

func (x *optionImpl) apply(opts *options) error {
	return x.applyFunc(opts)
}

// WithLogger attaches a structured logger. The logger may be nil (the
// default), in which case nothing is logged. Task failures and lifecycle
// transitions are logged at error and debug levels respectively.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &optionImpl{func(opts *options) error {
		opts.logger = logger
		return nil
	}}
}

// WithPumpInterval overrides DefaultPumpInterval for a Bridge. Most
// embedders should not need this; it exists for tests and for hosts whose
// timer granularity differs meaningfully from the default. Ignored by
// NewScheduler (the scheduler has no pump of its own).
func WithPumpInterval(d time.Duration) Option {
	return &optionImpl{func(opts *options) error {
		if d <= 0 {
			return fmt.Errorf(`guestloop: pump interval must be positive, got %v`, d)
		}
		opts.pumpInterval = d
		return nil
	}}
}

// resolveOptions applies Option instances to a defaulted options struct.
func resolveOptions(opts []Option) (*options, error) {
	cfg := &options{
		pumpInterval: DefaultPumpInterval,
	}
	for _, opt := range opts {
		if opt == nil {
			continue // skip nil options gracefully
		}
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
