// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package cosched

import "fmt"

// schedulerOptions holds configuration options for Scheduler creation.
type schedulerOptions struct {
	logger        *Logger
	fdTable       *FdTable
	name          string
	workers       int
	includeCaller bool
	hooking       bool
	metrics       bool
}

// --- Scheduler Options ---

// SchedulerOption configures a Scheduler instance.
type SchedulerOption interface {
	applyScheduler(*schedulerOptions) error
}

// schedulerOptionImpl implements SchedulerOption.
type schedulerOptionImpl struct {
	applySchedulerFunc func(*schedulerOptions) error
}

func (o *schedulerOptionImpl) applyScheduler(opts *schedulerOptions) error {
	return o.applySchedulerFunc(opts)
}

// WithWorkers sets the total number of scheduling loops (default 1). When
// caller participation is enabled via WithCallerThread, the constructing
// thread counts as one of them and n-1 worker threads are spawned.
func WithWorkers(n int) SchedulerOption {
	return &schedulerOptionImpl{func(opts *schedulerOptions) error {
		if n <= 0 {
			return fmt.Errorf("%w: %d", ErrBadWorkers, n)
		}
		opts.workers = n
		return nil
	}}
}

// WithCallerThread sets whether the constructing goroutine participates as a
// scheduling loop. When enabled, New locks the calling goroutine to its OS
// thread so its kernel tid is a stable affinity key, and Stop drains the
// caller loop through a dummy-main coroutine before joining the workers.
func WithCallerThread(enabled bool) SchedulerOption {
	return &schedulerOptionImpl{func(opts *schedulerOptions) error {
		opts.includeCaller = enabled
		return nil
	}}
}

// WithName sets the scheduler name, used as the worker thread name prefix
// and in log fields. An empty name keeps the default.
func WithName(name string) SchedulerOption {
	return &schedulerOptionImpl{func(opts *schedulerOptions) error {
		if name != "" {
			opts.name = name
		}
		return nil
	}}
}

// WithLogger sets the structured logger. A nil logger (the default)
// disables logging.
func WithLogger(log *Logger) SchedulerOption {
	return &schedulerOptionImpl{func(opts *schedulerOptions) error {
		opts.logger = log
		return nil
	}}
}

// WithMetrics enables runtime metrics collection on the Scheduler.
// When enabled, metrics can be accessed via Scheduler.Metrics().
// This adds minimal overhead (counter increments, one timestamp per queued
// task for dispatch latency). Disable for zero-overhead hot paths.
func WithMetrics(enabled bool) SchedulerOption {
	return &schedulerOptionImpl{func(opts *schedulerOptions) error {
		opts.metrics = enabled
		return nil
	}}
}

// WithHooking sets whether coroutines resumed by this scheduler get the
// transparent syscall hooks (default true). With hooking disabled, the
// HookLayer methods become byte-for-byte passthroughs to the raw syscalls.
func WithHooking(enabled bool) SchedulerOption {
	return &schedulerOptionImpl{func(opts *schedulerOptions) error {
		opts.hooking = enabled
		return nil
	}}
}

// WithFdTable shares an existing descriptor table instead of creating one
// per scheduler. Useful when several schedulers hook I/O on the same
// descriptors.
func WithFdTable(t *FdTable) SchedulerOption {
	return &schedulerOptionImpl{func(opts *schedulerOptions) error {
		opts.fdTable = t
		return nil
	}}
}

// resolveSchedulerOptions applies SchedulerOption instances to schedulerOptions.
func resolveSchedulerOptions(opts []SchedulerOption) (*schedulerOptions, error) {
	cfg := &schedulerOptions{
		name:    "cosched", // default
		workers: 1,
		hooking: true,
	}
	for _, opt := range opts {
		if opt == nil {
			continue // Skip nil options gracefully
		}
		if err := opt.applyScheduler(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
