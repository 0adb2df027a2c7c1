// Copyright (c) 2020 mgIT GmbH. All rights reserved.
// Distributed under the Apache License. See LICENSE for details.

package clamd

import (
	"time"
)

const (
	defaultTimeout     = 30 * time.Second
	defaultDialTimeout = 2 * time.Second
)

// config holds the settings shared by Client and Session.
type config struct {
	chunkSize     int
	timeout       time.Duration
	dialTimeout   time.Duration
	mode          CommandMode
	maxStreamSize int64
	dialer        Dialer
	logger        SLogger
	timeNow       func() time.Time
}

func newConfig(opts []Option) (*config, error) {
	c := &config{
		chunkSize:   DefaultChunkSize,
		timeout:     defaultTimeout,
		dialTimeout: defaultDialTimeout,
		mode:        CommandModeNull,
		logger:      discardSLogger{},
		timeNow:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := checkChunkSize(c.chunkSize); err != nil {
		return nil, err
	}
	if c.timeout <= 0 {
		return nil, newConfigurationError("timeout must be positive", nil)
	}
	if c.maxStreamSize < 0 {
		return nil, newConfigurationError("max stream size must not be negative", nil)
	}
	if !c.mode.valid() {
		return nil, newConfigurationError("unknown command mode "+c.mode.String(), nil)
	}
	return c, nil
}

// Option configures a Client or a Session.
type Option func(*config)

// WithChunkSize sets the maximum payload size of a single chunk.
// It must not exceed clamd's StreamMaxLength.
func WithChunkSize(n int) Option {
	return func(c *config) {
		c.chunkSize = n
	}
}

// WithTimeout bounds the wait for clamd's reply after the stream was sent.
// A context deadline that expires earlier takes precedence.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithDialTimeout bounds connection establishment of a Client.
// Non-positive durations are ignored.
func WithDialTimeout(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.dialTimeout = d
		}
	}
}

// WithCommandMode selects the command framing, see CommandMode.
func WithCommandMode(m CommandMode) Option {
	return func(c *config) {
		c.mode = m
	}
}

// WithMaxStreamSize limits how many bytes of the input are sent. Only the
// first n bytes are scanned; zero means unlimited. Setting it to clamd's
// StreamMaxLength avoids size limit errors for large inputs.
func WithMaxStreamSize(n int64) Option {
	return func(c *config) {
		c.maxStreamSize = n
	}
}

// WithDialer sets the Dialer a Client uses to obtain connections.
func WithDialer(d Dialer) Option {
	return func(c *config) {
		c.dialer = d
	}
}

// WithLogger sets the logger; [*slog.Logger] satisfies SLogger.
func WithLogger(l SLogger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithTimeNow overrides the clock, for tests.
func WithTimeNow(fn func() time.Time) Option {
	return func(c *config) {
		if fn != nil {
			c.timeNow = fn
		}
	}
}
