// Copyright (c) 2020 mgIT GmbH. All rights reserved.
// Distributed under the Apache License. See LICENSE for details.

package clamd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/url"
	"os"
)

// Dialer abstracts the [*net.Dialer] behavior.
//
// Plug a connection pool in here to reuse connections; a Client never
// keeps connections itself.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Client scans data on a clamd reachable over tcp or a unix socket.
// It is safe for concurrent use; every scan gets its own connection.
type Client struct {
	network string
	address string
	cfg     *config
}

// NewClient creates a Client for addr.
//
// addr is either "tcp://host:port", "unix:///path/to/clamd.ctl" or a bare
// unix socket path.
func NewClient(addr string, opts ...Option) (*Client, error) {
	network, address, err := parseAddr(addr)
	if err != nil {
		return nil, err
	}
	cfg, err := newConfig(opts)
	if err != nil {
		return nil, err
	}
	if cfg.dialer == nil {
		cfg.dialer = &net.Dialer{}
	}
	return &Client{
		network: network,
		address: address,
		cfg:     cfg,
	}, nil
}

func parseAddr(addr string) (network, address string, err error) {
	if addr == "" {
		return "", "", newConfigurationError("empty clamd address", nil)
	}
	u, err := url.Parse(addr)
	if err != nil {
		return "", "", newConfigurationError(fmt.Sprintf("invalid clamd address %q", addr), err)
	}
	switch u.Scheme {
	case "tcp":
		if u.Host == "" {
			return "", "", newConfigurationError(fmt.Sprintf("missing host in %q", addr), nil)
		}
		return "tcp", u.Host, nil
	case "unix":
		if u.Path == "" {
			return "", "", newConfigurationError(fmt.Sprintf("missing socket path in %q", addr), nil)
		}
		return "unix", u.Path, nil
	case "":
		return "unix", addr, nil
	default:
		return "", "", newConfigurationError(fmt.Sprintf("unsupported scheme %q", u.Scheme), nil)
	}
}

// Network returns "tcp" or "unix".
func (c *Client) Network() string {
	return c.network
}

// Address returns the host:port or socket path the Client dials.
func (c *Client) Address() string {
	return c.address
}

// ScanReader streams r to clamd and returns the verdict.
func (c *Client) ScanReader(ctx context.Context, r io.Reader) (*ScanResult, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	return newSession(c.cfg).Scan(ctx, r, conn)
}

// ScanBytes scans b.
func (c *Client) ScanBytes(ctx context.Context, b []byte) (*ScanResult, error) {
	return c.ScanReader(ctx, bytes.NewReader(b))
}

// ScanFile streams the local file at path to clamd. The daemon does not
// need access to path.
func (c *Client) ScanFile(ctx context.Context, path string) (*ScanResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, newSourceError(fmt.Sprintf("failed to open %s", path), err)
	}
	defer f.Close()

	return c.ScanReader(ctx, f)
}

func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	dctx, cancel := context.WithTimeout(ctx, c.cfg.dialTimeout)
	defer cancel()

	t0 := c.cfg.timeNow()
	conn, err := c.cfg.dialer.DialContext(dctx, c.network, c.address)
	c.cfg.logger.Debug(
		"connectDone",
		slog.Any("err", err),
		slog.String("errClass", classifyError(err)),
		slog.String("protocol", c.network),
		slog.String("remoteAddr", c.address),
		slog.Time("t0", t0),
		slog.Time("t", c.cfg.timeNow()),
	)
	if err != nil {
		if isTimeout(err) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, newTimeoutError("failed to connect to clamd", err)
		}
		return nil, newTransportError("failed to connect to clamd", err)
	}
	return conn, nil
}
