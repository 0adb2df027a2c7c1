// Copyright (c) 2020 mgIT GmbH. All rights reserved.
// Distributed under the Apache License. See LICENSE for details.

package main

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mgit-at/clamd-scanner/internal/clamdtest"
)

func TestScanFileExitCodes(t *testing.T) {
	r := require.New(t)
	srv := clamdtest.NewServer(t)
	dir := t.TempDir()

	eicar := filepath.Join(dir, "eicar.com")
	r.NoError(os.WriteFile(eicar, clamdtest.EICAR, 0o644))
	hello := filepath.Join(dir, "hello.txt")
	r.NoError(os.WriteFile(hello, helloPayload, 0o644))

	var cfg Config
	cfg.ClamD.URL = srv.URL()
	ctx := context.Background()

	r.Equal(exitFound, scanFile(ctx, &cfg, testLogger(), eicar))
	r.Equal(exitClean, scanFile(ctx, &cfg, testLogger(), hello))
	r.Equal(exitFailure, scanFile(ctx, &cfg, testLogger(), filepath.Join(dir, "missing")))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	r.NoError(err)
	cfg.ClamD.URL = "tcp://" + ln.Addr().String()
	r.NoError(ln.Close())
	r.Equal(exitFailure, scanFile(ctx, &cfg, testLogger(), hello))

	cfg.ClamD.CommandMode = "bogus"
	r.Equal(exitFailure, scanFile(ctx, &cfg, testLogger(), hello))
}

func TestNewLogger(t *testing.T) {
	_, err := newLogger("debug")
	require.NoError(t, err)
	_, err = newLogger("chatty")
	require.Error(t, err)
}
