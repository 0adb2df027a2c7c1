// Copyright (c) 2020 mgIT GmbH. All rights reserved.
// Distributed under the Apache License. See LICENSE for details.

package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	r := require.New(t)
	cfg, err := loadConfig(writeConfig(t, `{
		"listen": ":9999",
		"clamd": {
			"enable": true,
			"url": "unix:///var/run/clamav/clamd.ctl",
			"chunk_size": 4096,
			"timeout": "10s",
			"dial_timeout": "500ms",
			"command_mode": "newline",
			"max_stream_size": 26214400
		}
	}`))
	r.NoError(err)
	r.Equal(":9999", cfg.Listen)
	r.True(cfg.ClamD.Enable)
	r.Equal("unix:///var/run/clamav/clamd.ctl", cfg.ClamD.URL)
	r.Equal(4096, cfg.ClamD.ChunkSize)
	r.Equal(Duration(10*time.Second), cfg.ClamD.Timeout)
	r.Equal(Duration(500*time.Millisecond), cfg.ClamD.DialTimeout)
	r.Equal("newline", cfg.ClamD.CommandMode)
	r.Equal(int64(26214400), cfg.ClamD.MaxStreamSize)

	opts, err := cfg.ClamD.clientOptions(testLogger())
	r.NoError(err)
	r.Len(opts, 6)
}

func TestLoadConfigDefaults(t *testing.T) {
	r := require.New(t)
	cfg, err := loadConfig(writeConfig(t, `{}`))
	r.NoError(err)
	r.Equal(defaultListen, cfg.Listen)
	r.Equal(defaultClamDURL, cfg.ClamD.URL)
	r.False(cfg.ClamD.Enable)

	opts, err := cfg.ClamD.clientOptions(testLogger())
	r.NoError(err)
	r.Len(opts, 4)
}

func TestLoadConfigErrors(t *testing.T) {
	for name, content := range map[string]string{
		"bad json":       `{`,
		"bad duration":   `{"clamd": {"timeout": "soon"}}`,
		"numeric timout": `{"clamd": {"timeout": 30}}`,
		"unknown field":  `{"clamd": {"stream_max": 1}}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := loadConfig(writeConfig(t, content))
			require.Error(t, err)
		})
	}

	_, err := loadConfig(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}
