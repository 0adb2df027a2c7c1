// Copyright (c) 2020 mgIT GmbH. All rights reserved.
// Distributed under the Apache License. See LICENSE for details.

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/mgit-at/clamd-scanner/clamd"
)

const (
	defaultListen   = ":9328"
	defaultClamDURL = "tcp://127.0.0.1:3310"
)

type Config struct {
	Listen string `json:"listen"`
	ClamD  struct {
		Enable bool `json:"enable"`
		ClamDOptions
	} `json:"clamd"`
}

// Duration is a time.Duration read from strings like "30s" in JSON.
type Duration time.Duration

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string: %v", err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

type ClamDOptions struct {
	URL           string   `json:"url"`
	ChunkSize     int      `json:"chunk_size"`
	Timeout       Duration `json:"timeout"`
	DialTimeout   Duration `json:"dial_timeout"`
	CommandMode   string   `json:"command_mode"`
	MaxStreamSize int64    `json:"max_stream_size"`
}

// clientOptions translates the config into clamd.Client options. Zero
// values keep the library defaults.
func (o ClamDOptions) clientOptions(logger clamd.SLogger) ([]clamd.Option, error) {
	mode, err := clamd.ParseCommandMode(o.CommandMode)
	if err != nil {
		return nil, err
	}
	opts := []clamd.Option{
		clamd.WithCommandMode(mode),
		clamd.WithMaxStreamSize(o.MaxStreamSize),
		clamd.WithDialTimeout(time.Duration(o.DialTimeout)),
		clamd.WithLogger(logger),
	}
	if o.ChunkSize != 0 {
		opts = append(opts, clamd.WithChunkSize(o.ChunkSize))
	}
	if o.Timeout != 0 {
		opts = append(opts, clamd.WithTimeout(time.Duration(o.Timeout)))
	}
	return opts, nil
}

func loadConfig(path string) (*Config, error) {
	cfgFile, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config %q: %v", path, err)
	}
	defer cfgFile.Close()

	var cfg Config
	dec := json.NewDecoder(cfgFile)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config %q: %v", path, err)
	}

	if cfg.Listen == "" {
		cfg.Listen = defaultListen
	}
	if cfg.ClamD.URL == "" {
		cfg.ClamD.URL = defaultClamDURL
	}
	return &cfg, nil
}
