// Copyright (c) 2020 mgIT GmbH. All rights reserved.
// Distributed under the Apache License. See LICENSE for details.

package main

import (
	"bytes"
	"io"
	"log/slog"
	"math"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/mgit-at/clamd-scanner/internal/clamdtest"
)

const (
	versionTestStr = "ClamAV 0.102.1/25701/Mon Jan 20 12:41:43 2020"
	dbTimeEpoch    = int64(1579524103) // `date -d "Mon Jan 20 12:41:43 2020" -u +"%s"`
)

func TestParseVersion(t *testing.T) {
	r := require.New(t)
	matches := clamdVersionRegexp.FindStringSubmatch(versionTestStr)
	r.NotNil(matches)
	r.Len(matches, 4)
	r.Equal(matches[1], "0.102.1")
	r.Equal(matches[2], "25701")
	r.Equal(matches[3], "Mon Jan 20 12:41:43 2020")

	dbTime, err := time.ParseInLocation(clamdDBTimeFormat, matches[3], time.UTC)
	r.NoError(err)
	r.Equal(dbTime.Unix(), dbTimeEpoch)
}

func TestParseVersionSingleDigitDay(t *testing.T) {
	r := require.New(t)
	matches := clamdVersionRegexp.FindStringSubmatch("ClamAV 1.0.0/26780/Thu Jan  5 08:21:36 2023")
	r.NotNil(matches)

	dbTime, err := time.ParseInLocation(clamdDBTimeFormat, matches[3], time.UTC)
	r.NoError(err)
	r.Equal(5, dbTime.Day())
}

// gather collects c through a fresh registry and returns gauge and counter
// values by metric name, counters additionally keyed by their code label.
func gather(t *testing.T, c prometheus.Collector) map[string]float64 {
	t.Helper()
	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(c))
	mfs, err := reg.Gather()
	require.NoError(t, err)

	values := map[string]float64{}
	for _, mf := range mfs {
		for _, m := range mf.GetMetric() {
			name := mf.GetName()
			for _, l := range m.GetLabel() {
				name += "/" + l.GetName() + "=" + l.GetValue()
			}
			if m.GetCounter() != nil {
				values[name] = m.GetCounter().GetValue()
			} else {
				values[name] = m.GetGauge().GetValue()
			}
		}
	}
	return values
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestClamDChecker(t *testing.T) {
	r := require.New(t)
	srv := clamdtest.NewServer(t)

	c, err := NewClamDChecker(ClamDOptions{URL: srv.URL(), Timeout: Duration(5 * time.Second)}, testLogger())
	r.NoError(err)

	values := gather(t, c)
	r.Equal(1.0, values["clamav_clamd_up/version=0.102.1"])
	r.Equal(float64(dbTimeEpoch), values["clamav_clamd_db_time"])
	r.Equal(1.0, values["clamav_clamd_eicar_detected"])
	r.Equal(1.0, values["clamav_clamd_hello_ok"])
	r.False(math.IsNaN(values["clamav_clamd_eicar_detection_time_seconds"]))
	r.False(math.IsNaN(values["clamav_clamd_hello_ok_time_seconds"]))

	payloads := srv.Payloads()
	r.Len(payloads, 2)
	r.True(bytes.Equal(clamdtest.EICAR, payloads[0]))
	r.Equal(helloPayload, payloads[1])
}

func TestClamDCheckerDown(t *testing.T) {
	r := require.New(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	r.NoError(err)
	addr := ln.Addr().String()
	r.NoError(ln.Close())

	c, err := NewClamDChecker(ClamDOptions{URL: "tcp://" + addr}, testLogger())
	r.NoError(err)

	values := gather(t, c)
	r.Equal(0.0, values["clamav_clamd_up/version="])
	r.NotContains(values, "clamav_clamd_db_time")
	r.Equal(0.0, values["clamav_clamd_eicar_detected"])
	r.Equal(0.0, values["clamav_clamd_hello_ok"])
	r.True(math.IsNaN(values["clamav_clamd_eicar_detection_time_seconds"]))
	r.Equal(2.0, values["clamav_clamd_scan_errors_total/code=transport_error"])
}

func TestClamDCheckerStalledVersion(t *testing.T) {
	r := require.New(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	r.NoError(err)
	// Accept connections but never answer.
	done := make(chan struct{})
	go func() {
		defer close(done)
		var conns []net.Conn
		defer func() {
			for _, conn := range conns {
				conn.Close()
			}
		}()
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conns = append(conns, conn)
		}
	}()
	t.Cleanup(func() {
		ln.Close()
		<-done
	})

	c, err := NewClamDChecker(ClamDOptions{URL: "tcp://" + ln.Addr().String(), Timeout: Duration(100 * time.Millisecond)}, testLogger())
	r.NoError(err)

	start := time.Now()
	_, _, err = c.collectVersion()
	r.ErrorIs(err, errVersionTimeout)
	r.Less(time.Since(start), 5*time.Second)
}

func TestClamDCheckerInvalidOptions(t *testing.T) {
	_, err := NewClamDChecker(ClamDOptions{URL: "tcp://127.0.0.1:3310", CommandMode: "bogus"}, testLogger())
	require.Error(t, err)

	_, err = NewClamDChecker(ClamDOptions{URL: "ftp://127.0.0.1:3310"}, testLogger())
	require.Error(t, err)
}
