// Copyright (c) 2020 mgIT GmbH. All rights reserved.
// Distributed under the Apache License. See LICENSE for details.

package main

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"regexp"
	"time"

	clamdctl "github.com/imgurbot12/clamd"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mgit-at/clamd-scanner/clamd"
)

const clamdDBTimeFormat = "Mon Jan _2 15:04:05 2006"

// defaultVersionTimeout bounds PING and VERSION if no timeout is configured.
const defaultVersionTimeout = 30 * time.Second

var errVersionTimeout = errors.New("clamd did not answer PING/VERSION in time")

var (
	clamdVersionRegexp = regexp.MustCompile(`^ClamAV ([^/]+)/(\d+)/(.+)$`)

	helloPayload = []byte("I am a totally legit non-threatening Hello message from The Beyond!")
)

type ClamDChecker struct {
	opts   ClamDOptions
	client *clamd.Client
	logger *slog.Logger

	promClamDUp                 *prometheus.Desc
	promClamDDBTime             *prometheus.Desc
	promClamDEicarDetected      *prometheus.Desc
	promClamDEicarDetectionTime *prometheus.Desc
	promClamDHelloOK            *prometheus.Desc
	promClamDHelloOKTime        *prometheus.Desc
	promClamDScanErrors         *prometheus.CounterVec
}

func NewClamDChecker(opts ClamDOptions, logger *slog.Logger) (*ClamDChecker, error) {
	clientOpts, err := opts.clientOptions(logger)
	if err != nil {
		return nil, err
	}
	client, err := clamd.NewClient(opts.URL, clientOpts...)
	if err != nil {
		return nil, err
	}
	return &ClamDChecker{
		opts:   opts,
		client: client,
		logger: logger,
		promClamDUp: prometheus.NewDesc(
			"clamav_clamd_up",
			"connection to clamd is successful",
			[]string{"version"},
			nil),
		promClamDDBTime: prometheus.NewDesc(
			"clamav_clamd_db_time",
			"timestamp of currently used virus definition DB",
			[]string{},
			nil),
		promClamDEicarDetected: prometheus.NewDesc(
			"clamav_clamd_eicar_detected",
			"successfully detected eicar test stream",
			[]string{},
			nil),
		promClamDEicarDetectionTime: prometheus.NewDesc(
			"clamav_clamd_eicar_detection_time_seconds",
			"eicar test stream detection time",
			[]string{},
			nil),
		promClamDHelloOK: prometheus.NewDesc(
			"clamav_clamd_hello_ok",
			"correctly identified hello as non-threatening",
			[]string{},
			nil),
		promClamDHelloOKTime: prometheus.NewDesc(
			"clamav_clamd_hello_ok_time_seconds",
			"unthreatening hello test stream detection time",
			[]string{},
			nil),
		promClamDScanErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clamav_clamd_scan_errors_total",
			Help: "INSTREAM scans that failed on the client side, by error code",
		}, []string{"code"}),
	}, nil
}

func (c *ClamDChecker) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.promClamDUp
	ch <- c.promClamDDBTime
	ch <- c.promClamDEicarDetected
	ch <- c.promClamDEicarDetectionTime
	ch <- c.promClamDHelloOK
	ch <- c.promClamDHelloOKTime
	c.promClamDScanErrors.Describe(ch)
}

func (c *ClamDChecker) Collect(ch chan<- prometheus.Metric) {
	up := 1.0
	version, dbTime, err := c.collectVersion()
	if err != nil {
		c.logger.Info("failed to get clamd version", slog.Any("err", err))
		up = 0
	}
	ch <- prometheus.MustNewConstMetric(
		c.promClamDUp,
		prometheus.GaugeValue,
		up,
		version,
	)
	if !dbTime.IsZero() {
		ch <- prometheus.MustNewConstMetric(
			c.promClamDDBTime,
			prometheus.GaugeValue,
			float64(dbTime.Unix()),
		)
	}

	ctx := context.Background()
	eicarDetected, eicarTime := c.collectEicar(ctx)
	ch <- prometheus.MustNewConstMetric(
		c.promClamDEicarDetected,
		prometheus.GaugeValue,
		float64(eicarDetected),
	)
	ch <- prometheus.MustNewConstMetric(
		c.promClamDEicarDetectionTime,
		prometheus.GaugeValue,
		eicarTime,
	)

	helloOK, helloTime := c.collectHello(ctx)
	ch <- prometheus.MustNewConstMetric(
		c.promClamDHelloOK,
		prometheus.GaugeValue,
		float64(helloOK),
	)
	ch <- prometheus.MustNewConstMetric(
		c.promClamDHelloOKTime,
		prometheus.GaugeValue,
		helloTime,
	)

	c.promClamDScanErrors.Collect(ch)
}

// collectVersion pings clamd and parses its VERSION reply. A reply that
// does not carry a DB timestamp yields a zero dbTime but no error.
//
// The control client has no deadlines of its own, so a stalled daemon is
// abandoned after the configured timeout; the query goroutine then lingers
// until clamd answers or drops the connection.
func (c *ClamDChecker) collectVersion() (version string, dbTime time.Time, err error) {
	type reply struct {
		version string
		err     error
	}
	done := make(chan reply, 1)
	go func() {
		v, err := c.queryVersion()
		done <- reply{v, err}
	}()

	timer := time.NewTimer(c.versionTimeout())
	defer timer.Stop()
	var v string
	select {
	case r := <-done:
		if r.err != nil {
			return "", time.Time{}, r.err
		}
		v = r.version
	case <-timer.C:
		return "", time.Time{}, errVersionTimeout
	}

	matches := clamdVersionRegexp.FindStringSubmatch(v)
	if matches == nil {
		c.logger.Debug("unexpected clamd version", slog.String("version", v))
		return v, time.Time{}, nil
	}
	dbTime, perr := time.ParseInLocation(clamdDBTimeFormat, matches[3], time.UTC)
	if perr != nil {
		c.logger.Debug("unexpected clamd DB time", slog.String("version", v), slog.Any("err", perr))
	}
	return matches[1], dbTime, nil
}

func (c *ClamDChecker) queryVersion() (string, error) {
	cl, err := clamdctl.NewClamd(c.opts.URL)
	if err != nil {
		return "", err
	}
	if err := cl.Ping(); err != nil {
		return "", err
	}
	return cl.Version()
}

func (c *ClamDChecker) versionTimeout() time.Duration {
	if c.opts.Timeout > 0 {
		return time.Duration(c.opts.Timeout)
	}
	return defaultVersionTimeout
}

func (c *ClamDChecker) collectEicar(ctx context.Context) (detected int, elapsed float64) {
	res, elapsed, err := c.testScan(ctx, clamdctl.EICAR)
	if err != nil {
		return
	}
	if res.IsInfected() {
		detected = 1
	}
	return
}

func (c *ClamDChecker) collectHello(ctx context.Context) (helloOK int, elapsed float64) {
	res, elapsed, err := c.testScan(ctx, helloPayload)
	if err != nil {
		return
	}
	if res.IsClean() {
		helloOK = 1
	}
	return
}

// testScan streams data to clamd; elapsed is NaN when the scan failed.
func (c *ClamDChecker) testScan(ctx context.Context, data []byte) (*clamd.ScanResult, float64, error) {
	start := time.Now()
	res, err := c.client.ScanBytes(ctx, data)
	if err != nil {
		c.promClamDScanErrors.WithLabelValues(clamd.ErrorCode(err)).Inc()
		c.logger.Info("test scan failed", slog.Any("err", err))
		return nil, math.NaN(), err
	}
	return res, time.Since(start).Seconds(), nil
}
