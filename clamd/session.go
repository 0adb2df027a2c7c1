// Copyright (c) 2020 mgIT GmbH. All rights reserved.
// Distributed under the Apache License. See LICENSE for details.

package clamd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync/atomic"
	"time"

	"github.com/bassosimone/safeconn"
	"github.com/google/uuid"
)

// maxResponseSize bounds the reply line; clamd replies are far shorter.
const maxResponseSize = 4096

// aLongTimeAgo is a deadline that makes pending reads and writes fail at once.
var aLongTimeAgo = time.Unix(1, 0)

// Transport is the connection a Session writes the stream to and reads the
// reply from. [net.Conn] satisfies it.
type Transport interface {
	io.Reader
	io.Writer
	SetReadDeadline(t time.Time) error
}

// writeDeadliner is implemented by transports whose writes can be
// interrupted, such as [net.Conn].
type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

// State is the phase a Session is in.
type State int32

const (
	StateIdle State = iota
	StateSending
	StateAwaitingResponse
	StateCompleted
	StateFailed
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSending:
		return "sending"
	case StateAwaitingResponse:
		return "awaiting_response"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Session performs exactly one INSTREAM scan over a borrowed Transport.
//
// A Session is not reusable: once Scan returned, further calls fail with a
// configuration error. Concurrent scans need one Session and one
// connection each.
type Session struct {
	cfg   *config
	id    string
	state atomic.Int32
}

// NewSession returns an idle Session. Only the chunk size, timeout,
// command mode, max stream size, logger and clock options apply.
func NewSession(opts ...Option) (*Session, error) {
	cfg, err := newConfig(opts)
	if err != nil {
		return nil, err
	}
	return newSession(cfg), nil
}

func newSession(cfg *config) *Session {
	return &Session{
		cfg: cfg,
		id:  uuid.Must(uuid.NewV7()).String(),
	}
}

// ID returns the identifier used for this session in log records.
func (s *Session) ID() string {
	return s.id
}

// State returns the current phase of the session.
func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
}

// Scan sends src to clamd over conn and returns the daemon's verdict.
//
// The reply must arrive within the configured timeout, or before ctx is
// done, whichever comes first. If conn has a SetWriteDeadline method, ctx
// also interrupts a stalled upload. Scan does not close conn; after a failure
// conn is in an undefined protocol state and should be discarded.
func (s *Session) Scan(ctx context.Context, src io.Reader, conn Transport) (*ScanResult, error) {
	if !s.state.CompareAndSwap(int32(StateIdle), int32(StateSending)) {
		return nil, newConfigurationError("session already used", nil)
	}
	t0 := s.cfg.timeNow()
	laddr, raddr := endpoints(conn)
	s.logScanStart(t0, laddr, raddr)

	res, err := s.scan(ctx, src, conn)
	if err != nil {
		s.setState(StateFailed)
	} else {
		s.setState(StateCompleted)
	}

	s.logScanDone(t0, laddr, raddr, res, err)
	return res, err
}

func (s *Session) scan(ctx context.Context, src io.Reader, conn Transport) (*ScanResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, newTimeoutError("scan canceled before start", err)
	}

	stop := interruptWrites(ctx, conn)
	err := s.send(src, conn)
	stop()
	if err != nil {
		if ctx.Err() != nil {
			return nil, newTimeoutError("scan canceled while sending", ctx.Err())
		}
		return nil, err
	}

	s.setState(StateAwaitingResponse)
	line, err := s.readResponse(ctx, conn)
	if err != nil {
		return nil, err
	}
	res := ParseResponse(line)
	return &res, nil
}

// send writes the INSTREAM command followed by the framed src.
func (s *Session) send(src io.Reader, conn Transport) error {
	if _, err := conn.Write(s.cfg.mode.Command("INSTREAM")); err != nil {
		return newTransportError("failed to send INSTREAM command", err)
	}
	s.cfg.logger.Debug(
		"commandDone",
		slog.String("sessionID", s.id),
		slog.String("mode", s.cfg.mode.String()),
	)

	if s.cfg.maxStreamSize > 0 {
		src = io.LimitReader(src, s.cfg.maxStreamSize)
	}
	sent, err := Frame(conn, src, s.cfg.chunkSize)
	s.cfg.logger.Debug(
		"framingDone",
		slog.Int64("bytes", sent),
		slog.Int("chunkSize", s.cfg.chunkSize),
		slog.Any("err", err),
		slog.String("errClass", classifyError(err)),
		slog.String("sessionID", s.id),
	)
	return err
}

// interruptWrites makes writes on conn fail once ctx is done, provided conn
// supports write deadlines. The returned func unregisters the hook.
func interruptWrites(ctx context.Context, conn Transport) (stop func() bool) {
	wd, ok := conn.(writeDeadliner)
	if !ok {
		return func() bool { return false }
	}
	return context.AfterFunc(ctx, func() {
		_ = wd.SetWriteDeadline(aLongTimeAgo)
	})
}

func (s *Session) readResponse(ctx context.Context, conn Transport) (string, error) {
	deadline := time.Now().Add(s.cfg.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		return "", newTransportError("failed to set read deadline", err)
	}
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(aLongTimeAgo)
	})
	defer stop()

	r := bufio.NewReaderSize(conn, maxResponseSize)
	line, err := r.ReadSlice(s.cfg.mode.Terminator())
	switch {
	case err == nil:
		return string(line[:len(line)-1]), nil
	case errors.Is(err, bufio.ErrBufferFull):
		return "", newProtocolError(fmt.Sprintf("response exceeds %d bytes", maxResponseSize), err)
	case ctx.Err() != nil:
		return "", newTimeoutError("scan canceled while awaiting response", ctx.Err())
	case isTimeout(err):
		return "", newTimeoutError("no response within deadline", err)
	case errors.Is(err, io.EOF) && len(line) == 0:
		return "", newProtocolError("connection closed without response", err)
	case errors.Is(err, io.EOF):
		return "", newProtocolError(fmt.Sprintf("truncated response %q", line), io.ErrUnexpectedEOF)
	default:
		return "", newTransportError("failed to read response", err)
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func endpoints(conn Transport) (laddr, raddr string) {
	if nc, ok := conn.(net.Conn); ok {
		return safeconn.LocalAddr(nc), safeconn.RemoteAddr(nc)
	}
	return "", ""
}

func (s *Session) logScanStart(t0 time.Time, laddr, raddr string) {
	s.cfg.logger.Info(
		"scanStart",
		slog.String("localAddr", laddr),
		slog.String("remoteAddr", raddr),
		slog.String("sessionID", s.id),
		slog.Time("t", t0),
	)
}

func (s *Session) logScanDone(t0 time.Time, laddr, raddr string, res *ScanResult, err error) {
	var status string
	if res != nil {
		status = string(res.Status)
	}
	s.cfg.logger.Info(
		"scanDone",
		slog.Any("err", err),
		slog.String("errClass", classifyError(err)),
		slog.String("errCode", ErrorCode(err)),
		slog.String("localAddr", laddr),
		slog.String("remoteAddr", raddr),
		slog.String("sessionID", s.id),
		slog.String("state", s.State().String()),
		slog.String("status", status),
		slog.Time("t0", t0),
		slog.Time("t", s.cfg.timeNow()),
	)
}
