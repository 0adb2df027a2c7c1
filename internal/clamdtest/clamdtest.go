// Copyright (c) 2020 mgIT GmbH. All rights reserved.
// Distributed under the Apache License. See LICENSE for details.

// Package clamdtest provides a fake clamd daemon and INSTREAM decoding
// helpers for tests.
package clamdtest

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

// EICAR is the standard antivirus test file.
var EICAR = []byte(`X5O!P%@AP[4\PZX54(P^)7CC)7}$EICAR-STANDARD-ANTIVIRUS-TEST-FILE!$H+H*`)

// DefaultVersion is the VERSION reply of a Server unless overridden.
const DefaultVersion = "ClamAV 0.102.1/25701/Mon Jan 20 12:41:43 2020"

// ErrSizeLimit is returned by Deframe when the payload exceeds its limit.
var ErrSizeLimit = errors.New("INSTREAM size limit exceeded")

// Deframe decodes an INSTREAM chunk stream up to and including the
// zero-length terminator. It returns the payload and the length of every
// data chunk in order. With a positive limit, payload beyond limit bytes is
// consumed but dropped and ErrSizeLimit is returned at the terminator.
func Deframe(r io.Reader, limit int) (data []byte, chunks []int, err error) {
	return deframe(r, limit, true)
}

// deframe is Deframe; without drain it returns ErrSizeLimit as soon as the
// header of the chunk crossing limit has been read, like clamd does.
func deframe(r io.Reader, limit int, drain bool) (data []byte, chunks []int, err error) {
	var hdr [4]byte
	var buf bytes.Buffer
	exceeded := false
	for {
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			return buf.Bytes(), chunks, err
		}
		n := int(binary.BigEndian.Uint32(hdr[:]))
		if n == 0 {
			if exceeded {
				return buf.Bytes(), chunks, ErrSizeLimit
			}
			return buf.Bytes(), chunks, nil
		}
		chunks = append(chunks, n)
		var dst io.Writer = &buf
		if exceeded || (limit > 0 && buf.Len()+n > limit) {
			if !drain {
				return buf.Bytes(), chunks, ErrSizeLimit
			}
			exceeded = true
			dst = io.Discard
		}
		if _, err := io.CopyN(dst, r, int64(n)); err != nil {
			return buf.Bytes(), chunks, err
		}
	}
}

// Handler computes the reply line for a scanned payload.
type Handler func(data []byte) string

// EicarHandler reports EICAR as infected and everything else as clean.
func EicarHandler(data []byte) string {
	if bytes.Contains(data, EICAR) {
		return "stream: Eicar-Test-Signature FOUND"
	}
	return "stream: OK"
}

// Server is a fake clamd answering PING, VERSION and INSTREAM.
type Server struct {
	// Handler computes INSTREAM replies; EicarHandler if nil.
	Handler Handler
	// Version is the VERSION reply; DefaultVersion if empty.
	Version string
	// StreamMaxLength mimics the clamd setting; zero means unlimited.
	StreamMaxLength int
	// AbortOnLimit makes the server send the size-limit reply and close the
	// connection as soon as StreamMaxLength is crossed, as clamd does.
	// Otherwise it reads the rest of the stream before replying.
	AbortOnLimit bool
	// Silent makes the server swallow INSTREAM data without ever replying.
	Silent bool
	// Stalled makes the server stop reading after the INSTREAM command.
	Stalled bool

	listener net.Listener
	wg       sync.WaitGroup
	mu       sync.Mutex
	payloads [][]byte
	commands []string
	done     chan struct{}
}

// Start listens on a loopback tcp port and serves until tb's cleanup.
// Configure the exported fields before calling Start.
func (s *Server) Start(tb testing.TB) *Server {
	tb.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		tb.Fatalf("clamdtest: listen: %v", err)
	}
	return s.serveOn(tb, ln)
}

// StartUnix is like Start but listens on a unix socket in a temporary directory.
func (s *Server) StartUnix(tb testing.TB) *Server {
	tb.Helper()
	dir, err := os.MkdirTemp("", "clamd")
	if err != nil {
		tb.Fatalf("clamdtest: tempdir: %v", err)
	}
	tb.Cleanup(func() { os.RemoveAll(dir) })
	ln, err := net.Listen("unix", filepath.Join(dir, "clamd.ctl"))
	if err != nil {
		tb.Fatalf("clamdtest: listen: %v", err)
	}
	return s.serveOn(tb, ln)
}

// NewServer starts a Server with default settings, see Start.
func NewServer(tb testing.TB) *Server {
	tb.Helper()
	return (&Server{}).Start(tb)
}

func (s *Server) serveOn(tb testing.TB, ln net.Listener) *Server {
	s.listener = ln
	s.done = make(chan struct{})
	s.wg.Add(1)
	go s.acceptLoop()
	tb.Cleanup(s.Close)
	return s
}

// URL returns the address in the form accepted by clamd.NewClient.
func (s *Server) URL() string {
	addr := s.listener.Addr()
	if addr.Network() == "unix" {
		return "unix://" + addr.String()
	}
	return "tcp://" + addr.String()
}

// Close stops the server and waits for open connections to finish.
func (s *Server) Close() {
	select {
	case <-s.done:
		return
	default:
	}
	close(s.done)
	s.listener.Close()
	s.wg.Wait()
}

// Payloads returns every INSTREAM payload received so far.
func (s *Server) Payloads() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.payloads...)
}

// Commands returns every command received so far, without prefix and terminator.
func (s *Server) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serve(conn)
		}()
	}
}

func (s *Server) serve(conn net.Conn) {
	defer conn.Close()
	go func() {
		<-s.done
		conn.Close()
	}()

	br := bufio.NewReader(conn)
	term := byte('\n')
	prefix, err := br.ReadByte()
	if err != nil {
		return
	}
	switch prefix {
	case 'z':
		term = 0
	case 'n':
	default:
		br.UnreadByte()
	}
	cmd, err := br.ReadString(term)
	if err != nil {
		return
	}
	cmd = strings.TrimSuffix(cmd, string(term))
	s.mu.Lock()
	s.commands = append(s.commands, cmd)
	s.mu.Unlock()

	reply := func(line string) {
		fmt.Fprintf(conn, "%s%c", line, term)
	}
	switch cmd {
	case "PING":
		reply("PONG")
	case "VERSION":
		if s.Version != "" {
			reply(s.Version)
		} else {
			reply(DefaultVersion)
		}
	case "INSTREAM":
		if s.Stalled {
			<-s.done
			return
		}
		data, _, err := deframe(br, s.StreamMaxLength, !s.AbortOnLimit)
		if errors.Is(err, ErrSizeLimit) {
			reply("INSTREAM size limit exceeded. ERROR")
			return
		}
		if err != nil {
			return
		}
		s.mu.Lock()
		s.payloads = append(s.payloads, data)
		s.mu.Unlock()
		if s.Silent {
			<-s.done
			return
		}
		h := s.Handler
		if h == nil {
			h = EicarHandler
		}
		reply(h(data))
	default:
		reply("UNKNOWN COMMAND")
	}
}
