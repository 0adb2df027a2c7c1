// Copyright (c) 2020 mgIT GmbH. All rights reserved.
// Distributed under the Apache License. See LICENSE for details.

package clamd

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

const (
	// DefaultChunkSize stays well below the smallest sane StreamMaxLength.
	DefaultChunkSize = 2048

	// HeaderSize is the size of the big-endian length prefix of a chunk.
	HeaderSize = 4

	// maxEmptyReads bounds retries on readers returning (0, nil).
	maxEmptyReads = 100
)

// endOfStream is the zero-length chunk terminating an INSTREAM transfer.
var endOfStream = [HeaderSize]byte{0, 0, 0, 0}

func checkChunkSize(size int) error {
	if size <= 0 || uint64(size) > math.MaxUint32 {
		return newConfigurationError(fmt.Sprintf("invalid chunk size %d", size), nil)
	}
	return nil
}

// putHeader encodes n as a chunk length prefix into buf[:HeaderSize].
func putHeader(buf []byte, n int) {
	binary.BigEndian.PutUint32(buf[:HeaderSize], uint32(n))
}

// Frame streams src to dst as INSTREAM chunks of at most maxChunkSize bytes
// followed by the end-of-stream chunk, and returns the number of payload
// bytes written. Every chunk but the last one is full.
//
// If writing to dst fails Frame returns at once and does not write the
// end-of-stream chunk. The same holds when src fails with an error other
// than io.EOF.
func Frame(dst io.Writer, src io.Reader, maxChunkSize int) (int64, error) {
	if err := checkChunkSize(maxChunkSize); err != nil {
		return 0, err
	}
	buf := make([]byte, HeaderSize+maxChunkSize)
	var sent int64
	for {
		n, rerr := fill(src, buf[HeaderSize:])
		if rerr != nil && rerr != io.EOF {
			return sent, newSourceError("failed to read input", rerr)
		}
		if n > 0 {
			putHeader(buf, n)
			if _, err := dst.Write(buf[:HeaderSize+n]); err != nil {
				return sent, newTransportError("failed to write chunk", err)
			}
			sent += int64(n)
		}
		if rerr == io.EOF {
			if _, err := dst.Write(endOfStream[:]); err != nil {
				return sent, newTransportError("failed to write end of stream", err)
			}
			return sent, nil
		}
	}
}

// fill reads from src until p is full or src fails. Reads returning no data
// and no error are retried up to maxEmptyReads times in a row.
func fill(src io.Reader, p []byte) (int, error) {
	n, empty := 0, 0
	for n < len(p) {
		m, err := src.Read(p[n:])
		n += m
		if err != nil {
			return n, err
		}
		if m > 0 {
			empty = 0
			continue
		}
		empty++
		if empty >= maxEmptyReads {
			return n, io.ErrNoProgress
		}
	}
	return n, nil
}

// ChunkWriter frames everything written to it as INSTREAM chunks.
//
// Close writes the end-of-stream chunk; it does not close the underlying
// writer. A ChunkWriter stops accepting data after the first error.
type ChunkWriter struct {
	w    io.Writer
	buf  []byte
	size int
	err  error
}

// NewChunkWriter returns a ChunkWriter emitting chunks of at most
// maxChunkSize bytes to w.
func NewChunkWriter(w io.Writer, maxChunkSize int) (*ChunkWriter, error) {
	if err := checkChunkSize(maxChunkSize); err != nil {
		return nil, err
	}
	return &ChunkWriter{
		w:    w,
		buf:  make([]byte, HeaderSize+maxChunkSize),
		size: maxChunkSize,
	}, nil
}

// Write implements io.Writer. Empty writes emit nothing.
func (cw *ChunkWriter) Write(p []byte) (int, error) {
	if cw.err != nil {
		return 0, cw.err
	}
	written := 0
	for len(p) > 0 {
		n := copy(cw.buf[HeaderSize:HeaderSize+cw.size], p)
		putHeader(cw.buf, n)
		if _, err := cw.w.Write(cw.buf[:HeaderSize+n]); err != nil {
			cw.err = newTransportError("failed to write chunk", err)
			return written, cw.err
		}
		written += n
		p = p[n:]
	}
	return written, nil
}

// Close implements io.Closer by writing the end-of-stream chunk.
func (cw *ChunkWriter) Close() error {
	if cw.err != nil {
		return cw.err
	}
	if _, err := cw.w.Write(endOfStream[:]); err != nil {
		cw.err = newTransportError("failed to write end of stream", err)
		return cw.err
	}
	cw.err = newConfigurationError("chunk writer closed", nil)
	return nil
}
