// Copyright (c) 2020 mgIT GmbH. All rights reserved.
// Distributed under the Apache License. See LICENSE for details.

package clamd

import "strings"

// Status is the verdict clamd reported for a scanned stream.
type Status string

const (
	StatusOK    Status = "OK"
	StatusFound Status = "FOUND"
	StatusError Status = "ERROR"
)

// sizeLimitPrefix is what clamd replies once the stream exceeds StreamMaxLength.
const sizeLimitPrefix = "INSTREAM size limit exceeded"

// ScanResult is the outcome of a completed INSTREAM exchange.
type ScanResult struct {
	// Status is StatusOK (clean), StatusFound (infected) or StatusError.
	Status Status
	// Signature is the virus name, set only for StatusFound.
	Signature string
	// Message is the daemon's error description, set only for StatusError.
	Message string
	// Raw is the reply line with its terminator removed.
	Raw string
}

// IsClean returns true if clamd found nothing.
func (r *ScanResult) IsClean() bool {
	return r.Status == StatusOK
}

// IsInfected returns true if clamd matched a signature.
func (r *ScanResult) IsInfected() bool {
	return r.Status == StatusFound
}

// IsError returns true if clamd reported an error for the stream.
func (r *ScanResult) IsError() bool {
	return r.Status == StatusError
}

// IsSizeLimitExceeded returns true if clamd rejected the stream because it
// was longer than its configured StreamMaxLength.
//
// clamd sends this reply and closes the connection while the client is
// still uploading, so a scan of a large stream typically fails with a
// transport error instead and this verdict is only seen when the rest of
// the stream fit into the socket buffers. Use WithMaxStreamSize to stay
// below the daemon limit.
func (r *ScanResult) IsSizeLimitExceeded() bool {
	return r.Status == StatusError && strings.HasPrefix(r.Message, sizeLimitPrefix)
}

// String implements fmt.Stringer.
func (r *ScanResult) String() string {
	switch r.Status {
	case StatusFound:
		return "FOUND " + r.Signature
	case StatusError:
		return "ERROR " + r.Message
	default:
		return string(r.Status)
	}
}
