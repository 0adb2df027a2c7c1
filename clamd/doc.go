// Copyright (c) 2020 mgIT GmbH. All rights reserved.
// Distributed under the Apache License. See LICENSE for details.

// Package clamd implements the client side of the clamd INSTREAM protocol.
//
// A scan writes the INSTREAM command, streams the input as length-prefixed
// chunks terminated by a zero-length chunk, and reads the single reply line
// clamd sends back:
//
//	client, err := clamd.NewClient("tcp://127.0.0.1:3310")
//	if err != nil {
//	    return err
//	}
//	res, err := client.ScanFile(ctx, "/tmp/upload.bin")
//	if err != nil {
//	    return err // client side failure, see IsTimeoutError and friends
//	}
//	if res.IsInfected() {
//	    log.Printf("found %s", res.Signature)
//	}
//
// A daemon-reported problem (for example "INSTREAM size limit exceeded")
// is a successful exchange and comes back as a ScanResult with
// StatusError. Only failures on the client side of the wire are returned
// as errors, always as *Error.
//
// Callers that already hold a connection can drive a single Session
// directly with Session.Scan.
package clamd
