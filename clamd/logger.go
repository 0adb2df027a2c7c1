// Copyright (c) 2020 mgIT GmbH. All rights reserved.
// Distributed under the Apache License. See LICENSE for details.

package clamd

import "github.com/bassosimone/errclass"

// SLogger abstracts the [*slog.Logger] behavior.
//
// Info is used for scan lifecycle events, Debug for per-phase details.
type SLogger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
}

// discardSLogger drops everything. Libraries stay quiet unless told otherwise.
type discardSLogger struct{}

var _ SLogger = discardSLogger{}

func (discardSLogger) Debug(msg string, args ...any) {}

func (discardSLogger) Info(msg string, args ...any) {}

// classifyError maps err to a short errno-like label for log records.
func classifyError(err error) string {
	if err == nil {
		return ""
	}
	return errclass.New(err)
}
