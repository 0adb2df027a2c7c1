// Copyright (c) 2020 mgIT GmbH. All rights reserved.
// Distributed under the Apache License. See LICENSE for details.

package clamd

import (
	"regexp"
	"strings"
)

// labelRegexp matches the stream identifier clamd puts in front of a reply:
// "stream: " or a file path, optionally preceded by the IDSESSION request
// number as in "1: stream: ".
var labelRegexp = regexp.MustCompile(`^(?:\d+: )?(?:(?:stream|/[^:]*): )?`)

// responseRule turns a reply ending in keyword into a ScanResult.
type responseRule struct {
	keyword string
	build   func(detail, raw string) ScanResult
}

// responseRules are tried in order; the first match wins.
var responseRules = []responseRule{
	{
		keyword: string(StatusFound),
		build: func(detail, raw string) ScanResult {
			return ScanResult{Status: StatusFound, Signature: detail, Raw: raw}
		},
	},
	{
		keyword: string(StatusError),
		build: func(detail, raw string) ScanResult {
			return ScanResult{Status: StatusError, Message: detail, Raw: raw}
		},
	},
	{
		keyword: string(StatusOK),
		build: func(_, raw string) ScanResult {
			return ScanResult{Status: StatusOK, Raw: raw}
		},
	},
}

// ParseResponse classifies a single clamd reply line.
//
// Only the trailing keyword decides the verdict, the label in front of it
// varies with the daemon configuration. A line that ends in none of the
// known keywords yields StatusError with the whole line as Message.
func ParseResponse(line string) ScanResult {
	raw := strings.TrimSpace(strings.ReplaceAll(line, "\x00", ""))
	for _, rule := range responseRules {
		if detail, ok := cutKeyword(raw, rule.keyword); ok {
			return rule.build(detail, raw)
		}
	}
	return ScanResult{Status: StatusError, Message: raw, Raw: raw}
}

// cutKeyword returns the unlabeled text before keyword if keyword is the
// last whitespace-separated token of line.
func cutKeyword(line, keyword string) (string, bool) {
	if !strings.HasSuffix(line, keyword) {
		return "", false
	}
	body := line[:len(line)-len(keyword)]
	if body != "" && !strings.HasSuffix(body, " ") {
		return "", false
	}
	body = labelRegexp.ReplaceAllLiteralString(body, "")
	return strings.TrimSpace(body), true
}
