// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package supervisor

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// GatedModelMessage is shown when llama-server cannot fetch a private or
// gated model.
const GatedModelMessage = "error: model is private or does not exist; if you are accessing a gated model, please provide a valid HF token"

var (
	curlPercentRe = regexp.MustCompile(`^\d{1,3}$`)
	curlSizeRe    = regexp.MustCompile(`^\d+(?:\.\d+)?(?:[KMG]?|B)$`)
	percentRe     = regexp.MustCompile(`\b(\d{1,3})\s*%`)
	leadingNumRe  = regexp.MustCompile(`^\s*(\d{1,3})\s`)
)

// failureMarkers are lower-case substrings that end a start attempt.
var failureMarkers = []string{
	"error: model is private",
	"provide a valid hf token",
	"unauthorized",
}

// LogUpdate is what one llama-server output line means for the status.
type LogUpdate struct {
	// Progress is 0..99, or -1 when the line carries no percentage.
	Progress int
	// Message is the status text to show.
	Message string
	// Curl is set when the line is a curl transfer row.
	Curl bool
	// Failed is set when the line reports a private or gated model.
	Failed bool
}

// ParseLogLine interprets one line of llama-server output. A curl progress
// row like
//
//	63 3263M 63 2063M 0 0 27.8M 0 0:01:57 0:01:14 0:00:43 24.4M
//
// yields its received percentage and a readable summary. Otherwise a bare
// "NN%" token or a leading "NN " is taken as a hint.
func ParseLogLine(line string) LogUpdate {
	u := LogUpdate{Progress: -1, Message: line}

	lower := strings.ToLower(norm.NFC.String(line))
	for _, m := range failureMarkers {
		if strings.Contains(lower, m) {
			u.Failed = true
			u.Message = GatedModelMessage
			return u
		}
	}

	if pct, msg, ok := parseCurlRow(line); ok {
		u.Progress = clamp99(pct)
		u.Message = msg
		u.Curl = true
		return u
	}

	if m := percentRe.FindStringSubmatch(line); m != nil {
		n, _ := strconv.Atoi(m[1])
		u.Progress = clamp99(n)
	} else if m := leadingNumRe.FindStringSubmatch(line); m != nil {
		n, _ := strconv.Atoi(m[1])
		u.Progress = clamp99(n)
	}
	return u
}

// parseCurlRow reads the 12 columns of curl's progress meter: % total,
// total, % received, received, % xferd, xferd, avg dload, avg upload,
// time total, time spent, time left, current speed.
func parseCurlRow(line string) (int, string, bool) {
	parts := strings.Fields(line)
	if len(parts) != 12 || !curlPercentRe.MatchString(parts[0]) || !curlSizeRe.MatchString(parts[1]) {
		return 0, "", false
	}
	pctTotal, _ := strconv.Atoi(parts[0])
	pct := pctTotal
	if recv, err := strconv.Atoi(parts[2]); err == nil {
		pct = recv
	}
	msg := fmt.Sprintf("Downloaded %d%% (%s of %s), speed %s/s, left %s", pct, parts[3], parts[1], parts[11], parts[10])
	return pct, msg, true
}

func clamp99(n int) int {
	if n < 0 {
		return 0
	}
	if n > 99 {
		return 99
	}
	return n
}
