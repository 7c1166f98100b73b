// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Shorebound Contributors

package command

import (
	"regexp"
	"strconv"
	"time"

	"github.com/samber/oops"
)

var (
	durationRegex  = regexp.MustCompile(`^(\d+)([dhms])$`)
	durationPieces = regexp.MustCompile(`(\d+)([dhms])`)
)

var unitDurations = map[string]time.Duration{
	"d": 24 * time.Hour,
	"h": time.Hour,
	"m": time.Minute,
	"s": time.Second,
}

// ParseDuration parses a single `<integer><unit>` duration where unit
// is one of d, h, m, s.
func ParseDuration(s string) (time.Duration, error) {
	m := durationRegex.FindStringSubmatch(s)
	if m == nil {
		return 0, oops.Code(CodeBadDuration).
			With("input", s).
			Errorf("invalid duration %q", s)
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, oops.Code(CodeBadDuration).With("input", s).Wrap(err)
	}
	return time.Duration(n) * unitDurations[m[2]], nil
}

// SumDurations parses a free-form duration by summing every
// `<integer><unit>` match in the string, ignoring anything between
// matches. "1h30m" is 90 minutes; so is "1h and 30m or so".
func SumDurations(s string) (time.Duration, error) {
	matches := durationPieces.FindAllStringSubmatch(s, -1)
	if len(matches) == 0 {
		return 0, oops.Code(CodeBadDuration).
			With("input", s).
			Errorf("no duration found in %q", s)
	}
	var total time.Duration
	for _, m := range matches {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return 0, oops.Code(CodeBadDuration).With("input", s).Wrap(err)
		}
		total += time.Duration(n) * unitDurations[m[2]]
	}
	return total, nil
}
