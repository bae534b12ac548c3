// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package config

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// durationTermPattern matches a single "<number><suffix>" term. Suffixes
// are checked longest-first within the alternation ("ms" before "m") and
// case matters: "m" is minutes, "M" is months (spec §6.5).
var durationTermPattern = regexp.MustCompile(`(\d+)(ms|s|m|h|d|w|M|y)`)

var durationUnits = map[string]time.Duration{
	"ms": time.Millisecond,
	"s":  time.Second,
	"m":  time.Minute,
	"h":  time.Hour,
	"d":  24 * time.Hour,
	"w":  7 * 24 * time.Hour,
	"M":  30 * 24 * time.Hour,
	"y":  365 * 24 * time.Hour,
}

// ParseDuration parses the retention/purge-interval grammar of spec §6.5:
// strings like "7d3h15m", additive across however many suffixed terms are
// present. Recognized suffixes: ms, s, m, h, d, w, M, y.
func ParseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, fmt.Errorf("empty duration string")
	}

	matches := durationTermPattern.FindAllStringSubmatchIndex(s, -1)
	if matches == nil {
		return 0, fmt.Errorf("invalid duration format %q", s)
	}

	// Require the match set to cover the whole string so typos like
	// "7dd" or "7x" don't silently parse as "7d".
	covered := 0
	var total time.Duration
	for _, m := range matches {
		start, end := m[0], m[1]
		if start != covered {
			return 0, fmt.Errorf("invalid duration format %q", s)
		}
		covered = end

		numStr := s[m[2]:m[3]]
		unit := s[m[4]:m[5]]

		num, err := strconv.ParseInt(numStr, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid number %q in duration %q: %w", numStr, s, err)
		}

		total += time.Duration(num) * durationUnits[unit]
	}
	if covered != len(s) {
		return 0, fmt.Errorf("invalid duration format %q", s)
	}

	return total, nil
}
