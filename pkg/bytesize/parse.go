// Package bytesize parses human-friendly byte sizes such as chunk sizes.
package bytesize

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
)

// units maps suffixes to their 1024-based multipliers, longest first so
// "KIB" is tried before "B".
var units = []struct {
	suffix     string
	multiplier int64
}{
	{"TIB", 1 << 40}, {"GIB", 1 << 30}, {"MIB", 1 << 20}, {"KIB", 1 << 10},
	{"TB", 1 << 40}, {"GB", 1 << 30}, {"MB", 1 << 20}, {"KB", 1 << 10},
	{"T", 1 << 40}, {"G", 1 << 30}, {"M", 1 << 20}, {"K", 1 << 10},
	{"B", 1},
}

// Parse parses a byte size. A bare number is a count of bytes; suffixes
// (B, K, KB, KiB, M, MB, MiB, G, GB, GiB, T, TB, TiB, case-insensitive) are
// always 1024-based.
//
//	Parse("65536")  // 65536
//	Parse("64KiB")  // 65536
//	Parse("1.5MB")  // 1572864
func Parse(s string) (int64, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return 0, fmt.Errorf("empty size string")
	}

	valueStr, multiplier := s, int64(1)
	for _, u := range units {
		if strings.HasSuffix(s, u.suffix) {
			valueStr = strings.TrimSpace(strings.TrimSuffix(s, u.suffix))
			multiplier = u.multiplier
			break
		}
	}
	if valueStr == "" {
		return 0, fmt.Errorf("invalid size %q: missing numeric value", s)
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size value %q in %q: %w", valueStr, s, err)
	}
	if value < 0 {
		return 0, fmt.Errorf("invalid size %q: negative value not allowed", s)
	}

	result := value * float64(multiplier)
	if result >= math.MaxInt64 {
		return 0, fmt.Errorf("size %q exceeds maximum allowed value (8 EiB)", s)
	}
	return int64(result), nil
}

// Format renders n with a 1024-based unit, e.g. "64 KiB".
func Format(n int64) string {
	if n < 0 {
		return "-" + humanize.IBytes(uint64(-n))
	}
	return humanize.IBytes(uint64(n))
}
