package spec

import (
	"fmt"
	"strconv"
	"strings"
)

// Resources captures the optional resource requirements of a pipeline.
// Zero values mean "unspecified"; the planner and orchestrating platforms
// treat unspecified requirements as unconstrained.
type Resources struct {
	// CPUs is the requested CPU count. Fractions are allowed.
	CPUs float64
	// Memory is the raw requirement string as declared, e.g. "4GB".
	Memory string
	// MemoryBytes is Memory parsed into bytes, 0 when unspecified.
	MemoryBytes int64
	// GPU requests GPU access in the runtime environment.
	GPU bool
}

var memoryUnits = map[string]int64{
	"kb":  1_000,
	"mb":  1_000_000,
	"gb":  1_000_000_000,
	"tb":  1_000_000_000_000,
	"kib": 1 << 10,
	"mib": 1 << 20,
	"gib": 1 << 30,
	"tib": 1 << 40,
}

// ParseMemory parses a memory requirement of the form NUMBER+UNIT, where
// UNIT is one of KB, MB, GB, TB, KiB, MiB, GiB, TiB (case-insensitive).
func ParseMemory(s string) (int64, error) {
	trimmed := strings.TrimSpace(s)
	split := len(trimmed)
	for i, r := range trimmed {
		if (r < '0' || r > '9') && r != '.' {
			split = i
			break
		}
	}
	numPart, unitPart := trimmed[:split], strings.ToLower(strings.TrimSpace(trimmed[split:]))
	if numPart == "" {
		return 0, fmt.Errorf("memory requirement %q has no numeric part", s)
	}
	num, err := strconv.ParseFloat(numPart, 64)
	if err != nil {
		return 0, fmt.Errorf("memory requirement %q: %w", s, err)
	}
	if num < 0 {
		return 0, fmt.Errorf("memory requirement %q is negative", s)
	}
	mult, ok := memoryUnits[unitPart]
	if !ok {
		return 0, fmt.Errorf("memory requirement %q has unrecognized unit %q", s, unitPart)
	}
	return int64(num * float64(mult)), nil
}
