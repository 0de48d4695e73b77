package sandbox

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseMemory converts a memory limit string from the run config
// ("4G", "512MiB", "1.5g") to the MiB figure runners pass to their
// backends. Empty means unlimited (0). Bare numbers are bytes,
// matching Docker's -m flag.
func ParseMemory(memory string) (int, error) {
	s := strings.TrimSpace(memory)
	if s == "" {
		return 0, nil
	}

	split := len(s)
	for i, r := range s {
		if (r < '0' || r > '9') && r != '.' {
			split = i
			break
		}
	}
	value, err := strconv.ParseFloat(s[:split], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid memory limit %q", memory)
	}

	switch strings.ToUpper(strings.TrimSpace(s[split:])) {
	case "", "B":
		return int(value / (1 << 20)), nil
	case "K", "KB", "KI", "KIB":
		return int(value / (1 << 10)), nil
	case "M", "MB", "MI", "MIB":
		return int(value), nil
	case "G", "GB", "GI", "GIB":
		return int(value * (1 << 10)), nil
	case "T", "TB", "TI", "TIB":
		return int(value * (1 << 20)), nil
	default:
		return 0, fmt.Errorf("memory limit %q has an unknown unit", memory)
	}
}
