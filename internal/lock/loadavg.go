package lock

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

const loadAvgPath = "/proc/loadavg"

// readLoadAverage returns the host's 1-minute load average.
func readLoadAverage() (float64, error) {
	data, err := os.ReadFile(loadAvgPath)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", loadAvgPath, err)
	}

	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return 0, fmt.Errorf("unexpected %s format", loadAvgPath)
	}

	load, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, fmt.Errorf("parse load average: %w", err)
	}
	return load, nil
}
