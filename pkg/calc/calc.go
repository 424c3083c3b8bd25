// Package calc holds small numeric helpers for transfer reporting.
package calc

import (
	"fmt"
	"math"
)

// Ratio returns downloaded/total as a fraction, 0 when total is unknown or zero.
func Ratio(downloaded, total int64) float64 {
	if total > 0 {
		return float64(downloaded) / float64(total)
	}

	return 0
}

// Percent rounds Ratio to a whole percentage.
func Percent(downloaded, total int64) int {
	return int(math.Round(Ratio(downloaded, total) * 100))
}

var sizeUnits = []string{"B", "KB", "MB", "GB", "TB", "PB"}

// HumanFileSize formats bytes with a 1024 base, e.g. 1536 => "1.5 KB".
func HumanFileSize(bytes int64) string {
	if bytes < 1024 {
		return fmt.Sprintf("%d B", bytes)
	}

	size := float64(bytes)
	unit := 0

	for size >= 1024 && unit < len(sizeUnits)-1 {
		size /= 1024
		unit++
	}

	return fmt.Sprintf("%.1f %s", size, sizeUnits[unit])
}
