// Package units provides formatting helpers for the numeric values probes
// report: byte counts in binary-prefixed units, percentages rounded to at most
// two decimal places, and elapsed-time differences in seconds with sub-second
// precision when the magnitude is below one second.
package units

import (
	"math"
	"strconv"
	"strings"
	"time"
)

const (
	KiB = 1 << 10
	MiB = 1 << 20
	GiB = 1 << 30
	TiB = 1 << 40
)

// FormatBytes renders a byte count using binary prefixes (KiB, MiB, GiB, TiB).
// Values below 1 KiB are reported as plain bytes. Fractional quantities keep at
// most two decimal places; trailing zeros are trimmed so 2147483648 renders as
// "2 GiB", not "2.00 GiB".
func FormatBytes(n int64) string {
	if n < 0 {
		return "-" + FormatBytes(-n)
	}
	switch {
	case n >= TiB:
		return trimZeros(float64(n)/TiB, 2) + " TiB"
	case n >= GiB:
		return trimZeros(float64(n)/GiB, 2) + " GiB"
	case n >= MiB:
		return trimZeros(float64(n)/MiB, 2) + " MiB"
	case n >= KiB:
		return trimZeros(float64(n)/KiB, 2) + " KiB"
	default:
		return strconv.FormatInt(n, 10) + " B"
	}
}

// RoundPercent rounds a percentage to at most two decimal places.
func RoundPercent(p float64) float64 {
	return math.Round(p*100) / 100
}

// FormatPercent renders a percentage rounded to at most two decimal places,
// with trailing zeros trimmed.
func FormatPercent(p float64) string {
	return trimZeros(RoundPercent(p), 2) + "%"
}

// FormatSeconds renders an elapsed-time difference in seconds. Magnitudes of
// one second or more are reported with two decimal places; below one second
// sub-second precision (milliseconds) is kept so small clock skews remain
// visible.
func FormatSeconds(d time.Duration) string {
	s := d.Seconds()
	abs := math.Abs(s)
	if abs >= 1 {
		return trimZeros(math.Round(s*100)/100, 2) + "s"
	}
	return trimZeros(math.Round(s*1000)/1000, 3) + "s"
}

func trimZeros(f float64, prec int) string {
	s := strconv.FormatFloat(f, 'f', prec, 64)
	s = strings.TrimRight(s, "0")
	s = strings.TrimRight(s, ".")
	if s == "" || s == "-" {
		return "0"
	}
	return s
}
