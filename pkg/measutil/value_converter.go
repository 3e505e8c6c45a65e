package measutil

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// MissingMarker stands in for a value the sensor could not deliver.
const MissingMarker = "/"

// Parse a decimal value with '.' as the separator, whatever the host locale.
// Hex floats, digit separators, NaN and infinities are not accepted.
func ParseDouble(value string) (float64, bool) {
	value = strings.TrimSpace(value)
	if value == "" || strings.ContainsAny(value, "xX_pP,") {
		return 0, false
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// Canonical form of an observed value: tabs, CR and LF removed, trimmed.
func CleanValue(value string) string {
	value = strings.NewReplacer("\t", "", "\r", "", "\n", "").Replace(value)
	return strings.TrimSpace(value)
}

// HasMissingMarker reports whether the value carries at least one '/'.
func HasMissingMarker(value string) bool {
	return strings.Contains(value, MissingMarker)
}

// Compress a pipe-delimited common code name such as "RH|AVG|PT1M|||%|"
// to "RH_AVG_PT1M". Names without exactly six pipes are returned as is.
func CompressCommonCode(name string) string {
	if strings.Count(name, "|") != 6 {
		return name
	}
	parts := strings.Split(name, "|")
	return parts[0] + "_" + parts[1] + "_" + parts[2]
}

// Round to the nearest whole minute, 30 seconds rounds up.
func RoundToMinute(t time.Time) time.Time {
	base := time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), 0, 0, t.Location())
	if t.Second() >= 30 {
		return base.Add(time.Minute)
	}
	return base
}

// Scale a raw register reading. Zero scale means unscaled.
func ScaleRaw(raw int64, scale float64) float64 {
	if scale == 0 {
		return float64(raw)
	}
	return math.Round(float64(raw)*scale*1e6) / 1e6
}
