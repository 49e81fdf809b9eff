// Package julian converts between time.Time and Julian dates, the time unit of
// orbital element epochs.
package julian

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// J2000 is the Julian Date of the J2000.0 epoch (January 1, 2000, 12:00:00 TT).
const J2000 = 2451545.0

// SecondsPerDay is the length of a Julian day in seconds.
const SecondsPerDay = 86400.0

// MinJD and MaxJD bound the Julian dates that map onto years 0000 to 9999,
// the range an RFC 3339 timestamp can express. MaxJD itself is excluded.
const (
	MinJD = 1721059.5 // 0000-01-01T00:00:00Z
	MaxJD = 5373484.5 // 10000-01-01T00:00:00Z
)

// ErrOutOfRange reports a Julian date outside [MinJD, MaxJD).
var ErrOutOfRange = errors.New("julian date out of range")

// unixEpoch is the Julian Date of 1970-01-01T00:00:00Z.
const unixEpoch = 2440587.5

// FromTime converts a time.Time (UTC) to Julian Date.
// Uses the standard astronomical algorithm valid for dates after March 1, 4801 BC.
func FromTime(t time.Time) float64 {
	t = t.UTC()
	y := float64(t.Year())
	m := float64(t.Month())
	d := float64(t.Day())
	h := float64(t.Hour())
	min := float64(t.Minute())
	s := float64(t.Second()) + float64(t.Nanosecond())/1e9

	// Adjust year/month for Jan/Feb (treat as months 13/14 of previous year).
	if m <= 2 {
		y -= 1
		m += 12
	}

	A := math.Floor(y / 100)
	B := 2 - A + math.Floor(A/4)

	jd := math.Floor(365.25*(y+4716)) + math.Floor(30.6001*(m+1)) + d + B - 1524.5
	jd += (h + min/60.0 + s/3600.0) / 24.0

	return jd
}

// Check rejects non-finite Julian dates and those outside [MinJD, MaxJD).
func Check(jd float64) error {
	if !(jd >= MinJD && jd < MaxJD) {
		return fmt.Errorf("%w: %g (want %g <= jd < %g)", ErrOutOfRange, jd, MinJD, MaxJD)
	}
	return nil
}

// ToTime converts a Julian Date to UTC, rounded to the nearest microsecond.
// Dates outside [MinJD, MaxJD] are clamped to the nearer bound; use Check
// first when the input is untrusted.
func ToTime(jd float64) time.Time {
	switch {
	case math.IsNaN(jd):
		return time.Time{}
	case jd < MinJD:
		jd = MinJD
	case jd > MaxJD:
		jd = MaxJD
	}

	days := jd - unixEpoch
	whole := math.Floor(days)
	frac := days - whole

	sec := int64(whole) * int64(SecondsPerDay)
	usec := math.Round(frac * SecondsPerDay * 1e6)
	return time.Unix(sec, 0).Add(time.Duration(usec) * time.Microsecond).UTC()
}
