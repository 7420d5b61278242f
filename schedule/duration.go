package schedule

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	millisPerSecond = 1000.0
	millisPerMinute = 60 * millisPerSecond
	millisPerHour   = 60 * millisPerMinute
	millisPerDay    = 24 * millisPerHour
	millisPerWeek   = 7 * millisPerDay
	// Calendar units are fixed approximations, not calendar arithmetic.
	millisPerMonth = 30.44 * millisPerDay
	millisPerYear  = 365.25 * millisPerDay

	maxDurationMillis = float64(math.MaxInt64 / int64(time.Millisecond))
)

var durationPattern = regexp.MustCompile(
	`^P(?:(\d+(?:\.\d+)?)Y)?(?:(\d+(?:\.\d+)?)M)?(?:(\d+(?:\.\d+)?)W)?(?:(\d+(?:\.\d+)?)D)?` +
		`(?:T(?:(\d+(?:\.\d+)?)H)?(?:(\d+(?:\.\d+)?)M)?(?:(\d+(?:\.\d+)?)S)?)?$`,
)

// unit weights in capture group order: Y M W D H M S.
var durationUnits = [...]float64{
	millisPerYear,
	millisPerMonth,
	millisPerWeek,
	millisPerDay,
	millisPerHour,
	millisPerMinute,
	millisPerSecond,
}

// ParseDuration converts an ISO-8601 duration such as "P3D" or "PT1H30M" into
// milliseconds. "P" and "PT" are accepted and mean zero.
func ParseDuration(input string) (int64, error) {
	value := strings.TrimSpace(input)
	switch value {
	case "PT0S", "PT0M", "PT0H":
		return 0, nil
	}

	match := durationPattern.FindStringSubmatch(value)
	if match == nil {
		return 0, invalidDurationError(input)
	}

	var total float64
	for index, weight := range durationUnits {
		component := match[index+1]
		if component == "" {
			continue
		}
		amount, err := strconv.ParseFloat(component, 64)
		if err != nil {
			return 0, invalidDurationError(input)
		}
		total += amount * weight
	}
	if math.IsInf(total, 0) || math.IsNaN(total) || total > maxDurationMillis {
		return 0, invalidDurationError(input)
	}
	return int64(math.Round(total)), nil
}

// ParseDurationValue is ParseDuration expressed as a time.Duration.
func ParseDurationValue(input string) (time.Duration, error) {
	millis, err := ParseDuration(input)
	if err != nil {
		return 0, err
	}
	return time.Duration(millis) * time.Millisecond, nil
}
