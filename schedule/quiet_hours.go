package schedule

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var clockPattern = regexp.MustCompile(`^([01]\d|2[0-3]):([0-5]\d)$`)

// QuietHours is a daily local blackout window. End before Start wraps midnight.
// Both bounds are inclusive, so a send on the end minute is already allowed and
// comes back unchanged. Equal bounds describe an empty window.
type QuietHours struct {
	Start string `json:"start" mapstructure:"start"`
	End   string `json:"end" mapstructure:"end"`
}

func (q QuietHours) Validate() error {
	_, _, err := q.bounds()
	return err
}

func (q QuietHours) bounds() (int, int, error) {
	start, err := ParseClock(q.Start)
	if err != nil {
		return 0, 0, quietHoursError("start", q.Start)
	}
	end, err := ParseClock(q.End)
	if err != nil {
		return 0, 0, quietHoursError("end", q.End)
	}
	return start, end, nil
}

// ParseClock parses "HH:MM" into minutes since local midnight.
func ParseClock(value string) (int, error) {
	match := clockPattern.FindStringSubmatch(strings.TrimSpace(value))
	if match == nil {
		return 0, quietHoursError("clock", value)
	}
	hour, _ := strconv.Atoi(match[1])
	minute, _ := strconv.Atoi(match[2])
	return hour*60 + minute, nil
}

// Adjuster moves instants that fall inside a quiet window to the window end.
type Adjuster struct {
	zones ZoneDB
}

func NewAdjuster(zones ZoneDB) *Adjuster {
	if zones == nil {
		zones = DefaultZoneDB()
	}
	return &Adjuster{zones: zones}
}

// Adjust returns candidate unchanged when it is outside the window, otherwise
// the first instant at the window end in the given zone. The result is never
// earlier than candidate.
func (a *Adjuster) Adjust(candidate time.Time, timezone string, quiet QuietHours) (time.Time, error) {
	start, end, err := quiet.bounds()
	if err != nil {
		return candidate, err
	}
	if start == end {
		return candidate, nil
	}

	parts, err := a.localParts(candidate, timezone)
	if err != nil {
		return candidate, err
	}
	inside, nextDay := insideWindow(parts.Hour*60+parts.Minute, start, end)
	if !inside {
		return candidate, nil
	}

	day := parts.Day
	if nextDay {
		day++
	}
	target, err := a.construct(parts.Year, parts.Month, day, end/60, end%60, timezone)
	if err != nil {
		return candidate, err
	}
	if target.Before(candidate) {
		target = a.laterReading(candidate, parts, target, timezone)
	}
	// seconds past the end minute would otherwise move the send backwards
	if target.Before(candidate) {
		return candidate, nil
	}
	return target.UTC(), nil
}

// laterReading handles a fall-back day where the end wall clock occurs twice
// and Construct picked the earlier instant while candidate sits in the
// repeated hour. The wall-clock distance from candidate to the end is applied
// as elapsed time, and the shifted instant is kept only if it still reads as
// the same wall clock.
func (a *Adjuster) laterReading(candidate time.Time, parts LocalParts, target time.Time, timezone string) time.Time {
	end, err := a.localParts(target, timezone)
	if err != nil {
		return target
	}
	wallCandidate := time.Date(parts.Year, parts.Month, parts.Day, parts.Hour, parts.Minute, 0, 0, time.UTC)
	wallTarget := time.Date(end.Year, end.Month, end.Day, end.Hour, end.Minute, 0, 0, time.UTC)
	shift := wallTarget.Sub(wallCandidate) - target.Sub(candidate.Truncate(time.Minute))
	if shift <= 0 {
		return target
	}
	shifted := target.Add(shift)
	again, err := a.localParts(shifted, timezone)
	if err != nil || again != end {
		return target
	}
	return shifted
}

// InQuietHours reports whether candidate falls inside the window.
func (a *Adjuster) InQuietHours(candidate time.Time, timezone string, quiet QuietHours) (bool, error) {
	start, end, err := quiet.bounds()
	if err != nil {
		return false, err
	}
	if start == end {
		return false, nil
	}
	parts, err := a.localParts(candidate, timezone)
	if err != nil {
		return false, err
	}
	inside, _ := insideWindow(parts.Hour*60+parts.Minute, start, end)
	return inside, nil
}

func (a *Adjuster) localParts(instant time.Time, timezone string) (LocalParts, error) {
	if isUTCZone(timezone) {
		return partsOf(instant.UTC()), nil
	}
	return a.zoneDB().LocalParts(instant, timezone)
}

func (a *Adjuster) construct(year int, month time.Month, day, hour, minute int, timezone string) (time.Time, error) {
	if isUTCZone(timezone) {
		return time.Date(year, month, day, hour, minute, 0, 0, time.UTC), nil
	}
	return a.zoneDB().Construct(year, month, day, hour, minute, timezone)
}

func (a *Adjuster) zoneDB() ZoneDB {
	if a == nil || a.zones == nil {
		return DefaultZoneDB()
	}
	return a.zones
}

// insideWindow classifies a minute-of-day against inclusive bounds. nextDay is
// set for the pre-midnight part of an overnight window.
func insideWindow(current, start, end int) (inside bool, nextDay bool) {
	if start < end {
		return current >= start && current <= end, false
	}
	if current >= start {
		return true, true
	}
	return current <= end, false
}
