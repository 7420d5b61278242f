package schedule

import (
	"fmt"
	"strings"
	"sync"
	"time"
	// Embedded zone data keeps resolution independent of the host image.
	_ "time/tzdata"
)

// LocalParts is the wall-clock reading of an instant in a zone.
type LocalParts struct {
	Year   int
	Month  time.Month
	Day    int
	Hour   int
	Minute int
}

// ZoneDB resolves IANA zone names to wall-clock fields and back.
type ZoneDB interface {
	LocalParts(instant time.Time, zone string) (LocalParts, error)
	// Construct returns the instant matching the wall clock in zone. Day
	// overflow rolls into the next month the same way time.Date does.
	Construct(year int, month time.Month, day, hour, minute int, zone string) (time.Time, error)
}

// TZDatabase is a ZoneDB backed by the Go time zone database.
type TZDatabase struct {
	mu        sync.RWMutex
	locations map[string]*time.Location
}

func NewTZDatabase() *TZDatabase {
	return &TZDatabase{locations: map[string]*time.Location{}}
}

var defaultZoneDB = NewTZDatabase()

// DefaultZoneDB returns the shared process-wide TZDatabase.
func DefaultZoneDB() *TZDatabase {
	return defaultZoneDB
}

func (db *TZDatabase) Location(zone string) (*time.Location, error) {
	name := strings.TrimSpace(zone)
	if name == "" {
		return nil, timezoneError(zone, fmt.Errorf("timezone is required"))
	}
	if isUTCZone(name) {
		return time.UTC, nil
	}

	db.mu.RLock()
	loc, ok := db.locations[name]
	db.mu.RUnlock()
	if ok {
		return loc, nil
	}

	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, timezoneError(zone, err)
	}
	db.mu.Lock()
	if db.locations == nil {
		db.locations = map[string]*time.Location{}
	}
	db.locations[name] = loc
	db.mu.Unlock()
	return loc, nil
}

func (db *TZDatabase) LocalParts(instant time.Time, zone string) (LocalParts, error) {
	loc, err := db.Location(zone)
	if err != nil {
		return LocalParts{}, err
	}
	return partsOf(instant.In(loc)), nil
}

func (db *TZDatabase) Construct(year int, month time.Month, day, hour, minute int, zone string) (time.Time, error) {
	loc, err := db.Location(zone)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(year, month, day, hour, minute, 0, 0, loc), nil
}

func partsOf(t time.Time) LocalParts {
	return LocalParts{
		Year:   t.Year(),
		Month:  t.Month(),
		Day:    t.Day(),
		Hour:   t.Hour(),
		Minute: t.Minute(),
	}
}

func isUTCZone(zone string) bool {
	return strings.EqualFold(strings.TrimSpace(zone), "UTC")
}

var _ ZoneDB = (*TZDatabase)(nil)
