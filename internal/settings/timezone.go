package settings

import "time"

// timezoneLocation resolves an IANA timezone name, treating "" as UTC.
func timezoneLocation(name string) (*time.Location, error) {
	if name == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(name)
}

// Location returns the configured timezone. Settings are validated at load
// time, so resolution only fails here for a hand-built Settings value.
func (s *Settings) Location() *time.Location {
	loc, err := timezoneLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
