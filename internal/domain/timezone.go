package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	// Embedded zone database; hosts without /usr/share/zoneinfo still resolve zones.
	_ "time/tzdata"
)

// DisplayLayout is the layout used for every instant shown to users.
const DisplayLayout = "2006-01-02 15:04:05"

var ErrUnknownTimezone = errors.New("unknown timezone")

// LoadTimezone resolves an IANA zone name. Empty names and "Local" are
// rejected since they name the host's zone, not a user's.
func LoadTimezone(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" || name == "Local" {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTimezone, name)
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTimezone, name)
	}
	return loc, nil
}

// ValidateTZ checks that tz is a valid IANA location and returns its canonical name.
func ValidateTZ(tz string) (string, error) {
	loc, err := LoadTimezone(tz)
	if err != nil {
		return "", err
	}
	return loc.String(), nil
}

// Display formats t in loc. A nil instant renders as an empty string.
func Display(t *time.Time, loc *time.Location) string {
	if t == nil {
		return ""
	}
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(DisplayLayout)
}
