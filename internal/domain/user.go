package domain

import "time"

// User is a chat-platform member the bot may track.
type User struct {
	ID         string    // opaque platform identifier
	Name       *string   // platform username, backfilled lazily; unique when set
	TimezoneID string    // IANA zone used only for display
	Trackable  bool      // false until the user opts in
	CreatedAt  time.Time // UTC
}

// Location resolves the user's display zone.
func (u *User) Location() (*time.Location, error) {
	return LoadTimezone(u.TimezoneID)
}
