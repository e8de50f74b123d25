package overview

import "time"

// Trading minutes for the two daily cash sessions, expressed as minutes
// since midnight local exchange time.
const (
	morningOpen    = 9 * 60
	morningClose   = 11*60 + 30
	afternoonOpen  = 13 * 60
	afternoonClose = 14*60 + 45

	// 150 morning minutes plus 105 afternoon minutes.
	sessionMinutes = (morningClose - morningOpen) + (afternoonClose - afternoonOpen)
)

// SessionClock answers how much of the trading day has elapsed at a given
// instant. The day is modeled as two fixed sessions, 9:00-11:30 and
// 13:00-14:45, with the lunch break counting the whole morning as elapsed.
type SessionClock struct {
	loc *time.Location
}

// NewSessionClock builds a clock for the exchange timezone. An unknown
// timezone name falls back to a fixed UTC+7 offset.
func NewSessionClock(timezone string) *SessionClock {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		loc = time.FixedZone("ICT", 7*60*60)
	}
	return &SessionClock{loc: loc}
}

// ElapsedFraction returns the completed fraction of the trading day at t,
// in [0, 1]. Before the open and after the close it returns 1, so volume
// projection degenerates to a no-op outside trading hours.
func (c *SessionClock) ElapsedFraction(t time.Time) float64 {
	local := t.In(c.loc)
	cur := local.Hour()*60 + local.Minute()

	var elapsed int
	switch {
	case cur < morningOpen:
		return 1.0
	case cur < morningClose:
		elapsed = cur - morningOpen
	case cur < afternoonOpen:
		elapsed = morningClose - morningOpen
	case cur < afternoonClose:
		elapsed = (morningClose - morningOpen) + (cur - afternoonOpen)
	default:
		return 1.0
	}

	return float64(elapsed) / float64(sessionMinutes)
}
