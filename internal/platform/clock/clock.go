package clock

import (
	"time"

	"github.com/coder/quartz"
)

// Clock is the single source of "now" for the engine. Tests pass a
// quartz.NewMock(t) so idle gaps, pause/resume spans and day rollovers are
// deterministic.
type Clock = quartz.Clock

func NewSystem() Clock {
	return quartz.NewReal()
}

// NowMillis returns the current instant as Unix milliseconds.
func NowMillis(c Clock, tags ...string) int64 {
	return c.Now(tags...).UnixMilli()
}

// FromMillis converts Unix milliseconds back into a UTC time.
func FromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
