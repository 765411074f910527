package library

import "time"

// Clock supplies the timestamp recorded for an accepted operation.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// replayClock hands out recorded timestamps while the journal is replayed.
type replayClock struct {
	at time.Time
}

func (c *replayClock) Now() time.Time { return c.at }
