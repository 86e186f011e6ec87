package update

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// tieredBackOff waits nothing for the first conflicts and then a fixed, non-jittered
// delay that grows in steps with the number of conflicts seen so far.
type tieredBackOff struct {
	tries int
	tiers []tier
}

type tier struct {
	after int           // applies once more than this many conflicts happened
	delay time.Duration // wait before the next attempt
}

// defaultTiers: 1ms after 2 conflicts, 5ms after 50
var defaultTiers = []tier{
	{after: 50, delay: 5 * time.Millisecond},
	{after: 2, delay: time.Millisecond},
}

func newTieredBackOff(tiers []tier) *tieredBackOff {
	return &tieredBackOff{tiers: tiers}
}

func (b *tieredBackOff) NextBackOff() time.Duration {
	b.tries++
	for _, t := range b.tiers {
		if b.tries > t.after {
			return t.delay
		}
	}
	return 0
}

func (b *tieredBackOff) Reset() {
	b.tries = 0
}

// newSchedule returns the backoff of one update call. It stops (backoff.Stop) once
// maxAttempts commits were made.
func newSchedule(maxAttempts int) backoff.BackOff {
	retries := maxAttempts - 1
	if retries < 0 {
		retries = 0
	}
	return backoff.WithMaxRetries(newTieredBackOff(defaultTiers), uint64(retries))
}
