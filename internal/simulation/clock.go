package simulation

import (
	"time"
)

// VirtualClock converts between real elapsed time and virtual patient
// time at a given acceleration rate. It carries no state beyond the
// rate, so one value can serve any number of sessions.
//
// Rate semantics: at rate 1 one virtual minute takes one real minute;
// at rate 60 one virtual minute takes one real second.
type VirtualClock struct {
	Rate float64
}

// DefaultAccelerationRate is used when a session is started without an
// explicit rate.
const DefaultAccelerationRate = 1.0

// NewVirtualClock clamps non-positive rates to the default.
func NewVirtualClock(rate float64) VirtualClock {
	if rate <= 0 {
		rate = DefaultAccelerationRate
	}
	return VirtualClock{Rate: rate}
}

// VirtualMinutesFor returns how many virtual minutes pass in the given
// real duration.
func (c VirtualClock) VirtualMinutesFor(realElapsed time.Duration) float64 {
	return realElapsed.Minutes() * c.Rate
}

// RealTimeFor returns the real duration that the given span of virtual
// minutes occupies. Linear in virtualMinutes: rate 1 means one virtual
// minute costs 60 real seconds.
func (c VirtualClock) RealTimeFor(virtualMinutes float64) time.Duration {
	seconds := virtualMinutes * 60 / c.Rate
	return time.Duration(seconds * float64(time.Second))
}

// Advance returns the virtual instant reached by skipping the given
// number of virtual minutes forward from v.
func (c VirtualClock) Advance(v time.Time, virtualMinutes float64) time.Time {
	return v.Add(time.Duration(virtualMinutes * float64(time.Minute)))
}
