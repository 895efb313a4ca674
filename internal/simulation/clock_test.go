package simulation

import (
	"math"
	"testing"
	"time"
)

func TestNewVirtualClock_ClampsNonPositiveRates(t *testing.T) {
	for _, rate := range []float64{0, -1, -60} {
		c := NewVirtualClock(rate)
		if c.Rate != DefaultAccelerationRate {
			t.Fatalf("rate %v: expected clamp to %v, got %v", rate, DefaultAccelerationRate, c.Rate)
		}
	}
}

func TestVirtualClock_RateOneIsRealTime(t *testing.T) {
	c := NewVirtualClock(1)

	if got := c.VirtualMinutesFor(5 * time.Minute); got != 5 {
		t.Fatalf("expected 5 virtual minutes for 5 real minutes at rate 1, got %v", got)
	}
	if got := c.RealTimeFor(1); got != 60*time.Second {
		t.Fatalf("expected one virtual minute to cost 60s at rate 1, got %v", got)
	}
}

func TestVirtualClock_ConversionIsLinear(t *testing.T) {
	c := NewVirtualClock(4)

	base := c.RealTimeFor(10)
	doubled := c.RealTimeFor(20)
	if doubled != 2*base {
		t.Fatalf("doubling virtual minutes should double real time: %v vs %v", base, doubled)
	}

	// Round-trip: the real duration of N virtual minutes converts back
	// to N virtual minutes.
	back := c.VirtualMinutesFor(c.RealTimeFor(37.5))
	if math.Abs(back-37.5) > 1e-9 {
		t.Fatalf("round-trip drifted: expected 37.5, got %v", back)
	}
}

func TestVirtualClock_AcceleratedRate(t *testing.T) {
	c := NewVirtualClock(60) // one virtual minute per real second

	if got := c.VirtualMinutesFor(time.Second); got != 1 {
		t.Fatalf("expected 1 virtual minute per real second at rate 60, got %v", got)
	}
	if got := c.RealTimeFor(60); got != time.Minute {
		t.Fatalf("expected 60 virtual minutes to cost one real minute at rate 60, got %v", got)
	}
}

func TestVirtualClock_Advance(t *testing.T) {
	c := NewVirtualClock(2)
	start := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)

	got := c.Advance(start, 90)
	want := start.Add(90 * time.Minute)
	if !got.Equal(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}
