package services

import "time"

// Score tiers. Within a tier, the time fraction orders entries by
// arrival: earlier request, larger fraction, higher rank. The tiers
// never overlap, so any fixed seat outranks any weighted bid, any
// weighted bid outranks any speed claim, and both lanes stay below the
// speed tier while keeping lane A above lane B.
const (
	// maxTimestamp is 2100-01-01 UTC; the countdown to it supplies the
	// arrival-order fraction.
	maxTimestamp   = 4102444800
	fractionWindow = 10000

	FixedSeatBase = 1000

	laneOffsetMai8 = 200
	laneOffsetMai9 = 1000

	// markerOffset pushes void/taken-out entries deeply negative so
	// they rank last but remain retrievable for reporting.
	markerOffset = 100000
)

// timeFraction maps the current instant to [0,1): earlier instants get
// larger fractions, so same-tier ties resolve by arrival order. Two
// requests in the same second collide; the store then keeps one entry,
// which is acceptable at human typing speed.
func timeFraction(now time.Time) float64 {
	return float64((maxTimestamp-now.Unix())%fractionWindow) / fractionWindow
}
