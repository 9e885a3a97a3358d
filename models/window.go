package models

import (
	"fmt"
	"time"
)

// Lane is a single-occupant buy-in side slot layered on a window.
type Lane string

const (
	LaneMai8 Lane = "mai8"
	LaneMai9 Lane = "mai9"
)

// Entry states. An empty state means the entry is active and counts
// toward the seat limit when its score is non-negative.
const (
	StateActive   = ""
	StateVoid     = "void"
	StateTakenOut = "takenout"
)

const LabelFixed = "固定排"

// WindowKey identifies one hour-long competitive queue instance for a
// group. Date is the local calendar date of the hour the window covers,
// so the hour-0 window opened at 23:xx belongs to the next day.
type WindowKey struct {
	Group string `json:"group"`
	Date  string `json:"date"` // 2006-01-02
	Hour  int    `json:"hour"` // 0-23
}

// WindowAt builds the key for the window covering the hour that starts
// at the given boundary instant.
func WindowAt(group string, boundary time.Time) WindowKey {
	return WindowKey{
		Group: group,
		Date:  boundary.Format("2006-01-02"),
		Hour:  boundary.Hour(),
	}
}

// NextWindow is the window covering the hour after now, the one the
// scheduler opens and members compete for.
func NextWindow(group string, now time.Time) WindowKey {
	return WindowAt(group, now.Truncate(time.Hour).Add(time.Hour))
}

// CurrentWindow is the window covering the hour containing now.
func CurrentWindow(group string, now time.Time) WindowKey {
	return WindowAt(group, now.Truncate(time.Hour))
}

func (w WindowKey) QueueKey() string {
	return fmt.Sprintf("queue:%s:%s:%d", w.Group, w.Date, w.Hour)
}

func (w WindowKey) LaneKey(lane Lane) string {
	return fmt.Sprintf("queue:%s:%s:%d:%s", w.Group, w.Date, w.Hour, lane)
}

// Flag is the member value used in the admission/task membership sets.
func (w WindowKey) Flag() string {
	return fmt.Sprintf("%s:%s:%d", w.Group, w.Date, w.Hour)
}

func (w WindowKey) EndHour() int {
	return (w.Hour + 1) % 24
}

// Entry is one ranked seat claim inside a window's ordered set.
type Entry struct {
	Member string  `json:"member"`
	Label  string  `json:"label"`
	State  string  `json:"state"`
	Score  float64 `json:"score"`
}

func (e Entry) Active() bool {
	return e.State == StateActive
}
