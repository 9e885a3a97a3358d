package models

import (
	"fmt"
	"strconv"
	"time"
)

// CheckinRecord tracks one reported temporary absence. Created open,
// then either returned by the member or timed out by the delayed job,
// immutable afterwards.
type CheckinRecord struct {
	ID         string    `json:"id"`
	Group      string    `json:"group"`
	Member     string    `json:"member"`
	Date       string    `json:"date"`
	Hour       int       `json:"hour"`
	Minute     int       `json:"minute"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"created_at"`
	ReturnedAt time.Time `json:"returned_at,omitzero"`
	TimedOut   bool      `json:"timed_out"`
}

func (r *CheckinRecord) Key() string {
	return CheckinKey(r.Date, r.Group, r.Hour, r.Member, r.Minute)
}

func CheckinKey(date, group string, hour int, member string, minute int) string {
	return fmt.Sprintf("checkin:%s:%s:%d:%s:%d", date, group, hour, member, minute)
}

// CheckinHourPrefix matches every record of one group hour.
func CheckinHourPrefix(date, group string, hour int) string {
	return fmt.Sprintf("checkin:%s:%s:%d:*", date, group, hour)
}

// CheckinMemberPrefix matches one member's records within a group hour.
func CheckinMemberPrefix(date, group string, hour int, member string) string {
	return fmt.Sprintf("checkin:%s:%s:%d:%s:*", date, group, hour, member)
}

// Open reports whether the record is still awaiting a return.
func (r *CheckinRecord) Open() bool {
	return r.ReturnedAt.IsZero() && !r.TimedOut
}

// HashFields returns the record as ordered field-value pairs for HSET.
func (r *CheckinRecord) HashFields() []any {
	fields := []any{
		"id", r.ID,
		"group", r.Group,
		"member", r.Member,
		"date", r.Date,
		"hour", strconv.Itoa(r.Hour),
		"minute", strconv.Itoa(r.Minute),
		"content", r.Content,
		"created_at", r.CreatedAt.Format(time.RFC3339),
		"timed_out", strconv.FormatBool(r.TimedOut),
	}
	if !r.ReturnedAt.IsZero() {
		fields = append(fields, "returned_at", r.ReturnedAt.Format(time.RFC3339))
	}
	return fields
}

func CheckinFromHash(m map[string]string) CheckinRecord {
	atoi := func(k string) int {
		v, _ := strconv.Atoi(m[k])
		return v
	}
	created, _ := time.Parse(time.RFC3339, m["created_at"])
	timedOut, _ := strconv.ParseBool(m["timed_out"])
	rec := CheckinRecord{
		ID:        m["id"],
		Group:     m["group"],
		Member:    m["member"],
		Date:      m["date"],
		Hour:      atoi("hour"),
		Minute:    atoi("minute"),
		Content:   m["content"],
		CreatedAt: created,
		TimedOut:  timedOut,
	}
	if m["returned_at"] != "" {
		rec.ReturnedAt, _ = time.Parse(time.RFC3339, m["returned_at"])
	}
	return rec
}
