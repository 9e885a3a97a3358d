package models

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// AccumRecord is a member's running work totals for one group,
// recomputed from the window entries whenever a window is reported.
type AccumRecord struct {
	Group      string          `json:"group"`
	Member     string          `json:"member"`
	InProgress decimal.Decimal `json:"in_progress"`
	Completed  decimal.Decimal `json:"completed"`
}

func AccumKey(group, member string) string {
	return fmt.Sprintf("member_accum:%s:%s", group, member)
}

// Clamp floors both totals at zero.
func (a *AccumRecord) Clamp() {
	if a.InProgress.IsNegative() {
		a.InProgress = decimal.Zero
	}
	if a.Completed.IsNegative() {
		a.Completed = decimal.Zero
	}
}

// HashFields returns the record as ordered field-value pairs for HSET.
func (a *AccumRecord) HashFields() []any {
	return []any{
		"group", a.Group,
		"member", a.Member,
		"in_progress", a.InProgress.String(),
		"completed", a.Completed.String(),
	}
}

func AccumFromHash(group, member string, m map[string]string) AccumRecord {
	inProgress, err := decimal.NewFromString(m["in_progress"])
	if err != nil {
		inProgress = decimal.Zero
	}
	completed, err := decimal.NewFromString(m["completed"])
	if err != nil {
		completed = decimal.Zero
	}
	return AccumRecord{Group: group, Member: member, InProgress: inProgress, Completed: completed}
}
