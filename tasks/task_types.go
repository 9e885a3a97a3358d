package tasks

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"

	"maixu-system/models"
)

// Task type names. Window transitions and the tick are scheduler-fired
// and lock-guarded; queue:* and checkin:* tasks are member-initiated.
const (
	TypeScheduleTick = "sched:tick"

	TypeWindowOpen      = "window:open"
	TypeWindowClose     = "window:close"
	TypeWindowTaskClose = "window:taskclose"
	TypeWindowReport    = "window:report"

	TypeAdmit    = "queue:admit"
	TypeBid      = "queue:bid"
	TypeBuyIn    = "queue:buyin"
	TypeWithdraw = "queue:withdraw"
	TypeTransfer = "queue:transfer"
	TypeTakeOut  = "queue:takeout"
	TypeShow     = "queue:show"

	TypeCheckinTimeout = "checkin:timeout"

	TypeConfigReload = "config:reload"
	TypeArchive      = "queue:archive"
)

// Queue names, weighted like the worker config.
const (
	QueueCritical = "critical"
	QueueDefault  = "default"
	QueueLow      = "low"
)

type WindowPayload struct {
	Window models.WindowKey `json:"window"`
}

type MemberCommandPayload struct {
	Window models.WindowKey `json:"window"`
	Member string           `json:"member"`
	Label  string           `json:"label,omitempty"`
	Target string           `json:"target,omitempty"` // transfer recipient
	Lane   models.Lane      `json:"lane,omitempty"`
	Late   bool             `json:"late,omitempty"` // 补 re-entry
}

type CheckinTimeoutPayload struct {
	RecordKey string `json:"record_key"`
}

type ArchivePayload struct {
	Date string `json:"date"`
}

func newTask(taskType string, payload any) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", taskType, err)
	}
	return asynq.NewTask(taskType, data), nil
}

func NewWindowTask(taskType string, w models.WindowKey) (*asynq.Task, error) {
	return newTask(taskType, WindowPayload{Window: w})
}

func NewMemberCommandTask(taskType string, p MemberCommandPayload) (*asynq.Task, error) {
	return newTask(taskType, p)
}

func NewCheckinTimeoutTask(recordKey string) (*asynq.Task, error) {
	return newTask(TypeCheckinTimeout, CheckinTimeoutPayload{RecordKey: recordKey})
}

func NewConfigReloadTask() *asynq.Task {
	return asynq.NewTask(TypeConfigReload, nil)
}

func NewArchiveTask(date string) (*asynq.Task, error) {
	return newTask(TypeArchive, ArchivePayload{Date: date})
}
