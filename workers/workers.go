package workers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hibiken/asynq"

	"maixu-system/config"
	"maixu-system/services"
	"maixu-system/store"
	"maixu-system/tasks"
)

// Workers owns every job handler. Scheduler-fired window transitions
// and member-fired queue commands both land here, serialized per task
// through the job runner.
type Workers struct {
	Config    *config.Config
	Rank      *services.RankService
	Checkin   *services.CheckinService
	Ledger    *services.LedgerService
	Scheduler *services.SchedulerService
	Projector *services.ProjectionService
	Cfgs      *store.ConfigStore
	Windows   *store.WindowStore
	Messenger services.Messenger
}

// NewMux registers every handler on a fresh ServeMux.
func NewMux(w *Workers) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(tasks.TypeScheduleTick, w.HandleScheduleTick)

	mux.HandleFunc(tasks.TypeWindowOpen, w.HandleWindowOpen)
	mux.HandleFunc(tasks.TypeWindowClose, w.HandleWindowClose)
	mux.HandleFunc(tasks.TypeWindowTaskClose, w.HandleWindowTaskClose)
	mux.HandleFunc(tasks.TypeWindowReport, w.HandleWindowReport)

	mux.HandleFunc(tasks.TypeAdmit, w.HandleAdmit)
	mux.HandleFunc(tasks.TypeBid, w.HandleBid)
	mux.HandleFunc(tasks.TypeBuyIn, w.HandleBuyIn)
	mux.HandleFunc(tasks.TypeWithdraw, w.HandleWithdraw)
	mux.HandleFunc(tasks.TypeTransfer, w.HandleTransfer)
	mux.HandleFunc(tasks.TypeTakeOut, w.HandleTakeOut)
	mux.HandleFunc(tasks.TypeShow, w.HandleShow)

	mux.HandleFunc(tasks.TypeCheckinTimeout, w.HandleCheckinTimeout)
	mux.HandleFunc(tasks.TypeConfigReload, w.HandleConfigReload)
	mux.HandleFunc(tasks.TypeArchive, w.HandleArchive)
	return mux
}

func (w *Workers) HandleScheduleTick(ctx context.Context, t *asynq.Task) error {
	w.Scheduler.Tick(ctx, time.Now())
	return nil
}

func (w *Workers) HandleConfigReload(ctx context.Context, t *asynq.Task) error {
	return w.Projector.Reload(ctx)
}

// HandleArchive moves the day's finished queues into the archive
// namespace and drops archives and check-in records that have aged past
// retention.
func (w *Workers) HandleArchive(ctx context.Context, t *asynq.Task) error {
	var p tasks.ArchivePayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}

	keys, err := w.Windows.ScanPrefix(ctx, "queue:*:"+p.Date+":*")
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := w.Windows.Archive(ctx, key); err != nil {
			return err
		}
	}

	day, err := time.Parse("2006-01-02", p.Date)
	if err != nil {
		return fmt.Errorf("%w: bad archive date %q", asynq.SkipRetry, p.Date)
	}
	cutoff := day.AddDate(0, 0, -w.Config.ArchiveRetentionDays).Format("2006-01-02")
	for _, scope := range []struct {
		pattern   string
		dateIndex int
	}{
		{"archive:queue:*", 3},
		{"checkin:*", 1},
	} {
		keys, err := w.Windows.ScanPrefix(ctx, scope.pattern)
		if err != nil {
			return err
		}
		if err := w.Windows.Delete(ctx, staleKeys(keys, scope.dateIndex, cutoff)...); err != nil {
			return err
		}
	}
	return nil
}

// staleKeys filters keys whose date segment is on or before the cutoff.
// Dates are "2006-01-02", so the comparison is lexicographic. Keys that
// slipped past an earlier missed purge still age out here.
func staleKeys(keys []string, dateIndex int, cutoff string) []string {
	var stale []string
	for _, key := range keys {
		parts := strings.Split(key, ":")
		if len(parts) <= dateIndex {
			continue
		}
		if parts[dateIndex] <= cutoff {
			stale = append(stale, key)
		}
	}
	return stale
}

func decodeWindow(t *asynq.Task) (tasks.WindowPayload, error) {
	var p tasks.WindowPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return p, fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}
	return p, nil
}

func decodeCommand(t *asynq.Task) (tasks.MemberCommandPayload, error) {
	var p tasks.MemberCommandPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return p, fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}
	return p, nil
}

// rejectionText translates a policy violation into the chat reply.
func rejectionText(err error) string {
	switch {
	case errors.Is(err, services.ErrWindowClosed):
		return "当前不在扣排时间"
	case errors.Is(err, services.ErrTaskClosed):
		return "任务报名已截止"
	case errors.Is(err, services.ErrQueueFull):
		return "坐席已满"
	case errors.Is(err, services.ErrNotPresent):
		return "你不在队列中"
	case errors.Is(err, services.ErrUnknownWeight):
		return "无效的任务档位"
	case errors.Is(err, services.ErrSelfTransfer):
		return "不能转让给自己"
	case errors.Is(err, services.ErrWithdrawForbidden):
		return "任务阶段不可退出"
	case errors.Is(err, services.ErrCheckinGroupLimit):
		return "本小时报备人数已满"
	case errors.Is(err, services.ErrCheckinMemberLimit):
		return "你本小时的报备次数已用完"
	case errors.Is(err, services.ErrNoOpenCheckin):
		return "没有待销假的报备"
	default:
		return "操作失败"
	}
}
