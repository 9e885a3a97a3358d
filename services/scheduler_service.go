package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"maixu-system/models"
	"maixu-system/monitoring"
	"maixu-system/store"
	"maixu-system/tasks"
)

// Enqueuer is the slice of the job client the scheduler needs.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// SchedulerService turns the per-minute tick into window phase jobs.
// Every boundary decision is guarded by a SET NX lock, so overlapping
// ticks (slow runs, multiple workers) dispatch each phase at most once.
// Jobs are enqueued with ProcessAt pinned to the top of the next
// minute, so phase transitions land exactly on the boundary no matter
// where inside the minute the tick ran.
type SchedulerService struct {
	Rank  *RankService
	Cfgs  *store.ConfigStore
	Cache *store.GroupCache
	Locks *store.DispatchLock
	Queue Enqueuer
}

func NewSchedulerService(rank *RankService, cfgs *store.ConfigStore, cache *store.GroupCache, locks *store.DispatchLock, queue Enqueuer) *SchedulerService {
	return &SchedulerService{Rank: rank, Cfgs: cfgs, Cache: cache, Locks: locks, Queue: queue}
}

// Tick inspects the minute boundary following now and dispatches every
// phase job due at it. Per-group failures are logged and skipped; one
// broken group must not stall the rest of the fleet.
func (s *SchedulerService) Tick(ctx context.Context, now time.Time) {
	launchAt := now.Truncate(time.Minute).Add(time.Minute)
	minute := launchAt.Minute()

	if launchAt.Hour() == 0 && minute == 0 {
		s.dispatchReload(ctx, launchAt)
	}
	if launchAt.Hour() == 0 && minute == 59 {
		s.dispatchArchive(ctx, launchAt)
	}

	for _, group := range s.Cache.EnabledGroups() {
		if err := s.tickGroup(ctx, group, launchAt); err != nil {
			slog.Error("scheduler tick failed for group", "group", group, "error", err)
		}
	}
}

func (s *SchedulerService) tickGroup(ctx context.Context, group string, launchAt time.Time) error {
	cfg, err := s.Rank.GroupConfig(ctx, group)
	if err != nil {
		return err
	}
	minute := launchAt.Minute()

	// Admission and task phases run during the hour before the window
	// they fill; the close-out report fires the hour after it ends.
	next := models.NextWindow(group, launchAt)
	prev := models.WindowAt(group, launchAt.Truncate(time.Hour).Add(-time.Hour))

	if minute == cfg.StartMinute {
		active, err := s.windowScheduled(ctx, next)
		if err != nil {
			return err
		}
		if active {
			s.dispatchWindow(ctx, "open", tasks.TypeWindowOpen, next, launchAt)
		}
	}
	// When admission close and task close share a minute there is no
	// task phase; only the final close fires.
	if minute == cfg.EndMinute && cfg.EndMinute != cfg.TaskEndMinute {
		active, err := s.windowScheduled(ctx, next)
		if err != nil {
			return err
		}
		if active {
			s.dispatchWindow(ctx, "close", tasks.TypeWindowClose, next, launchAt)
		}
	}
	if minute == cfg.TaskEndMinute {
		active, err := s.windowScheduled(ctx, next)
		if err != nil {
			return err
		}
		if active {
			s.dispatchWindow(ctx, "taskclose", tasks.TypeWindowTaskClose, next, launchAt)
		}
	}
	if minute == cfg.ReportMinute {
		active, err := s.windowScheduled(ctx, prev)
		if err != nil {
			return err
		}
		if active {
			s.dispatchWindow(ctx, "report", tasks.TypeWindowReport, prev, launchAt)
		}
	}
	return nil
}

// windowScheduled reports whether the window's hour is marked as a live
// hosting slot. Hours without a started slot get no phase jobs at all.
func (s *SchedulerService) windowScheduled(ctx context.Context, w models.WindowKey) (bool, error) {
	slot, found, err := s.Cfgs.HostSlot(ctx, w.Group, w.Hour)
	if err != nil {
		return false, err
	}
	return found && slot.Stage == models.StageStart, nil
}

func (s *SchedulerService) dispatchWindow(ctx context.Context, phase, taskType string, w models.WindowKey, launchAt time.Time) {
	owned, err := s.Locks.Acquire(ctx, phase, w.Group, w.Date, w.Hour)
	if err != nil {
		monitoring.TrackDispatch(phase, "error")
		slog.Error("dispatch lock acquire failed", "phase", phase, "group", w.Group, "error", err)
		return
	}
	if !owned {
		monitoring.TrackDispatch(phase, "skipped")
		return
	}

	task, err := tasks.NewWindowTask(taskType, w)
	if err != nil {
		monitoring.TrackDispatch(phase, "error")
		slog.Error("build window task failed", "phase", phase, "group", w.Group, "error", err)
		return
	}
	_, err = s.Queue.EnqueueContext(ctx, task,
		asynq.Queue(tasks.QueueCritical),
		asynq.ProcessAt(launchAt),
	)
	if err != nil {
		monitoring.TrackDispatch(phase, "error")
		slog.Error("enqueue window task failed", "phase", phase, "group", w.Group, "error", err)
		return
	}
	monitoring.TrackDispatch(phase, "dispatched")
	slog.Info("window phase dispatched",
		"phase", phase, "group", w.Group, "date", w.Date, "hour", w.Hour, "at", launchAt)
}

// dispatchReload refreshes the config projection at the top of the day.
func (s *SchedulerService) dispatchReload(ctx context.Context, launchAt time.Time) {
	owned, err := s.Locks.Acquire(ctx, "reload", "global", launchAt.Format("2006-01-02"), 0)
	if err != nil || !owned {
		if err != nil {
			slog.Error("reload lock acquire failed", "error", err)
		}
		return
	}
	if _, err := s.Queue.EnqueueContext(ctx, tasks.NewConfigReloadTask(),
		asynq.Queue(tasks.QueueDefault),
		asynq.ProcessAt(launchAt),
	); err != nil {
		slog.Error("enqueue config reload failed", "error", err)
	}
}

// dispatchArchive sweeps yesterday's queues into the archive namespace
// at the end of the quietest hour.
func (s *SchedulerService) dispatchArchive(ctx context.Context, launchAt time.Time) {
	date := launchAt.AddDate(0, 0, -1).Format("2006-01-02")
	owned, err := s.Locks.Acquire(ctx, "archive", "global", date, 0)
	if err != nil || !owned {
		if err != nil {
			slog.Error("archive lock acquire failed", "error", err)
		}
		return
	}
	task, err := tasks.NewArchiveTask(date)
	if err != nil {
		slog.Error("build archive task failed", "error", err)
		return
	}
	if _, err := s.Queue.EnqueueContext(ctx, task,
		asynq.Queue(tasks.QueueLow),
		asynq.ProcessAt(launchAt),
	); err != nil {
		slog.Error("enqueue archive failed", "error", err)
	}
}
