package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"maixu-system/models"
	"maixu-system/monitoring"
	"maixu-system/store"
	"maixu-system/tasks"
)

// CheckinService tracks reported temporary absences. A report opens a
// record and arms a delayed timeout job; returning in time closes the
// record before the job fires. The timeout handler re-checks state at
// fire time, so a return that races the timer always wins.
type CheckinService struct {
	Rank    *RankService
	Cfgs    *store.ConfigStore
	Windows *store.WindowStore
	Queue   Enqueuer
	now     func() time.Time
	newID   func() string
}

func NewCheckinService(rank *RankService, cfgs *store.ConfigStore, windows *store.WindowStore, queue Enqueuer) *CheckinService {
	return &CheckinService{
		Rank:    rank,
		Cfgs:    cfgs,
		Windows: windows,
		Queue:   queue,
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

// A return within the first minutes of an hour may still close a record
// opened just before the boundary.
const returnGraceMinutes = 5

// Report opens an away record for the member, subject to the group's
// concurrent-away and per-member hourly limits.
func (s *CheckinService) Report(ctx context.Context, group, member, content string) (models.CheckinRecord, error) {
	now := s.now()
	cfg, err := s.Rank.GroupConfig(ctx, group)
	if err != nil {
		return models.CheckinRecord{}, err
	}

	date := now.Format("2006-01-02")
	hour := now.Hour()

	open, memberCount, err := s.hourCounts(ctx, date, group, hour, member)
	if err != nil {
		return models.CheckinRecord{}, err
	}
	if open >= cfg.CheckinLimit {
		monitoring.TrackCheckin("rejected_group_limit")
		return models.CheckinRecord{}, ErrCheckinGroupLimit
	}
	if memberCount >= cfg.CheckinPerUser {
		monitoring.TrackCheckin("rejected_member_limit")
		return models.CheckinRecord{}, ErrCheckinMemberLimit
	}

	rec := models.CheckinRecord{
		ID:        s.newID(),
		Group:     group,
		Member:    member,
		Date:      date,
		Hour:      hour,
		Minute:    now.Minute(),
		Content:   content,
		CreatedAt: now,
	}
	if err := s.Cfgs.SaveCheckin(ctx, rec); err != nil {
		return rec, err
	}

	grace := time.Duration(cfg.CheckinGrace) * time.Minute
	task, err := tasks.NewCheckinTimeoutTask(rec.Key())
	if err != nil {
		return rec, err
	}
	if _, err := s.Queue.EnqueueContext(ctx, task,
		asynq.Queue(tasks.QueueDefault),
		asynq.ProcessIn(grace),
	); err != nil {
		return rec, err
	}

	monitoring.TrackCheckin("reported")
	return rec, nil
}

// Return closes the member's open record in the current hour. Right
// after the hour boundary it also checks the previous hour, for a
// member who reported just before the rollover.
func (s *CheckinService) Return(ctx context.Context, group, member string) (models.CheckinRecord, error) {
	now := s.now()
	hours := []time.Time{now}
	if now.Minute() < returnGraceMinutes {
		hours = append(hours, now.Add(-time.Hour))
	}
	for _, at := range hours {
		rec, found, err := s.openRecord(ctx, at.Format("2006-01-02"), group, at.Hour(), member)
		if err != nil {
			return models.CheckinRecord{}, err
		}
		if !found {
			continue
		}
		if err := s.Cfgs.MarkCheckinReturned(ctx, rec.Key(), now); err != nil {
			return rec, err
		}
		rec.ReturnedAt = now
		monitoring.TrackCheckin("returned")
		return rec, nil
	}
	return models.CheckinRecord{}, ErrNoOpenCheckin
}

// HandleTimeout marks the record timed out unless the member already
// returned. Reports whether the timeout actually took effect.
func (s *CheckinService) HandleTimeout(ctx context.Context, recordKey string) (models.CheckinRecord, bool, error) {
	rec, found, err := s.Cfgs.Checkin(ctx, recordKey)
	if err != nil {
		return rec, false, err
	}
	if !found || !rec.Open() {
		return rec, false, nil
	}
	if err := s.Cfgs.MarkCheckinTimedOut(ctx, recordKey); err != nil {
		return rec, false, err
	}
	rec.TimedOut = true
	monitoring.TrackCheckin("timed_out")
	return rec, true, nil
}

// hourCounts returns the open record count for the group hour and the
// member's total report count within it.
func (s *CheckinService) hourCounts(ctx context.Context, date, group string, hour int, member string) (int, int, error) {
	keys, err := s.Windows.ScanPrefix(ctx, models.CheckinHourPrefix(date, group, hour))
	if err != nil {
		return 0, 0, err
	}
	open, memberCount := 0, 0
	for _, key := range keys {
		rec, found, err := s.Cfgs.Checkin(ctx, key)
		if err != nil {
			return open, memberCount, err
		}
		if !found {
			continue
		}
		if rec.Open() {
			open++
		}
		if rec.Member == member {
			memberCount++
		}
	}
	return open, memberCount, nil
}

func (s *CheckinService) openRecord(ctx context.Context, date, group string, hour int, member string) (models.CheckinRecord, bool, error) {
	keys, err := s.Windows.ScanPrefix(ctx, models.CheckinMemberPrefix(date, group, hour, member))
	if err != nil {
		return models.CheckinRecord{}, false, err
	}
	var newest models.CheckinRecord
	found := false
	for _, key := range keys {
		rec, ok, err := s.Cfgs.Checkin(ctx, key)
		if err != nil {
			return models.CheckinRecord{}, false, err
		}
		if !ok || !rec.Open() {
			continue
		}
		if !found || rec.CreatedAt.After(newest.CreatedAt) {
			newest = rec
			found = true
		}
	}
	return newest, found, nil
}

// WithClock overrides the service clock for tests.
func (s *CheckinService) WithClock(now func() time.Time) *CheckinService {
	s.now = now
	return s
}

// WithIDSource overrides record id generation for tests.
func (s *CheckinService) WithIDSource(newID func() string) *CheckinService {
	s.newID = newID
	return s
}
