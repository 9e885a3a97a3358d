package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"maixu-system/config"
	"maixu-system/models"
	"maixu-system/store"
)

// RankService is the slot-allocation and ranking engine. It owns the
// scoring function and the admission/eviction mechanics over the
// window's ordered set. Sequences of store calls are not wrapped in a
// transaction; concurrent member actions on the same window settle
// last-write-wins (see the scheduler for the lock-guarded paths).
type RankService struct {
	Store  *store.WindowStore
	Cfgs   *store.ConfigStore
	config *config.Config
	now    func() time.Time
}

func NewRankService(ws *store.WindowStore, cs *store.ConfigStore, cfg *config.Config) *RankService {
	return &RankService{
		Store:  ws,
		Cfgs:   cs,
		config: cfg,
		now:    time.Now,
	}
}

// AdmitResult reports what one admission did to the queue.
type AdmitResult struct {
	Entry     models.Entry
	Evicted   string // member displaced by this admission, if any
	Rejected  bool   // the admission itself was the lowest entry and bounced
	SeatsUsed int64
	SeatLimit int
	Flipped   bool // this admission filled the queue and opened the task phase
}

func (r AdmitResult) Full() bool {
	return r.SeatsUsed >= int64(r.SeatLimit)
}

// GroupConfig resolves the cached group config, falling back to the
// process defaults for anything unset. Stale reads between config
// pushes are expected and tolerated.
func (s *RankService) GroupConfig(ctx context.Context, group string) (models.GroupConfig, error) {
	cfg, found, err := s.Cfgs.GroupConfig(ctx, group)
	if err != nil {
		return cfg, err
	}
	if !found {
		cfg.Group = group
	}
	if cfg.SeatLimit <= 0 {
		cfg.SeatLimit = s.config.DefaultSeatLimit
	}
	if cfg.CheckinLimit <= 0 {
		cfg.CheckinLimit = s.config.CheckinGroupLimit
	}
	if cfg.CheckinPerUser <= 0 {
		cfg.CheckinPerUser = s.config.CheckinMemberLimit
	}
	if cfg.CheckinGrace <= 0 {
		cfg.CheckinGrace = int(s.config.CheckinGracePeriod.Minutes())
	}
	return cfg, nil
}

// SeedFixedSeats inserts the hour's fixed-seat roster above every
// normal tier. Called by the window-open job, never by members.
func (s *RankService) SeedFixedSeats(ctx context.Context, w models.WindowKey, roster []string) error {
	for _, member := range roster {
		entry := models.Entry{
			Member: member,
			Label:  models.LabelFixed,
			Score:  FixedSeatBase + timeFraction(s.now()),
		}
		if err := s.Store.Put(ctx, w.QueueKey(), entry); err != nil {
			return fmt.Errorf("seed fixed seat %s: %w", member, err)
		}
	}
	return nil
}

// Admit claims a seat by arrival order during the admission phase.
// allowLate permits the 补 re-entry path after both phases have closed.
func (s *RankService) Admit(ctx context.Context, w models.WindowKey, member, label string, allowLate bool) (AdmitResult, error) {
	open, err := s.Cfgs.AdmissionOpen(ctx, w)
	if err != nil {
		return AdmitResult{}, err
	}
	taskOpen, err := s.Cfgs.TaskOpen(ctx, w)
	if err != nil {
		return AdmitResult{}, err
	}
	if !open && !(allowLate && !taskOpen) {
		return AdmitResult{}, ErrWindowClosed
	}

	cfg, err := s.GroupConfig(ctx, w.Group)
	if err != nil {
		return AdmitResult{}, err
	}

	entry := models.Entry{Member: member, Label: label, Score: timeFraction(s.now())}
	res, err := s.insertWithEviction(ctx, w.QueueKey(), entry, cfg.SeatLimit)
	if err != nil {
		return res, err
	}

	// Filling the queue by hand speed ends the admission phase early
	// and opens weighted bidding.
	if open && res.Full() && !res.Rejected {
		if err := s.Cfgs.CloseAdmission(ctx, w); err != nil {
			return res, err
		}
		if err := s.Cfgs.OpenTask(ctx, w); err != nil {
			return res, err
		}
		res.Flipped = true
	}
	return res, nil
}

// AdmitWeighted re-ranks a member by declared task weight during the
// task phase. An unknown token degrades to the lowest tier instead of
// failing the request.
func (s *RankService) AdmitWeighted(ctx context.Context, w models.WindowKey, member, label string) (AdmitResult, error) {
	taskOpen, err := s.Cfgs.TaskOpen(ctx, w)
	if err != nil {
		return AdmitResult{}, err
	}
	if !taskOpen {
		return AdmitResult{}, ErrTaskClosed
	}

	cfg, err := s.GroupConfig(ctx, w.Group)
	if err != nil {
		return AdmitResult{}, err
	}

	vocab := models.ParseWeightVocabulary(cfg.WeightVocab)
	rank := vocab.Rank(label)
	if rank == 0 {
		slog.Warn("unknown weight token, using lowest tier", "group", w.Group, "label", label)
	}

	entry := models.Entry{
		Member: member,
		Label:  label,
		Score:  float64(rank) + timeFraction(s.now()),
	}
	return s.insertWithEviction(ctx, w.QueueKey(), entry, cfg.SeatLimit)
}

// AdmitInsertion places a paid buy-in into one of the two side lanes.
// Each lane holds one occupant; a second buyer displaces the first and
// the displaced member id is returned for the notification.
func (s *RankService) AdmitInsertion(ctx context.Context, w models.WindowKey, member, label string, lane models.Lane) (AdmitResult, error) {
	taskOpen, err := s.Cfgs.TaskOpen(ctx, w)
	if err != nil {
		return AdmitResult{}, err
	}
	if !taskOpen {
		return AdmitResult{}, ErrTaskClosed
	}

	cfg, err := s.GroupConfig(ctx, w.Group)
	if err != nil {
		return AdmitResult{}, err
	}

	vocab := models.ParseWeightVocabulary(cfg.WeightVocab)
	rank := vocab.Rank(label)
	if rank == 0 {
		return AdmitResult{}, fmt.Errorf("%w: %q", ErrUnknownWeight, label)
	}

	offset := laneOffsetMai8
	if lane == models.LaneMai9 {
		offset = laneOffsetMai9
	}

	laneKey := w.LaneKey(lane)
	occupants, err := s.Store.TopN(ctx, laneKey, 0)
	if err != nil {
		return AdmitResult{}, err
	}

	res := AdmitResult{SeatLimit: 1}
	for _, occ := range occupants {
		if err := s.Store.RemoveEncoded(ctx, laneKey, store.EncodeEntry(occ)); err != nil {
			return res, err
		}
		if occ.Member != member {
			res.Evicted = occ.Member
		}
	}

	res.Entry = models.Entry{
		Member: member,
		Label:  label,
		Score:  float64(rank) + timeFraction(s.now()) - float64(offset),
	}
	if err := s.Store.Put(ctx, laneKey, res.Entry); err != nil {
		return res, err
	}
	res.SeatsUsed = 1
	return res, nil
}

// Withdraw removes the member's entry unconditionally. Policy checks
// (whether withdrawal is currently allowed for this window) belong to
// the caller. Returns the remaining free seat count; withdrawing a
// non-member is a reported no-op.
func (s *RankService) Withdraw(ctx context.Context, w models.WindowKey, member string) (int, error) {
	cfg, err := s.GroupConfig(ctx, w.Group)
	if err != nil {
		return 0, err
	}
	removed, err := s.Store.RemoveMember(ctx, w.QueueKey(), member)
	if err != nil {
		return 0, err
	}
	if removed == 0 {
		return 0, ErrNotPresent
	}
	used, err := s.Store.CountInRange(ctx, w.QueueKey(), store.ScoreZero, store.ScoreMax)
	if err != nil {
		return 0, err
	}
	free := cfg.SeatLimit - int(used)
	if free < 0 {
		free = 0
	}
	return free, nil
}

// Transfer hands the sender's seat to another member at the identical
// score, preserving the rank position across the handoff.
func (s *RankService) Transfer(ctx context.Context, w models.WindowKey, from, to, newLabel string) (models.Entry, error) {
	if from == to {
		return models.Entry{}, ErrSelfTransfer
	}
	entries, err := s.Store.TopN(ctx, w.QueueKey(), 0)
	if err != nil {
		return models.Entry{}, err
	}
	for _, e := range entries {
		if e.Member != from || !e.Active() {
			continue
		}
		if err := s.Store.RemoveEncoded(ctx, w.QueueKey(), store.EncodeEntry(e)); err != nil {
			return models.Entry{}, err
		}
		moved := models.Entry{Member: to, Label: newLabel, Score: e.Score}
		if err := s.Store.Put(ctx, w.QueueKey(), moved); err != nil {
			return models.Entry{}, err
		}
		return moved, nil
	}
	return models.Entry{}, ErrNotPresent
}

// MarkTakenOut re-labels the member's entry as a completed assignment
// at a deeply negative score, so it drops out of the ranked seats but
// survives into the close-out report and the completed ledger total.
func (s *RankService) MarkTakenOut(ctx context.Context, w models.WindowKey, member string) (models.Entry, error) {
	entries, err := s.Store.TopN(ctx, w.QueueKey(), 0)
	if err != nil {
		return models.Entry{}, err
	}
	for _, e := range entries {
		if e.Member != member || !e.Active() {
			continue
		}
		if err := s.Store.RemoveEncoded(ctx, w.QueueKey(), store.EncodeEntry(e)); err != nil {
			return models.Entry{}, err
		}
		marked := models.Entry{
			Member: e.Member,
			Label:  e.Label,
			State:  models.StateTakenOut,
			Score:  e.Score - markerOffset,
		}
		if err := s.Store.Put(ctx, w.QueueKey(), marked); err != nil {
			return marked, err
		}
		return marked, nil
	}
	return models.Entry{}, ErrNotPresent
}

// VoidEntries voids the count lowest-scoring active entries (all of
// them when count <= 0), keeping the voided records retrievable for the
// report without affecting the ranking of survivors.
func (s *RankService) VoidEntries(ctx context.Context, w models.WindowKey, count int) ([]models.Entry, error) {
	if count <= 0 {
		used, err := s.Store.CountInRange(ctx, w.QueueKey(), store.ScoreZero, store.ScoreMax)
		if err != nil {
			return nil, err
		}
		count = int(used)
	}
	if count == 0 {
		return nil, nil
	}
	lowest, err := s.Store.LowestInRange(ctx, w.QueueKey(), store.ScoreZero, store.ScoreMax, count)
	if err != nil {
		return nil, err
	}
	var voided []models.Entry
	for _, e := range lowest {
		if err := s.Store.RemoveEncoded(ctx, w.QueueKey(), store.EncodeEntry(e)); err != nil {
			return voided, err
		}
		v := models.Entry{Member: e.Member, Label: e.Label, State: models.StateVoid, Score: e.Score - markerOffset}
		if err := s.Store.Put(ctx, w.QueueKey(), v); err != nil {
			return voided, err
		}
		voided = append(voided, v)
	}
	return voided, nil
}

// Snapshot returns the ranked view: up to limit main-queue entries
// (0 for all) followed by the lane occupants.
func (s *RankService) Snapshot(ctx context.Context, w models.WindowKey, limit int) ([]models.Entry, error) {
	entries, err := s.Store.TopN(ctx, w.QueueKey(), limit)
	if err != nil {
		return nil, err
	}
	for _, lane := range []models.Lane{models.LaneMai8, models.LaneMai9} {
		occupants, err := s.Store.TopN(ctx, w.LaneKey(lane), 1)
		if err != nil {
			return nil, err
		}
		entries = append(entries, occupants...)
	}
	return entries, nil
}

// CheckCapacity evicts the lowest-scoring excess entries after a config
// change shrinks the seat limit. Lanes never count against the limit.
func (s *RankService) CheckCapacity(ctx context.Context, w models.WindowKey, limit int) ([]string, error) {
	used, err := s.Store.CountInRange(ctx, w.QueueKey(), store.ScoreZero, store.ScoreMax)
	if err != nil {
		return nil, err
	}
	excess := int(used) - limit
	if excess <= 0 {
		return nil, nil
	}
	lowest, err := s.Store.LowestInRange(ctx, w.QueueKey(), store.ScoreZero, store.ScoreMax, excess)
	if err != nil {
		return nil, err
	}
	var evicted []string
	for _, e := range lowest {
		if err := s.Store.RemoveEncoded(ctx, w.QueueKey(), store.EncodeEntry(e)); err != nil {
			return evicted, err
		}
		evicted = append(evicted, e.Member)
	}
	return evicted, nil
}

// insertWithEviction is the shared replace-then-insert-then-enforce
// sequence: drop the member's prior active entry, insert the new one,
// then restore the capacity invariant by evicting the single lowest
// non-negative entry. When that entry is the one just inserted, the
// admission is reported as rejected rather than as a silent
// self-eviction.
func (s *RankService) insertWithEviction(ctx context.Context, key string, e models.Entry, limit int) (AdmitResult, error) {
	res := AdmitResult{Entry: e, SeatLimit: limit}

	if _, err := s.Store.RemoveMember(ctx, key, e.Member); err != nil {
		return res, err
	}
	if err := s.Store.Put(ctx, key, e); err != nil {
		return res, err
	}

	used, err := s.Store.CountInRange(ctx, key, store.ScoreZero, store.ScoreMax)
	if err != nil {
		return res, err
	}
	if used > int64(limit) {
		lowest, err := s.Store.LowestInRange(ctx, key, store.ScoreZero, store.ScoreMax, 1)
		if err != nil {
			return res, err
		}
		if len(lowest) > 0 {
			if err := s.Store.RemoveEncoded(ctx, key, store.EncodeEntry(lowest[0])); err != nil {
				return res, err
			}
			used--
			if lowest[0].Member == e.Member {
				res.Rejected = true
			} else {
				res.Evicted = lowest[0].Member
			}
		}
	}
	res.SeatsUsed = used
	return res, nil
}

// WithClock overrides the service clock; tests use it to pin scores.
func (s *RankService) WithClock(now func() time.Time) *RankService {
	s.now = now
	return s
}
