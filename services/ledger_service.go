package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/core"
	"github.com/shopspring/decimal"

	"maixu-system/models"
	"maixu-system/store"
)

// WindowReport is the close-out replay of one finished window: the full
// entry list including voided and taken-out markers, and the updated
// per-member running totals.
type WindowReport struct {
	Window  models.WindowKey
	Entries []models.Entry
	Totals  []models.AccumRecord
}

// LedgerService replays finished windows into the accumulation ledger.
// Numeric labels carry their declared weight; fixed seats and 置顶 style
// tokens carry no numeric weight and only appear in the entry list.
// Totals live in Redis for fast reads and are mirrored into the
// relational store when an app handle is attached.
type LedgerService struct {
	Windows *store.WindowStore
	Cfgs    *store.ConfigStore
	App     core.App
}

func NewLedgerService(windows *store.WindowStore, cfgs *store.ConfigStore, app core.App) *LedgerService {
	return &LedgerService{Windows: windows, Cfgs: cfgs, App: app}
}

// ReplayWindow folds the window's entries into each member's totals.
// Every numeric-labeled entry adds its weight to the in-progress total;
// taken-out entries add to the completed total as well.
func (s *LedgerService) ReplayWindow(ctx context.Context, w models.WindowKey) (WindowReport, error) {
	entries, err := s.Windows.TopN(ctx, w.QueueKey(), 0)
	if err != nil {
		return WindowReport{}, err
	}
	for _, lane := range []models.Lane{models.LaneMai8, models.LaneMai9} {
		occupants, err := s.Windows.TopN(ctx, w.LaneKey(lane), 0)
		if err != nil {
			return WindowReport{}, err
		}
		entries = append(entries, occupants...)
	}
	report := WindowReport{Window: w, Entries: entries}

	type delta struct {
		inProgress decimal.Decimal
		completed  decimal.Decimal
	}
	deltas := make(map[string]delta)
	for _, e := range entries {
		weight, numeric := models.NumericWeight(e.Label)
		if !numeric {
			continue
		}
		d := deltas[e.Member]
		d.inProgress = d.inProgress.Add(weight)
		if e.State == models.StateTakenOut {
			d.completed = d.completed.Add(weight)
		}
		deltas[e.Member] = d
	}

	members := make([]string, 0, len(deltas))
	for member := range deltas {
		members = append(members, member)
	}
	sort.Strings(members)

	for _, member := range members {
		d := deltas[member]
		rec, err := s.Cfgs.Accum(ctx, w.Group, member)
		if err != nil {
			return report, err
		}
		rec.InProgress = rec.InProgress.Add(d.inProgress)
		rec.Completed = rec.Completed.Add(d.completed)
		rec.Clamp()
		if err := s.Cfgs.SaveAccum(ctx, rec); err != nil {
			return report, err
		}
		if err := s.persist(rec); err != nil {
			// The Redis total is already updated; a mirror failure is
			// logged and retried on the next replay touching the member.
			slog.Error("persist accum failed", "group", rec.Group, "member", rec.Member, "error", err)
		}
		report.Totals = append(report.Totals, rec)
	}
	return report, nil
}

// MemberTotal reads one member's running totals.
func (s *LedgerService) MemberTotal(ctx context.Context, group, member string) (models.AccumRecord, error) {
	return s.Cfgs.Accum(ctx, group, member)
}

func (s *LedgerService) persist(rec models.AccumRecord) error {
	if s.App == nil {
		return nil
	}
	record, err := s.App.FindFirstRecordByFilter("member_accum",
		"group = {:group} && member = {:member}",
		dbx.Params{"group": rec.Group, "member": rec.Member},
	)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("find accum record: %w", err)
	}
	if record == nil {
		collection, err := s.App.FindCollectionByNameOrId("member_accum")
		if err != nil {
			return fmt.Errorf("find accum collection: %w", err)
		}
		record = core.NewRecord(collection)
		record.Set("group", rec.Group)
		record.Set("member", rec.Member)
	}
	record.Set("in_progress", rec.InProgress.String())
	record.Set("completed", rec.Completed.String())
	return s.App.Save(record)
}
