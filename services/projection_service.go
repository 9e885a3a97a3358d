package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/core"

	"maixu-system/command"
	"maixu-system/models"
	"maixu-system/store"
)

// ProjectionService pushes the relational configuration into the Redis
// hashes and the in-process group cache. Runs at startup, on the daily
// reload job, and whenever an operator saves a config record.
type ProjectionService struct {
	App   core.App
	Cfgs  *store.ConfigStore
	Cache *store.GroupCache
}

func NewProjectionService(app core.App, cfgs *store.ConfigStore, cache *store.GroupCache) *ProjectionService {
	return &ProjectionService{App: app, Cfgs: cfgs, Cache: cache}
}

// Reload rebuilds the whole projection. Individual malformed rows are
// logged and skipped so one bad record cannot take every group offline.
func (s *ProjectionService) Reload(ctx context.Context) error {
	rows := []dbx.NullStringMap{}
	err := s.App.DB().
		NewQuery("SELECT * FROM groups_config").
		All(&rows)
	if err != nil {
		return fmt.Errorf("query groups_config: %w", err)
	}

	var enabled []string
	banned := make(map[string][]string)
	for _, row := range rows {
		cfg := groupConfigFromRow(row)
		if cfg.Group == "" {
			continue
		}
		if err := s.Cfgs.SaveGroupConfig(ctx, cfg); err != nil {
			return err
		}
		if rowBool(row, "enabled") {
			enabled = append(enabled, cfg.Group)
			if err := s.Cfgs.AddActiveGroup(ctx, cfg.Group); err != nil {
				return err
			}
		} else if err := s.Cfgs.RemoveActiveGroup(ctx, cfg.Group); err != nil {
			return err
		}
		if raw := rowString(row, "banned_members"); raw != "" {
			var members []string
			if err := json.Unmarshal([]byte(raw), &members); err != nil {
				slog.Warn("malformed banned_members, skipping", "group", cfg.Group, "error", err)
			} else {
				banned[cfg.Group] = members
			}
		}
	}

	if err := s.reloadSchedules(ctx); err != nil {
		return err
	}

	s.Cache.Reload(enabled, banned)
	slog.Info("config projection reloaded", "groups", len(rows), "enabled", len(enabled))
	return nil
}

// ProjectGroup refreshes one group's projection after a record save.
func (s *ProjectionService) ProjectGroup(ctx context.Context, record *core.Record) error {
	cfg := groupConfigFromRecord(record)
	if cfg.Group == "" {
		return fmt.Errorf("group record %s has no group id", record.Id)
	}
	if err := s.Cfgs.SaveGroupConfig(ctx, cfg); err != nil {
		return err
	}
	if record.GetBool("enabled") {
		s.Cache.Enable(cfg.Group)
		return s.Cfgs.AddActiveGroup(ctx, cfg.Group)
	}
	s.Cache.Disable(cfg.Group)
	return s.Cfgs.RemoveActiveGroup(ctx, cfg.Group)
}

func (s *ProjectionService) reloadSchedules(ctx context.Context) error {
	rows := []dbx.NullStringMap{}
	err := s.App.DB().
		NewQuery("SELECT * FROM host_schedule").
		All(&rows)
	if err != nil {
		return fmt.Errorf("query host_schedule: %w", err)
	}
	for _, row := range rows {
		group := rowString(row, "group")
		slots, err := command.ParseHostSlots(group, rowString(row, "schedule"))
		if err != nil {
			slog.Warn("malformed host schedule, skipping", "group", group, "error", err)
			continue
		}
		var fixedHosts []string
		if raw := rowString(row, "fixed_hosts"); raw != "" {
			if err := json.Unmarshal([]byte(raw), &fixedHosts); err != nil {
				slog.Warn("malformed fixed_hosts, skipping", "group", group, "error", err)
			}
		}
		for _, slot := range slots {
			slot.FixedHosts = fixedHosts
			if err := s.Cfgs.SaveHostSlot(ctx, slot); err != nil {
				return err
			}
		}
	}
	return nil
}

func rowString(row dbx.NullStringMap, col string) string {
	return row[col].String
}

func rowInt(row dbx.NullStringMap, col string) int {
	v, _ := strconv.Atoi(row[col].String)
	return v
}

func rowBool(row dbx.NullStringMap, col string) bool {
	switch row[col].String {
	case "1", "true", "TRUE", "True":
		return true
	}
	return false
}

func groupConfigFromRow(row dbx.NullStringMap) models.GroupConfig {
	return models.GroupConfig{
		Group:          rowString(row, "group"),
		SeatLimit:      rowInt(row, "seat_limit"),
		StartMinute:    rowInt(row, "start_minute"),
		EndMinute:      rowInt(row, "end_minute"),
		TaskEndMinute:  rowInt(row, "task_end_minute"),
		ReportMinute:   rowInt(row, "report_minute"),
		WeightVocab:    rowString(row, "weight_vocab"),
		VerifyMode:     rowString(row, "verify_mode"),
		AllowTaskQuit:  rowBool(row, "allow_task_quit"),
		CheckinLimit:   rowInt(row, "checkin_limit"),
		CheckinPerUser: rowInt(row, "checkin_per_user"),
		CheckinGrace:   rowInt(row, "checkin_grace"),
		LineupDesc:     rowString(row, "lineup_desc"),
		WelcomeMsg:     rowString(row, "welcome_msg"),
		ExitMsg:        rowString(row, "exit_msg"),
	}
}

func groupConfigFromRecord(record *core.Record) models.GroupConfig {
	return models.GroupConfig{
		Group:          record.GetString("group"),
		SeatLimit:      record.GetInt("seat_limit"),
		StartMinute:    record.GetInt("start_minute"),
		EndMinute:      record.GetInt("end_minute"),
		TaskEndMinute:  record.GetInt("task_end_minute"),
		ReportMinute:   record.GetInt("report_minute"),
		WeightVocab:    record.GetString("weight_vocab"),
		VerifyMode:     record.GetString("verify_mode"),
		AllowTaskQuit:  record.GetBool("allow_task_quit"),
		CheckinLimit:   record.GetInt("checkin_limit"),
		CheckinPerUser: record.GetInt("checkin_per_user"),
		CheckinGrace:   record.GetInt("checkin_grace"),
		LineupDesc:     record.GetString("lineup_desc"),
		WelcomeMsg:     record.GetString("welcome_msg"),
		ExitMsg:        record.GetString("exit_msg"),
	}
}
