package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"maixu-system/models"
)

const (
	activeGroupsKey  = "groups_config:active_groups"
	admissionOpenKey = "tasks:admission_open"
	taskOpenKey      = "tasks:task_open"
)

// ConfigStore projects the relational configuration into Redis hashes
// and owns the window phase membership sets. The hashes are a cache:
// the relational store is authoritative and pushes refreshes through
// the reload job and record hooks.
type ConfigStore struct {
	rdb *redis.Client
}

func NewConfigStore(rdb *redis.Client) *ConfigStore {
	return &ConfigStore{rdb: rdb}
}

func groupConfigKey(group string) string {
	return "groups_config:" + group
}

func hostSlotKey(group string, hour int) string {
	return fmt.Sprintf("hosts_config:%s:%d", group, hour)
}

func (s *ConfigStore) SaveGroupConfig(ctx context.Context, cfg models.GroupConfig) error {
	if err := s.rdb.HSet(ctx, groupConfigKey(cfg.Group), cfg.ToHash()).Err(); err != nil {
		return fmt.Errorf("hset group config %s: %w", cfg.Group, err)
	}
	return nil
}

func (s *ConfigStore) GroupConfig(ctx context.Context, group string) (models.GroupConfig, bool, error) {
	m, err := s.rdb.HGetAll(ctx, groupConfigKey(group)).Result()
	if err != nil {
		return models.GroupConfig{}, false, fmt.Errorf("hgetall group config %s: %w", group, err)
	}
	if len(m) == 0 {
		return models.GroupConfig{}, false, nil
	}
	return models.GroupConfigFromHash(m), true, nil
}

func (s *ConfigStore) SaveHostSlot(ctx context.Context, slot models.HostSlot) error {
	roster, err := json.Marshal(slot.FixedHosts)
	if err != nil {
		return fmt.Errorf("marshal fixed hosts: %w", err)
	}
	fields := map[string]any{
		"group":       slot.Group,
		"start_hour":  slot.StartHour,
		"end_hour":    slot.EndHour,
		"host_desc":   slot.HostDesc,
		"stage":       slot.Stage,
		"fixed_hosts": string(roster),
	}
	if err := s.rdb.HSet(ctx, hostSlotKey(slot.Group, slot.StartHour), fields).Err(); err != nil {
		return fmt.Errorf("hset host slot %s/%d: %w", slot.Group, slot.StartHour, err)
	}
	return nil
}

func (s *ConfigStore) HostSlot(ctx context.Context, group string, hour int) (models.HostSlot, bool, error) {
	m, err := s.rdb.HGetAll(ctx, hostSlotKey(group, hour)).Result()
	if err != nil {
		return models.HostSlot{}, false, fmt.Errorf("hgetall host slot %s/%d: %w", group, hour, err)
	}
	if len(m) == 0 {
		return models.HostSlot{}, false, nil
	}
	startHour, _ := strconv.Atoi(m["start_hour"])
	endHour, _ := strconv.Atoi(m["end_hour"])
	slot := models.HostSlot{
		Group:     m["group"],
		StartHour: startHour,
		EndHour:   endHour,
		HostDesc:  m["host_desc"],
		Stage:     m["stage"],
	}
	if m["fixed_hosts"] != "" {
		// A malformed roster degrades to no fixed seats rather than
		// failing the window open.
		_ = json.Unmarshal([]byte(m["fixed_hosts"]), &slot.FixedHosts)
	}
	return slot, true, nil
}

// ClearGroup removes a group's cached config and host slots.
func (s *ConfigStore) ClearGroup(ctx context.Context, group string) error {
	keys := []string{groupConfigKey(group)}
	var cursor uint64
	for {
		batch, next, err := s.rdb.Scan(ctx, cursor, "hosts_config:"+group+":*", 100).Result()
		if err != nil {
			return fmt.Errorf("scan host slots %s: %w", group, err)
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("del group cache %s: %w", group, err)
	}
	return nil
}

func (s *ConfigStore) AddActiveGroup(ctx context.Context, group string) error {
	return s.rdb.SAdd(ctx, activeGroupsKey, group).Err()
}

func (s *ConfigStore) RemoveActiveGroup(ctx context.Context, group string) error {
	return s.rdb.SRem(ctx, activeGroupsKey, group).Err()
}

func (s *ConfigStore) ActiveGroups(ctx context.Context) ([]string, error) {
	groups, err := s.rdb.SMembers(ctx, activeGroupsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("smembers active groups: %w", err)
	}
	return groups, nil
}

// Window phase flags. Admission and task phases are tracked as set
// membership, never derived by parsing the clock.

func (s *ConfigStore) OpenAdmission(ctx context.Context, w models.WindowKey) error {
	return s.rdb.SAdd(ctx, admissionOpenKey, w.Flag()).Err()
}

func (s *ConfigStore) CloseAdmission(ctx context.Context, w models.WindowKey) error {
	return s.rdb.SRem(ctx, admissionOpenKey, w.Flag()).Err()
}

func (s *ConfigStore) AdmissionOpen(ctx context.Context, w models.WindowKey) (bool, error) {
	return s.rdb.SIsMember(ctx, admissionOpenKey, w.Flag()).Result()
}

func (s *ConfigStore) OpenTask(ctx context.Context, w models.WindowKey) error {
	return s.rdb.SAdd(ctx, taskOpenKey, w.Flag()).Err()
}

func (s *ConfigStore) CloseTask(ctx context.Context, w models.WindowKey) error {
	return s.rdb.SRem(ctx, taskOpenKey, w.Flag()).Err()
}

func (s *ConfigStore) TaskOpen(ctx context.Context, w models.WindowKey) (bool, error) {
	return s.rdb.SIsMember(ctx, taskOpenKey, w.Flag()).Result()
}

// Check-in records.

func (s *ConfigStore) SaveCheckin(ctx context.Context, rec models.CheckinRecord) error {
	if err := s.rdb.HSet(ctx, rec.Key(), rec.HashFields()...).Err(); err != nil {
		return fmt.Errorf("hset checkin %s: %w", rec.Key(), err)
	}
	return nil
}

func (s *ConfigStore) Checkin(ctx context.Context, key string) (models.CheckinRecord, bool, error) {
	m, err := s.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return models.CheckinRecord{}, false, fmt.Errorf("hgetall checkin %s: %w", key, err)
	}
	if len(m) == 0 {
		return models.CheckinRecord{}, false, nil
	}
	return models.CheckinFromHash(m), true, nil
}

func (s *ConfigStore) MarkCheckinReturned(ctx context.Context, key string, at time.Time) error {
	if err := s.rdb.HSet(ctx, key, "returned_at", at.Format(time.RFC3339)).Err(); err != nil {
		return fmt.Errorf("hset checkin return %s: %w", key, err)
	}
	return nil
}

func (s *ConfigStore) MarkCheckinTimedOut(ctx context.Context, key string) error {
	if err := s.rdb.HSet(ctx, key, "timed_out", "true").Err(); err != nil {
		return fmt.Errorf("hset checkin timeout %s: %w", key, err)
	}
	return nil
}

// Accumulation totals.

func (s *ConfigStore) SaveAccum(ctx context.Context, rec models.AccumRecord) error {
	if err := s.rdb.HSet(ctx, models.AccumKey(rec.Group, rec.Member), rec.HashFields()...).Err(); err != nil {
		return fmt.Errorf("hset accum %s/%s: %w", rec.Group, rec.Member, err)
	}
	return nil
}

func (s *ConfigStore) Accum(ctx context.Context, group, member string) (models.AccumRecord, error) {
	m, err := s.rdb.HGetAll(ctx, models.AccumKey(group, member)).Result()
	if err != nil {
		return models.AccumRecord{}, fmt.Errorf("hgetall accum %s/%s: %w", group, member, err)
	}
	return models.AccumFromHash(group, member, m), nil
}
