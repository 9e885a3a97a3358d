package services

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maixu-system/config"
	"maixu-system/models"
	"maixu-system/store"
	"maixu-system/tasks"
)

var checkinNow = time.Date(2026, 8, 30, 20, 15, 0, 0, time.UTC)

func setupCheckinService() (*CheckinService, redismock.ClientMock, *fakeEnqueuer) {
	db, mock := redismock.NewClientMock()
	cfg := &config.Config{
		DefaultSeatLimit:   8,
		CheckinGroupLimit:  3,
		CheckinMemberLimit: 2,
		CheckinGracePeriod: 10 * time.Minute,
	}
	rank := NewRankService(store.NewWindowStore(db), store.NewConfigStore(db), cfg)
	enqueuer := &fakeEnqueuer{}
	service := NewCheckinService(rank, store.NewConfigStore(db), store.NewWindowStore(db), enqueuer)
	service.WithClock(func() time.Time { return checkinNow })
	service.WithIDSource(func() string { return "rec-1" })
	return service, mock, enqueuer
}

func openCheckinHash(member string, minute int) map[string]string {
	return map[string]string{
		"id":         "rec-" + member,
		"group":      "g1",
		"member":     member,
		"date":       "2026-08-30",
		"hour":       "20",
		"minute":     "5",
		"content":    "饭",
		"created_at": checkinNow.Add(-10 * time.Minute).Format(time.RFC3339),
		"timed_out":  "false",
	}
}

func TestCheckinService_Report_ArmsTimeout(t *testing.T) {
	service, mock, enqueuer := setupCheckinService()
	defer mock.ClearExpect()

	mock.ExpectHGetAll("groups_config:g1").SetVal(map[string]string{
		"group": "g1", "checkin_limit": "3", "checkin_per_user": "2", "checkin_grace": "10",
	})
	mock.ExpectScan(0, "checkin:2026-08-30:g1:20:*", 100).SetVal([]string{}, 0)
	mock.ExpectHSet("checkin:2026-08-30:g1:20:alice:15",
		"id", "rec-1",
		"group", "g1",
		"member", "alice",
		"date", "2026-08-30",
		"hour", "20",
		"minute", "15",
		"content", "吃饭",
		"created_at", checkinNow.Format(time.RFC3339),
		"timed_out", "false",
	).SetVal(1)

	rec, err := service.Report(context.Background(), "g1", "alice", "吃饭")

	require.NoError(t, err)
	assert.Equal(t, "alice", rec.Member)
	assert.True(t, rec.Open())
	require.Len(t, enqueuer.enqueued, 1)
	assert.Equal(t, tasks.TypeCheckinTimeout, enqueuer.enqueued[0].Type())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckinService_Report_GroupLimit(t *testing.T) {
	service, mock, _ := setupCheckinService()
	defer mock.ClearExpect()

	existing := "checkin:2026-08-30:g1:20:bob:5"

	mock.ExpectHGetAll("groups_config:g1").SetVal(map[string]string{
		"group": "g1", "checkin_limit": "1", "checkin_per_user": "2", "checkin_grace": "10",
	})
	mock.ExpectScan(0, "checkin:2026-08-30:g1:20:*", 100).SetVal([]string{existing}, 0)
	mock.ExpectHGetAll(existing).SetVal(openCheckinHash("bob", 5))

	_, err := service.Report(context.Background(), "g1", "alice", "吃饭")

	assert.ErrorIs(t, err, ErrCheckinGroupLimit)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckinService_Report_MemberLimitCountsClosedRecords(t *testing.T) {
	service, mock, _ := setupCheckinService()
	defer mock.ClearExpect()

	existing := "checkin:2026-08-30:g1:20:alice:5"
	returned := openCheckinHash("alice", 5)
	returned["returned_at"] = checkinNow.Add(-2 * time.Minute).Format(time.RFC3339)

	mock.ExpectHGetAll("groups_config:g1").SetVal(map[string]string{
		"group": "g1", "checkin_limit": "3", "checkin_per_user": "1", "checkin_grace": "10",
	})
	mock.ExpectScan(0, "checkin:2026-08-30:g1:20:*", 100).SetVal([]string{existing}, 0)
	mock.ExpectHGetAll(existing).SetVal(returned)

	_, err := service.Report(context.Background(), "g1", "alice", "又要走")

	assert.ErrorIs(t, err, ErrCheckinMemberLimit)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckinService_Return_ClosesOpenRecord(t *testing.T) {
	service, mock, _ := setupCheckinService()
	defer mock.ClearExpect()

	key := "checkin:2026-08-30:g1:20:alice:5"

	mock.ExpectScan(0, "checkin:2026-08-30:g1:20:alice:*", 100).SetVal([]string{key}, 0)
	mock.ExpectHGetAll(key).SetVal(openCheckinHash("alice", 5))
	mock.ExpectHSet(key, "returned_at", checkinNow.Format(time.RFC3339)).SetVal(1)

	rec, err := service.Return(context.Background(), "g1", "alice")

	require.NoError(t, err)
	assert.False(t, rec.Open())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckinService_Return_FallsBackToPreviousHour(t *testing.T) {
	service, mock, _ := setupCheckinService()
	defer mock.ClearExpect()

	// Just past the boundary, the record from 19:55 is still in reach.
	earlyNow := time.Date(2026, 8, 30, 20, 3, 0, 0, time.UTC)
	service.WithClock(func() time.Time { return earlyNow })

	key := "checkin:2026-08-30:g1:19:alice:55"
	hash := openCheckinHash("alice", 55)
	hash["hour"] = "19"
	hash["minute"] = "55"

	mock.ExpectScan(0, "checkin:2026-08-30:g1:20:alice:*", 100).SetVal([]string{}, 0)
	mock.ExpectScan(0, "checkin:2026-08-30:g1:19:alice:*", 100).SetVal([]string{key}, 0)
	mock.ExpectHGetAll(key).SetVal(hash)
	mock.ExpectHSet(key, "returned_at", earlyNow.Format(time.RFC3339)).SetVal(1)

	_, err := service.Return(context.Background(), "g1", "alice")

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckinService_Return_NoFallbackLateInHour(t *testing.T) {
	service, mock, _ := setupCheckinService()
	defer mock.ClearExpect()

	// At 20:15 the previous hour is not consulted at all.
	mock.ExpectScan(0, "checkin:2026-08-30:g1:20:alice:*", 100).SetVal([]string{}, 0)

	_, err := service.Return(context.Background(), "g1", "alice")

	assert.ErrorIs(t, err, ErrNoOpenCheckin)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckinService_Return_NoOpenRecord(t *testing.T) {
	service, mock, _ := setupCheckinService()
	defer mock.ClearExpect()

	earlyNow := time.Date(2026, 8, 30, 20, 3, 0, 0, time.UTC)
	service.WithClock(func() time.Time { return earlyNow })

	mock.ExpectScan(0, "checkin:2026-08-30:g1:20:alice:*", 100).SetVal([]string{}, 0)
	mock.ExpectScan(0, "checkin:2026-08-30:g1:19:alice:*", 100).SetVal([]string{}, 0)

	_, err := service.Return(context.Background(), "g1", "alice")

	assert.ErrorIs(t, err, ErrNoOpenCheckin)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckinService_HandleTimeout_MarksOpenRecord(t *testing.T) {
	service, mock, _ := setupCheckinService()
	defer mock.ClearExpect()

	key := "checkin:2026-08-30:g1:20:alice:5"

	mock.ExpectHGetAll(key).SetVal(openCheckinHash("alice", 5))
	mock.ExpectHSet(key, "timed_out", "true").SetVal(1)

	rec, fired, err := service.HandleTimeout(context.Background(), key)

	require.NoError(t, err)
	assert.True(t, fired)
	assert.True(t, rec.TimedOut)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckinService_HandleTimeout_ReturnedMemberWins(t *testing.T) {
	service, mock, _ := setupCheckinService()
	defer mock.ClearExpect()

	key := "checkin:2026-08-30:g1:20:alice:5"
	hash := openCheckinHash("alice", 5)
	hash["returned_at"] = checkinNow.Add(-time.Minute).Format(time.RFC3339)

	mock.ExpectHGetAll(key).SetVal(hash)

	_, fired, err := service.HandleTimeout(context.Background(), key)

	require.NoError(t, err)
	assert.False(t, fired)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckinRecord_Open(t *testing.T) {
	rec := models.CheckinRecord{}
	assert.True(t, rec.Open())

	rec.TimedOut = true
	assert.False(t, rec.Open())

	rec = models.CheckinRecord{ReturnedAt: checkinNow}
	assert.False(t, rec.Open())
}
