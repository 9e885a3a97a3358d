package services

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maixu-system/config"
	"maixu-system/models"
	"maixu-system/store"
)

// Pinned clock: 2500 seconds before the countdown epoch rolls a 10000
// window, so the arrival fraction is exactly 0.25.
var testNow = time.Unix(maxTimestamp-2500, 0)

var testWindow = models.WindowKey{Group: "g1", Date: "2026-08-30", Hour: 20}

func setupRankService() (*RankService, redismock.ClientMock) {
	db, mock := redismock.NewClientMock()
	cfg := &config.Config{
		DefaultSeatLimit:   8,
		CheckinGroupLimit:  3,
		CheckinMemberLimit: 2,
		CheckinGracePeriod: 10 * time.Minute,
	}
	service := NewRankService(store.NewWindowStore(db), store.NewConfigStore(db), cfg)
	service.WithClock(func() time.Time { return testNow })
	return service, mock
}

func TestTimeFraction_OrdersByArrival(t *testing.T) {
	earlier := timeFraction(testNow)
	later := timeFraction(testNow.Add(3 * time.Second))

	assert.Greater(t, earlier, later)
	assert.GreaterOrEqual(t, earlier, 0.0)
	assert.Less(t, earlier, 1.0)
}

func TestScoreTiers_NeverOverlap(t *testing.T) {
	fixed := float64(FixedSeatBase) + timeFraction(testNow)
	weighted := 4 + timeFraction(testNow) // highest plausible vocab rank
	speed := timeFraction(testNow)
	mai8 := 4 + timeFraction(testNow) - float64(laneOffsetMai8)
	mai9 := 4 + timeFraction(testNow) - float64(laneOffsetMai9)

	assert.Greater(t, fixed, weighted)
	assert.Greater(t, weighted, speed)
	assert.Greater(t, speed, mai8)
	assert.Greater(t, mai8, mai9)
	assert.Greater(t, mai9, float64(-markerOffset)/2)
}

func TestRankService_Admit_Success(t *testing.T) {
	service, mock := setupRankService()
	defer mock.ClearExpect()

	flag := testWindow.Flag()
	key := testWindow.QueueKey()

	mock.ExpectSIsMember("tasks:admission_open", flag).SetVal(true)
	mock.ExpectSIsMember("tasks:task_open", flag).SetVal(false)
	mock.ExpectHGetAll("groups_config:g1").SetVal(map[string]string{"group": "g1", "seat_limit": "2"})
	mock.ExpectZRangeByScore(key, &redis.ZRangeBy{Min: "0", Max: "+inf"}).SetVal([]string{})
	mock.ExpectZAdd(key, redis.Z{Score: 0.25, Member: "alice:排"}).SetVal(1)
	mock.ExpectZCount(key, "0", "+inf").SetVal(1)

	res, err := service.Admit(context.Background(), testWindow, "alice", "排", false)

	require.NoError(t, err)
	assert.Equal(t, 0.25, res.Entry.Score)
	assert.Equal(t, int64(1), res.SeatsUsed)
	assert.False(t, res.Full())
	assert.False(t, res.Flipped)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRankService_Admit_ClosedWindow(t *testing.T) {
	service, mock := setupRankService()
	defer mock.ClearExpect()

	flag := testWindow.Flag()
	mock.ExpectSIsMember("tasks:admission_open", flag).SetVal(false)
	mock.ExpectSIsMember("tasks:task_open", flag).SetVal(false)

	_, err := service.Admit(context.Background(), testWindow, "alice", "排", false)

	assert.ErrorIs(t, err, ErrWindowClosed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRankService_Admit_LateReentry(t *testing.T) {
	service, mock := setupRankService()
	defer mock.ClearExpect()

	flag := testWindow.Flag()
	key := testWindow.QueueKey()

	// Both phases closed; the 补 path may still fill a vacated seat.
	mock.ExpectSIsMember("tasks:admission_open", flag).SetVal(false)
	mock.ExpectSIsMember("tasks:task_open", flag).SetVal(false)
	mock.ExpectHGetAll("groups_config:g1").SetVal(map[string]string{"group": "g1", "seat_limit": "2"})
	mock.ExpectZRangeByScore(key, &redis.ZRangeBy{Min: "0", Max: "+inf"}).SetVal([]string{"bob:排"})
	mock.ExpectZAdd(key, redis.Z{Score: 0.25, Member: "alice:补"}).SetVal(1)
	mock.ExpectZCount(key, "0", "+inf").SetVal(2)

	res, err := service.Admit(context.Background(), testWindow, "alice", "补", true)

	require.NoError(t, err)
	assert.True(t, res.Full())
	assert.False(t, res.Flipped)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRankService_Admit_FillFlipsPhase(t *testing.T) {
	service, mock := setupRankService()
	defer mock.ClearExpect()

	flag := testWindow.Flag()
	key := testWindow.QueueKey()

	mock.ExpectSIsMember("tasks:admission_open", flag).SetVal(true)
	mock.ExpectSIsMember("tasks:task_open", flag).SetVal(false)
	mock.ExpectHGetAll("groups_config:g1").SetVal(map[string]string{"group": "g1", "seat_limit": "1"})
	mock.ExpectZRangeByScore(key, &redis.ZRangeBy{Min: "0", Max: "+inf"}).SetVal([]string{})
	mock.ExpectZAdd(key, redis.Z{Score: 0.25, Member: "alice:排"}).SetVal(1)
	mock.ExpectZCount(key, "0", "+inf").SetVal(1)
	mock.ExpectSRem("tasks:admission_open", flag).SetVal(1)
	mock.ExpectSAdd("tasks:task_open", flag).SetVal(1)

	res, err := service.Admit(context.Background(), testWindow, "alice", "排", false)

	require.NoError(t, err)
	assert.True(t, res.Flipped)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRankService_Admit_EvictsLowest(t *testing.T) {
	service, mock := setupRankService()
	defer mock.ClearExpect()

	flag := testWindow.Flag()
	key := testWindow.QueueKey()

	mock.ExpectSIsMember("tasks:admission_open", flag).SetVal(true)
	mock.ExpectSIsMember("tasks:task_open", flag).SetVal(false)
	mock.ExpectHGetAll("groups_config:g1").SetVal(map[string]string{"group": "g1", "seat_limit": "1"})
	mock.ExpectZRangeByScore(key, &redis.ZRangeBy{Min: "0", Max: "+inf"}).SetVal([]string{"bob:排"})
	mock.ExpectZAdd(key, redis.Z{Score: 0.25, Member: "alice:排"}).SetVal(1)
	mock.ExpectZCount(key, "0", "+inf").SetVal(2)
	mock.ExpectZRangeByScoreWithScores(key, &redis.ZRangeBy{
		Min: "0", Max: "+inf", Offset: 0, Count: 1,
	}).SetVal([]redis.Z{{Score: 0.1, Member: "bob:排"}})
	mock.ExpectZRem(key, "bob:排").SetVal(1)
	mock.ExpectSRem("tasks:admission_open", flag).SetVal(1)
	mock.ExpectSAdd("tasks:task_open", flag).SetVal(1)

	res, err := service.Admit(context.Background(), testWindow, "alice", "排", false)

	require.NoError(t, err)
	assert.Equal(t, "bob", res.Evicted)
	assert.False(t, res.Rejected)
	assert.Equal(t, int64(1), res.SeatsUsed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRankService_Admit_SelfLowestIsRejected(t *testing.T) {
	service, mock := setupRankService()
	defer mock.ClearExpect()

	flag := testWindow.Flag()
	key := testWindow.QueueKey()

	mock.ExpectSIsMember("tasks:admission_open", flag).SetVal(true)
	mock.ExpectSIsMember("tasks:task_open", flag).SetVal(false)
	mock.ExpectHGetAll("groups_config:g1").SetVal(map[string]string{"group": "g1", "seat_limit": "1"})
	mock.ExpectZRangeByScore(key, &redis.ZRangeBy{Min: "0", Max: "+inf"}).SetVal([]string{"bob:排"})
	mock.ExpectZAdd(key, redis.Z{Score: 0.25, Member: "alice:排"}).SetVal(1)
	mock.ExpectZCount(key, "0", "+inf").SetVal(2)
	mock.ExpectZRangeByScoreWithScores(key, &redis.ZRangeBy{
		Min: "0", Max: "+inf", Offset: 0, Count: 1,
	}).SetVal([]redis.Z{{Score: 0.25, Member: "alice:排"}})
	mock.ExpectZRem(key, "alice:排").SetVal(1)

	res, err := service.Admit(context.Background(), testWindow, "alice", "排", false)

	require.NoError(t, err)
	assert.True(t, res.Rejected)
	assert.Empty(t, res.Evicted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRankService_AdmitWeighted_ScoresByRank(t *testing.T) {
	service, mock := setupRankService()
	defer mock.ClearExpect()

	flag := testWindow.Flag()
	key := testWindow.QueueKey()

	mock.ExpectSIsMember("tasks:task_open", flag).SetVal(true)
	mock.ExpectHGetAll("groups_config:g1").SetVal(map[string]string{
		"group": "g1", "seat_limit": "2", "weight_vocab": "0.3<0.5<1.0",
	})
	mock.ExpectZRangeByScore(key, &redis.ZRangeBy{Min: "0", Max: "+inf"}).SetVal([]string{"alice:排"})
	mock.ExpectZRem(key, "alice:排").SetVal(1)
	mock.ExpectZAdd(key, redis.Z{Score: 2.25, Member: "alice:0.5"}).SetVal(1)
	mock.ExpectZCount(key, "0", "+inf").SetVal(1)

	res, err := service.AdmitWeighted(context.Background(), testWindow, "alice", "0.5")

	require.NoError(t, err)
	assert.Equal(t, 2.25, res.Entry.Score)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRankService_AdmitWeighted_TaskClosed(t *testing.T) {
	service, mock := setupRankService()
	defer mock.ClearExpect()

	mock.ExpectSIsMember("tasks:task_open", testWindow.Flag()).SetVal(false)

	_, err := service.AdmitWeighted(context.Background(), testWindow, "alice", "0.5")

	assert.ErrorIs(t, err, ErrTaskClosed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRankService_AdmitInsertion_DisplacesOccupant(t *testing.T) {
	service, mock := setupRankService()
	defer mock.ClearExpect()

	flag := testWindow.Flag()
	laneKey := testWindow.LaneKey(models.LaneMai8)

	mock.ExpectSIsMember("tasks:task_open", flag).SetVal(true)
	mock.ExpectHGetAll("groups_config:g1").SetVal(map[string]string{
		"group": "g1", "seat_limit": "2", "weight_vocab": "0.3<0.5<1.0",
	})
	mock.ExpectZRevRangeWithScores(laneKey, 0, -1).SetVal([]redis.Z{
		{Score: -198.7, Member: "bob:0.3"},
	})
	mock.ExpectZRem(laneKey, "bob:0.3").SetVal(1)
	mock.ExpectZAdd(laneKey, redis.Z{Score: 3.25 - 200, Member: "alice:1.0"}).SetVal(1)

	res, err := service.AdmitInsertion(context.Background(), testWindow, "alice", "1.0", models.LaneMai8)

	require.NoError(t, err)
	assert.Equal(t, "bob", res.Evicted)
	assert.Equal(t, 3.25-200, res.Entry.Score)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRankService_AdmitInsertion_UnknownWeight(t *testing.T) {
	service, mock := setupRankService()
	defer mock.ClearExpect()

	mock.ExpectSIsMember("tasks:task_open", testWindow.Flag()).SetVal(true)
	mock.ExpectHGetAll("groups_config:g1").SetVal(map[string]string{
		"group": "g1", "seat_limit": "2", "weight_vocab": "0.3<0.5",
	})

	_, err := service.AdmitInsertion(context.Background(), testWindow, "alice", "9.9", models.LaneMai9)

	assert.ErrorIs(t, err, ErrUnknownWeight)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRankService_Withdraw_ReportsFreeSeats(t *testing.T) {
	service, mock := setupRankService()
	defer mock.ClearExpect()

	key := testWindow.QueueKey()

	mock.ExpectHGetAll("groups_config:g1").SetVal(map[string]string{"group": "g1", "seat_limit": "2"})
	mock.ExpectZRangeByScore(key, &redis.ZRangeBy{Min: "0", Max: "+inf"}).SetVal([]string{"alice:排", "bob:排"})
	mock.ExpectZRem(key, "alice:排").SetVal(1)
	mock.ExpectZCount(key, "0", "+inf").SetVal(1)

	free, err := service.Withdraw(context.Background(), testWindow, "alice")

	require.NoError(t, err)
	assert.Equal(t, 1, free)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRankService_Withdraw_NotPresent(t *testing.T) {
	service, mock := setupRankService()
	defer mock.ClearExpect()

	mock.ExpectHGetAll("groups_config:g1").SetVal(map[string]string{"group": "g1", "seat_limit": "2"})
	mock.ExpectZRangeByScore(testWindow.QueueKey(), &redis.ZRangeBy{Min: "0", Max: "+inf"}).SetVal([]string{"bob:排"})

	_, err := service.Withdraw(context.Background(), testWindow, "alice")

	assert.ErrorIs(t, err, ErrNotPresent)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRankService_Admit_ReplacesOwnEntryAboveMarkers(t *testing.T) {
	service, mock := setupRankService()
	defer mock.ClearExpect()

	flag := testWindow.Flag()
	key := testWindow.QueueKey()

	// A voided marker holds the lowest rank, but the replace scan runs
	// over scores [0,+inf): alice's stale entry is still found, so her
	// re-admission neither duplicates her nor evicts bob.
	mock.ExpectSIsMember("tasks:admission_open", flag).SetVal(true)
	mock.ExpectSIsMember("tasks:task_open", flag).SetVal(false)
	mock.ExpectHGetAll("groups_config:g1").SetVal(map[string]string{"group": "g1", "seat_limit": "2"})
	mock.ExpectZRangeByScore(key, &redis.ZRangeBy{Min: "0", Max: "+inf"}).
		SetVal([]string{"bob:排", "alice:p"})
	mock.ExpectZRem(key, "alice:p").SetVal(1)
	mock.ExpectZAdd(key, redis.Z{Score: 0.25, Member: "alice:排"}).SetVal(1)
	mock.ExpectZCount(key, "0", "+inf").SetVal(2)
	mock.ExpectSRem("tasks:admission_open", flag).SetVal(1)
	mock.ExpectSAdd("tasks:task_open", flag).SetVal(1)

	res, err := service.Admit(context.Background(), testWindow, "alice", "排", false)

	require.NoError(t, err)
	assert.Empty(t, res.Evicted)
	assert.False(t, res.Rejected)
	assert.Equal(t, int64(2), res.SeatsUsed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRankService_Withdraw_SparesTakenOutMarker(t *testing.T) {
	service, mock := setupRankService()
	defer mock.ClearExpect()

	// alice's only record is her taken-out marker below zero; the
	// withdrawal scan never sees it and reports her as absent.
	mock.ExpectHGetAll("groups_config:g1").SetVal(map[string]string{"group": "g1", "seat_limit": "2"})
	mock.ExpectZRangeByScore(testWindow.QueueKey(), &redis.ZRangeBy{Min: "0", Max: "+inf"}).
		SetVal([]string{"bob:排"})

	_, err := service.Withdraw(context.Background(), testWindow, "alice")

	assert.ErrorIs(t, err, ErrNotPresent)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRankService_Transfer_KeepsScore(t *testing.T) {
	service, mock := setupRankService()
	defer mock.ClearExpect()

	key := testWindow.QueueKey()

	mock.ExpectZRevRangeWithScores(key, 0, -1).SetVal([]redis.Z{
		{Score: 2.5, Member: "alice:0.5"},
		{Score: 0.3, Member: "carol:排"},
	})
	mock.ExpectZRem(key, "alice:0.5").SetVal(1)
	mock.ExpectZAdd(key, redis.Z{Score: 2.5, Member: "bob:0.5"}).SetVal(1)

	moved, err := service.Transfer(context.Background(), testWindow, "alice", "bob", "0.5")

	require.NoError(t, err)
	assert.Equal(t, "bob", moved.Member)
	assert.Equal(t, 2.5, moved.Score)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRankService_Transfer_ToSelf(t *testing.T) {
	service, mock := setupRankService()
	defer mock.ClearExpect()

	_, err := service.Transfer(context.Background(), testWindow, "alice", "alice", "")

	assert.ErrorIs(t, err, ErrSelfTransfer)
}

func TestRankService_MarkTakenOut(t *testing.T) {
	service, mock := setupRankService()
	defer mock.ClearExpect()

	key := testWindow.QueueKey()

	mock.ExpectZRevRangeWithScores(key, 0, -1).SetVal([]redis.Z{
		{Score: 2.25, Member: "alice:0.5"},
	})
	mock.ExpectZRem(key, "alice:0.5").SetVal(1)
	mock.ExpectZAdd(key, redis.Z{Score: 2.25 - markerOffset, Member: "alice:0.5:takenout"}).SetVal(1)

	marked, err := service.MarkTakenOut(context.Background(), testWindow, "alice")

	require.NoError(t, err)
	assert.Equal(t, models.StateTakenOut, marked.State)
	assert.Less(t, marked.Score, 0.0)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRankService_VoidEntries_KeepsRecords(t *testing.T) {
	service, mock := setupRankService()
	defer mock.ClearExpect()

	key := testWindow.QueueKey()

	mock.ExpectZRangeByScoreWithScores(key, &redis.ZRangeBy{
		Min: "0", Max: "+inf", Offset: 0, Count: 1,
	}).SetVal([]redis.Z{{Score: 0.3, Member: "bob:排"}})
	mock.ExpectZRem(key, "bob:排").SetVal(1)
	mock.ExpectZAdd(key, redis.Z{Score: 0.3 - markerOffset, Member: "bob:排:void"}).SetVal(1)

	voided, err := service.VoidEntries(context.Background(), testWindow, 1)

	require.NoError(t, err)
	require.Len(t, voided, 1)
	assert.Equal(t, models.StateVoid, voided[0].State)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRankService_CheckCapacity_EvictsExcess(t *testing.T) {
	service, mock := setupRankService()
	defer mock.ClearExpect()

	key := testWindow.QueueKey()

	mock.ExpectZCount(key, "0", "+inf").SetVal(3)
	mock.ExpectZRangeByScoreWithScores(key, &redis.ZRangeBy{
		Min: "0", Max: "+inf", Offset: 0, Count: 1,
	}).SetVal([]redis.Z{{Score: 0.1, Member: "carol:排"}})
	mock.ExpectZRem(key, "carol:排").SetVal(1)

	evicted, err := service.CheckCapacity(context.Background(), testWindow, 2)

	require.NoError(t, err)
	assert.Equal(t, []string{"carol"}, evicted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRankService_SeedFixedSeats(t *testing.T) {
	service, mock := setupRankService()
	defer mock.ClearExpect()

	key := testWindow.QueueKey()
	mock.ExpectZAdd(key, redis.Z{Score: 1000.25, Member: "host1:固定排"}).SetVal(1)

	err := service.SeedFixedSeats(context.Background(), testWindow, []string{"host1"})

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
