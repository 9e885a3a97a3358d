package workers

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"maixu-system/models"
)

func TestRenderLineup_SkipsMarkersAndCapsAtLimit(t *testing.T) {
	entries := []models.Entry{
		{Member: "host", Label: models.LabelFixed, Score: 1000.25},
		{Member: "alice", Label: "0.5", Score: 2.25},
		{Member: "bob", Label: "排", Score: 0.25},
		{Member: "carol", Label: "排", Score: 0.1},
		{Member: "dave", Label: "0.3", State: models.StateVoid, Score: -99998.9},
	}

	out := RenderLineup("20点场麦序", entries, 3)

	assert.Contains(t, out, "1. host 固定排")
	assert.Contains(t, out, "2. alice 0.5")
	assert.Contains(t, out, "3. bob")
	assert.NotContains(t, out, "carol")
	assert.NotContains(t, out, "dave")
}

func TestRenderLineup_EmptyQueue(t *testing.T) {
	out := RenderLineup("20点场麦序", nil, 8)
	assert.Contains(t, out, "暂无")
}

func TestRenderLanes(t *testing.T) {
	out := RenderLanes(
		[]models.Entry{{Member: "alice", Label: "0.5"}},
		nil,
	)

	assert.Contains(t, out, "8号麦: alice 0.5")
	assert.NotContains(t, out, "9号麦")
}

func TestRenderReport(t *testing.T) {
	w := models.WindowKey{Group: "g1", Date: "2026-08-30", Hour: 20}
	totals := []models.AccumRecord{
		{Group: "g1", Member: "alice", InProgress: decimal.RequireFromString("0.5"), Completed: decimal.RequireFromString("1.5")},
	}

	out := RenderReport(w, totals)

	assert.Contains(t, out, "20点场结算")
	assert.Contains(t, out, "alice 进行中 0.5 / 已完成 1.5")

	empty := RenderReport(w, nil)
	assert.Contains(t, empty, "本场无任务记录")
}
