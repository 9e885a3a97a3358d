package workers

import (
	"fmt"
	"strings"

	"maixu-system/models"
)

// RenderLineup formats the ranked seats for the chat. Only active
// entries show; voided and taken-out markers belong to the close-out
// report, not the live lineup.
func RenderLineup(title string, entries []models.Entry, seatLimit int) string {
	var b strings.Builder
	b.WriteString(title)

	pos := 0
	for _, e := range entries {
		if !e.Active() || e.Score < 0 {
			continue
		}
		pos++
		if seatLimit > 0 && pos > seatLimit {
			break
		}
		b.WriteString(fmt.Sprintf("\n%d. %s", pos, e.Member))
		if e.Label != "" && e.Label != "排" {
			b.WriteString(" " + e.Label)
		}
	}
	if pos == 0 {
		b.WriteString("\n（暂无）")
	}
	return b.String()
}

// RenderLanes appends the buy-in lane occupants, if any.
func RenderLanes(mai8, mai9 []models.Entry) string {
	var b strings.Builder
	if len(mai8) > 0 {
		b.WriteString(fmt.Sprintf("\n8号麦: %s %s", mai8[0].Member, mai8[0].Label))
	}
	if len(mai9) > 0 {
		b.WriteString(fmt.Sprintf("\n9号麦: %s %s", mai9[0].Member, mai9[0].Label))
	}
	return b.String()
}

// RenderReport formats the close-out ledger message.
func RenderReport(w models.WindowKey, totals []models.AccumRecord) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("%d点场结算", w.Hour))
	if len(totals) == 0 {
		b.WriteString("\n本场无任务记录")
		return b.String()
	}
	for _, rec := range totals {
		b.WriteString(fmt.Sprintf("\n%s 进行中 %s / 已完成 %s",
			rec.Member, rec.InProgress.String(), rec.Completed.String()))
	}
	return b.String()
}
