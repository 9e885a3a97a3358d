package workers

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"maixu-system/models"
)

// HandleWindowOpen starts the admission phase for the upcoming hour:
// seeds the fixed-seat roster and announces the window in chat.
func (w *Workers) HandleWindowOpen(ctx context.Context, t *asynq.Task) error {
	p, err := decodeWindow(t)
	if err != nil {
		return err
	}
	win := p.Window

	cfg, err := w.Rank.GroupConfig(ctx, win.Group)
	if err != nil {
		return err
	}
	if err := w.Cfgs.OpenAdmission(ctx, win); err != nil {
		return err
	}

	slot, found, err := w.Cfgs.HostSlot(ctx, win.Group, win.Hour)
	if err != nil {
		return err
	}
	if found && len(slot.FixedHosts) > 0 {
		if err := w.Rank.SeedFixedSeats(ctx, win, slot.FixedHosts); err != nil {
			return err
		}
	}

	text := fmt.Sprintf("%d点场开始扣排，坐席%d个，扣「排」上麦", win.Hour, cfg.SeatLimit)
	if found && slot.HostDesc != "" {
		text = slot.HostDesc + "\n" + text
	}
	if cfg.WelcomeMsg != "" {
		text = cfg.WelcomeMsg + "\n" + text
	}
	w.say(ctx, win.Group, text)

	slog.Info("window opened", "group", win.Group, "date", win.Date, "hour", win.Hour)
	return nil
}

// HandleWindowClose ends admission and opens the weighted task phase.
func (w *Workers) HandleWindowClose(ctx context.Context, t *asynq.Task) error {
	p, err := decodeWindow(t)
	if err != nil {
		return err
	}
	win := p.Window

	if err := w.Cfgs.CloseAdmission(ctx, win); err != nil {
		return err
	}
	if err := w.Cfgs.OpenTask(ctx, win); err != nil {
		return err
	}

	lineup, err := w.lineupText(ctx, win, "扣排结束，请报任务档位")
	if err != nil {
		return err
	}
	w.say(ctx, win.Group, lineup)

	slog.Info("window admission closed", "group", win.Group, "date", win.Date, "hour", win.Hour)
	return nil
}

// HandleWindowTaskClose finalizes the window. Closing both phase flags
// also covers groups whose admission close shares this minute.
func (w *Workers) HandleWindowTaskClose(ctx context.Context, t *asynq.Task) error {
	p, err := decodeWindow(t)
	if err != nil {
		return err
	}
	win := p.Window

	if err := w.Cfgs.CloseAdmission(ctx, win); err != nil {
		return err
	}
	if err := w.Cfgs.CloseTask(ctx, win); err != nil {
		return err
	}

	cfg, err := w.Rank.GroupConfig(ctx, win.Group)
	if err != nil {
		return err
	}
	lineup, err := w.lineupText(ctx, win, fmt.Sprintf("%d点场最终麦序", win.Hour))
	if err != nil {
		return err
	}
	if cfg.ExitMsg != "" {
		lineup += "\n" + cfg.ExitMsg
	}
	w.say(ctx, win.Group, lineup)

	slog.Info("window finalized", "group", win.Group, "date", win.Date, "hour", win.Hour)
	return nil
}

// HandleWindowReport replays the finished window into the ledger and
// posts the close-out summary.
func (w *Workers) HandleWindowReport(ctx context.Context, t *asynq.Task) error {
	p, err := decodeWindow(t)
	if err != nil {
		return err
	}
	win := p.Window

	report, err := w.Ledger.ReplayWindow(ctx, win)
	if err != nil {
		return err
	}
	w.say(ctx, win.Group, RenderReport(win, report.Totals))

	slog.Info("window reported", "group", win.Group, "date", win.Date, "hour", win.Hour,
		"entries", len(report.Entries), "members", len(report.Totals))
	return nil
}

func (w *Workers) lineupText(ctx context.Context, win models.WindowKey, title string) (string, error) {
	cfg, err := w.Rank.GroupConfig(ctx, win.Group)
	if err != nil {
		return "", err
	}
	entries, err := w.Windows.TopN(ctx, win.QueueKey(), 0)
	if err != nil {
		return "", err
	}
	if cfg.LineupDesc != "" {
		title = cfg.LineupDesc + "\n" + title
	}
	text := RenderLineup(title, entries, cfg.SeatLimit)

	mai8, err := w.Windows.TopN(ctx, win.LaneKey(models.LaneMai8), 1)
	if err != nil {
		return "", err
	}
	mai9, err := w.Windows.TopN(ctx, win.LaneKey(models.LaneMai9), 1)
	if err != nil {
		return "", err
	}
	return text + RenderLanes(mai8, mai9), nil
}

// say delivers best effort; chat failures never fail the job.
func (w *Workers) say(ctx context.Context, group, text string) {
	if err := w.Messenger.SendMessage(ctx, group, text); err != nil {
		slog.Warn("send message failed", "group", group, "error", err)
	}
}

func (w *Workers) mention(ctx context.Context, group, member, text string) {
	if err := w.Messenger.MentionMember(ctx, group, member, text); err != nil {
		slog.Warn("mention failed", "group", group, "member", member, "error", err)
	}
}
