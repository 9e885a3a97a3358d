package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"maixu-system/models"
	"maixu-system/monitoring"
	"maixu-system/services"
	"maixu-system/tasks"
)

// HandleAdmit processes a speed claim (or a 补 re-entry when Late is
// set). Policy violations answer the member and stop; only store
// failures go back to the retry loop.
func (w *Workers) HandleAdmit(ctx context.Context, t *asynq.Task) error {
	p, err := decodeCommand(t)
	if err != nil {
		return err
	}
	res, err := w.Rank.Admit(ctx, p.Window, p.Member, p.Label, p.Late)
	if services.IsPolicyViolation(err) {
		monitoring.TrackQueueOperation("admit", "rejected")
		w.mention(ctx, p.Window.Group, p.Member, rejectionText(err))
		return nil
	}
	if err != nil {
		monitoring.TrackQueueOperation("admit", "error")
		return err
	}
	monitoring.TrackQueueOperation("admit", "ok")
	w.announceAdmission(ctx, p.Window, p.Member, res)
	return nil
}

// HandleBid re-ranks the member by declared task weight.
func (w *Workers) HandleBid(ctx context.Context, t *asynq.Task) error {
	p, err := decodeCommand(t)
	if err != nil {
		return err
	}
	res, err := w.Rank.AdmitWeighted(ctx, p.Window, p.Member, p.Label)
	if services.IsPolicyViolation(err) {
		monitoring.TrackQueueOperation("bid", "rejected")
		w.mention(ctx, p.Window.Group, p.Member, rejectionText(err))
		return nil
	}
	if err != nil {
		monitoring.TrackQueueOperation("bid", "error")
		return err
	}
	monitoring.TrackQueueOperation("bid", "ok")
	w.announceAdmission(ctx, p.Window, p.Member, res)
	return nil
}

// HandleBuyIn places the member into a single-occupant side lane.
func (w *Workers) HandleBuyIn(ctx context.Context, t *asynq.Task) error {
	p, err := decodeCommand(t)
	if err != nil {
		return err
	}
	res, err := w.Rank.AdmitInsertion(ctx, p.Window, p.Member, p.Label, p.Lane)
	if services.IsPolicyViolation(err) {
		monitoring.TrackQueueOperation("buyin", "rejected")
		w.mention(ctx, p.Window.Group, p.Member, rejectionText(err))
		return nil
	}
	if err != nil {
		monitoring.TrackQueueOperation("buyin", "error")
		return err
	}
	monitoring.TrackQueueOperation("buyin", "ok")

	laneName := "8号麦"
	if p.Lane == models.LaneMai9 {
		laneName = "9号麦"
	}
	w.say(ctx, p.Window.Group, fmt.Sprintf("%s 已买下%s（%s）", p.Member, laneName, p.Label))
	if res.Evicted != "" {
		w.notifyEvicted(ctx, p.Window.Group, res.Evicted, laneName+"被顶替")
	}
	return nil
}

// HandleWithdraw removes the member's seat. During the task phase the
// group config decides whether quitting is allowed at all.
func (w *Workers) HandleWithdraw(ctx context.Context, t *asynq.Task) error {
	p, err := decodeCommand(t)
	if err != nil {
		return err
	}
	cfg, err := w.Rank.GroupConfig(ctx, p.Window.Group)
	if err != nil {
		return err
	}
	taskOpen, err := w.Cfgs.TaskOpen(ctx, p.Window)
	if err != nil {
		return err
	}
	if taskOpen && !cfg.AllowTaskQuit {
		monitoring.TrackQueueOperation("withdraw", "rejected")
		w.mention(ctx, p.Window.Group, p.Member, rejectionText(services.ErrWithdrawForbidden))
		return nil
	}

	free, err := w.Rank.Withdraw(ctx, p.Window, p.Member)
	if services.IsPolicyViolation(err) {
		monitoring.TrackQueueOperation("withdraw", "rejected")
		w.mention(ctx, p.Window.Group, p.Member, rejectionText(err))
		return nil
	}
	if err != nil {
		monitoring.TrackQueueOperation("withdraw", "error")
		return err
	}
	monitoring.TrackQueueOperation("withdraw", "ok")

	text := fmt.Sprintf("%s 已退出队列", p.Member)
	if free > 0 {
		text += fmt.Sprintf("，剩余%d个空位，扣「补」上座", free)
	}
	w.say(ctx, p.Window.Group, text)
	return nil
}

// HandleTransfer hands the sender's seat to the mentioned member at the
// same rank.
func (w *Workers) HandleTransfer(ctx context.Context, t *asynq.Task) error {
	p, err := decodeCommand(t)
	if err != nil {
		return err
	}
	moved, err := w.Rank.Transfer(ctx, p.Window, p.Member, p.Target, p.Label)
	if services.IsPolicyViolation(err) {
		monitoring.TrackQueueOperation("transfer", "rejected")
		w.mention(ctx, p.Window.Group, p.Member, rejectionText(err))
		return nil
	}
	if err != nil {
		monitoring.TrackQueueOperation("transfer", "error")
		return err
	}
	monitoring.TrackQueueOperation("transfer", "ok")
	w.say(ctx, p.Window.Group, fmt.Sprintf("%s 已将座位转让给 %s", p.Member, moved.Member))
	return nil
}

// HandleTakeOut marks the mentioned member's assignment as completed
// and drops them from the ranked seats.
func (w *Workers) HandleTakeOut(ctx context.Context, t *asynq.Task) error {
	p, err := decodeCommand(t)
	if err != nil {
		return err
	}
	marked, err := w.Rank.MarkTakenOut(ctx, p.Window, p.Target)
	if services.IsPolicyViolation(err) {
		monitoring.TrackQueueOperation("takeout", "rejected")
		w.mention(ctx, p.Window.Group, p.Member, rejectionText(err))
		return nil
	}
	if err != nil {
		monitoring.TrackQueueOperation("takeout", "error")
		return err
	}
	monitoring.TrackQueueOperation("takeout", "ok")
	w.say(ctx, p.Window.Group, fmt.Sprintf("%s 已被带走（%s）", marked.Member, marked.Label))
	return nil
}

// HandleShow posts the current lineup.
func (w *Workers) HandleShow(ctx context.Context, t *asynq.Task) error {
	p, err := decodeCommand(t)
	if err != nil {
		return err
	}
	text, err := w.lineupText(ctx, p.Window, fmt.Sprintf("%d点场麦序", p.Window.Hour))
	if err != nil {
		return err
	}
	w.say(ctx, p.Window.Group, text)
	return nil
}

// HandleCheckinTimeout fires after the grace period. The service
// re-checks state, so a member who already returned is left alone.
func (w *Workers) HandleCheckinTimeout(ctx context.Context, t *asynq.Task) error {
	var p tasks.CheckinTimeoutPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}
	rec, fired, err := w.Checkin.HandleTimeout(ctx, p.RecordKey)
	if err != nil {
		return err
	}
	if fired {
		w.mention(ctx, rec.Group, rec.Member, "报备超时，请尽快回麦")
	}
	return nil
}

func (w *Workers) announceAdmission(ctx context.Context, win models.WindowKey, member string, res services.AdmitResult) {
	if res.Rejected {
		w.mention(ctx, win.Group, member, rejectionText(services.ErrQueueFull))
		return
	}
	w.say(ctx, win.Group, fmt.Sprintf("%s 上座成功（%d/%d）", member, res.SeatsUsed, res.SeatLimit))
	if res.Evicted != "" {
		w.notifyEvicted(ctx, win.Group, res.Evicted, "你已被挤出队列")
	}
	if res.Flipped {
		w.say(ctx, win.Group, "坐席已满，扣排提前结束，请报任务档位")
	}
}

// notifyEvicted announces to the room first, then pauses before the
// direct mention so the two messages land in order on slow clients.
func (w *Workers) notifyEvicted(ctx context.Context, group, member, reason string) {
	monitoring.TrackEviction(group)
	w.say(ctx, group, fmt.Sprintf("%s 被挤出", member))
	time.Sleep(w.Config.EvictionMentionGap)
	w.mention(ctx, group, member, reason)
}
