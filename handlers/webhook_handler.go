package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/hibiken/asynq"
	"github.com/pocketbase/pocketbase/core"

	"maixu-system/command"
	"maixu-system/models"
	"maixu-system/services"
	"maixu-system/store"
	"maixu-system/tasks"
)

// WebhookMessage is one inbound chat message from the platform bridge.
type WebhookMessage struct {
	Group    string   `json:"group"`
	Member   string   `json:"member"`
	Text     string   `json:"text"`
	Mentions []string `json:"mentions"`
}

// WebhookHandler turns chat messages into queue jobs. Parsing and
// enablement checks run inline; everything that touches the ranked set
// goes through the job queue so member actions serialize.
type WebhookHandler struct {
	Rank    *services.RankService
	Checkin *services.CheckinService
	Cfgs    *store.ConfigStore
	Cache   *store.GroupCache
	Queue   services.Enqueuer
}

func (h *WebhookHandler) Register(se *core.ServeEvent, middlewares ...func(*core.RequestEvent) error) {
	route := se.Router.POST("/api/webhook/message", h.HandleMessage)
	for _, middleware := range middlewares {
		route.BindFunc(middleware)
	}
}

func (h *WebhookHandler) HandleMessage(e *core.RequestEvent) error {
	var msg WebhookMessage
	if err := e.BindBody(&msg); err != nil {
		return e.BadRequestError("invalid message payload", err)
	}
	if msg.Group == "" || msg.Member == "" {
		return e.BadRequestError("group and member are required", nil)
	}

	if !h.Cache.Enabled(msg.Group) || h.Cache.Banned(msg.Group, msg.Member) {
		return e.JSON(http.StatusOK, map[string]string{"status": "ignored"})
	}

	cfg, err := h.Rank.GroupConfig(e.Request.Context(), msg.Group)
	if err != nil {
		return e.InternalServerError("config lookup failed", err)
	}
	vocab := models.ParseWeightVocabulary(cfg.WeightVocab)

	cmd, ok := command.Parse(msg.Text, msg.Mentions, vocab)
	if !ok {
		return e.JSON(http.StatusOK, map[string]string{"status": "ignored"})
	}

	// Away reports are bookkeeping, not seat contention; they run
	// inline instead of through the queue.
	switch cmd.Kind {
	case command.KindReport:
		_, err := h.Checkin.Report(e.Request.Context(), msg.Group, msg.Member, cmd.Content)
		return h.checkinResponse(e, err)
	case command.KindReturn:
		_, err := h.Checkin.Return(e.Request.Context(), msg.Group, msg.Member)
		return h.checkinResponse(e, err)
	}

	taskType, payload, queue, err := h.route(e, cmd, msg)
	if err != nil {
		return err
	}

	task, err := tasks.NewMemberCommandTask(taskType, payload)
	if err != nil {
		return e.InternalServerError("build task failed", err)
	}
	if _, err := h.Queue.EnqueueContext(e.Request.Context(), task, asynq.Queue(queue)); err != nil {
		slog.Error("enqueue member command failed", "type", taskType, "group", msg.Group, "error", err)
		return e.InternalServerError("enqueue failed", err)
	}
	return e.JSON(http.StatusOK, map[string]string{"status": "queued", "type": taskType})
}

// route maps the parsed command to its task. Seat contention targets
// the window being built for the next hour; take-out and the lineup
// query act on the hour on stage now.
func (h *WebhookHandler) route(e *core.RequestEvent, cmd command.Command, msg WebhookMessage) (string, tasks.MemberCommandPayload, string, error) {
	now := time.Now()
	next := models.NextWindow(msg.Group, now)
	current := models.CurrentWindow(msg.Group, now)

	payload := tasks.MemberCommandPayload{
		Window: next,
		Member: msg.Member,
		Label:  cmd.Label,
		Target: cmd.Target,
		Lane:   cmd.Lane,
	}

	switch cmd.Kind {
	case command.KindAdmit:
		return tasks.TypeAdmit, payload, tasks.QueueCritical, nil
	case command.KindLateAdmit:
		payload.Late = true
		return tasks.TypeAdmit, payload, tasks.QueueCritical, nil
	case command.KindBid:
		return tasks.TypeBid, payload, tasks.QueueCritical, nil
	case command.KindBuyIn:
		return tasks.TypeBuyIn, payload, tasks.QueueCritical, nil
	case command.KindWithdraw:
		return tasks.TypeWithdraw, payload, tasks.QueueCritical, nil
	case command.KindTransfer:
		return tasks.TypeTransfer, payload, tasks.QueueCritical, nil
	case command.KindTakeOut:
		payload.Window = current
		return tasks.TypeTakeOut, payload, tasks.QueueDefault, nil
	case command.KindShow:
		payload.Window = h.showWindow(e, next, current)
		return tasks.TypeShow, payload, tasks.QueueDefault, nil
	}
	return "", payload, "", e.BadRequestError("unsupported command", nil)
}

// showWindow prefers the window currently taking entries, falling back
// to the one on stage.
func (h *WebhookHandler) showWindow(e *core.RequestEvent, next, current models.WindowKey) models.WindowKey {
	ctx := e.Request.Context()
	if open, err := h.Cfgs.AdmissionOpen(ctx, next); err == nil && open {
		return next
	}
	if open, err := h.Cfgs.TaskOpen(ctx, next); err == nil && open {
		return next
	}
	return current
}

func (h *WebhookHandler) checkinResponse(e *core.RequestEvent, err error) error {
	if err == nil {
		return e.JSON(http.StatusOK, map[string]string{"status": "ok"})
	}
	if services.IsPolicyViolation(err) {
		return e.JSON(http.StatusOK, map[string]string{"status": "rejected", "reason": err.Error()})
	}
	return e.InternalServerError("checkin failed", err)
}
