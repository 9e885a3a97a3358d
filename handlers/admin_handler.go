package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/pocketbase/pocketbase/core"
	"golang.org/x/crypto/bcrypt"

	"maixu-system/config"
	"maixu-system/models"
	"maixu-system/services"
)

// AdminHandler exposes the operator endpoints: lineup inspection, void
// sweeps, capacity enforcement and config reload. All routes sit behind
// a bearer token checked against the configured bcrypt hash.
type AdminHandler struct {
	Config    *config.Config
	Rank      *services.RankService
	Ledger    *services.LedgerService
	Projector *services.ProjectionService
}

func (h *AdminHandler) Register(se *core.ServeEvent) {
	group := se.Router.Group("/api/admin")
	group.BindFunc(h.requireToken)

	group.GET("/groups/{group}/lineup", h.Lineup)
	group.GET("/groups/{group}/members/{member}/accum", h.MemberAccum)
	group.POST("/groups/{group}/void", h.Void)
	group.POST("/groups/{group}/capacity", h.Capacity)
	group.POST("/reload", h.Reload)
}

func (h *AdminHandler) requireToken(e *core.RequestEvent) error {
	if h.Config.AdminTokenHash == "" {
		return e.UnauthorizedError("admin access not configured", nil)
	}
	token := strings.TrimPrefix(e.Request.Header.Get("Authorization"), "Bearer ")
	if token == "" {
		return e.UnauthorizedError("missing admin token", nil)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(h.Config.AdminTokenHash), []byte(token)); err != nil {
		return e.UnauthorizedError("invalid admin token", nil)
	}
	return e.Next()
}

type windowRequest struct {
	Date  string `json:"date"`
	Hour  int    `json:"hour"`
	Count int    `json:"count"`
}

func (h *AdminHandler) window(e *core.RequestEvent, req windowRequest) (models.WindowKey, error) {
	group := e.Request.PathValue("group")
	if group == "" || req.Date == "" || req.Hour < 0 || req.Hour > 23 {
		return models.WindowKey{}, e.BadRequestError("group, date and hour are required", nil)
	}
	return models.WindowKey{Group: group, Date: req.Date, Hour: req.Hour}, nil
}

func (h *AdminHandler) Lineup(e *core.RequestEvent) error {
	req := windowRequest{
		Date: e.Request.URL.Query().Get("date"),
		Hour: atoiQuery(e, "hour"),
	}
	w, err := h.window(e, req)
	if err != nil {
		return err
	}
	entries, err := h.Rank.Snapshot(e.Request.Context(), w, 0)
	if err != nil {
		return e.InternalServerError("snapshot failed", err)
	}
	return e.JSON(http.StatusOK, map[string]any{"window": w, "entries": entries})
}

func (h *AdminHandler) MemberAccum(e *core.RequestEvent) error {
	group := e.Request.PathValue("group")
	member := e.Request.PathValue("member")
	if group == "" || member == "" {
		return e.BadRequestError("group and member are required", nil)
	}
	rec, err := h.Ledger.MemberTotal(e.Request.Context(), group, member)
	if err != nil {
		return e.InternalServerError("accum lookup failed", err)
	}
	return e.JSON(http.StatusOK, rec)
}

// Void marks the count lowest active entries as void (all of them when
// count is omitted).
func (h *AdminHandler) Void(e *core.RequestEvent) error {
	var req windowRequest
	if err := e.BindBody(&req); err != nil {
		return e.BadRequestError("invalid request body", err)
	}
	w, err := h.window(e, req)
	if err != nil {
		return err
	}
	voided, err := h.Rank.VoidEntries(e.Request.Context(), w, req.Count)
	if err != nil {
		return e.InternalServerError("void failed", err)
	}
	return e.JSON(http.StatusOK, map[string]any{"window": w, "voided": voided})
}

// Capacity re-applies the group's seat limit after a config shrink.
func (h *AdminHandler) Capacity(e *core.RequestEvent) error {
	var req windowRequest
	if err := e.BindBody(&req); err != nil {
		return e.BadRequestError("invalid request body", err)
	}
	w, err := h.window(e, req)
	if err != nil {
		return err
	}
	cfg, err := h.Rank.GroupConfig(e.Request.Context(), w.Group)
	if err != nil {
		return e.InternalServerError("config lookup failed", err)
	}
	evicted, err := h.Rank.CheckCapacity(e.Request.Context(), w, cfg.SeatLimit)
	if err != nil {
		return e.InternalServerError("capacity sweep failed", err)
	}
	return e.JSON(http.StatusOK, map[string]any{"window": w, "evicted": evicted, "seat_limit": cfg.SeatLimit})
}

func (h *AdminHandler) Reload(e *core.RequestEvent) error {
	if err := h.Projector.Reload(e.Request.Context()); err != nil {
		return e.InternalServerError("reload failed", err)
	}
	return e.JSON(http.StatusOK, map[string]string{"status": "reloaded"})
}

func atoiQuery(e *core.RequestEvent, key string) int {
	n, err := strconv.Atoi(e.Request.URL.Query().Get(key))
	if err != nil {
		return -1
	}
	return n
}
