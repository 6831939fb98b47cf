package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/kaphack/emotional-risk-escalation-engine/internal/core"
	"github.com/kaphack/emotional-risk-escalation-engine/internal/engine"
	"github.com/kaphack/emotional-risk-escalation-engine/internal/router"
)

// Engine is the surface of engine.Engine the API drives.
type Engine interface {
	Classify(r core.EmotionReading) (core.RiskTier, error)
	Ingest(ctx context.Context, r core.EmotionReading) (engine.Outcome, error)
	RequestSupport(ctx context.Context, r core.EmotionReading) (*core.Warning, error)
	SelectChannel(ctx context.Context, id string, channel core.Channel) (*core.Warning, error)
	Resolve(ctx context.Context, id string) (*core.Warning, error)
	Escalate(ctx context.Context, id string) (*core.Warning, error)
	Get(ctx context.Context, id string) (*core.Warning, error)
	ListActive(ctx context.Context, userID string) ([]*core.Warning, error)
	Advisory(ctx context.Context, id string) (core.AdvisoryContent, error)
	CancelAdvisory(id string) bool
}

type Handler struct {
	engine Engine
	router *router.Router
	log    *zap.SugaredLogger
}

func NewHandler(e Engine, r *router.Router, log *zap.SugaredLogger) *Handler {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Handler{engine: e, router: r, log: log.Named("api")}
}

type ReadingRequest struct {
	UserID    string     `json:"user_id" binding:"required"`
	Emotion   string     `json:"emotion" binding:"required"`
	Intensity *int       `json:"intensity" binding:"required"`
	Note      string     `json:"note"`
	Timestamp *time.Time `json:"timestamp"`
}

func (req ReadingRequest) reading() (core.EmotionReading, error) {
	emotion, err := core.ParseEmotion(req.Emotion)
	if err != nil {
		return core.EmotionReading{}, err
	}
	r := core.EmotionReading{
		UserID:    req.UserID,
		Emotion:   emotion,
		Intensity: *req.Intensity,
		Note:      req.Note,
	}
	if req.Timestamp != nil {
		r.Timestamp = *req.Timestamp
	}
	return r, nil
}

type ChannelRequest struct {
	Channel string `json:"channel" binding:"required"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type WarningResponse struct {
	Tier    core.RiskTier   `json:"tier"`
	Warning *core.Warning   `json:"warning,omitempty"`
	Options []router.Option `json:"options,omitempty"`
	Handle  *router.Handle  `json:"handle,omitempty"`
}

func (h *Handler) bindReading(c *gin.Context) (core.EmotionReading, bool) {
	var req ReadingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body: " + err.Error()})
		return core.EmotionReading{}, false
	}
	r, err := req.reading()
	if err != nil {
		h.fail(c, err)
		return core.EmotionReading{}, false
	}
	return r, true
}

// SubmitReading classifies a reading and opens a warning from Medium up.
func (h *Handler) SubmitReading(c *gin.Context) {
	r, ok := h.bindReading(c)
	if !ok {
		return
	}
	out, err := h.engine.Ingest(c.Request.Context(), r)
	if err != nil {
		h.fail(c, err)
		return
	}
	if out.Warning == nil {
		c.JSON(http.StatusOK, WarningResponse{Tier: out.Tier})
		return
	}
	c.JSON(http.StatusCreated, h.warningResponse(out.Warning))
}

// RequestSupport opens a warning on the user's request at any tier.
func (h *Handler) RequestSupport(c *gin.Context) {
	r, ok := h.bindReading(c)
	if !ok {
		return
	}
	w, err := h.engine.RequestSupport(c.Request.Context(), r)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, h.warningResponse(w))
}

func (h *Handler) Classify(c *gin.Context) {
	r, ok := h.bindReading(c)
	if !ok {
		return
	}
	tier, err := h.engine.Classify(r)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, WarningResponse{Tier: tier})
}

func (h *Handler) GetWarning(c *gin.Context) {
	w, err := h.engine.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, h.warningResponse(w))
}

func (h *Handler) ListActive(c *gin.Context) {
	warnings, err := h.engine.ListActive(c.Request.Context(), c.Param("userID"))
	if err != nil {
		h.fail(c, err)
		return
	}
	if warnings == nil {
		warnings = []*core.Warning{}
	}
	c.JSON(http.StatusOK, gin.H{"warnings": warnings})
}

// SelectChannel engages a channel and returns the handle the UI opens.
func (h *Handler) SelectChannel(c *gin.Context) {
	var req ChannelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body: " + err.Error()})
		return
	}
	channel, err := core.ParseChannel(req.Channel)
	if err != nil {
		h.fail(c, err)
		return
	}

	w, err := h.engine.SelectChannel(c.Request.Context(), c.Param("id"), channel)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.respondWithHandle(c, w)
}

func (h *Handler) Resolve(c *gin.Context) {
	w, err := h.engine.Resolve(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, WarningResponse{Tier: w.Tier, Warning: w})
}

// Escalate closes the warning through emergency support.
func (h *Handler) Escalate(c *gin.Context) {
	w, err := h.engine.Escalate(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	h.respondWithHandle(c, w)
}

func (h *Handler) GetAdvisory(c *gin.Context) {
	content, err := h.engine.Advisory(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, content)
}

func (h *Handler) CancelAdvisory(c *gin.Context) {
	canceled := h.engine.CancelAdvisory(c.Param("id"))
	c.JSON(http.StatusOK, gin.H{"canceled": canceled})
}

func (h *Handler) respondWithHandle(c *gin.Context, w *core.Warning) {
	handle, err := h.router.Route(w.Channel, w)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, WarningResponse{Tier: w.Tier, Warning: w, Handle: &handle})
}

func (h *Handler) warningResponse(w *core.Warning) WarningResponse {
	return WarningResponse{Tier: w.Tier, Warning: w, Options: h.router.Options(w)}
}

// fail maps engine errors onto status codes. Unknown errors are logged and
// hidden behind a generic message.
func (h *Handler) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.log.Errorw("request failed", "method", c.Request.Method, "path", c.FullPath(), "error", err)
		c.JSON(status, ErrorResponse{Error: "internal error"})
		return
	}
	c.JSON(status, ErrorResponse{Error: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrInvalidInput), errors.Is(err, core.ErrUnsupportedChannel):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrBelowThreshold):
		return http.StatusUnprocessableEntity
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrInvalidTransition), errors.Is(err, core.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
