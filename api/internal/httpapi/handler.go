// Package httpapi exposes one process-wide report session over HTTP, with a
// websocket stream of its history changes.
package httpapi

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"labreport-bot/api/internal/fault"
	"labreport-bot/api/internal/pipeline"
	"labreport-bot/api/internal/prefs"
	"labreport-bot/api/internal/rangecheck"
	"labreport-bot/api/internal/report"
)

// Owner is the preference key of the HTTP session.
const Owner = "http"

type Handler struct {
	pipe  *pipeline.Orchestrator
	prefs prefs.Store
	hub   *Hub
}

// NewHandler serves pipe. hub.Observe must be the observer of pipe's chat
// manager for the events stream to see anything.
func NewHandler(pipe *pipeline.Orchestrator, p prefs.Store, hub *Hub) *Handler {
	return &Handler{pipe: pipe, prefs: p, hub: hub}
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.POST("/v1/classify", h.Classify)

	e.POST("/v1/session/image", h.UploadImage)
	e.GET("/v1/session/draft", h.GetDraft)
	e.PUT("/v1/session/draft", h.PutDraft)
	e.POST("/v1/session/draft/submit", h.SubmitDraft)
	e.POST("/v1/session/draft/renormalize", h.Renormalize)
	e.GET("/v1/session/messages", h.GetMessages)
	e.POST("/v1/session/messages", h.PostMessage)
	e.GET("/v1/session/events", h.Events)

	e.GET("/v1/preferences/display-mode", h.GetDisplayMode)
	e.PUT("/v1/preferences/display-mode", h.PutDisplayMode)
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func errorStatus(err error) int {
	var (
		inv  *fault.InvalidInputError
		rng  *fault.RangeDefinitionError
		ext  *fault.ExtractionError
		norm *fault.NormalizationError
		chat *fault.ChatError
	)
	switch {
	case errors.Is(err, fault.ErrBusy):
		return http.StatusConflict
	case errors.As(err, &inv), errors.As(err, &rng), errors.Is(err, fault.ErrUnsupportedImage):
		return http.StatusBadRequest
	case errors.As(err, &ext), errors.As(err, &norm), errors.As(err, &chat):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func fail(c echo.Context, err error) error {
	return c.JSON(errorStatus(err), ErrorResponse{Error: fault.UserMessage(err)})
}

type ClassifyRequest struct {
	Value *decimal.Decimal `json:"value"`
	Min   *decimal.Decimal `json:"min"`
	Max   *decimal.Decimal `json:"max"`
}

type ClassifyResponse struct {
	Status rangecheck.Status `json:"status"`
}

// Classify places a value against a reference range.
func (h *Handler) Classify(c echo.Context) error {
	var req ClassifyRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
	}
	if req.Value == nil || req.Min == nil || req.Max == nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "value, min and max are required"})
	}
	st, err := rangecheck.Classify(*req.Value, *req.Min, *req.Max)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, ClassifyResponse{Status: st})
}

type ResultView struct {
	Name     string            `json:"name"`
	Value    *decimal.Decimal  `json:"value,omitempty"`
	Unit     string            `json:"unit,omitempty"`
	Min      *decimal.Decimal  `json:"min,omitempty"`
	Max      *decimal.Decimal  `json:"max,omitempty"`
	Declared rangecheck.Status `json:"declared,omitempty"`
	Computed rangecheck.Status `json:"computed,omitempty"`
}

type ReportView struct {
	Raw        string       `json:"raw"`
	Text       string       `json:"text"`
	Results    []ResultView `json:"results"`
	Mismatches []string     `json:"mismatches,omitempty"`
	Issues     []string     `json:"issues,omitempty"`
}

func viewOf(rep *report.Report) *ReportView {
	if rep == nil {
		return nil
	}
	v := &ReportView{Raw: rep.Raw, Text: rep.Text, Results: make([]ResultView, 0, len(rep.Results)), Issues: rep.Issues}
	for _, r := range rep.Results {
		rv := ResultView{Name: r.Name, Unit: r.Unit, Declared: r.Declared, Computed: r.Computed}
		if r.HasValue {
			val := r.Value
			rv.Value = &val
		}
		if r.HasRange {
			lo, hi := r.RangeMin, r.RangeMax
			rv.Min, rv.Max = &lo, &hi
		}
		v.Results = append(v.Results, rv)
	}
	for _, m := range rep.Mismatches {
		v.Mismatches = append(v.Mismatches, m.String())
	}
	return v
}

type DisplayMode struct {
	Mode string `json:"mode"`
}

func (h *Handler) GetDisplayMode(c echo.Context) error {
	m, err := h.prefs.DisplayMode(c.Request().Context(), Owner)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, DisplayMode{Mode: string(m)})
}

func (h *Handler) PutDisplayMode(c echo.Context) error {
	var req DisplayMode
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
	}
	m, err := prefs.ParseMode(req.Mode)
	if err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	}
	if err := h.prefs.SetDisplayMode(c.Request().Context(), Owner, m); err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, DisplayMode{Mode: string(m)})
}
