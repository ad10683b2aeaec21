package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/leafsii/eusd-engine/internal/engine"
	"github.com/leafsii/eusd-engine/internal/oracle"
	"github.com/leafsii/eusd-engine/internal/repository"
	"github.com/leafsii/eusd-engine/internal/service"
	"github.com/leafsii/eusd-engine/internal/ws"
	"go.uber.org/zap"
)

// ReportSubmitter accepts signed oracle reports
type ReportSubmitter interface {
	Submit(ctx context.Context, report oracle.SignedReport) error
}

// EventLister pages through the operation journal
type EventLister interface {
	ListEvents(ctx context.Context, f repository.EventFilter) ([]engine.Event, string, error)
}

// Pinger is a dependency checked by /readyz
type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	engine     *engine.Engine
	protocol   *service.ProtocolService
	gateway    ReportSubmitter
	events     EventLister
	wsHub      *ws.Hub
	sseHandler *ws.SSEHandler
	logger     *zap.SugaredLogger

	authority *engine.Authority
	readiness map[string]Pinger
}

type HandlerOption func(*Handler)

// WithAuthority enables the admin endpoints
func WithAuthority(auth engine.Authority) HandlerOption {
	return func(h *Handler) { h.authority = &auth }
}

// WithReadinessCheck adds a dependency to /readyz
func WithReadinessCheck(name string, p Pinger) HandlerOption {
	return func(h *Handler) { h.readiness[name] = p }
}

func NewHandler(
	eng *engine.Engine,
	protocol *service.ProtocolService,
	gateway ReportSubmitter,
	events EventLister,
	wsHub *ws.Hub,
	sseHandler *ws.SSEHandler,
	logger *zap.SugaredLogger,
	opts ...HandlerOption,
) *Handler {
	h := &Handler{
		engine:     eng,
		protocol:   protocol,
		gateway:    gateway,
		events:     events,
		wsHub:      wsHub,
		sseHandler: sseHandler,
		logger:     logger,
		readiness:  make(map[string]Pinger),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.logger == nil {
		h.logger = zap.NewNop().Sugar()
	}
	return h
}

// Ledger endpoints
func (h *Handler) GetState(w http.ResponseWriter, r *http.Request) {
	state, err := h.protocol.GetState(r.Context())
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "LEDGER_STATE_ERROR", err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, state)
}

func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	health, err := h.protocol.GetHealth(r.Context())
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "HEALTH_CHECK_ERROR", err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, HealthDTO{Status: health.Status, Reasons: health.Reasons})
}

func (h *Handler) GetPosition(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_POSITION_ID", "position id must be a UUID")
		return
	}

	view, err := h.protocol.GetPosition(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, view)
}

func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		h.writeError(w, http.StatusServiceUnavailable, "JOURNAL_UNAVAILABLE", "event journal is not configured")
		return
	}

	q := r.URL.Query()
	filter := repository.EventFilter{
		Kind:   engine.EventKind(strings.TrimSpace(q.Get("kind"))),
		Cursor: q.Get("cursor"),
	}
	if v := q.Get("position"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "INVALID_POSITION_ID", "position must be a UUID")
			return
		}
		filter.Position = id
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			h.writeError(w, http.StatusBadRequest, "INVALID_LIMIT", "limit must be a non-negative integer")
			return
		}
		filter.Limit = limit
	}
	if filter.Cursor != "" {
		if _, err := repository.ParseCursor(filter.Cursor); err != nil {
			h.writeError(w, http.StatusBadRequest, "INVALID_CURSOR", err.Error())
			return
		}
	}

	items, next, err := h.events.ListEvents(r.Context(), filter)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "JOURNAL_ERROR", err.Error())
		return
	}
	if items == nil {
		items = []engine.Event{}
	}
	h.writeJSON(w, http.StatusOK, EventsDTO{Items: items, NextCursor: next})
}

// SubmitOracleReport accepts one signed price report from a registered feeder
func (h *Handler) SubmitOracleReport(w http.ResponseWriter, r *http.Request) {
	var report oracle.SignedReport
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<14)).Decode(&report); err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body")
		return
	}

	if err := h.gateway.Submit(r.Context(), report); err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.protocol.Invalidate(r.Context())
	h.writeJSON(w, http.StatusOK, OracleReportResponse{Accepted: true, Price: report.Price.String()})
}

// Admin endpoints
func (h *Handler) SetParam(w http.ResponseWriter, r *http.Request) {
	var req SetParamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body")
		return
	}
	idx, ok := engine.ParseParamIndex(req.Param)
	if !ok {
		h.writeError(w, http.StatusBadRequest, "INVALID_PARAM", "unknown parameter "+req.Param)
		return
	}

	if err := h.engine.SetParam(r.Context(), *h.authority, idx, req.Value); err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.protocol.Invalidate(r.Context())
	h.writeAdminState(w)
}

func (h *Handler) SetHalted(w http.ResponseWriter, r *http.Request) {
	var req HaltRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body")
		return
	}
	if err := h.engine.StartStop(r.Context(), *h.authority, req.Halted); err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.protocol.Invalidate(r.Context())
	h.writeAdminState(w)
}

// IssueVenue hands a trading venue the token it passes to woke and choke
func (h *Handler) IssueVenue(w http.ResponseWriter, r *http.Request) {
	var req IssueVenueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body")
		return
	}
	tok, err := h.engine.IssueVenueToken(*h.authority, req.Name)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.logger.Infow("Venue token issued", "venue", tok.Name)
	h.writeJSON(w, http.StatusOK, tok)
}

func (h *Handler) writeAdminState(w http.ResponseWriter) {
	state := h.engine.State()
	h.writeJSON(w, http.StatusOK, AdminResponse{Params: state.Params, Halted: state.Halted})
}

func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	dto := ReadyDTO{Status: "ready", Checks: make(map[string]string, len(h.readiness))}
	status := http.StatusOK
	for name, p := range h.readiness {
		if err := p.Ping(ctx); err != nil {
			dto.Checks[name] = err.Error()
			dto.Status = "not_ready"
			status = http.StatusServiceUnavailable
			continue
		}
		dto.Checks[name] = "ok"
	}
	h.writeJSON(w, status, dto)
}

// WebSocket endpoint
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	h.wsHub.HandleWebSocket(w, r)
}

// SSE endpoint
func (h *Handler) HandleSSE(w http.ResponseWriter, r *http.Request) {
	h.sseHandler.HandleSSE(w, r)
}

// Utility methods
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, message string) {
	if status >= http.StatusInternalServerError {
		h.logger.Errorw("API error", "code", code, "message", message, "status", status)
	} else {
		h.logger.Debugw("API error", "code", code, "message", message, "status", status)
	}

	h.writeJSON(w, status, ErrorResponse{
		Code:    code,
		Message: message,
	})
}

func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	reason, status := classify(err)
	h.writeError(w, status, reason, err.Error())
}
