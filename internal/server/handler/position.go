package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/colemanlowe/fibhedge/internal/domain"
	"github.com/colemanlowe/fibhedge/internal/service"
)

// HedgeAPI defines the hedge service methods the position handler requires.
type HedgeAPI interface {
	OpenPosition(ctx context.Context, req service.OpenPositionRequest) (domain.Position, error)
	ClosePosition(ctx context.Context, positionID string, exitPrice, exitQuantity decimal.Decimal, exitTime time.Time) (domain.Position, error)
	GetPosition(ctx context.Context, positionID string) (domain.Position, error)
	Analysis(ctx context.Context, positionID string) (domain.FibAnalysis, error)
	HandleTick(ctx context.Context, tick domain.Tick) error
}

// PositionHandler serves position endpoints.
type PositionHandler struct {
	hedge     HedgeAPI
	positions domain.PositionStore
	triggers  domain.TriggerStore
	logger    *slog.Logger
}

// NewPositionHandler creates a PositionHandler.
func NewPositionHandler(hedge HedgeAPI, positions domain.PositionStore, triggers domain.TriggerStore, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{
		hedge:     hedge,
		positions: positions,
		triggers:  triggers,
		logger:    logger,
	}
}

type listPositionsResponse struct {
	Positions []domain.Position
}

// ListPositions returns positions with optional coin and status filters.
// GET /api/positions?coin=BTC&status=active
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	coin := q.Get("coin")
	status := domain.PositionStatus(q.Get("status"))

	positions, err := h.positions.List(r.Context(), coin, status, parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list positions failed",
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}
	if positions == nil {
		positions = []domain.Position{}
	}
	writeJSON(w, http.StatusOK, listPositionsResponse{Positions: positions})
}

// GetPosition returns a single position, live state preferred.
// GET /api/positions/{id}
func (h *PositionHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	pos, err := h.hedge.GetPosition(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

// openPositionRequest is the JSON body for opening a position.
type openPositionRequest struct {
	PlanID        string          `json:"plan_id"`
	Side          string          `json:"side"`
	EntryPrice    decimal.Decimal `json:"entry_price"`
	EntryQuantity decimal.Decimal `json:"entry_quantity"`
	EntryTime     string          `json:"entry_time"`
}

// OpenPosition opens a new position under a plan.
// POST /api/positions
func (h *PositionHandler) OpenPosition(w http.ResponseWriter, r *http.Request) {
	var req openPositionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.PlanID == "" {
		writeError(w, http.StatusBadRequest, "plan_id is required")
		return
	}

	var entryTime time.Time
	if req.EntryTime != "" {
		t, err := time.Parse(time.RFC3339Nano, req.EntryTime)
		if err != nil {
			writeError(w, http.StatusBadRequest, "entry_time must be RFC 3339")
			return
		}
		entryTime = t
	}

	pos, err := h.hedge.OpenPosition(r.Context(), service.OpenPositionRequest{
		PlanID:        req.PlanID,
		Side:          domain.Side(req.Side),
		EntryPrice:    req.EntryPrice,
		EntryQuantity: req.EntryQuantity,
		EntryTime:     entryTime,
	})
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: open position failed",
			slog.String("plan_id", req.PlanID),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, pos)
}

// patchPositionRequest is the JSON body for a partial position update. Only
// the fields present in the body are applied.
type patchPositionRequest struct {
	Status           *string          `json:"status"`
	HighestPrice     *decimal.Decimal `json:"highest_price"`
	LowestPrice      *decimal.Decimal `json:"lowest_price"`
	CurrentPrice     *decimal.Decimal `json:"current_price"`
	Triggered23      *bool            `json:"is_23_triggered"`
	Triggered38      *bool            `json:"is_38_triggered"`
	Triggered50      *bool            `json:"is_50_triggered"`
	UnrealizedPnLUSD *decimal.Decimal `json:"unrealized_pnl_usd"`
	RealizedPnLUSD   *decimal.Decimal `json:"realized_pnl_usd"`
}

func (req patchPositionRequest) toPatch() domain.PositionPatch {
	patch := domain.PositionPatch{
		HighestPrice:     req.HighestPrice,
		LowestPrice:      req.LowestPrice,
		CurrentPrice:     req.CurrentPrice,
		Triggered23:      req.Triggered23,
		Triggered38:      req.Triggered38,
		Triggered50:      req.Triggered50,
		UnrealizedPnLUSD: req.UnrealizedPnLUSD,
		RealizedPnLUSD:   req.RealizedPnLUSD,
	}
	if req.Status != nil {
		status := domain.PositionStatus(*req.Status)
		patch.Status = &status
	}
	return patch
}

// UpdatePosition applies a partial update to a stored position. This is an
// operator correction path; closing goes through /close and live tick state
// is owned by the engine.
// PUT /api/positions/{id}
func (h *PositionHandler) UpdatePosition(w http.ResponseWriter, r *http.Request) {
	var req patchPositionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Status != nil && !domain.PositionStatus(*req.Status).Valid() {
		writeError(w, http.StatusBadRequest, "unknown status")
		return
	}

	pos, err := h.positions.Patch(r.Context(), pathParam(r, "id"), req.toPatch())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: patch position failed",
			slog.String("position_id", pathParam(r, "id")),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

// closePositionRequest is the JSON body for closing a position. A zero
// exit_quantity closes the full entry quantity.
type closePositionRequest struct {
	ExitPrice    decimal.Decimal `json:"exit_price"`
	ExitQuantity decimal.Decimal `json:"exit_quantity"`
}

// ClosePosition closes a position. A repeat close returns 409.
// POST /api/positions/{id}/close
func (h *PositionHandler) ClosePosition(w http.ResponseWriter, r *http.Request) {
	var req closePositionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if !req.ExitPrice.IsPositive() {
		writeError(w, http.StatusBadRequest, "exit_price must be positive")
		return
	}

	pos, err := h.hedge.ClosePosition(r.Context(), pathParam(r, "id"), req.ExitPrice, req.ExitQuantity, time.Now().UTC())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

// Fibonacci returns the Fibonacci analysis read model for a position.
// GET /api/positions/{id}/fibonacci
func (h *PositionHandler) Fibonacci(w http.ResponseWriter, r *http.Request) {
	analysis, err := h.hedge.Analysis(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, analysis)
}

type listTriggersResponse struct {
	Triggers []domain.TriggerEvent
}

// PositionTriggers returns a position's trigger history.
// GET /api/positions/{id}/triggers
func (h *PositionHandler) PositionTriggers(w http.ResponseWriter, r *http.Request) {
	events, err := h.triggers.ListByPosition(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if events == nil {
		events = []domain.TriggerEvent{}
	}
	writeJSON(w, http.StatusOK, listTriggersResponse{Triggers: events})
}

// RecentTriggers returns the latest trigger events across all positions.
// GET /api/triggers/recent
func (h *PositionHandler) RecentTriggers(w http.ResponseWriter, r *http.Request) {
	events, err := h.triggers.ListRecent(r.Context(), parseListOpts(r).Limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if events == nil {
		events = []domain.TriggerEvent{}
	}
	writeJSON(w, http.StatusOK, listTriggersResponse{Triggers: events})
}

// tickRequest is the JSON body for manual tick injection.
type tickRequest struct {
	Coin      string          `json:"coin"`
	Price     decimal.Decimal `json:"price"`
	Timestamp string          `json:"timestamp"`
}

// IngestTick feeds one tick into the engine. Useful for integrations that
// push prices over HTTP instead of the feed.
// POST /api/ticks
func (h *PositionHandler) IngestTick(w http.ResponseWriter, r *http.Request) {
	var req tickRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	ts := time.Now().UTC()
	if req.Timestamp != "" {
		t, err := time.Parse(time.RFC3339Nano, req.Timestamp)
		if err != nil {
			writeError(w, http.StatusBadRequest, "timestamp must be RFC 3339")
			return
		}
		ts = t
	}

	if err := h.hedge.HandleTick(r.Context(), domain.Tick{Coin: req.Coin, Price: req.Price, Timestamp: ts}); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}
