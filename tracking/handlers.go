package tracking

import (
	"context"
	"errors"
	"net/http"

	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"

	"kisantrack/hub"
	"kisantrack/models"
	"kisantrack/orders"
	"kisantrack/utils"
)

type OrderGetter interface {
	Get(ctx context.Context, id string) (*models.Order, error)
}

type Handler struct {
	orders OrderGetter
	runner *Runner
	log    *zap.Logger
}

func NewHandler(orders OrderGetter, runner *Runner, logger *zap.Logger) *Handler {
	return &Handler{orders: orders, runner: runner, log: logger}
}

// StartSimulation handles POST /orders/id/:id/simulate.
func (h *Handler) StartSimulation(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id := ps.ByName("id")
	o, err := h.orders.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	started, err := h.runner.Start(o)
	if err != nil {
		h.writeError(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusAccepted, utils.M{"orderId": id, "started": started})
}

// StopSimulation handles DELETE /orders/id/:id/simulate.
func (h *Handler) StopSimulation(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id := ps.ByName("id")
	utils.RespondWithJSON(w, http.StatusOK, utils.M{"orderId": id, "stopped": h.runner.Stop(id)})
}

// ListSimulations handles GET /orders/simulations.
func (h *Handler) ListSimulations(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	ids := h.runner.Active()
	out := make([]utils.M, 0, len(ids))
	for _, id := range ids {
		if p, ok := h.runner.Progress(id); ok {
			out = append(out, utils.M{"orderId": id, "progress": p})
		}
	}
	utils.RespondWithJSON(w, http.StatusOK, out)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, orders.ErrInvalidID):
		utils.RespondWithError(w, http.StatusBadRequest, "invalid order id")
	case errors.Is(err, orders.ErrNotFound):
		utils.RespondWithError(w, http.StatusNotFound, "order not found")
	case errors.Is(err, ErrAlreadyDelivered):
		utils.RespondWithError(w, http.StatusConflict, err.Error())
	case errors.Is(err, hub.ErrHubClosed):
		utils.RespondWithError(w, http.StatusServiceUnavailable, "shutting down")
	default:
		h.log.Error("simulation request failed", zap.Error(err))
		utils.RespondWithError(w, http.StatusInternalServerError, "internal error")
	}
}
