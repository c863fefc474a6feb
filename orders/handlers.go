package orders

import (
	"errors"
	"net/http"

	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"

	"kisantrack/models"
	"kisantrack/utils"
)

// DeliveryNotifier is told when an order reaches Delivered so its live channel
// can be torn down.
type DeliveryNotifier interface {
	OrderDelivered(orderID string)
}

type Handler struct {
	svc      *Service
	notifier DeliveryNotifier
	log      *zap.Logger
}

func NewHandler(svc *Service, notifier DeliveryNotifier, logger *zap.Logger) *Handler {
	return &Handler{svc: svc, notifier: notifier, log: logger}
}

// CreateOrder handles POST /orders.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req CreateOrderRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.BuyerID == "" {
		req.BuyerID = utils.GetUserIDFromRequest(r)
	}
	o, err := h.svc.Create(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusCreated, o)
}

// ListOrders handles GET /orders?limit=n.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	limit := utils.QueryInt(r, "limit", 50, 1, 500)
	list, err := h.svc.List(r.Context(), limit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if list == nil {
		list = []*models.Order{}
	}
	utils.RespondWithJSON(w, http.StatusOK, list)
}

// GetOrder handles GET /orders/id/:id.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	o, err := h.svc.Get(r.Context(), ps.ByName("id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, o)
}

// TrackOrder handles GET /orders/track/:code.
func (h *Handler) TrackOrder(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	snap, err := h.svc.Track(r.Context(), ps.ByName("code"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, snap)
}

// RateOrder handles POST /orders/id/:id/rate.
func (h *Handler) RateOrder(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var body struct {
		Rating int `json:"rating"`
	}
	if err := utils.DecodeJSON(r, &body); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	id := ps.ByName("id")
	if err := h.svc.Rate(r.Context(), id, body.Rating); err != nil {
		h.writeError(w, err)
		return
	}
	o, err := h.svc.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, o)
}

// MarkReceived handles POST /orders/id/:id/received.
func (h *Handler) MarkReceived(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id := ps.ByName("id")
	o, err := h.svc.MarkReceived(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if h.notifier != nil {
		h.notifier.OrderDelivered(id)
	}
	utils.RespondWithJSON(w, http.StatusOK, o)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		utils.RespondWithError(w, http.StatusBadRequest, verr.Error())
	case errors.Is(err, ErrInvalidID):
		utils.RespondWithError(w, http.StatusBadRequest, "invalid order id")
	case errors.Is(err, ErrInvalidRating):
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotFound):
		utils.RespondWithError(w, http.StatusNotFound, "order not found")
	case errors.Is(err, ErrNotArriving), errors.Is(err, ErrStatusRegression):
		utils.RespondWithError(w, http.StatusConflict, err.Error())
	default:
		h.log.Error("order request failed", zap.Error(err))
		utils.RespondWithError(w, http.StatusInternalServerError, "internal error")
	}
}
