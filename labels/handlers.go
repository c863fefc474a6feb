package labels

import (
	"context"
	"errors"
	"net/http"

	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"

	"kisantrack/models"
	"kisantrack/orders"
	"kisantrack/utils"
)

type OrderGetter interface {
	Get(ctx context.Context, id string) (*models.Order, error)
}

// PrintLabel handles GET /orders/id/:id/label.
func PrintLabel(store OrderGetter, logger *zap.Logger) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		o, err := store.Get(r.Context(), ps.ByName("id"))
		switch {
		case errors.Is(err, orders.ErrInvalidID):
			utils.RespondWithError(w, http.StatusBadRequest, "invalid order id")
			return
		case errors.Is(err, orders.ErrNotFound):
			utils.RespondWithError(w, http.StatusNotFound, "order not found")
			return
		case err != nil:
			logger.Error("label: load order", zap.Error(err))
			utils.RespondWithError(w, http.StatusInternalServerError, "internal error")
			return
		}

		pdf, err := Render(o)
		if err != nil {
			logger.Error("label: render", zap.String("orderId", o.HexID()), zap.Error(err))
			utils.RespondWithError(w, http.StatusInternalServerError, "failed to generate label")
			return
		}
		w.Header().Set("Content-Type", "application/pdf")
		w.Header().Set("Content-Disposition", "attachment; filename=label-"+o.TrackingCode+".pdf")
		w.WriteHeader(http.StatusOK)
		w.Write(pdf)
	}
}
