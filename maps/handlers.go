package maps

import (
	"bytes"
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

// GetRouteImage handles GET /orders/id/:id/route.png?w=.
func GetRouteImage(store OrderGetter, logger *zap.Logger) httprouter.Handle {
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
			logger.Error("route image: load order", zap.Error(err))
			utils.RespondWithError(w, http.StatusInternalServerError, "internal error")
			return
		}

		width := utils.QueryInt(r, "w", DefaultWidth, MinWidth, MaxWidth)
		var buf bytes.Buffer
		if err := EncodePNG(&buf, RenderRoute(o, width)); err != nil {
			logger.Error("route image: encode", zap.String("orderId", o.HexID()), zap.Error(err))
			utils.RespondWithError(w, http.StatusInternalServerError, "failed to render route")
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.WriteHeader(http.StatusOK)
		w.Write(buf.Bytes())
	}
}
